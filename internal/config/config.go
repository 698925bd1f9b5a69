package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"wildcam/internal/buffer"
	"wildcam/internal/power"
)

// Duration はYAML中の "5s" 形式の表記を受け付ける time.Duration ラッパー
type Duration time.Duration

// UnmarshalYAML は文字列表記とナノ秒整数の両方を受け付ける
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("無効な時間表記: %q", s)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("無効な時間表記: %s", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Std は標準のtime.Durationへ変換する
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Sensor  SensorConfig  `yaml:"sensor"`
	Capture CaptureConfig `yaml:"capture"`
	Pool    buffer.Config `yaml:"pool"`
	Power   PowerConfig   `yaml:"power"`
	Storage StorageConfig `yaml:"storage"`
	AI      AIConfig      `yaml:"ai"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// SensorConfig はカメラセンサーの設定
type SensorConfig struct {
	Device string `yaml:"device"` // デバイスパス (例: /dev/video0)
}

// CaptureConfig はキャプチャコントローラの設定
type CaptureConfig struct {
	DefaultTimeout      Duration `yaml:"default_timeout"`       // タイムアウト未指定時の既定値
	MaxRecoveryAttempts int      `yaml:"max_recovery_attempts"` // Fatalまでの連続失敗予算
	HistoryLimit        int      `yaml:"history_limit"`         // 失敗履歴の保持上限
	SelfTestOnStart     bool     `yaml:"self_test_on_start"`    // 起動時のセルフテスト実行
}

// PowerConfig は電力適応の設定
type PowerConfig struct {
	Thresholds   power.Thresholds `yaml:"thresholds"`    // バンド境界値
	CapacityPath string           `yaml:"capacity_path"` // 電池残量ファイルのパス
}

// StorageConfig は画像保存の設定
type StorageConfig struct {
	BaseDir string `yaml:"base_dir"` // 保存先ベースディレクトリ
	Folder  string `yaml:"folder"`   // ベース配下のサブフォルダ
}

// AIConfig は推論ブリッジの設定
type AIConfig struct {
	Endpoint string   `yaml:"endpoint"` // 推論エンジンのHTTPエンドポイント (空なら無効)
	Model    string   `yaml:"model"`    // 既定の推論モデル名
	Timeout  Duration `yaml:"timeout"`  // 推論リクエストのタイムアウト
}

// Load は設定を読み込む
// デフォルト値に環境変数を重ねた設定を返す
func Load() (*Config, error) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// LoadFile はYAMLファイルの内容をデフォルト値へ重ねて設定を読み込む
func LoadFile(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsIntOrDefault("PORT", 8080),
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(30 * time.Second),
		},
		Sensor: SensorConfig{
			Device: getEnvOrDefault("CAMERA_DEVICE", "/dev/video0"),
		},
		Capture: CaptureConfig{
			DefaultTimeout:      Duration(3 * time.Second),
			MaxRecoveryAttempts: 4,
			HistoryLimit:        16,
			SelfTestOnStart:     true,
		},
		Pool: buffer.DefaultConfig(),
		Power: PowerConfig{
			Thresholds:   power.DefaultThresholds(),
			CapacityPath: getEnvOrDefault("BATTERY_CAPACITY_PATH", "/sys/class/power_supply/BAT0/capacity"),
		},
		Storage: StorageConfig{
			BaseDir: getEnvOrDefault("STORAGE_DIR", "/var/lib/wildcam"),
			Folder:  "wildlife_images",
		},
		AI: AIConfig{
			Endpoint: getEnvOrDefault("AI_ENDPOINT", ""),
			Model:    "species_v2",
			Timeout:  Duration(10 * time.Second),
		},
	}
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}
	if c.Sensor.Device == "" {
		return fmt.Errorf("センサーデバイスが未指定です")
	}
	if c.Capture.DefaultTimeout <= 0 {
		return fmt.Errorf("無効なキャプチャタイムアウト: %v", c.Capture.DefaultTimeout.Std())
	}
	if c.Capture.MaxRecoveryAttempts < 1 {
		return fmt.Errorf("無効なリカバリ試行予算: %d", c.Capture.MaxRecoveryAttempts)
	}
	if c.Pool.MaxFrameBytes <= 0 {
		return fmt.Errorf("無効なフレーム容量: %d", c.Pool.MaxFrameBytes)
	}
	if err := c.Power.Thresholds.Validate(); err != nil {
		return fmt.Errorf("電力バンド境界値が不正: %w", err)
	}
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("保存先ディレクトリが未指定です")
	}
	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
