package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Frame はブリッジへ渡すキャプチャ済みフレーム
// Data はプールスロットからの借用参照であり、フレーム返却後は無効となる
type Frame struct {
	Data       []byte    // エンコード済み画像データ
	Width      int       // 画像幅
	Height     int       // 画像高さ
	Format     string    // 画像フォーマット
	CapturedAt time.Time // キャプチャ時刻
	Seq        uint64    // キャプチャ連番
}

// Analysis は推論エンジンの解析結果
type Analysis struct {
	Species    string  `json:"species"`    // 検出された種
	Confidence float64 `json:"confidence"` // 信頼度 (0.0〜1.0)
	Detected   bool    `json:"detected"`   // 検出の有無
}

// Analyzer は推論エンジンの契約
type Analyzer interface {
	// Analyze はフレームを解析して種と信頼度を返す
	Analyze(ctx context.Context, frame Frame, model string) (Analysis, error)
}

// HTTPAnalyzer は推論エンドポイントへフレームをPOSTするAnalyzer実装
type HTTPAnalyzer struct {
	endpoint string
	client   *http.Client
}

// NewHTTPAnalyzer は新しいHTTPAnalyzerを作成する
func NewHTTPAnalyzer(endpoint string, timeout time.Duration) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Analyze はフレームを推論エンドポイントへ送信して結果を受け取る
func (a *HTTPAnalyzer) Analyze(ctx context.Context, frame Frame, model string) (Analysis, error) {
	url := fmt.Sprintf("%s?model=%s&width=%d&height=%d", a.endpoint, model, frame.Width, frame.Height)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(frame.Data))
	if err != nil {
		return Analysis{}, fmt.Errorf("解析リクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := a.client.Do(req)
	if err != nil {
		return Analysis{}, fmt.Errorf("推論エンドポイントへの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Analysis{}, fmt.Errorf("推論エンドポイントがエラーを返しました: %s", resp.Status)
	}

	var analysis Analysis
	if err := json.NewDecoder(resp.Body).Decode(&analysis); err != nil {
		return Analysis{}, fmt.Errorf("解析結果のデコードに失敗: %w", err)
	}

	return analysis, nil
}

// MockAnalyzer はテスト用のモックAnalyzer実装
type MockAnalyzer struct {
	mu     sync.Mutex
	result Analysis
	err    error

	// 呼び出し記録
	Calls     int
	LastModel string
	LastFrame Frame
}

// NewMockAnalyzer は新しいMockAnalyzerを作成する
func NewMockAnalyzer() *MockAnalyzer {
	return &MockAnalyzer{
		result: Analysis{Species: "unknown", Confidence: 0, Detected: false},
	}
}

// Analyze は設定済みの結果を返す
func (m *MockAnalyzer) Analyze(_ context.Context, frame Frame, model string) (Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	m.LastModel = model
	m.LastFrame = frame

	if m.err != nil {
		return Analysis{}, m.err
	}
	return m.result, nil
}

// SetResult はテスト用に解析結果を設定する
func (m *MockAnalyzer) SetResult(result Analysis) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = result
}

// SetError はテスト用に解析失敗を設定する
func (m *MockAnalyzer) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
