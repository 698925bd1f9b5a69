package bridge

import (
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
)

// PowerSource は電力テレメトリ源の契約
// CurrentPowerLevel はブロックせずに呼び出せなければならない
type PowerSource interface {
	// CurrentPowerLevel は正規化された電力レベル(0.0〜1.0)を返す
	CurrentPowerLevel() float64
}

// SysfsPowerSource はLinuxのpower_supplyインターフェースから
// バッテリー残量を読み取る電力テレメトリ源
type SysfsPowerSource struct {
	capacityPath string
}

// NewSysfsPowerSource は新しいSysfsPowerSourceを作成する
// capacityPath は残量(0〜100)を保持するファイル
// （例: /sys/class/power_supply/BAT0/capacity）
func NewSysfsPowerSource(capacityPath string) *SysfsPowerSource {
	return &SysfsPowerSource{capacityPath: capacityPath}
}

// CurrentPowerLevel は現在の電力レベルを返す
// 読み取れない場合は満充電(1.0)とみなしてキャプチャ経路を止めない
func (s *SysfsPowerSource) CurrentPowerLevel() float64 {
	data, err := os.ReadFile(s.capacityPath)
	if err != nil {
		log.Printf("電力ブリッジ: テレメトリを読み取れません。満充電とみなします: %v", err)
		return 1.0
	}

	capacity, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		log.Printf("電力ブリッジ: 不正なテレメトリ値 %q。満充電とみなします", strings.TrimSpace(string(data)))
		return 1.0
	}

	return float64(capacity) / 100.0
}

// StaticPowerSource は固定値を返す電力テレメトリ源
// 常時給電の設置環境およびテストで使用する
type StaticPowerSource struct {
	mu    sync.RWMutex
	level float64
}

// NewStaticPowerSource は新しいStaticPowerSourceを作成する
func NewStaticPowerSource(level float64) *StaticPowerSource {
	return &StaticPowerSource{level: level}
}

// CurrentPowerLevel は設定された電力レベルを返す
func (s *StaticPowerSource) CurrentPowerLevel() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level
}

// SetLevel は電力レベルを設定する
func (s *StaticPowerSource) SetLevel(level float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
}
