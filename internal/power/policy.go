package power

import (
	"fmt"
	"time"
)

// Band は電力レベルから導かれる電力バンドを表す
// 値が大きいほど電力が逼迫していることを示す
type Band int

// Band の定数定義（昇順＝電力逼迫度の昇順）
const (
	BandNormal    Band = iota // 通常動作 [PowerSaveBelow, 1.0]
	BandPowerSave             // 省電力 [LowBelow, PowerSaveBelow)
	BandLow                   // 低電力 [CriticalBelow, LowBelow)
	BandCritical              // 危機的 [0, CriticalBelow)
)

// String はバンド名を返す
func (b Band) String() string {
	switch b {
	case BandNormal:
		return "normal"
	case BandPowerSave:
		return "power_save"
	case BandLow:
		return "low"
	case BandCritical:
		return "critical"
	default:
		return fmt.Sprintf("unknown(%d)", int(b))
	}
}

// Profile はキャプチャ品質プロファイルを表す純粋な値
// 電力レベルの変化をまたいでキャッシュしてはならない
type Profile struct {
	Band        Band          // 導出元の電力バンド
	Width       int           // キャプチャ幅
	Height      int           // キャプチャ高さ
	JPEGQuality int           // JPEG品質 (ffmpeg -q:v 相当、小さいほど高品質)
	GainCeiling int           // ゲイン上限 (2x, 16x, 32x, 64x)
	AELevel     int           // 露出バイアス (0=標準、負=抑制)
	MaxBudget   time.Duration // バンドが許すキャプチャ+処理の時間予算上限
	SetupBudget time.Duration // 再設定に先取りで差し引く追加レイテンシ予算
}

// Thresholds は電力バンドの境界値設定
// PowerSaveBelow > LowBelow > CriticalBelow の厳密な降順でなければならない
type Thresholds struct {
	PowerSaveBelow float64 `yaml:"power_save_below"` // これ未満で省電力バンド
	LowBelow       float64 `yaml:"low_below"`        // これ未満で低電力バンド
	CriticalBelow  float64 `yaml:"critical_below"`   // これ未満で危機的バンド
}

// DefaultThresholds はデフォルトのバンド境界値を返す
func DefaultThresholds() Thresholds {
	return Thresholds{
		PowerSaveBelow: 0.5,
		LowBelow:       0.25,
		CriticalBelow:  0.1,
	}
}

// Validate は境界値の妥当性を検証する
func (t Thresholds) Validate() error {
	if t.PowerSaveBelow <= 0 || t.PowerSaveBelow > 1 {
		return fmt.Errorf("無効な省電力境界値: %f", t.PowerSaveBelow)
	}
	if !(t.PowerSaveBelow > t.LowBelow && t.LowBelow > t.CriticalBelow && t.CriticalBelow > 0) {
		return fmt.Errorf("バンド境界値が厳密な降順ではありません: %f, %f, %f",
			t.PowerSaveBelow, t.LowBelow, t.CriticalBelow)
	}
	return nil
}

// Policy は電力レベルからプロファイルを導出する
type Policy struct {
	thresholds Thresholds
}

// NewPolicy は新しいPolicyを作成する
func NewPolicy(thresholds Thresholds) *Policy {
	return &Policy{thresholds: thresholds}
}

// BandFor は電力レベルを電力バンドに分類する
// 範囲外の値はクランプされる
func (p *Policy) BandFor(level float64) Band {
	level = clamp(level)

	switch {
	case level >= p.thresholds.PowerSaveBelow:
		return BandNormal
	case level >= p.thresholds.LowBelow:
		return BandPowerSave
	case level >= p.thresholds.CriticalBelow:
		return BandLow
	default:
		return BandCritical
	}
}

// ProfileFor は電力レベルに応じたキャプチャ品質プロファイルを返す
// 純粋関数であり、電力低下に対して品質・時間予算は単調非増加となる
func (p *Policy) ProfileFor(level float64) Profile {
	return profileForBand(p.BandFor(level))
}

// profileForBand はバンドごとのプロファイル定義を返す
// 値はオリジナルのセンサー適応設定に基づく
func profileForBand(band Band) Profile {
	switch band {
	case BandPowerSave:
		return Profile{
			Band:        BandPowerSave,
			Width:       1280,
			Height:      720,
			JPEGQuality: 5,
			GainCeiling: 16,
			AELevel:     -1,
			MaxBudget:   3500 * time.Millisecond,
			SetupBudget: 250 * time.Millisecond,
		}
	case BandLow:
		return Profile{
			Band:        BandLow,
			Width:       800,
			Height:      600,
			JPEGQuality: 8,
			GainCeiling: 32,
			AELevel:     -2,
			MaxBudget:   2000 * time.Millisecond,
			SetupBudget: 200 * time.Millisecond,
		}
	case BandCritical:
		// 画質よりも完了を優先した最小レイテンシ・最小リソース構成
		return Profile{
			Band:        BandCritical,
			Width:       640,
			Height:      480,
			JPEGQuality: 12,
			GainCeiling: 64,
			AELevel:     -2,
			MaxBudget:   1000 * time.Millisecond,
			SetupBudget: 150 * time.Millisecond,
		}
	default:
		return Profile{
			Band:        BandNormal,
			Width:       1600,
			Height:      1200,
			JPEGQuality: 2,
			GainCeiling: 2,
			AELevel:     0,
			MaxBudget:   5000 * time.Millisecond,
			SetupBudget: 300 * time.Millisecond,
		}
	}
}

// clamp は電力レベルを[0,1]に収める
func clamp(level float64) float64 {
	if level < 0 {
		return 0
	}
	if level > 1 {
		return 1
	}
	return level
}
