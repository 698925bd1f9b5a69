package power

import (
	"testing"
)

func TestPolicyBandBoundaries(t *testing.T) {
	policy := NewPolicy(DefaultThresholds())

	// バンド境界値は厳密でなければならない
	tests := []struct {
		level float64
		want  Band
	}{
		{1.0, BandNormal},
		{0.5, BandNormal},
		{0.499999, BandPowerSave},
		{0.25, BandPowerSave},
		{0.249999, BandLow},
		{0.1, BandLow},
		{0.099999, BandCritical},
		{0.05, BandCritical},
		{0.0, BandCritical},
	}

	for _, tt := range tests {
		got := policy.BandFor(tt.level)
		if got != tt.want {
			t.Errorf("BandFor(%f) = %s, want %s", tt.level, got, tt.want)
		}
	}
}

func TestPolicyClampOutOfRange(t *testing.T) {
	policy := NewPolicy(DefaultThresholds())

	// 範囲外の値はエラーではなくクランプされる
	if got := policy.BandFor(-0.5); got != BandCritical {
		t.Errorf("BandFor(-0.5) = %s, want %s", got, BandCritical)
	}
	if got := policy.BandFor(1.5); got != BandNormal {
		t.Errorf("BandFor(1.5) = %s, want %s", got, BandNormal)
	}
}

func TestProfileMonotonicity(t *testing.T) {
	policy := NewPolicy(DefaultThresholds())

	// 電力低下に対して品質・時間予算は単調非増加
	levels := []float64{1.0, 0.8, 0.5, 0.4, 0.25, 0.2, 0.1, 0.05, 0.0}

	prev := policy.ProfileFor(levels[0])
	for _, level := range levels[1:] {
		cur := policy.ProfileFor(level)

		if cur.Width > prev.Width || cur.Height > prev.Height {
			t.Errorf("level %f: resolution increased (%dx%d -> %dx%d)",
				level, prev.Width, prev.Height, cur.Width, cur.Height)
		}
		if cur.JPEGQuality < prev.JPEGQuality {
			t.Errorf("level %f: JPEG quality improved (%d -> %d)", level, prev.JPEGQuality, cur.JPEGQuality)
		}
		if cur.MaxBudget > prev.MaxBudget {
			t.Errorf("level %f: time budget increased (%v -> %v)", level, prev.MaxBudget, cur.MaxBudget)
		}
		if cur.SetupBudget > prev.SetupBudget {
			t.Errorf("level %f: setup budget increased (%v -> %v)", level, prev.SetupBudget, cur.SetupBudget)
		}
		if cur.Band < prev.Band {
			t.Errorf("level %f: band de-escalated (%s -> %s)", level, prev.Band, cur.Band)
		}

		prev = cur
	}
}

func TestProfileForIsPure(t *testing.T) {
	policy := NewPolicy(DefaultThresholds())

	// 同一レベルに対して常に同一のプロファイルを返す
	for i := 0; i < 3; i++ {
		a := policy.ProfileFor(0.3)
		b := policy.ProfileFor(0.3)
		if a != b {
			t.Fatalf("ProfileFor is not deterministic: %+v != %+v", a, b)
		}
	}
}

func TestCriticalProfileIsMinimal(t *testing.T) {
	policy := NewPolicy(DefaultThresholds())

	profile := policy.ProfileFor(0.05)
	if profile.Band != BandCritical {
		t.Fatalf("Expected critical band, got %s", profile.Band)
	}

	// Critical では利用可能な最小構成であること
	if profile.Width != 640 || profile.Height != 480 {
		t.Errorf("Expected minimal resolution 640x480, got %dx%d", profile.Width, profile.Height)
	}
	if profile.MaxBudget >= policy.ProfileFor(0.2).MaxBudget {
		t.Error("Critical time budget should be the smallest")
	}
}

func TestThresholdsValidate(t *testing.T) {
	// 正常な境界値
	if err := DefaultThresholds().Validate(); err != nil {
		t.Errorf("Default thresholds should validate: %v", err)
	}

	// 降順でない境界値は拒否される
	bad := Thresholds{PowerSaveBelow: 0.2, LowBelow: 0.25, CriticalBelow: 0.1}
	if err := bad.Validate(); err == nil {
		t.Error("Expected validation error for non-descending thresholds")
	}

	// ゼロ境界値は拒否される
	zero := Thresholds{PowerSaveBelow: 0.5, LowBelow: 0.25, CriticalBelow: 0}
	if err := zero.Validate(); err == nil {
		t.Error("Expected validation error for zero critical threshold")
	}
}
