package capture

import (
	"testing"
	"time"
)

// 移動平均・最小最大の逐次更新が正しいことを確認する
func TestStatsRunningAverages(t *testing.T) {
	var s Stats

	s.recordSuccess(100*time.Millisecond, 1000)
	s.recordSuccess(300*time.Millisecond, 3000)
	s.recordFailure()

	if s.TotalCaptures != 3 || s.SuccessfulCaptures != 2 || s.FailedCaptures != 1 {
		t.Errorf("unexpected counters: %+v", s)
	}
	if s.MinCaptureTime != 100*time.Millisecond {
		t.Errorf("expected min 100ms, got %v", s.MinCaptureTime)
	}
	if s.MaxCaptureTime != 300*time.Millisecond {
		t.Errorf("expected max 300ms, got %v", s.MaxCaptureTime)
	}
	if s.AvgCaptureTime != 200*time.Millisecond {
		t.Errorf("expected avg 200ms, got %v", s.AvgCaptureTime)
	}
	if s.AvgImageSize != 2000 {
		t.Errorf("expected avg size 2000, got %d", s.AvgImageSize)
	}
	if s.LastCaptureTime != 300*time.Millisecond {
		t.Errorf("expected last 300ms, got %v", s.LastCaptureTime)
	}

	// 失敗は平均へ影響しない
	s.recordSuccess(200*time.Millisecond, 2000)
	if s.AvgCaptureTime != 200*time.Millisecond || s.AvgImageSize != 2000 {
		t.Errorf("average drifted after third success: %+v", s)
	}
}
