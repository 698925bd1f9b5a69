package capture

import "time"

// Stats はキャプチャ統計を表す
// 平均値は逐次更新する移動平均で保持する
type Stats struct {
	TotalCaptures      uint64        `json:"total_captures"`      // キャプチャ試行の総数
	SuccessfulCaptures uint64        `json:"successful_captures"` // 成功数
	FailedCaptures     uint64        `json:"failed_captures"`     // 失敗数
	MinCaptureTime     time.Duration `json:"min_capture_time"`    // 最短所要時間
	MaxCaptureTime     time.Duration `json:"max_capture_time"`    // 最長所要時間
	AvgCaptureTime     time.Duration `json:"avg_capture_time"`    // 平均所要時間
	AvgImageSize       int           `json:"avg_image_size"`      // 平均画像サイズ(バイト)
	LastCaptureTime    time.Duration `json:"last_capture_time"`   // 直近の所要時間
	LastCaptureAt      time.Time     `json:"last_capture_at"`     // 直近の成功時刻
}

// recordSuccess は成功したキャプチャの統計を更新する
// c.mu を保持して呼び出すこと
func (s *Stats) recordSuccess(elapsed time.Duration, size int) {
	s.TotalCaptures++
	s.SuccessfulCaptures++
	s.LastCaptureTime = elapsed
	s.LastCaptureAt = time.Now()

	if s.MinCaptureTime == 0 || elapsed < s.MinCaptureTime {
		s.MinCaptureTime = elapsed
	}
	if elapsed > s.MaxCaptureTime {
		s.MaxCaptureTime = elapsed
	}

	n := int64(s.SuccessfulCaptures)
	s.AvgCaptureTime = time.Duration((int64(s.AvgCaptureTime)*(n-1) + int64(elapsed)) / n)
	s.AvgImageSize = int((int64(s.AvgImageSize)*(n-1) + int64(size)) / n)
}

// recordFailure は失敗したキャプチャの統計を更新する
// c.mu を保持して呼び出すこと
func (s *Stats) recordFailure() {
	s.TotalCaptures++
	s.FailedCaptures++
}
