package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"wildcam/internal/bridge"
	"wildcam/internal/capture"
	"wildcam/internal/config"
)

// WildcamHandler はAPIエンドポイントの実装を束ねる
type WildcamHandler struct {
	config     *config.Config
	controller *capture.Controller
	saver      bridge.Saver
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *WildcamHandler) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	}

	c.JSON(http.StatusOK, response)
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *WildcamHandler) GetStatus(c *gin.Context) {
	level, band := h.controller.PowerStatus()
	acquired, total, tier := h.controller.PoolStatus()

	response := StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: h.config.Server.Host,
			Port: h.config.Server.Port,
		},
		Power: PowerInfo{
			Level: level,
			Band:  band.String(),
		},
		Pool: PoolInfo{
			Acquired: acquired,
			Total:    total,
			Tier:     tier.String(),
		},
		Recovery: RecoveryInfo{
			State:    h.controller.State(),
			Failures: h.controller.Failures(),
		},
		Stats:     h.controller.StatsSnapshot(),
		Timestamp: time.Now(),
	}

	c.JSON(http.StatusOK, response)
}

// PostCapture は電力適応キャプチャのトリガーエンドポイントの実装
// フレームはストレージへ保存され、スロットは応答前に返却される
func (h *WildcamHandler) PostCapture(c *gin.Context) {
	timeout := h.config.Capture.DefaultTimeout.Std()
	if raw := c.Query("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:     "invalid_timeout",
				Message:   "タイムアウト指定が不正です",
				Timestamp: time.Now(),
			})
			return
		}
		timeout = parsed
	}

	res, err := h.controller.CapturePowerAware(c.Request.Context(), timeout)
	if err != nil {
		status, code := captureErrorStatus(err)
		message := err.Error()
		c.JSON(status, ErrorResponse{
			Error:     code,
			Message:   "キャプチャに失敗しました",
			Details:   &message,
			Timestamp: time.Now(),
		})
		return
	}
	defer h.controller.ReturnFrame(res.Handle)

	frame := res.Frame()
	path, err := h.saver.Save(c.Request.Context(), frame, h.config.Storage.Folder)
	if err != nil {
		message := err.Error()
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "storage_failed",
			Message:   "フレームの保存に失敗しました",
			Details:   &message,
			Timestamp: time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, CaptureResponse{
		ID:        res.ID,
		Path:      path,
		Band:      res.Profile.Band.String(),
		Width:     frame.Width,
		Height:    frame.Height,
		Bytes:     len(frame.Data),
		ElapsedMS: res.Elapsed.Milliseconds(),
		Timestamp: time.Now(),
	})
}

// PostCaptureAnalyze はキャプチャ+推論エンドポイントの実装
func (h *WildcamHandler) PostCaptureAnalyze(c *gin.Context) {
	model := c.Query("model")
	if model == "" {
		model = h.config.AI.Model
	}

	res, err := h.controller.CaptureAndAnalyze(c.Request.Context(), model)
	if err != nil {
		status, code := captureErrorStatus(err)
		message := err.Error()
		c.JSON(status, ErrorResponse{
			Error:     code,
			Message:   "キャプチャまたは解析に失敗しました",
			Details:   &message,
			Timestamp: time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, AnalyzeResponse{
		ID:        res.ID,
		Analysis:  res.Analysis,
		Band:      res.Profile.Band.String(),
		ElapsedMS: res.Elapsed.Milliseconds(),
		Timestamp: time.Now(),
	})
}

// PostRecoveryReset は外部リセットエンドポイントの実装
// Fatal状態からの復帰はこの呼び出しでのみ行われる
func (h *WildcamHandler) PostRecoveryReset(c *gin.Context) {
	if err := h.controller.Reset(c.Request.Context()); err != nil {
		message := err.Error()
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "reset_failed",
			Message:   "リセットに失敗しました",
			Details:   &message,
			Timestamp: time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "reset",
		"state":     h.controller.State(),
		"timestamp": time.Now(),
	})
}

// captureErrorStatus は失敗種別をHTTPステータスとエラーコードへ変換する
func captureErrorStatus(err error) (int, string) {
	var ce *capture.CaptureError
	if !errors.As(err, &ce) {
		return http.StatusInternalServerError, "capture_failed"
	}

	switch ce.Kind {
	case capture.KindFatal:
		return http.StatusServiceUnavailable, "capture_fatal"
	case capture.KindTimeout:
		return http.StatusGatewayTimeout, "capture_timeout"
	case capture.KindExhausted:
		return http.StatusServiceUnavailable, "buffer_exhausted"
	case capture.KindDeviceFault:
		return http.StatusBadGateway, "device_fault"
	default:
		return http.StatusInternalServerError, "capture_failed"
	}
}
