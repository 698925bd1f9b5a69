package server

import (
	"time"

	"github.com/google/uuid"

	"wildcam/internal/bridge"
	"wildcam/internal/capture"
)

// HealthResponse はヘルスチェックの応答
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerInfo はサーバーの接続情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// PowerInfo は電力状態の情報
type PowerInfo struct {
	Level float64 `json:"level"`
	Band  string  `json:"band"`
}

// PoolInfo はバッファプールの使用状況
type PoolInfo struct {
	Acquired int    `json:"acquired"`
	Total    int    `json:"total"`
	Tier     string `json:"tier"`
}

// RecoveryInfo はリカバリ状態機械の公開情報
type RecoveryInfo struct {
	State    capture.RecoveryState  `json:"state"`
	Failures capture.FailureContext `json:"failures"`
}

// StatusResponse はシステム状態の応答
type StatusResponse struct {
	Status    string        `json:"status"`
	Server    ServerInfo    `json:"server"`
	Power     PowerInfo     `json:"power"`
	Pool      PoolInfo      `json:"pool"`
	Recovery  RecoveryInfo  `json:"recovery"`
	Stats     capture.Stats `json:"stats"`
	Timestamp time.Time     `json:"timestamp"`
}

// CaptureResponse はキャプチャ成功の応答
type CaptureResponse struct {
	ID        uuid.UUID `json:"id"`
	Path      string    `json:"path,omitempty"`
	Band      string    `json:"band"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Bytes     int       `json:"bytes"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// AnalyzeResponse はキャプチャ+推論の応答
type AnalyzeResponse struct {
	ID        uuid.UUID       `json:"id"`
	Analysis  bridge.Analysis `json:"analysis"`
	Band      string          `json:"band"`
	ElapsedMS int64           `json:"elapsed_ms"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorResponse はエラー応答
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
