package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wildcam/internal/bridge"
	"wildcam/internal/buffer"
	"wildcam/internal/power"
	"wildcam/internal/sensor"
)

// FailureKind はキャプチャ失敗の種別を表す
type FailureKind string

// FailureKind の定数定義
const (
	KindTimeout        FailureKind = "timeout"         // 期限超過（回復可能）
	KindDeviceFault    FailureKind = "device_fault"    // デバイス障害（ソフトリセットで回復可能）
	KindConfigRejected FailureKind = "config_rejected" // 契約違反（再試行しない）
	KindExhausted      FailureKind = "exhausted"       // バッファ枯渇（回収で回復可能）
	KindFatal          FailureKind = "fatal"           // リカバリ予算切れ（外部リセットが必要）
)

// classifyFailure はエラーを失敗種別に分類する
func classifyFailure(err error) FailureKind {
	switch {
	case errors.Is(err, sensor.ErrConfigRejected):
		return KindConfigRejected
	case errors.Is(err, sensor.ErrDeviceFault):
		return KindDeviceFault
	case errors.Is(err, buffer.ErrExhausted):
		return KindExhausted
	default:
		return KindTimeout
	}
}

// FailureRecord は1回の失敗とそのとき選択されたリカバリ状態の記録
type FailureRecord struct {
	Kind  FailureKind   `json:"kind"`  // 失敗種別
	State RecoveryState `json:"state"` // 選択されたリカバリ状態
	At    time.Time     `json:"at"`    // 記録時刻
}

// CaptureError はキャプチャ失敗の診断コンテキスト付きエラー
// Fatal の場合は失敗履歴全体を保持し、上位コントローラが電源再投入の
// 判断を下せるようにする
type CaptureError struct {
	Kind        FailureKind     // 失敗種別
	Consecutive int             // 連続失敗回数
	History     []FailureRecord // 失敗履歴（Fatal時は全履歴）
	Profile     *power.Profile  // 最後に適用されたプロファイル
	Err         error           // 元エラー
}

// Error はエラーメッセージを返す
func (e *CaptureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("キャプチャ失敗 (kind=%s, 連続%d回): %v", e.Kind, e.Consecutive, e.Err)
	}
	return fmt.Sprintf("キャプチャ失敗 (kind=%s, 連続%d回)", e.Kind, e.Consecutive)
}

// Unwrap は元エラーを返す
func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Result はキャプチャ成功の結果
// Handle は借用参照であり、処理後に ReturnFrame で必ず一度だけ返却する
type Result struct {
	ID      uuid.UUID      // キャプチャの一意識別子
	Handle  *buffer.Handle // 確保済みスロットのハンドル
	Profile power.Profile  // 適用されたプロファイル
	Elapsed time.Duration  // キャプチャ所要時間
}

// Frame はブリッジへ渡すフレームビューを返す
// 返り値の Data はスロットからの借用であり、ReturnFrame 後は無効となる
func (r *Result) Frame() bridge.Frame {
	slot := r.Handle.Slot()
	return bridge.Frame{
		Data:       slot.Data,
		Width:      slot.Width,
		Height:     slot.Height,
		Format:     slot.Format,
		CapturedAt: slot.CapturedAt,
		Seq:        slot.Seq,
	}
}

// AnalysisResult はキャプチャ+解析の結果
type AnalysisResult struct {
	ID       uuid.UUID       // キャプチャの一意識別子
	Analysis bridge.Analysis // 推論エンジンの解析結果
	Profile  power.Profile   // 適用されたプロファイル
	Elapsed  time.Duration   // キャプチャ+解析の所要時間
}
