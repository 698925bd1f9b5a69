package sensor

import (
	"context"
	"errors"
	"time"

	"wildcam/internal/buffer"
	"wildcam/internal/power"
)

// センサードライバの失敗種別
var (
	// ErrTimeout は期限内にフレームを取得できなかったことを表す（回復可能）
	ErrTimeout = errors.New("キャプチャがタイムアウトしました")
	// ErrDeviceFault はデバイスが報告したハードウェア障害を表す（ソフトリセットで回復可能）
	ErrDeviceFault = errors.New("デバイス障害が発生しました")
	// ErrConfigRejected は不正な呼び出し順序または未対応プロファイルを表す（再試行しない）
	ErrConfigRejected = errors.New("設定が拒否されました")
)

// State はドライバのライフサイクル状態を表す
type State string

// State の定数定義
const (
	StateClosed     State = "closed"     // デバイス未オープン
	StateReady      State = "ready"      // オープン済み・未設定
	StateConfigured State = "configured" // 設定済み・キャプチャ可能
)

// Driver はキャプチャデバイスの制御を担うインターフェース
// open → configure → capture の順序が強制され、順序違反は
// ErrConfigRejected で拒否される
type Driver interface {
	// Open はデバイスをオープンする
	Open(ctx context.Context) error

	// Configure は品質プロファイルをデバイスに適用する
	Configure(ctx context.Context, profile power.Profile) error

	// CaptureInto は1フレームをスロットへキャプチャする
	// デバイスがフレームを生成するか、タイムアウトが経過するか、
	// デバイスが障害を報告するまで呼び出し側をブロックする
	CaptureInto(ctx context.Context, slot *buffer.Slot, timeout time.Duration) error

	// Close はデバイスをクローズしてリソースを解放する
	Close(ctx context.Context) error

	// State は現在のライフサイクル状態を返す
	State() State
}

// busyLock はキャプチャの相互排他をタイムアウト付きで提供する
// 二人目の呼び出し側は自身の期限までブロックし、期限超過は
// ErrTimeout として扱われる
type busyLock struct {
	ch chan struct{}
}

func newBusyLock() *busyLock {
	return &busyLock{ch: make(chan struct{}, 1)}
}

// acquire はロックを取得する。取得できないままctxの期限を迎えた場合は
// ErrTimeout を返す
func (l *busyLock) acquire(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

func (l *busyLock) release() {
	<-l.ch
}
