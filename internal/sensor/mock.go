package sensor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wildcam/internal/buffer"
	"wildcam/internal/power"
)

// MockDriver はテスト用のモックドライバ実装
// 実ドライバと同じ呼び出し順序の強制と相互排他を備え、
// 失敗をスクリプトとして注入できる
type MockDriver struct {
	busy *busyLock

	mu      sync.Mutex
	state   State
	profile power.Profile

	// テスト制御用
	shouldFailOpen bool
	configureErr   error
	configureErrs  []error // 先頭から1回ずつ消費される
	captureErrs    []error // 先頭から1回ずつ消費される
	captureDelay   time.Duration
	frame          []byte

	// 呼び出し記録
	OpenCalls      int
	ConfigureCalls int
	CaptureCalls   int
	CloseCalls     int
	Profiles       []power.Profile // 適用されたプロファイルの履歴
}

// NewMockDriver は新しいMockDriverを作成する
func NewMockDriver() *MockDriver {
	return &MockDriver{
		busy:  newBusyLock(),
		state: StateClosed,
		// 最小の正当なJPEGフレーム
		frame: []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0xFF, 0xD9},
	}
}

// Open はモックデバイスをオープンする
func (m *MockDriver) Open(ctx context.Context) error {
	if err := m.busy.acquire(ctx); err != nil {
		return err
	}
	defer m.busy.release()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.OpenCalls++

	if m.state != StateClosed {
		return fmt.Errorf("モック: 再オープンは不正: %w", ErrConfigRejected)
	}
	if m.shouldFailOpen {
		return fmt.Errorf("モック: オープンに失敗: %w", ErrDeviceFault)
	}

	m.state = StateReady
	return nil
}

// Configure はモックデバイスへプロファイルを適用する
func (m *MockDriver) Configure(ctx context.Context, profile power.Profile) error {
	if err := m.busy.acquire(ctx); err != nil {
		return err
	}
	defer m.busy.release()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ConfigureCalls++

	if m.state == StateClosed {
		return fmt.Errorf("モック: open前のconfigureは不正: %w", ErrConfigRejected)
	}
	if len(m.configureErrs) > 0 {
		scripted := m.configureErrs[0]
		m.configureErrs = m.configureErrs[1:]
		return scripted
	}
	if m.configureErr != nil {
		return m.configureErr
	}

	m.profile = profile
	m.Profiles = append(m.Profiles, profile)
	m.state = StateConfigured
	return nil
}

// CaptureInto はスクリプトに従ってキャプチャを成功または失敗させる
func (m *MockDriver) CaptureInto(ctx context.Context, slot *buffer.Slot, timeout time.Duration) error {
	capCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := m.busy.acquire(capCtx); err != nil {
		return fmt.Errorf("モック: キャプチャの順番待ちがタイムアウト: %w", err)
	}
	defer m.busy.release()

	m.mu.Lock()
	m.CaptureCalls++
	state := m.state
	profile := m.profile
	delay := m.captureDelay
	var scripted error
	if len(m.captureErrs) > 0 {
		scripted = m.captureErrs[0]
		m.captureErrs = m.captureErrs[1:]
	}
	frame := m.frame
	m.mu.Unlock()

	if state != StateConfigured {
		return fmt.Errorf("モック: configure前のcaptureは不正 (state=%s): %w", state, ErrConfigRejected)
	}

	// 遅いデバイスのシミュレーション
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-capCtx.Done():
			return fmt.Errorf("モック: キャプチャが %v 以内に完了しませんでした: %w", timeout, ErrTimeout)
		}
	}

	if scripted != nil {
		return scripted
	}

	if len(frame) > cap(slot.Data) {
		return fmt.Errorf("モック: フレームがスロット容量を超過: %w", ErrDeviceFault)
	}

	slot.Data = append(slot.Data[:0], frame...)
	slot.Width = profile.Width
	slot.Height = profile.Height
	slot.Format = "jpeg"
	slot.CapturedAt = time.Now()

	return nil
}

// Close はモックデバイスをクローズする
func (m *MockDriver) Close(ctx context.Context) error {
	if err := m.busy.acquire(ctx); err != nil {
		return err
	}
	defer m.busy.release()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	m.state = StateClosed
	return nil
}

// State は現在のライフサイクル状態を返す
func (m *MockDriver) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetShouldFailOpen はテスト用にOpen失敗を設定する
func (m *MockDriver) SetShouldFailOpen(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailOpen = shouldFail
}

// SetConfigureError はテスト用にConfigure失敗を設定する
func (m *MockDriver) SetConfigureError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configureErr = err
}

// QueueConfigureErrors は以後の設定適用で順に返す失敗を積む
// 永続的な失敗を設定する SetConfigureError より優先して消費される
func (m *MockDriver) QueueConfigureErrors(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configureErrs = append(m.configureErrs, errs...)
}

// QueueCaptureErrors は以後のキャプチャで順に返す失敗を積む
func (m *MockDriver) QueueCaptureErrors(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captureErrs = append(m.captureErrs, errs...)
}

// SetCaptureDelay はキャプチャの擬似所要時間を設定する
func (m *MockDriver) SetCaptureDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captureDelay = delay
}

// SetFrame は成功時に書き込むフレームデータを設定する
func (m *MockDriver) SetFrame(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame = frame
}
