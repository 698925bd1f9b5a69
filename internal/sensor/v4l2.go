package sensor

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"wildcam/internal/buffer"
	"wildcam/internal/power"
)

// V4L2Driver はffmpeg/v4l2-ctlコマンド経由で実デバイスを制御するドライバ
type V4L2Driver struct {
	device string

	// キャプチャとライフサイクル操作の相互排他
	// 二人目の呼び出し側は自身のタイムアウトの範囲でブロックする
	busy *busyLock

	mu      sync.RWMutex
	state   State
	profile power.Profile
}

// NewV4L2Driver は新しいV4L2Driverを作成する
func NewV4L2Driver(device string) *V4L2Driver {
	return &V4L2Driver{
		device: device,
		busy:   newBusyLock(),
		state:  StateClosed,
	}
}

// Open はデバイスをオープンする
func (d *V4L2Driver) Open(ctx context.Context) error {
	if err := d.busy.acquire(ctx); err != nil {
		return err
	}
	defer d.busy.release()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateClosed {
		return fmt.Errorf("オープン済みのデバイスを再オープンできません (state=%s): %w", d.state, ErrConfigRejected)
	}

	// v4l2-ctlでデバイスの利用可能性を確認
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", d.device, "--info")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("デバイス %s をオープンできません: %w", d.device, ErrDeviceFault)
	}

	d.state = StateReady
	log.Printf("センサードライバ: デバイス %s をオープンしました", d.device)
	return nil
}

// Configure は品質プロファイルをデバイスに適用する
// open前の呼び出しは ErrConfigRejected で拒否される
func (d *V4L2Driver) Configure(ctx context.Context, profile power.Profile) error {
	if err := d.busy.acquire(ctx); err != nil {
		return err
	}
	defer d.busy.release()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateClosed {
		return fmt.Errorf("オープンされていないデバイスは設定できません: %w", ErrConfigRejected)
	}

	if profile.Width <= 0 || profile.Height <= 0 || profile.JPEGQuality <= 0 {
		return fmt.Errorf("未対応のプロファイル (%dx%d, q=%d): %w",
			profile.Width, profile.Height, profile.JPEGQuality, ErrConfigRejected)
	}

	// ゲイン・露出バイアスをセンサーへ適用する
	// コントロール未対応のデバイスもあるため、個別の失敗は警告に留める
	controls := map[string]int{
		"gain":                       profile.GainCeiling,
		"exposure_dynamic_framerate": 1,
	}
	for control, value := range controls {
		cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", d.device,
			"--set-ctrl", fmt.Sprintf("%s=%s", control, strconv.Itoa(value)))
		if err := cmd.Run(); err != nil {
			log.Printf("センサードライバ: コントロール %s の設定をスキップ: %v", control, err)
		}
	}

	d.profile = profile
	d.state = StateConfigured
	log.Printf("センサードライバ: プロファイルを適用しました (band=%s, %dx%d, q=%d)",
		profile.Band, profile.Width, profile.Height, profile.JPEGQuality)
	return nil
}

// CaptureInto は1フレームをスロットへキャプチャする
// スロットは完全に埋まるか全く変更されないかのどちらかであり、
// 部分書き込みは起こらない
func (d *V4L2Driver) CaptureInto(ctx context.Context, slot *buffer.Slot, timeout time.Duration) error {
	capCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// キャプチャ実行中の二人目はここで自身の期限までブロックする
	if err := d.busy.acquire(capCtx); err != nil {
		return fmt.Errorf("キャプチャの順番待ちがタイムアウトしました: %w", err)
	}
	defer d.busy.release()

	d.mu.RLock()
	state := d.state
	profile := d.profile
	d.mu.RUnlock()

	if state != StateConfigured {
		return fmt.Errorf("設定されていないデバイスではキャプチャできません (state=%s): %w", state, ErrConfigRejected)
	}

	// ffmpegで1フレームをJPEGとしてキャプチャ
	cmd := exec.CommandContext(capCtx,
		"ffmpeg",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", profile.Width, profile.Height),
		"-i", d.device,
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(profile.JPEGQuality),
		"-",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if capCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("フレームキャプチャが %v 以内に完了しませんでした: %w", timeout, ErrTimeout)
		}
		return fmt.Errorf("フレームキャプチャに失敗 (stderr: %s): %w", stderr.String(), ErrDeviceFault)
	}

	frame := stdout.Bytes()

	// スロットへ書き込む前に完全性を検証する（全か無かの保証）
	if len(frame) < 4 || frame[0] != 0xFF || frame[1] != 0xD8 {
		return fmt.Errorf("不完全なJPEGフレームを受信しました (%dバイト): %w", len(frame), ErrDeviceFault)
	}
	if len(frame) > cap(slot.Data) {
		return fmt.Errorf("フレーム(%dバイト)がスロット容量(%dバイト)を超過: %w",
			len(frame), cap(slot.Data), ErrDeviceFault)
	}

	slot.Data = append(slot.Data[:0], frame...)
	slot.Width = profile.Width
	slot.Height = profile.Height
	slot.Format = "jpeg"
	slot.CapturedAt = time.Now()

	return nil
}

// Close はデバイスをクローズする
func (d *V4L2Driver) Close(ctx context.Context) error {
	if err := d.busy.acquire(ctx); err != nil {
		return err
	}
	defer d.busy.release()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateClosed {
		return nil // 既にクローズされている
	}

	d.state = StateClosed
	log.Printf("センサードライバ: デバイス %s をクローズしました", d.device)
	return nil
}

// State は現在のライフサイクル状態を返す
func (d *V4L2Driver) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}
