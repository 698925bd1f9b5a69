package capture

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"wildcam/internal/bridge"
	"wildcam/internal/buffer"
	"wildcam/internal/power"
	"wildcam/internal/sensor"
)

// DriverFactory はセンサードライバを生成する
// 完全再構築時にドライバを作り直すために使う
type DriverFactory func() sensor.Driver

// Config はキャプチャコントローラの設定
type Config struct {
	DefaultTimeout      time.Duration // タイムアウト未指定時の既定値
	MaxRecoveryAttempts int           // Fatal へ遷移するまでの連続失敗の予算
	HistoryLimit        int           // 失敗履歴の保持上限
}

// DefaultConfig は既定のコントローラ設定を返す
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:      3 * time.Second,
		MaxRecoveryAttempts: 4,
		HistoryLimit:        16,
	}
}

// Controller はキャプチャの直列化・電力適応・失敗リカバリを司る
type Controller struct {
	cfg         Config
	poolCfg     buffer.Config
	policy      *power.Policy
	powerSource bridge.PowerSource
	analyzer    bridge.Analyzer
	newDriver   DriverFactory

	// キャプチャ実行権。gateへの送信が成功した者だけがセンサーに触れる
	gate chan struct{}

	mu          sync.Mutex
	driver      sensor.Driver
	pool        *buffer.Pool
	state       RecoveryState
	failures    FailureContext
	lastProfile *power.Profile
	stats       Stats
}

// NewController はキャプチャコントローラを生成する
func NewController(cfg Config, poolCfg buffer.Config, policy *power.Policy, source bridge.PowerSource, analyzer bridge.Analyzer, newDriver DriverFactory) (*Controller, error) {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if cfg.MaxRecoveryAttempts <= 0 {
		cfg.MaxRecoveryAttempts = DefaultConfig().MaxRecoveryAttempts
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	if policy == nil {
		return nil, fmt.Errorf("電力ポリシーが未指定です")
	}
	if source == nil {
		return nil, fmt.Errorf("電力ソースが未指定です")
	}
	if newDriver == nil {
		return nil, fmt.Errorf("ドライバファクトリが未指定です")
	}

	pool, err := buffer.NewPool(poolCfg)
	if err != nil {
		return nil, fmt.Errorf("バッファプールの生成に失敗: %w", err)
	}

	return &Controller{
		cfg:         cfg,
		poolCfg:     poolCfg,
		policy:      policy,
		powerSource: source,
		analyzer:    analyzer,
		newDriver:   newDriver,
		gate:        make(chan struct{}, 1),
		pool:        pool,
		driver:      newDriver(),
		state:       StateNominal,
	}, nil
}

// Start はセンサーをオープンし、現在の電力レベルに応じた
// 初期プロファイルを適用する
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	driver := c.driver
	c.mu.Unlock()

	if err := driver.Open(ctx); err != nil {
		return fmt.Errorf("センサーのオープンに失敗: %w", err)
	}

	level := c.powerSource.CurrentPowerLevel()
	profile := c.policy.ProfileFor(level)
	if err := driver.Configure(ctx, profile); err != nil {
		return fmt.Errorf("初期プロファイルの適用に失敗: %w", err)
	}

	c.mu.Lock()
	c.lastProfile = &profile
	c.state = StateNominal
	c.mu.Unlock()

	log.Printf("キャプチャコントローラを開始しました (電力=%.2f, バンド=%s, %dx%d)",
		level, profile.Band, profile.Width, profile.Height)
	return nil
}

// Stop はセンサーをクローズする
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	driver := c.driver
	c.mu.Unlock()

	if err := driver.Close(ctx); err != nil {
		return fmt.Errorf("センサーのクローズに失敗: %w", err)
	}
	log.Printf("キャプチャコントローラを停止しました")
	return nil
}

// SelfTest は起動時の自己診断として1枚キャプチャし、即座に返却する
func (c *Controller) SelfTest(ctx context.Context) error {
	res, err := c.CapturePowerAware(ctx, c.cfg.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("セルフテストに失敗: %w", err)
	}
	size := len(res.Handle.Slot().Data)
	c.ReturnFrame(res.Handle)
	log.Printf("セルフテスト完了 (%dバイト, %v)", size, res.Elapsed)
	return nil
}

// Capture は現在適用中のプロファイルで1フレームをキャプチャする
// timeout が非正の場合は既定値を使う
func (c *Controller) Capture(ctx context.Context, timeout time.Duration) (*Result, error) {
	return c.capture(ctx, timeout, false)
}

// CapturePowerAware は電力レベルを読み、バンドに応じたプロファイルを
// 適用してからキャプチャする。時間予算はバンド上限と呼び出し側の
// タイムアウトの小さい方に収める
func (c *Controller) CapturePowerAware(ctx context.Context, timeout time.Duration) (*Result, error) {
	return c.capture(ctx, timeout, true)
}

func (c *Controller) capture(ctx context.Context, timeout time.Duration, powerAware bool) (*Result, error) {
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 実行権の取得。先客がいる間は自身の期限までここでブロックする
	select {
	case c.gate <- struct{}{}:
	case <-reqCtx.Done():
		return nil, &CaptureError{Kind: KindTimeout, Err: fmt.Errorf("キャプチャの順番待ちがタイムアウトしました: %w", sensor.ErrTimeout)}
	}
	defer func() { <-c.gate }()

	c.mu.Lock()
	if c.state == StateFatal {
		// 外部リセットが届くまで自動リカバリは行わない
		c.appendRecordLocked(FailureRecord{Kind: KindFatal, State: StateFatal, At: time.Now()})
		c.stats.recordFailure()
		err := c.errorSnapshotLocked(KindFatal, fmt.Errorf("リカバリ予算を使い切っています。外部リセットが必要です"))
		c.mu.Unlock()
		return nil, err
	}
	profile := c.lastProfile
	c.mu.Unlock()

	deadline := time.Now().Add(timeout)

	if powerAware {
		level := c.powerSource.CurrentPowerLevel()
		next := c.policy.ProfileFor(level)
		if next.MaxBudget > 0 && next.MaxBudget < timeout {
			deadline = time.Now().Add(next.MaxBudget)
		}

		// プロファイルが変わるときだけセンサーを再設定する
		if profile == nil || *profile != next {
			if err := c.applyProfile(reqCtx, next); err != nil {
				c.mu.Lock()
				c.stats.recordFailure()
				c.mu.Unlock()

				kind := classifyFailure(err)
				if kind == KindConfigRejected {
					return nil, c.errorSnapshot(kind, err)
				}
				// 古いプロファイルのままキャプチャへ進まず、即座にリカバリする
				if v := c.recoverFailure(reqCtx, kind, err); v.fatal {
					return nil, c.errorSnapshot(KindFatal, err)
				}
				if err := c.applyProfile(reqCtx, next); err != nil {
					c.mu.Lock()
					c.stats.recordFailure()
					c.mu.Unlock()
					return nil, c.errorSnapshot(classifyFailure(err), err)
				}
			}
		}
		p := next
		profile = &p

		// 再設定の追加レイテンシ予算を先取りで差し引き、全体の期限を守る
		deadline = deadline.Add(-next.SetupBudget)
		if floor := time.Now().Add(time.Millisecond); deadline.Before(floor) {
			deadline = floor
		}
	}

	if profile == nil {
		return nil, c.errorSnapshot(KindConfigRejected,
			fmt.Errorf("プロファイル未適用のままキャプチャは実行できません: %w", sensor.ErrConfigRejected))
	}

	var lastErr error
	for try := 0; try < 2; try++ {
		res, err := c.attemptOnce(reqCtx, deadline, *profile)
		if err == nil {
			c.finishSuccess(res)
			return res, nil
		}

		c.mu.Lock()
		c.stats.recordFailure()
		c.mu.Unlock()

		kind := classifyFailure(err)
		if kind == KindConfigRejected {
			// 契約違反はリカバリ対象外。即座に表面化する
			return nil, c.errorSnapshot(kind, err)
		}
		if v := c.recoverFailure(reqCtx, kind, err); v.fatal {
			return nil, c.errorSnapshot(KindFatal, err)
		}
		lastErr = err
		// 裁定に従い、同一リクエスト内で一度だけ再試行する
	}
	return nil, c.errorSnapshot(classifyFailure(lastErr), lastErr)
}

// attemptOnce は1回分のキャプチャ試行を行う
// 失敗時は確保済みスロットを巻き戻してからエラーを返す
func (c *Controller) attemptOnce(ctx context.Context, deadline time.Time, profile power.Profile) (*Result, error) {
	c.mu.Lock()
	pool := c.pool
	driver := c.driver
	c.mu.Unlock()

	start := time.Now()
	slotCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	handle, err := pool.Acquire(slotCtx)
	if err != nil {
		return nil, err
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		pool.Release(handle)
		return nil, fmt.Errorf("スロット確保で時間予算を使い切りました: %w", sensor.ErrTimeout)
	}

	if err := driver.CaptureInto(ctx, handle.Slot(), remaining); err != nil {
		pool.Release(handle)
		return nil, err
	}

	return &Result{
		ID:      uuid.New(),
		Handle:  handle,
		Profile: profile,
		Elapsed: time.Since(start),
	}, nil
}

// applyProfile はセンサーへプロファイルを適用し、成功時に記録する
func (c *Controller) applyProfile(ctx context.Context, profile power.Profile) error {
	c.mu.Lock()
	driver := c.driver
	c.mu.Unlock()

	if err := driver.Configure(ctx, profile); err != nil {
		return fmt.Errorf("プロファイルの再設定に失敗: %w", err)
	}

	c.mu.Lock()
	p := profile
	c.lastProfile = &p
	c.mu.Unlock()
	return nil
}

// finishSuccess は成功時の状態遷移と統計更新を行う
// 連続失敗カウンタと履歴は成功によってのみゼロへ戻る
func (c *Controller) finishSuccess(res *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures.Consecutive = 0
	c.failures.History = nil
	c.state = StateNominal
	c.stats.recordSuccess(res.Elapsed, len(res.Handle.Slot().Data))
}

// CaptureAndAnalyze は電力適応キャプチャの後、フレームを推論ブリッジへ
// 渡して解析結果を返す。キャプチャ失敗時はブリッジを呼ばない
func (c *Controller) CaptureAndAnalyze(ctx context.Context, model string) (*AnalysisResult, error) {
	start := time.Now()

	res, err := c.CapturePowerAware(ctx, 0)
	if err != nil {
		return nil, err
	}
	defer c.ReturnFrame(res.Handle)

	if c.analyzer == nil {
		return nil, fmt.Errorf("推論ブリッジが構成されていません")
	}
	analysis, err := c.analyzer.Analyze(ctx, res.Frame(), model)
	if err != nil {
		return nil, fmt.Errorf("フレーム解析に失敗: %w", err)
	}

	return &AnalysisResult{
		ID:       res.ID,
		Analysis: analysis,
		Profile:  res.Profile,
		Elapsed:  time.Since(start),
	}, nil
}

// ReturnFrame はキャプチャ結果のスロットをプールへ返却する
// 二重返却は警告ログのみで無害に終わる
func (c *Controller) ReturnFrame(h *buffer.Handle) {
	if h == nil {
		return
	}
	c.mu.Lock()
	pool := c.pool
	c.mu.Unlock()
	pool.Release(h)
}

// Reset は外部からの明示的なリセット要求を処理する
// Fatal からの復帰はこの呼び出しでのみ行われる
func (c *Controller) Reset(ctx context.Context) error {
	select {
	case c.gate <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("リセットの順番待ちがタイムアウトしました: %w", ctx.Err())
	}
	defer func() { <-c.gate }()

	if err := c.reinitialize(ctx); err != nil {
		return fmt.Errorf("外部リセットに失敗: %w", err)
	}

	c.mu.Lock()
	c.failures = FailureContext{}
	c.state = StateNominal
	c.mu.Unlock()

	log.Printf("外部リセットが完了しました")
	return nil
}

// State は現在のリカバリ状態を返す
func (c *Controller) State() RecoveryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Failures は失敗コンテキストのスナップショットを返す
func (c *Controller) Failures() FailureContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := c.failures
	snapshot.History = append([]FailureRecord(nil), c.failures.History...)
	return snapshot
}

// StatsSnapshot はキャプチャ統計のスナップショットを返す
func (c *Controller) StatsSnapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// PoolStatus はバッファプールの使用状況を返す
func (c *Controller) PoolStatus() (acquired, total int, tier buffer.Tier) {
	c.mu.Lock()
	pool := c.pool
	c.mu.Unlock()
	return pool.AcquiredCount(), pool.SlotCount(), pool.Tier()
}

// PowerStatus は現在の電力レベルと対応するバンドを返す
func (c *Controller) PowerStatus() (level float64, band power.Band) {
	level = c.powerSource.CurrentPowerLevel()
	return level, c.policy.BandFor(level)
}

// LastProfile は最後に適用されたプロファイルを返す（未適用ならnil）
func (c *Controller) LastProfile() *power.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastProfile == nil {
		return nil
	}
	p := *c.lastProfile
	return &p
}

// errorSnapshot は診断コンテキスト付きのキャプチャエラーを作る
func (c *Controller) errorSnapshot(kind FailureKind, cause error) *CaptureError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorSnapshotLocked(kind, cause)
}

func (c *Controller) errorSnapshotLocked(kind FailureKind, cause error) *CaptureError {
	return &CaptureError{
		Kind:        kind,
		Consecutive: c.failures.Consecutive,
		History:     append([]FailureRecord(nil), c.failures.History...),
		Profile:     c.lastProfile,
		Err:         cause,
	}
}
