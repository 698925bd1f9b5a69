package capture

import (
	"context"
	"log"
	"time"

	"wildcam/internal/buffer"
)

// RecoveryState は失敗リカバリ状態機械の状態を表す
type RecoveryState string

// RecoveryState の定数定義（昇順＝修復手段の深刻度の昇順）
const (
	StateNominal        RecoveryState = "nominal"        // 正常（初期状態・成功時の終端）
	StateRetrying       RecoveryState = "retrying"       // 即時再試行
	StateReclaiming     RecoveryState = "reclaiming"     // バッファ回収パス実行
	StateSoftResetting  RecoveryState = "soft_resetting" // ドライバのクローズ・再オープン
	StateReinitializing RecoveryState = "reinitializing" // ドライバとプールの完全再構築
	StateFatal          RecoveryState = "fatal"          // 予算切れ（外部リセット待ち）
)

// FailureContext はプロセス全体の失敗追跡コンテキスト
// 連続失敗カウンタはキャプチャ成功時にのみゼロへ戻る
type FailureContext struct {
	Consecutive    int             `json:"consecutive"`      // 連続失敗回数
	LastKind       FailureKind     `json:"last_kind"`        // 直近の失敗種別
	LastRecoveryAt time.Time       `json:"last_recovery_at"` // 直近のリカバリ実行時刻
	History        []FailureRecord `json:"history"`          // 失敗履歴（上限つき）
}

// verdict はリカバリ状態機械の裁定
type verdict struct {
	fatal bool // trueなら自動リカバリを打ち切り、Fatalとして表面化する
}

// escalationState は連続失敗回数に対応するリカバリ状態を返す
// 段階は昇順にのみ進み、飛び越しも後退も起こらない
func escalationState(n int) RecoveryState {
	switch n {
	case 1:
		return StateRetrying
	case 2:
		return StateReclaiming
	case 3:
		return StateSoftResetting
	default:
		return StateReinitializing
	}
}

// recoverFailure は失敗を記録し、段階的リカバリを1段実行して裁定を返す
// 呼び出し側はキャプチャ実行権(gate)を保持していなければならない
func (c *Controller) recoverFailure(ctx context.Context, kind FailureKind, cause error) verdict {
	c.mu.Lock()
	c.failures.Consecutive++
	n := c.failures.Consecutive
	c.failures.LastKind = kind
	state := escalationState(n)
	c.appendRecordLocked(FailureRecord{Kind: kind, State: state, At: time.Now()})
	maxAttempts := c.cfg.MaxRecoveryAttempts
	c.mu.Unlock()

	log.Printf("リカバリ: %s へ遷移 (kind=%s, 連続%d回目, 原因: %v)", state, kind, n, cause)

	c.remediate(ctx, state, kind)

	c.mu.Lock()
	c.failures.LastRecoveryAt = time.Now()
	if n >= maxAttempts {
		c.state = StateFatal
		snapshot := c.failures
		c.mu.Unlock()
		log.Printf("リカバリ: 試行予算(%d回)を使い切りました。Fatalへ遷移します (履歴=%d件)",
			maxAttempts, len(snapshot.History))
		return verdict{fatal: true}
	}
	c.state = state
	c.mu.Unlock()

	return verdict{}
}

// remediate はリカバリ状態に応じた修復手段を実行する
// DeviceFault はソフトリセットで回復可能な種別であるため、低い段でも
// 追加でドライバの再オープンを行う
func (c *Controller) remediate(ctx context.Context, state RecoveryState, kind FailureKind) {
	switch state {
	case StateRetrying:
		// 即時再試行。修復手段は無い
	case StateReclaiming:
		c.mu.Lock()
		pool := c.pool
		c.mu.Unlock()
		reclaimed := pool.Reclaim()
		log.Printf("リカバリ: バッファ回収パスを実行しました (%dスロット回収)", reclaimed)
	case StateSoftResetting:
		c.softReset(ctx)
	case StateReinitializing:
		if err := c.reinitialize(ctx); err != nil {
			log.Printf("リカバリ: 完全再構築に失敗しました: %v", err)
		}
	}

	if kind == KindDeviceFault && (state == StateRetrying || state == StateReclaiming) {
		c.softReset(ctx)
	}
}

// softReset はドライバをクローズ・再オープンし、最後に適用した
// プロファイルを再適用する
func (c *Controller) softReset(ctx context.Context) {
	c.mu.Lock()
	driver := c.driver
	profile := c.lastProfile
	c.mu.Unlock()

	if err := driver.Close(ctx); err != nil {
		log.Printf("リカバリ: ソフトリセット中のクローズに失敗: %v", err)
	}
	if err := driver.Open(ctx); err != nil {
		log.Printf("リカバリ: ソフトリセット中の再オープンに失敗: %v", err)
		return
	}
	if profile != nil {
		if err := driver.Configure(ctx, *profile); err != nil {
			log.Printf("リカバリ: ソフトリセット後のプロファイル再適用に失敗: %v", err)
		}
	}
	log.Printf("リカバリ: センサーのソフトリセットが完了しました")
}

// reinitialize はドライバとバッファプールの両方を破棄して再構築する
func (c *Controller) reinitialize(ctx context.Context) error {
	c.mu.Lock()
	oldDriver := c.driver
	profile := c.lastProfile
	c.mu.Unlock()

	if err := oldDriver.Close(ctx); err != nil {
		log.Printf("リカバリ: 再構築中のクローズに失敗: %v", err)
	}

	driver := c.newDriver()
	if err := driver.Open(ctx); err != nil {
		return err
	}
	if profile != nil {
		if err := driver.Configure(ctx, *profile); err != nil {
			return err
		}
	}

	pool, err := buffer.NewPool(c.poolCfg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.driver = driver
	c.pool = pool
	c.mu.Unlock()

	log.Printf("リカバリ: センサードライバとバッファプールを再構築しました")
	return nil
}

// appendRecordLocked は失敗履歴に記録を追加する（上限つき）
// c.mu を保持して呼び出すこと
func (c *Controller) appendRecordLocked(record FailureRecord) {
	c.failures.History = append(c.failures.History, record)
	if limit := c.cfg.HistoryLimit; limit > 0 && len(c.failures.History) > limit {
		c.failures.History = c.failures.History[len(c.failures.History)-limit:]
	}
}
