package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testConfig(slots int) Config {
	return Config{
		SlotCount:      slots,
		FastSlotCount:  slots,
		MaxFrameBytes:  1024,
		LargeTierBytes: 4 * 1024 * 1024,
	}
}

func TestPoolAcquireRelease(t *testing.T) {
	ctx := context.Background()
	pool, err := NewPool(testConfig(3))
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	// 確保
	handle, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if handle.Slot().state != SlotAcquired {
		t.Errorf("Expected slot state Acquired, got %d", handle.Slot().state)
	}
	if pool.AcquiredCount() != 1 {
		t.Errorf("Expected 1 acquired slot, got %d", pool.AcquiredCount())
	}

	// 返却
	pool.Release(handle)
	if pool.AcquiredCount() != 0 {
		t.Errorf("Expected 0 acquired slots after release, got %d", pool.AcquiredCount())
	}
}

func TestPoolTierSelection(t *testing.T) {
	// 大容量層が設定されていればそちらへ寄せる
	large, err := NewPool(Config{SlotCount: 5, FastSlotCount: 2, MaxFrameBytes: 1024, LargeTierBytes: 1 << 20})
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	if large.Tier() != TierLarge {
		t.Errorf("Expected large tier, got %s", large.Tier())
	}
	if large.SlotCount() != 5 {
		t.Errorf("Expected 5 slots on large tier, got %d", large.SlotCount())
	}

	// 大容量層が無ければ高速層のみで縮小数にフォールバック
	fast, err := NewPool(Config{SlotCount: 5, FastSlotCount: 2, MaxFrameBytes: 1024, LargeTierBytes: 0})
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	if fast.Tier() != TierFast {
		t.Errorf("Expected fast tier, got %s", fast.Tier())
	}
	if fast.SlotCount() != 2 {
		t.Errorf("Expected 2 slots on fast tier, got %d", fast.SlotCount())
	}
}

func TestPoolExhaustion(t *testing.T) {
	pool, err := NewPool(testConfig(1))
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	// 唯一のスロットを確保
	handle, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// 枯渇状態での確保は期限内にErrExhaustedを返す
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = pool.Acquire(ctx)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrExhausted) {
		t.Errorf("Expected ErrExhausted, got %v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("Acquire blocked too long: %v", elapsed)
	}

	// 返却後は再度確保できる
	pool.Release(handle)
	handle2, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	pool.Release(handle2)
}

func TestPoolDoubleRelease(t *testing.T) {
	pool, err := NewPool(testConfig(2))
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	handle, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// 一度目の返却
	pool.Release(handle)
	countAfterFirst := pool.AcquiredCount()

	// 二度目の返却はno-opであり、プール状態は変わらない
	pool.Release(handle)
	if pool.AcquiredCount() != countAfterFirst {
		t.Error("Double release corrupted pool state")
	}

	// 二重返却後も全スロットを確保できる（フリーリストの重複が無い）
	ctx := context.Background()
	h1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	h2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// 3つ目の確保は枯渇する（重複エントリがあれば成功してしまう）
	shortCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(shortCtx); !errors.Is(err, ErrExhausted) {
		t.Errorf("Expected ErrExhausted on third acquire, got %v", err)
	}

	pool.Release(h1)
	pool.Release(h2)
}

func TestPoolBoundedAcquired(t *testing.T) {
	const slots = 3
	pool, err := NewPool(testConfig(slots))
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	// 並行するacquire/releaseの全系列で貸出数がスロット数を超えない
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				handle, err := pool.Acquire(ctx)
				cancel()
				if err != nil {
					continue
				}
				if n := pool.AcquiredCount(); n > slots {
					t.Errorf("Acquired count %d exceeds slot count %d", n, slots)
				}
				pool.Release(handle)
			}
		}()
	}
	wg.Wait()

	if pool.AcquiredCount() != 0 {
		t.Errorf("Expected 0 acquired slots at end, got %d", pool.AcquiredCount())
	}
}

func TestPoolReleaseClearsPayload(t *testing.T) {
	pool, err := NewPool(testConfig(1))
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	handle, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// ペイロードを設定
	slot := handle.Slot()
	slot.Data = append(slot.Data[:0], []byte{0xFF, 0xD8, 0xFF, 0xD9}...)
	slot.Width = 640
	slot.Height = 480
	slot.Format = "jpeg"

	pool.Release(handle)

	// 返却後のスロットはクリアされている
	handle2, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	slot2 := handle2.Slot()
	if len(slot2.Data) != 0 || slot2.Width != 0 || slot2.Height != 0 || slot2.Format != "" {
		t.Error("Slot payload was not cleared on release")
	}
	pool.Release(handle2)
}

func TestPoolAcquireNeverAllocates(t *testing.T) {
	pool, err := NewPool(testConfig(2))
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	// Acquireが既存スロットを回転させるだけであることを容量で確認する
	handle, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	capBefore := cap(handle.Slot().Data)
	pool.Release(handle)

	for i := 0; i < 10; i++ {
		h, err := pool.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if cap(h.Slot().Data) != capBefore {
			t.Errorf("Slot capacity changed: %d -> %d", capBefore, cap(h.Slot().Data))
		}
		pool.Release(h)
	}
}

func TestPoolReclaim(t *testing.T) {
	pool, err := NewPool(testConfig(2))
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	// 正常状態では回収対象は無い
	if n := pool.Reclaim(); n != 0 {
		t.Errorf("Expected 0 reclaimed slots, got %d", n)
	}

	// 返却処理中に取り残されたスロットを人為的に作る
	handle, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	pool.mu.Lock()
	handle.slot.state = SlotPendingReturn
	handle.released = true
	pool.mu.Unlock()

	if n := pool.Reclaim(); n != 1 {
		t.Errorf("Expected 1 reclaimed slot, got %d", n)
	}

	// 回収されたスロットは再度確保できる
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	h, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after reclaim failed: %v", err)
	}
	pool.Release(h)
}

// 返却の途中で取り残されたスロットを回収パスが先に空きへ戻した場合、
// 遅れて完了する返却側が空き通知を重複させないことを確認する
func TestPoolReleaseAfterReclaimNoDoubleFree(t *testing.T) {
	pool, err := NewPool(testConfig(2))
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	handle, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// 返却の第一段階で停止した状態を人為的に作る
	pool.mu.Lock()
	handle.slot.state = SlotPendingReturn
	pool.mu.Unlock()

	if n := pool.Reclaim(); n != 1 {
		t.Fatalf("Expected 1 reclaimed slot, got %d", n)
	}

	// 遅れて届く返却は no-op で終わる
	pool.Release(handle)

	// 空き通知はスロット総数ちょうどでなければならない
	var handles []*Handle
	for i := 0; i < pool.SlotCount(); i++ {
		h, err := pool.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
		handles = append(handles, h)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(ctx); !errors.Is(err, ErrExhausted) {
		t.Errorf("Expected ErrExhausted beyond slot count, got %v", err)
	}

	for _, h := range handles {
		pool.Release(h)
	}
}
