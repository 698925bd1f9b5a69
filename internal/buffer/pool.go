package buffer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrExhausted は期限内に空きスロットを確保できなかったことを表す
var ErrExhausted = errors.New("空きバッファスロットがありません")

// Tier はスロットの背後にあるメモリ層を表す
type Tier int

// Tier の定数定義
const (
	TierFast  Tier = iota // 高速だが希少なオンチップ相当の層
	TierLarge             // 大容量だが低速な外部メモリ相当の層
)

// String はメモリ層名を返す
func (t Tier) String() string {
	if t == TierLarge {
		return "large"
	}
	return "fast"
}

// SlotState はスロットの所有状態を表す
type SlotState int

// SlotState の定数定義
const (
	SlotFree          SlotState = iota // 未貸出
	SlotAcquired                       // 貸出中（所有者は常に一つ）
	SlotPendingReturn                  // 返却処理中
)

// Slot はフレームバッファの1スロットを表す
// ペイロードの容量は構築時に固定され、以後再割り当てされない
type Slot struct {
	Index      int       // スロット番号
	Tier       Tier      // 背後のメモリ層
	Data       []byte    // エンコード済み画像データ（容量固定）
	Width      int       // 画像幅
	Height     int       // 画像高さ
	Format     string    // 画像フォーマット（例: "jpeg"）
	CapturedAt time.Time // キャプチャ時刻
	Seq        uint64    // キャプチャ連番

	state SlotState // プールのロック下でのみ変更される
}

// Handle は貸出中スロットへの借用参照
// 正当な所有者は常に一つであり、Releaseは一度だけ呼ばれなければならない
type Handle struct {
	ID   uuid.UUID // ハンドルの一意識別子
	slot *Slot
	pool *Pool // ハンドルを貸し出したプール

	released bool // プールのロック下でのみ変更される
}

// Slot はハンドルが参照するスロットを返す
func (h *Handle) Slot() *Slot {
	return h.slot
}

// Config はプールの構成設定
type Config struct {
	SlotCount      int   `yaml:"slot_count"`       // 大容量層利用時のスロット数
	FastSlotCount  int   `yaml:"fast_slot_count"`  // 高速層のみの場合の縮小スロット数
	MaxFrameBytes  int   `yaml:"max_frame_bytes"`  // 1スロットのペイロード容量
	LargeTierBytes int64 `yaml:"large_tier_bytes"` // 大容量層のサイズ (0なら層なし)
}

// DefaultConfig はデフォルトのプール設定を返す
func DefaultConfig() Config {
	return Config{
		SlotCount:      5,
		FastSlotCount:  2,
		MaxFrameBytes:  512 * 1024,
		LargeTierBytes: 4 * 1024 * 1024,
	}
}

// Pool は固定数のフレームバッファスロットを所有する
// Acquire/Release が唯一の状態変更操作であり、相互に直列化される
type Pool struct {
	mu    sync.Mutex
	slots []*Slot
	tier  Tier
	seq   uint64

	// 空きスロットの通知用。容量はスロット総数に等しく、送信が
	// ブロックすることはない
	freeCh chan int
}

// NewPool は設定に従ってプールを構築する
// 大容量層が利用可能ならスロットをそちらへ寄せ、無ければ高速層のみで
// 縮小したスロット数にフォールバックする
func NewPool(cfg Config) (*Pool, error) {
	if cfg.MaxFrameBytes <= 0 {
		return nil, fmt.Errorf("無効なフレーム容量: %d", cfg.MaxFrameBytes)
	}

	tier := TierFast
	count := cfg.FastSlotCount
	if cfg.LargeTierBytes > 0 {
		tier = TierLarge
		count = cfg.SlotCount
	}
	if count <= 0 {
		return nil, fmt.Errorf("無効なスロット数: %d", count)
	}

	p := &Pool{
		slots:  make([]*Slot, count),
		tier:   tier,
		freeCh: make(chan int, count),
	}

	// 全スロットをここで確保する。以後 Acquire が割り当てを行うことはない
	for i := 0; i < count; i++ {
		p.slots[i] = &Slot{
			Index: i,
			Tier:  tier,
			Data:  make([]byte, 0, cfg.MaxFrameBytes),
			state: SlotFree,
		}
		p.freeCh <- i
	}

	log.Printf("バッファプールを構築しました (層=%s, スロット数=%d, 容量=%dバイト)",
		tier, count, cfg.MaxFrameBytes)

	return p, nil
}

// Acquire は空きスロットを確保してハンドルを返す
// 空きが無い場合はコンテキストの期限まで待機し、期限超過時は
// ErrExhausted を返す。ここで回収パスは起動しない
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	select {
	case idx := <-p.freeCh:
		p.mu.Lock()
		slot := p.slots[idx]
		slot.state = SlotAcquired
		p.seq++
		slot.Seq = p.seq
		handle := &Handle{ID: uuid.New(), slot: slot, pool: p}
		p.mu.Unlock()
		return handle, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("スロット確保がタイムアウトしました: %w", ErrExhausted)
	}
}

// Release はスロットをプールへ返却する
// 同一ハンドルの二重返却は警告ログ付きの no-op であり、プール状態を
// 破壊しない
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}

	// 再初期化で差し替えられた旧プールのハンドルは、貸出元のプールへ返す
	if h.pool != p && h.pool != nil {
		h.pool.Release(h)
		return
	}

	p.mu.Lock()

	if h.released || h.slot.state == SlotFree {
		p.mu.Unlock()
		log.Printf("警告: スロット %d は既に返却済みです (handle=%s)", h.slot.Index, h.ID)
		return
	}

	h.released = true
	slot := h.slot

	// 返却は二段階で行う。境界の間スロットは PendingReturn として
	// 観測可能であり、ここで取り残された場合は回収パスが空きへ戻す
	slot.state = SlotPendingReturn
	p.mu.Unlock()

	p.mu.Lock()
	if slot.state != SlotPendingReturn {
		// 並行する回収パスが先に空きへ戻した。二重に空き通知しない
		p.mu.Unlock()
		return
	}

	// ペイロードをクリアして空き状態へ戻す
	slot.Data = slot.Data[:0]
	slot.Width = 0
	slot.Height = 0
	slot.Format = ""
	slot.state = SlotFree

	p.mu.Unlock()

	// 容量はスロット総数に等しいため、この送信はブロックしない
	p.freeCh <- slot.Index
}

// Reclaim は断片化回収パスを実行する
// 返却処理中に取り残されたスロットを空き状態へ戻し、回収した
// スロット数を返す
func (p *Pool) Reclaim() int {
	p.mu.Lock()

	reclaimed := 0
	var stuck []int
	for _, slot := range p.slots {
		if slot.state == SlotPendingReturn {
			slot.Data = slot.Data[:0]
			slot.Width = 0
			slot.Height = 0
			slot.Format = ""
			slot.state = SlotFree
			stuck = append(stuck, slot.Index)
			reclaimed++
		}
	}
	p.mu.Unlock()

	for _, idx := range stuck {
		p.freeCh <- idx
	}

	if reclaimed > 0 {
		log.Printf("バッファ回収パス完了: %dスロットを回収しました", reclaimed)
	}

	return reclaimed
}

// AcquiredCount は貸出中のスロット数を返す
func (p *Pool) AcquiredCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0
	for _, slot := range p.slots {
		if slot.state == SlotAcquired {
			count++
		}
	}
	return count
}

// SlotCount はスロット総数を返す
func (p *Pool) SlotCount() int {
	return len(p.slots)
}

// Tier はプールが使用しているメモリ層を返す
func (p *Pool) Tier() Tier {
	return p.tier
}
