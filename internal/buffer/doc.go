// Package buffer フレームバッファプールの管理を担う
//
// # 責務
// - 固定数のフレームバッファスロットの所有と貸し出し
// - スロットのライフサイクル管理 (Free → Acquired → PendingReturn → Free)
// - 高速メモリ層 / 大容量メモリ層の割り当てバイアス
// - 二重返却からの保護（冪等なリリース）
// - 断片化回収パス（Reclaim）
//
// # 仕様
// - スロット総数は構築時に固定され、Acquire は新規割り当てを一切行わない
//   （キャプチャレートに依存しない有界メモリフットプリントの保証）
// - 大容量層が設定されている場合はそちらへスロットを寄せ、希少な高速層を温存する
// - 大容量層が無い場合は高速層のみで縮小したスロット数にフォールバックする
// - Acquire はプール唯一の待機点であり、呼び出し側のコンテキスト期限を尊重して
//   ErrExhausted を返す（無期限にブロックしない）
// - 枯渇時の回収パスはここでは自動起動しない（割り当てと修復方針の分離。
//   回収はキャプチャコントローラの責務）
package buffer
