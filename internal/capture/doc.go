// Package capture キャプチャパイプラインの統合制御を担う
//
// # 責務
// - 公開キャプチャAPI（通常 / 電力適応 / キャプチャ+解析）の提供
// - キャプチャ前の電力ポリシー適用とドライバ再設定
// - バッファスロットの確保・返却の仲介
// - キャプチャ失敗の分類と段階的リカバリ状態機械の駆動
// - キャプチャ統計の集計
//
// # 仕様
// - 物理カメラは一つであり、同時に実行できるキャプチャは一つだけ。
//   二人目の呼び出し側は自身のタイムアウトの範囲でブロックする
// - キャプチャとリカバリは呼び出し側の実行コンテキスト上で実行される
//   （バックグラウンドスレッドは不要）
// - リカバリは段階的かつ有界: Retrying → Reclaiming → SoftResetting →
//   Reinitializing と昇順にのみ遷移し、試行予算を超えると Fatal となる。
//   Fatal 後は外部から Reset が呼ばれるまで即時失敗を返す
// - ConfigRejected は契約違反であり、リカバリを経由せず即座に表面化する
// - タイムアウトの期限切れは一級の失敗結果であり、確保済みスロットは
//   失敗の伝播前に必ず Free へ巻き戻される
package capture
