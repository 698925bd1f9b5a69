// Package bridge 外部コラボレータへの薄い変換層を担う
//
// # 責務
// - 電力テレメトリ源からの電力レベル取得（非ブロッキング）
// - キャプチャ済みフレームの推論エンジンへの受け渡し
// - キャプチャ済みフレームのストレージ層への保存依頼
//
// # 仕様
// - 推論モデル・保存ファイル形式・通信プロトコルはこのパッケージの
//   所有物ではなく、各コラボレータの契約のみを定義する
// - 電力テレメトリが得られない場合は満充電(1.0)とみなす
//   （テレメトリの欠落だけでキャプチャ経路を止めないため）
// - 各契約にはテスト用のモック実装が付属する
package bridge
