// Package power 電力レベルからキャプチャ品質プロファイルへの変換を担う
//
// # 責務
// - 正規化された電力レベル(0.0〜1.0)の電力バンドへの分類
// - 電力バンドに応じたキャプチャ品質プロファイルの導出
// - 電力低下に伴う解像度・品質・時間予算の単調な削減
//
// # 仕様
// - ProfileFor は純粋関数であり、副作用を持たずどのコンテキストからも呼び出せる
// - バンド境界値は設定(config.PowerThresholds)で与えられ、重複しない
// - 範囲外の電力レベルはエラーにせずクランプする
//   （テレメトリの異常だけでキャプチャ経路を失敗させないため）
// - Critical バンドでは画質よりも完了を優先した最小レイテンシ構成を保証する
package power
