// Package server は、キャプチャサブシステムへのHTTP APIを提供します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// キャプチャ要求とリカバリ操作の受け付けを担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - 電力適応キャプチャのトリガー受け付け
//   - キャプチャ+推論エンドポイントの提供
//   - リカバリ状態・統計の公開
//   - Fatal状態からの外部リセット受け付け
//
// 仕様:
//   - ルーティングはgin-gonic/ginを使用
//   - グレースフルシャットダウンに対応
//   - キャプチャしたフレームは応答前にストレージへ保存し、
//     スロットは必ずプールへ返却する
package server
