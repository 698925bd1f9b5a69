// Package sensor 物理キャプチャデバイスのライフサイクル管理を担う
//
// # 責務
// - デバイスの open → configure → capture → close ライフサイクルの所有
// - タイムアウト付きの単発キャプチャプリミティブの提供
// - 呼び出し順序の強制（順序違反は ErrConfigRejected で拒否）
// - キャプチャ失敗の種別分類（タイムアウト / デバイス障害 / 設定拒否）
//
// # 仕様
// - 物理カメラは一つであり、同時に実行できるキャプチャは一つだけ
// - キャプチャ実行中の二人目の呼び出し側は自身のタイムアウトの範囲で
//   ブロックする（プール枯渇と同じ待機機構を再利用するポリシー）
// - CaptureInto はスロットを完全に埋めるか全く触れないかのどちらかであり、
//   部分書き込みは起こらない
// - 実デバイスへのアクセスは ffmpeg / v4l2-ctl コマンド経由
//
// # 前提要件
//   - v4l-utils: デバイス確認とセンサーコントロール設定に使用
//   - ffmpeg: 静止画キャプチャに使用
package sensor
