package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Saver はストレージ層の契約
type Saver interface {
	// Save はフレームを指定フォルダへ保存し、保存先ファイル名を返す
	Save(ctx context.Context, frame Frame, folder string) (string, error)
}

// FileSaver はローカルファイルシステムへ保存するSaver実装
type FileSaver struct {
	baseDir string
}

// NewFileSaver は新しいFileSaverを作成する
func NewFileSaver(baseDir string) *FileSaver {
	return &FileSaver{baseDir: baseDir}
}

// Save はフレームをJPEGファイルとして保存する
// ファイル名は wildlife_<キャプチャ時刻ミリ秒>_<連番>.jpg の規約に従う
func (s *FileSaver) Save(_ context.Context, frame Frame, folder string) (string, error) {
	if len(frame.Data) == 0 {
		return "", fmt.Errorf("空のフレームは保存できません")
	}

	dir := filepath.Join(s.baseDir, folder)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("保存先ディレクトリの作成に失敗: %w", err)
	}

	filename := filepath.Join(dir,
		fmt.Sprintf("wildlife_%d_%d.jpg", frame.CapturedAt.UnixMilli(), frame.Seq))

	if err := os.WriteFile(filename, frame.Data, 0644); err != nil {
		return "", fmt.Errorf("画像の保存に失敗: %w", err)
	}

	return filename, nil
}

// MockSaver はテスト用のモックSaver実装
type MockSaver struct {
	mu  sync.Mutex
	err error

	// 呼び出し記録
	Calls      int
	LastFolder string
	SavedBytes int
}

// NewMockSaver は新しいMockSaverを作成する
func NewMockSaver() *MockSaver {
	return &MockSaver{}
}

// Save は保存をシミュレートする
func (m *MockSaver) Save(_ context.Context, frame Frame, folder string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	m.LastFolder = folder
	m.SavedBytes += len(frame.Data)

	if m.err != nil {
		return "", m.err
	}
	return fmt.Sprintf("%s/wildlife_%d_%d.jpg", folder, frame.CapturedAt.UnixMilli(), frame.Seq), nil
}

// SetError はテスト用に保存失敗を設定する
func (m *MockSaver) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
