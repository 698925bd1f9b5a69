package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wildcam/internal/bridge"
	"wildcam/internal/buffer"
	"wildcam/internal/capture"
	"wildcam/internal/config"
	"wildcam/internal/power"
	"wildcam/internal/sensor"
)

// testServer はモックで固めたサーバー一式
type testServer struct {
	srv    *Server
	driver *sensor.MockDriver
	source *bridge.StaticPowerSource
	saver  *bridge.MockSaver
}

func newTestServer(t *testing.T, level float64) *testServer {
	t.Helper()

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8080

	ts := &testServer{
		driver: sensor.NewMockDriver(),
		source: bridge.NewStaticPowerSource(level),
		saver:  bridge.NewMockSaver(),
	}
	analyzer := bridge.NewMockAnalyzer()
	analyzer.SetResult(bridge.Analysis{Species: "fox", Confidence: 0.88, Detected: true})

	made := 0
	factory := func() sensor.Driver {
		made++
		if made == 1 {
			return ts.driver
		}
		nd := sensor.NewMockDriver()
		ts.driver = nd
		return nd
	}

	poolCfg := buffer.Config{SlotCount: 5, FastSlotCount: 2, MaxFrameBytes: 64 * 1024}
	ctrl, err := capture.NewController(capture.DefaultConfig(), poolCfg,
		power.NewPolicy(cfg.Power.Thresholds), ts.source, analyzer, factory)
	if err != nil {
		t.Fatalf("コントローラの生成に失敗しました: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("コントローラの起動に失敗しました: %v", err)
	}

	ts.srv = New(cfg, ctrl, ts.saver)
	return ts
}

func (ts *testServer) request(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	ts.srv.engine.ServeHTTP(rec, req)
	return rec
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	ts := newTestServer(t, 0.9)
	ts.srv.config.Server.Port = 0 // ランダムポートを使用
	ts.srv.httpServer.Addr = ts.srv.config.ServerAddress()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- ts.srv.Start(ctx)
	}()

	// サーバーが起動するまで少し待つ
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("サーバーの起動/停止でエラーが発生しました: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}

// TestHealthAndStatusEndpoints は参照系エンドポイントをテストする
func TestHealthAndStatusEndpoints(t *testing.T) {
	ts := newTestServer(t, 0.9)

	rec := ts.request(t, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("予期しないステータスコード: got %d, want %d", rec.Code, http.StatusOK)
	}

	rec = ts.request(t, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("予期しないステータスコード: got %d, want %d", rec.Code, http.StatusOK)
	}

	var status StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("ステータス応答の解析に失敗しました: %v", err)
	}
	if status.Status != "running" {
		t.Errorf("予期しない状態: %s", status.Status)
	}
	if status.Power.Band != "normal" {
		t.Errorf("予期しない電力バンド: %s", status.Power.Band)
	}
	if status.Recovery.State != capture.StateNominal {
		t.Errorf("予期しないリカバリ状態: %s", status.Recovery.State)
	}
	if status.Pool.Total != 2 || status.Pool.Acquired != 0 {
		t.Errorf("予期しないプール状態: %+v", status.Pool)
	}
}

// TestPostCapture はキャプチャトリガーをテストする
func TestPostCapture(t *testing.T) {
	ts := newTestServer(t, 0.9)

	rec := ts.request(t, http.MethodPost, "/api/capture")
	if rec.Code != http.StatusOK {
		t.Fatalf("予期しないステータスコード: got %d, body=%s", rec.Code, rec.Body.String())
	}

	var res CaptureResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("キャプチャ応答の解析に失敗しました: %v", err)
	}
	if res.Band != "normal" {
		t.Errorf("予期しない電力バンド: %s", res.Band)
	}
	if res.Bytes == 0 || res.Path == "" {
		t.Errorf("保存結果が不完全です: %+v", res)
	}
	if ts.saver.Calls != 1 {
		t.Errorf("保存が1回呼ばれるべきところ %d 回でした", ts.saver.Calls)
	}

	// スロットは応答前に返却済み
	var status StatusResponse
	rec = ts.request(t, http.MethodGet, "/api/status")
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("ステータス応答の解析に失敗しました: %v", err)
	}
	if status.Pool.Acquired != 0 {
		t.Errorf("スロットが返却されていません: %+v", status.Pool)
	}
}

// TestPostCaptureTimeout はキャプチャ失敗時のエラー応答をテストする
func TestPostCaptureTimeout(t *testing.T) {
	ts := newTestServer(t, 0.9)
	ts.driver.QueueCaptureErrors(sensor.ErrTimeout, sensor.ErrTimeout)

	rec := ts.request(t, http.MethodPost, "/api/capture")
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("予期しないステータスコード: got %d, want %d", rec.Code, http.StatusGatewayTimeout)
	}

	var res ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("エラー応答の解析に失敗しました: %v", err)
	}
	if res.Error != "capture_timeout" {
		t.Errorf("予期しないエラーコード: %s", res.Error)
	}
}

// TestPostCaptureInvalidTimeout は不正なクエリの扱いをテストする
func TestPostCaptureInvalidTimeout(t *testing.T) {
	ts := newTestServer(t, 0.9)

	rec := ts.request(t, http.MethodPost, "/api/capture?timeout=banana")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("予期しないステータスコード: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

// TestPostCaptureAnalyze はキャプチャ+推論エンドポイントをテストする
func TestPostCaptureAnalyze(t *testing.T) {
	ts := newTestServer(t, 0.9)

	rec := ts.request(t, http.MethodPost, "/api/capture/analyze?model=species_v2")
	if rec.Code != http.StatusOK {
		t.Fatalf("予期しないステータスコード: got %d, body=%s", rec.Code, rec.Body.String())
	}

	var res AnalyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("解析応答の解析に失敗しました: %v", err)
	}
	if res.Analysis.Species != "fox" || !res.Analysis.Detected {
		t.Errorf("予期しない解析結果: %+v", res.Analysis)
	}
}

// TestRecoveryResetEndpoint はFatalからの外部リセットをテストする
func TestRecoveryResetEndpoint(t *testing.T) {
	ts := newTestServer(t, 0.9)
	ts.driver.QueueCaptureErrors(
		sensor.ErrTimeout, sensor.ErrTimeout,
		sensor.ErrTimeout, sensor.ErrTimeout,
	)

	// 失敗予算を使い切ってFatalへ落とす
	ts.request(t, http.MethodPost, "/api/capture")
	rec := ts.request(t, http.MethodPost, "/api/capture")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("予期しないステータスコード: got %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	rec = ts.request(t, http.MethodPost, "/api/recovery/reset")
	if rec.Code != http.StatusOK {
		t.Fatalf("リセットに失敗しました: %d, body=%s", rec.Code, rec.Body.String())
	}

	rec = ts.request(t, http.MethodPost, "/api/capture")
	if rec.Code != http.StatusOK {
		t.Errorf("リセット後のキャプチャが失敗しました: %d, body=%s", rec.Code, rec.Body.String())
	}
}
