package main

import (
	"context"
	"log"

	"wildcam/internal/bridge"
	"wildcam/internal/capture"
	"wildcam/internal/config"
	"wildcam/internal/power"
	"wildcam/internal/sensor"
	"wildcam/internal/server"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	ctx := context.Background()

	// キャプチャサブシステムを構築する
	ctrl, saver, err := buildSubsystem(cfg)
	if err != nil {
		log.Fatalf("サブシステムの構築に失敗しました: %v", err)
	}
	if err := ctrl.Start(ctx); err != nil {
		log.Fatalf("キャプチャコントローラの起動に失敗しました: %v", err)
	}
	defer func() {
		if err := ctrl.Stop(context.Background()); err != nil {
			log.Printf("キャプチャコントローラの停止に失敗しました: %v", err)
		}
	}()

	if cfg.Capture.SelfTestOnStart {
		if err := ctrl.SelfTest(ctx); err != nil {
			log.Printf("セルフテストに失敗しました（継続します）: %v", err)
		}
	}

	// サーバーを作成して起動
	srv := server.New(cfg, ctrl, saver)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}

// buildSubsystem は設定からキャプチャコントローラとストレージ層を組み立てる
func buildSubsystem(cfg *config.Config) (*capture.Controller, bridge.Saver, error) {
	policy := power.NewPolicy(cfg.Power.Thresholds)
	source := bridge.NewSysfsPowerSource(cfg.Power.CapacityPath)

	var analyzer bridge.Analyzer
	if cfg.AI.Endpoint != "" {
		analyzer = bridge.NewHTTPAnalyzer(cfg.AI.Endpoint, cfg.AI.Timeout.Std())
	}

	device := cfg.Sensor.Device
	factory := func() sensor.Driver {
		return sensor.NewV4L2Driver(device)
	}

	ctrl, err := capture.NewController(capture.Config{
		DefaultTimeout:      cfg.Capture.DefaultTimeout.Std(),
		MaxRecoveryAttempts: cfg.Capture.MaxRecoveryAttempts,
		HistoryLimit:        cfg.Capture.HistoryLimit,
	}, cfg.Pool, policy, source, analyzer, factory)
	if err != nil {
		return nil, nil, err
	}

	return ctrl, bridge.NewFileSaver(cfg.Storage.BaseDir), nil
}
