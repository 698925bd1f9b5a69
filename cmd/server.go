// Package main はWildCAMサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"wildcam/internal/bridge"
	"wildcam/internal/capture"
	"wildcam/internal/config"
	"wildcam/internal/power"
	"wildcam/internal/sensor"
	"wildcam/internal/server"
)

func main() {
	// コマンドラインオプション
	var (
		host     = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port     = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		device   = flag.String("device", "", "カメラデバイス (デフォルト: /dev/video0)")
		confPath = flag.String("config", "", "設定ファイルのパス (YAML)")
		help     = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("WildCAM")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	var (
		cfg *config.Config
		err error
	)
	if *confPath != "" {
		cfg, err = config.LoadFile(*confPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *device != "" {
		cfg.Sensor.Device = *device
	}

	ctx := context.Background()

	// キャプチャサブシステムを組み立てる
	policy := power.NewPolicy(cfg.Power.Thresholds)
	source := bridge.NewSysfsPowerSource(cfg.Power.CapacityPath)

	var analyzer bridge.Analyzer
	if cfg.AI.Endpoint != "" {
		analyzer = bridge.NewHTTPAnalyzer(cfg.AI.Endpoint, cfg.AI.Timeout.Std())
	}

	sensorDevice := cfg.Sensor.Device
	ctrl, err := capture.NewController(capture.Config{
		DefaultTimeout:      cfg.Capture.DefaultTimeout.Std(),
		MaxRecoveryAttempts: cfg.Capture.MaxRecoveryAttempts,
		HistoryLimit:        cfg.Capture.HistoryLimit,
	}, cfg.Pool, policy, source, analyzer, func() sensor.Driver {
		return sensor.NewV4L2Driver(sensorDevice)
	})
	if err != nil {
		log.Fatalf("コントローラの生成に失敗しました: %v", err)
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
	srv := server.New(cfg, ctrl, bridge.NewFileSaver(cfg.Storage.BaseDir))

	log.Printf("WildCAM サーバーを起動します: %s", cfg.ServerAddress())
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
