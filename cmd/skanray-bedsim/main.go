package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"skanray-cns/internal/config"
	"skanray-cns/internal/logger"
	"skanray-cns/internal/redisx"
	"skanray-cns/internal/simulator"
)

// skanray-bedsim 床旁设备模拟器：按固定节奏为每张床生成 ORU^R01 风格
// 生命体征消息并发布到样本流（演示和联调用）
func main() {
	numBeds := flag.Int("beds", 4, "number of simulated beds")
	intervalSec := flag.Int("interval", 2, "sample interval in seconds")
	abnormalRate := flag.Float64("abnormal", 0.05, "probability of an abnormal reading per channel")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "skanray-bedsim")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := redisx.NewClient(&cfg.Redis)
	if err := redisx.Ping(ctx, redisClient); err != nil {
		log.Fatal("Failed to ping redis", zap.Error(err))
	}
	defer redisClient.Close()

	gen := simulator.NewGenerator(time.Now().UnixNano(), *abnormalRate)

	log.Info("Bed simulator started",
		zap.Int("beds", *numBeds),
		zap.Int("interval_sec", *intervalSec),
		zap.String("stream", cfg.Feed.Stream),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(*intervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigChan:
			log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
			return
		case now := <-ticker.C:
			for i := 1; i <= *numBeds; i++ {
				bedID := fmt.Sprintf("B%d", i)
				patientID := fmt.Sprintf("P%04d", i)
				msg := gen.Next(bedID, patientID, now)

				if _, err := redisx.PublishJSON(ctx, redisClient, cfg.Feed.Stream, msg); err != nil {
					log.Error("Failed to publish sample",
						zap.String("bed_id", bedID),
						zap.Error(err),
					)
				}
			}
		}
	}
}
