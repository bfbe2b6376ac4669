package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"skanray-cns/internal/cache"
	"skanray-cns/internal/config"
	"skanray-cns/internal/consumer"
	"skanray-cns/internal/httpapi"
	"skanray-cns/internal/logger"
	"skanray-cns/internal/monitor"
	"skanray-cns/internal/mqttx"
	"skanray-cns/internal/persistence"
	"skanray-cns/internal/policy"
	"skanray-cns/internal/redisx"
	"skanray-cns/internal/repository"
	"skanray-cns/internal/service"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "skanray-cns")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 加载阈值策略（配置非法时快速失败）
	var policySet *policy.PolicySet
	if cfg.Engine.PolicyFile != "" {
		policySet, err = policy.LoadFile(cfg.Engine.PolicyFile)
		if err != nil {
			log.Fatal("Failed to load threshold policy",
				zap.String("file", cfg.Engine.PolicyFile),
				zap.Error(err),
			)
		}
		log.Info("Threshold policy loaded", zap.String("file", cfg.Engine.PolicyFile))
	} else {
		policySet = policy.Default()
		log.Info("Using built-in default threshold policy")
	}

	// 4. 创建监护引擎
	engine := service.NewEngine(policySet, service.Options{
		QueueSize:     cfg.Engine.QueueSize,
		HistorySize:   cfg.Engine.HistorySize,
		StaleAfter:    cfg.StaleAfter(),
		SweepInterval: cfg.SweepInterval(),
		EventBuffer:   cfg.Engine.EventBuffer,
		Timeouts: monitor.Timeouts{
			AdvisoryExpiry:  time.Duration(cfg.Engine.AdvisoryExpirySec) * time.Second,
			WarningExpiry:   time.Duration(cfg.Engine.WarningExpirySec) * time.Second,
			CriticalOverdue: time.Duration(cfg.Engine.CriticalOverdueSec) * time.Second,
		},
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 连接 Redis（样本流 + 快照缓存）
	redisClient := redisx.NewClient(&cfg.Redis)
	if err := redisx.Ping(ctx, redisClient); err != nil {
		log.Fatal("Failed to ping redis", zap.Error(err))
	}
	defer redisClient.Close()

	// 6. 审计库（可选）：订阅事件流异步落库
	if cfg.Database.Enabled {
		db, err := sql.Open("postgres", buildDSN(cfg))
		if err != nil {
			log.Fatal("Failed to open database", zap.Error(err))
		}
		if err := db.Ping(); err != nil {
			log.Fatal("Failed to ping database", zap.Error(err))
		}
		defer db.Close()

		eventsRepo := repository.NewAlarmEventsRepository(db, log)
		recorder := persistence.NewRecorder(eventsRepo, cfg.Engine.EventBuffer, log)
		engine.Subscribe(recorder.OnEvent)
		go func() {
			if err := recorder.Start(ctx); err != nil {
				log.Error("Recorder error", zap.Error(err))
			}
		}()

		// HTTP 层顺带暴露审计查询
		startHTTP(ctx, cfg, engine, eventsRepo, log)
	} else {
		startHTTP(ctx, cfg, engine, nil, log)
	}

	// 7. 样本馈送：Redis Streams 消费者
	streamConsumer := consumer.NewStreamConsumer(cfg, redisClient, engine, log)
	go func() {
		if err := streamConsumer.Start(ctx); err != nil {
			log.Error("Stream consumer error", zap.Error(err))
		}
	}()

	// 8. 样本馈送：MQTT 床旁设备通道（可选）
	if cfg.MQTT.Enabled {
		mqttClient, err := mqttx.NewClient(&cfg.MQTT)
		if err != nil {
			log.Fatal("Failed to connect MQTT broker", zap.Error(err))
		}
		defer mqttClient.Close()

		mqttConsumer := consumer.NewMQTTConsumer(cfg, mqttClient, engine, log)
		go func() {
			if err := mqttConsumer.Start(ctx); err != nil {
				log.Error("MQTT consumer error", zap.Error(err))
			}
		}()
	}

	// 9. CNS 快照缓存写入器
	snapshotWriter := cache.NewSnapshotWriter(cfg, cache.NewRedisKVStore(redisClient), engine, log)
	go func() {
		if err := snapshotWriter.Start(ctx); err != nil {
			log.Error("Snapshot writer error", zap.Error(err))
		}
	}()

	// 10. 启动引擎（过期扫描循环）
	engineErrChan := make(chan error, 1)
	go func() {
		if err := engine.Start(ctx); err != nil {
			engineErrChan <- err
		}
	}()

	// 11. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
		cancel()
	case err := <-engineErrChan:
		log.Fatal("Engine error", zap.Error(err))
	}

	log.Info("CNS service stopped")
}

// startHTTP 启动 HTTP 服务
func startHTTP(ctx context.Context, cfg *config.Config, engine *service.Engine, eventsRepo *repository.AlarmEventsRepository, log *zap.Logger) {
	handler := httpapi.NewHandler(engine, eventsRepo, log)
	router := httpapi.NewRouter(handler)
	go func() {
		if err := httpapi.Serve(ctx, cfg.HTTP.Addr, router, log); err != nil {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// buildDSN 构建数据库连接字符串
func buildDSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Database,
		cfg.Database.SSLMode,
	)
}
