package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"skanray-cns/internal/config"
	"skanray-cns/internal/models"
)

// SnapshotSource CNS 快照来源（由监护引擎实现）
type SnapshotSource interface {
	Snapshot() []models.BedState
}

// SnapshotWriter 周期性把 CNS 全局视图写入 Redis 缓存
// 仪表盘等外部消费者按自己的渲染节奏读取缓存，不直接打到引擎
type SnapshotWriter struct {
	config *config.Config
	kv     KVStore
	source SnapshotSource
	logger *zap.Logger
}

// NewSnapshotWriter 创建快照缓存写入器
func NewSnapshotWriter(cfg *config.Config, kv KVStore, source SnapshotSource, logger *zap.Logger) *SnapshotWriter {
	return &SnapshotWriter{
		config: cfg,
		kv:     kv,
		source: source,
		logger: logger,
	}
}

// Start 启动写入循环（阻塞直到 ctx 取消）
func (w *SnapshotWriter) Start(ctx context.Context) error {
	interval := time.Duration(w.config.Cache.IntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("Snapshot cache writer started",
		zap.String("snapshot_key", w.config.Cache.SnapshotKey),
		zap.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Snapshot cache writer stopped")
			return nil
		case <-ticker.C:
			if err := w.WriteOnce(ctx); err != nil {
				// 缓存写失败不影响引擎内存状态，下个周期重写
				w.logger.Error("Failed to write snapshot cache", zap.Error(err))
			}
		}
	}
}

// WriteOnce 写一轮快照：聚合键 + 每床单独键
func (w *SnapshotWriter) WriteOnce(ctx context.Context) error {
	states := w.source.Snapshot()
	ttl := time.Duration(w.config.Cache.TTLSec) * time.Second

	jsonData, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := w.kv.Set(ctx, w.config.Cache.SnapshotKey, string(jsonData), ttl); err != nil {
		return fmt.Errorf("failed to set snapshot cache: %w", err)
	}

	for i := range states {
		bedData, err := json.Marshal(&states[i])
		if err != nil {
			return fmt.Errorf("failed to marshal bed state: %w", err)
		}
		key := w.config.Cache.BedPrefix + states[i].BedID
		if err := w.kv.Set(ctx, key, string(bedData), ttl); err != nil {
			return fmt.Errorf("failed to set bed cache: %w", err)
		}
	}

	w.logger.Debug("Snapshot cache updated", zap.Int("bed_count", len(states)))
	return nil
}
