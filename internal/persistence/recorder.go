package persistence

import (
	"context"

	"go.uber.org/zap"

	"skanray-cns/internal/models"
	"skanray-cns/internal/repository"
)

// Recorder 报警事件落库器：订阅引擎事件流，异步写入 PostgreSQL 审计表
// 落库解耦在有界队列之后：写库失败或变慢都不会阻塞或污染引擎的内存报警状态
// （临床实时视图的正确性优先于审计持久化）
type Recorder struct {
	repo   *repository.AlarmEventsRepository
	queue  chan models.AlarmEvent
	logger *zap.Logger
}

// NewRecorder 创建落库器
func NewRecorder(repo *repository.AlarmEventsRepository, queueSize int, logger *zap.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 512
	}
	return &Recorder{
		repo:   repo,
		queue:  make(chan models.AlarmEvent, queueSize),
		logger: logger,
	}
}

// OnEvent 事件回调（注册为引擎订阅者）
// 非阻塞入队：队列满时丢最旧事件并告警（回放缓冲 + 审计表的 at-least-once 语义允许）
func (r *Recorder) OnEvent(ev models.AlarmEvent) {
	select {
	case r.queue <- ev:
		return
	default:
	}

	select {
	case dropped := <-r.queue:
		r.logger.Warn("Persistence queue full, dropped oldest event",
			zap.String("event_type", string(dropped.Type)),
			zap.String("bed_id", dropped.BedID),
		)
	default:
	}
	select {
	case r.queue <- ev:
	default:
	}
}

// Start 启动落库循环（阻塞直到 ctx 取消）
func (r *Recorder) Start(ctx context.Context) error {
	r.logger.Info("Alarm event recorder started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Alarm event recorder stopped")
			return nil
		case ev := <-r.queue:
			if err := r.repo.CreateAlarmEvent(ctx, &ev); err != nil {
				// 写失败只记日志，继续处理后续事件
				r.logger.Error("Failed to persist alarm event",
					zap.String("event_type", string(ev.Type)),
					zap.String("bed_id", ev.BedID),
					zap.Error(err),
				)
			}
		}
	}
}
