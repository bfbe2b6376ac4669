package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"skanray-cns/internal/config"
	"skanray-cns/internal/models"
	"skanray-cns/internal/redisx"
)

// SampleSink 样本接收端（由监护引擎实现）
type SampleSink interface {
	RegisterBed(bedID, patientID, bedClass string) error
	PushSample(bedID string, sample *models.VitalSample) error
}

// StreamConsumer 同步馈送消费者：从 Redis Streams 读取生命体征消息推入引擎
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	sink        SampleSink
	logger      *zap.Logger
}

// NewStreamConsumer 创建馈送消费者
func NewStreamConsumer(cfg *config.Config, redisClient *redis.Client, sink SampleSink, logger *zap.Logger) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		sink:        sink,
		logger:      logger,
	}
}

// Start 启动消费循环（带指数退避，阻塞直到 ctx 取消）
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := redisx.CreateConsumerGroup(ctx, c.redisClient, c.config.Feed.Stream, c.config.Feed.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Feed stream consumer started",
		zap.String("stream", c.config.Feed.Stream),
		zap.String("consumer_group", c.config.Feed.ConsumerGroup),
		zap.String("consumer_name", c.config.Feed.ConsumerName),
	)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Feed stream consumer stopped")
			return nil
		default:
			if err := c.consumeBatch(ctx); err != nil {
				c.logger.Error("Failed to consume feed batch",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// consumeBatch 读取并处理一批消息
func (c *StreamConsumer) consumeBatch(ctx context.Context) error {
	messages, err := redisx.ReadGroup(
		ctx,
		c.redisClient,
		c.config.Feed.Stream,
		c.config.Feed.ConsumerGroup,
		c.config.Feed.ConsumerName,
		c.config.Feed.BatchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		if err := c.processMessage(msg); err != nil {
			c.logger.Error("Failed to process feed message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			// 继续处理下一条消息，不中断
		}
		// 校验失败的样本也确认：引擎不自动重试被拒绝的样本
		if err := redisx.Ack(ctx, c.redisClient, c.config.Feed.Stream, c.config.Feed.ConsumerGroup, msg.ID); err != nil {
			c.logger.Warn("Failed to ack message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// processMessage 解析单条消息并推入引擎
func (c *StreamConsumer) processMessage(msg redisx.StreamMessage) error {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("message has no data field")
	}

	var feedMsg FeedMessage
	if err := json.Unmarshal([]byte(data), &feedMsg); err != nil {
		return fmt.Errorf("failed to unmarshal feed message: %w", err)
	}
	if feedMsg.BedID == "" {
		return fmt.Errorf("feed message has no bed_id")
	}

	sample := feedMsg.ToSample()

	err := c.sink.PushSample(feedMsg.BedID, sample)
	if errors.Is(err, models.ErrBedNotFound) {
		// 首个样本即入院：注册床位后重推
		if regErr := c.sink.RegisterBed(feedMsg.BedID, feedMsg.PatientID, ""); regErr != nil {
			return fmt.Errorf("failed to register bed: %w", regErr)
		}
		err = c.sink.PushSample(feedMsg.BedID, sample)
	}
	if err != nil {
		return fmt.Errorf("failed to push sample: %w", err)
	}
	return nil
}
