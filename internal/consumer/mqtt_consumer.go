package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"skanray-cns/internal/config"
	"skanray-cns/internal/models"
	"skanray-cns/internal/mqttx"
)

// MQTTConsumer 床旁设备直连通道：订阅设备遥测主题，解析后推入引擎
// 主题格式: devices/{bed_id}/vitals
type MQTTConsumer struct {
	config     *config.Config
	mqttClient *mqttx.Client
	sink       SampleSink
	logger     *zap.Logger
}

// NewMQTTConsumer 创建 MQTT 消费者
func NewMQTTConsumer(cfg *config.Config, mqttClient *mqttx.Client, sink SampleSink, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		config:     cfg,
		mqttClient: mqttClient,
		sink:       sink,
		logger:     logger,
	}
}

// Start 启动消费者（阻塞直到 ctx 取消）
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.mqttClient.Subscribe(c.config.MQTT.Topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to vitals topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.config.MQTT.Topic),
	)

	<-ctx.Done()

	if err := c.mqttClient.Unsubscribe(c.config.MQTT.Topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理单条设备消息
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	bedID := parts[1]

	var feedMsg FeedMessage
	if err := json.Unmarshal(payload, &feedMsg); err != nil {
		c.logger.Error("Failed to unmarshal device message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if feedMsg.BedID == "" {
		feedMsg.BedID = bedID
	}
	if feedMsg.BedID != bedID {
		// 主题与消息体不一致按校验错误丢弃
		c.logger.Warn("Topic bed does not match message bed",
			zap.String("topic_bed", bedID),
			zap.String("message_bed", feedMsg.BedID),
		)
		return models.ErrMismatchedBed
	}

	sample := feedMsg.ToSample()

	err := c.sink.PushSample(bedID, sample)
	if errors.Is(err, models.ErrBedNotFound) {
		if regErr := c.sink.RegisterBed(bedID, feedMsg.PatientID, ""); regErr != nil {
			return fmt.Errorf("failed to register bed: %w", regErr)
		}
		err = c.sink.PushSample(bedID, sample)
	}
	if err != nil {
		c.logger.Warn("Sample rejected",
			zap.String("bed_id", bedID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
