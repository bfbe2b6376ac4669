package consumer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skanray-cns/internal/config"
	"skanray-cns/internal/models"
	"skanray-cns/internal/redisx"
)

// fakeSink 记录推入的样本和注册的床位
type fakeSink struct {
	registered map[string]bool
	samples    []*models.VitalSample
	pushErr    error
}

func newFakeSink() *fakeSink {
	return &fakeSink{registered: make(map[string]bool)}
}

func (f *fakeSink) RegisterBed(bedID, patientID, bedClass string) error {
	f.registered[bedID] = true
	return nil
}

func (f *fakeSink) PushSample(bedID string, sample *models.VitalSample) error {
	if !f.registered[bedID] {
		return models.ErrBedNotFound
	}
	if f.pushErr != nil {
		return f.pushErr
	}
	f.samples = append(f.samples, sample)
	return nil
}

func newTestConsumer(sink SampleSink) *StreamConsumer {
	cfg := &config.Config{}
	cfg.Feed.Stream = "vitals:stream"
	cfg.Feed.ConsumerGroup = "cns-engine-group"
	cfg.Feed.ConsumerName = "cns-engine-1"
	return NewStreamConsumer(cfg, nil, sink, zap.NewNop())
}

func feedMessageJSON(t *testing.T, bedID string, hr float64) string {
	msg := FeedMessage{
		MessageID: "MSG0001",
		BedID:     bedID,
		PatientID: "P-1001",
		Timestamp: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Observations: []FeedObservation{
			{Code: "8867-4", Value: hr, Units: "bpm"},
		},
	}
	data, err := json.Marshal(&msg)
	require.NoError(t, err)
	return string(data)
}

// ============================================
// 消息处理测试
// ============================================

func TestProcessMessage_PushesSample(t *testing.T) {
	sink := newFakeSink()
	sink.registered["B1"] = true
	c := newTestConsumer(sink)

	msg := redisx.StreamMessage{
		ID:     "1-0",
		Values: map[string]interface{}{"data": feedMessageJSON(t, "B1", 110)},
	}

	require.NoError(t, c.processMessage(msg))
	require.Len(t, sink.samples, 1)
	assert.Equal(t, "B1", sink.samples[0].BedID)
	assert.Equal(t, models.ChannelHeartRate, sink.samples[0].Channels[0].Channel)
	assert.Equal(t, 110.0, sink.samples[0].Channels[0].Value)
}

func TestProcessMessage_AutoRegistersUnknownBed(t *testing.T) {
	sink := newFakeSink()
	c := newTestConsumer(sink)

	msg := redisx.StreamMessage{
		ID:     "1-0",
		Values: map[string]interface{}{"data": feedMessageJSON(t, "B7", 72)},
	}

	// 首个样本即入院：注册后重推
	require.NoError(t, c.processMessage(msg))
	assert.True(t, sink.registered["B7"])
	require.Len(t, sink.samples, 1)
	assert.Equal(t, "B7", sink.samples[0].BedID)
}

func TestProcessMessage_MissingDataField(t *testing.T) {
	c := newTestConsumer(newFakeSink())

	msg := redisx.StreamMessage{ID: "1-0", Values: map[string]interface{}{}}

	err := c.processMessage(msg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no data field")
}

func TestProcessMessage_MalformedJSON(t *testing.T) {
	c := newTestConsumer(newFakeSink())

	msg := redisx.StreamMessage{
		ID:     "1-0",
		Values: map[string]interface{}{"data": "{not json"},
	}

	err := c.processMessage(msg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal")
}

func TestProcessMessage_MissingBedID(t *testing.T) {
	c := newTestConsumer(newFakeSink())

	msg := redisx.StreamMessage{
		ID:     "1-0",
		Values: map[string]interface{}{"data": `{"message_control_id":"MSG0001"}`},
	}

	err := c.processMessage(msg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no bed_id")
}

func TestProcessMessage_RejectedSampleReturnsError(t *testing.T) {
	sink := newFakeSink()
	sink.registered["B1"] = true
	sink.pushErr = models.ErrStaleSample
	c := newTestConsumer(sink)

	msg := redisx.StreamMessage{
		ID:     "1-0",
		Values: map[string]interface{}{"data": feedMessageJSON(t, "B1", 110)},
	}

	err := c.processMessage(msg)
	assert.ErrorIs(t, err, models.ErrStaleSample)
	assert.Empty(t, sink.samples)
}
