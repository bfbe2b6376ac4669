package consumer

import (
	"time"

	"skanray-cns/internal/models"
)

// FeedObservation 设备观测值（observation_id 为 LOINC 编码）
type FeedObservation struct {
	Code  string  `json:"observation_id"`
	Value float64 `json:"value"`
	Units string  `json:"units,omitempty"`
}

// FeedMessage 同步馈送的生命体征消息（简化的 HL7 ORU^R01 结构）
type FeedMessage struct {
	MessageID    string            `json:"message_control_id"`
	BedID        string            `json:"bed_id"`
	PatientID    string            `json:"patient_id"`
	Timestamp    time.Time         `json:"timestamp"`
	Observations []FeedObservation `json:"observations"`
}

// LOINC 编码 → 通道名
var loincChannels = map[string]string{
	"8867-4":  models.ChannelHeartRate,
	"85354-9": models.ChannelBloodPressure,
	"59408-5": models.ChannelSpO2,
	"9279-1":  models.ChannelRespirationRate,
	"8310-5":  models.ChannelTemperature,
}

// ChannelForCode 返回 LOINC 编码对应的通道名
// 未知编码按原样作为通道名传入引擎（由策略缺口诊断兜底，而不是静默丢弃）
func ChannelForCode(code string) string {
	if channel, ok := loincChannels[code]; ok {
		return channel
	}
	return code
}

// ToSample 转换为引擎样本（观测顺序保持消息内声明顺序）
func (m *FeedMessage) ToSample() *models.VitalSample {
	sample := &models.VitalSample{
		BedID:     m.BedID,
		PatientID: m.PatientID,
		Timestamp: m.Timestamp,
	}
	for _, obs := range m.Observations {
		sample.Channels = append(sample.Channels, models.ChannelValue{
			Channel: ChannelForCode(obs.Code),
			Value:   obs.Value,
		})
	}
	return sample
}
