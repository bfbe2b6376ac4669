package models

import "time"

// 通道名称（与原始设备数据对齐）
const (
	ChannelHeartRate       = "heart_rate"       // 心率 (bpm)
	ChannelBloodPressure   = "blood_pressure"   // 血压 (mmHg)
	ChannelSpO2            = "spo2"             // 血氧 (%)
	ChannelRespirationRate = "respiration_rate" // 呼吸频率 (次/分钟)
	ChannelTemperature     = "temperature"      // 体温 (°C)
)

// ChannelValue 单个通道的测量值
// 通道在样本中按声明顺序排列（评估顺序依赖声明顺序，保证确定性）
type ChannelValue struct {
	Channel string  `json:"channel"`
	Value   float64 `json:"value"`
}

// VitalSample 生命体征样本（一张床、一个时间戳、一组通道测量值）
// 创建后不可变；每个样本只被所属床位消费一次
type VitalSample struct {
	BedID     string         `json:"bed_id"`
	PatientID string         `json:"patient_id"`
	Timestamp time.Time      `json:"timestamp"`
	Channels  []ChannelValue `json:"channels"`
}

// Get 按通道名取测量值
func (s *VitalSample) Get(channel string) (float64, bool) {
	for _, cv := range s.Channels {
		if cv.Channel == channel {
			return cv.Value, true
		}
	}
	return 0, false
}
