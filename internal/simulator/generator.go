package simulator

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"skanray-cns/internal/consumer"
)

// vitalSpec 单通道模拟参数（正常范围 + 异常漂移幅度）
type vitalSpec struct {
	code      string
	units     string
	min, max  float64
	excursion float64 // 异常时越过边界的最大幅度
}

var vitalSpecs = []vitalSpec{
	{code: "8867-4", units: "bpm", min: 60, max: 100, excursion: 45},
	{code: "85354-9", units: "mmHg", min: 90, max: 140, excursion: 50},
	{code: "59408-5", units: "%", min: 95, max: 100, excursion: 10},
	{code: "9279-1", units: "/min", min: 12, max: 20, excursion: 12},
	{code: "8310-5", units: "Cel", min: 36.5, max: 37.5, excursion: 2.5},
}

// Generator 生命体征模拟器（ORU^R01 风格消息源，用于演示和联调）
type Generator struct {
	rng *rand.Rand

	// AbnormalRate 单通道单次采样产生异常读数的概率（0-1）
	AbnormalRate float64
}

// NewGenerator 创建模拟器
func NewGenerator(seed int64, abnormalRate float64) *Generator {
	return &Generator{
		rng:          rand.New(rand.NewSource(seed)),
		AbnormalRate: abnormalRate,
	}
}

// Next 为一张床生成一条馈送消息
func (g *Generator) Next(bedID, patientID string, at time.Time) *consumer.FeedMessage {
	msg := &consumer.FeedMessage{
		MessageID: fmt.Sprintf("MSG%s", uuid.New().String()[:8]),
		BedID:     bedID,
		PatientID: patientID,
		Timestamp: at,
	}
	for _, spec := range vitalSpecs {
		msg.Observations = append(msg.Observations, consumer.FeedObservation{
			Code:  spec.code,
			Value: g.value(spec),
			Units: spec.units,
		})
	}
	return msg
}

// value 采样一个读数：大概率正常范围内均匀分布，小概率越界
func (g *Generator) value(spec vitalSpec) float64 {
	if g.rng.Float64() < g.AbnormalRate {
		delta := g.rng.Float64() * spec.excursion
		if g.rng.Intn(2) == 0 && spec.min-delta > 0 {
			return round1(spec.min - delta)
		}
		return round1(spec.max + delta)
	}
	return round1(spec.min + g.rng.Float64()*(spec.max-spec.min))
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
