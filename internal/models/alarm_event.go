package models

import "time"

// AlarmEventType 报警事件类型
type AlarmEventType string

const (
	EventAlarmRaised       AlarmEventType = "alarm_raised"
	EventAlarmEscalated    AlarmEventType = "alarm_escalated"
	EventAlarmDowngraded   AlarmEventType = "alarm_downgraded"
	EventAlarmCleared      AlarmEventType = "alarm_cleared"
	EventAlarmExpired      AlarmEventType = "alarm_expired"
	EventAlarmOverdue      AlarmEventType = "alarm_overdue"
	EventAlarmAcknowledged AlarmEventType = "alarm_acknowledged"
)

// AlarmEvent 报警事件（床位监护器产生，聚合中心折叠并分发给订阅者）
type AlarmEvent struct {
	Type  AlarmEventType `json:"type"`
	BedID string         `json:"bed_id"`
	Alarm *Alarm         `json:"alarm"` // 事件发生时刻的报警快照
	At    time.Time      `json:"at"`
}

// PolicyGap 策略缺口诊断（样本中出现了没有阈值规则的通道）
// 不是错误：通过聚合中心的诊断通道上报，提醒运维有未监控的通道
type PolicyGap struct {
	BedID   string    `json:"bed_id"`
	Channel string    `json:"channel"`
	FirstAt time.Time `json:"first_at"`
	Count   int       `json:"count"`
}
