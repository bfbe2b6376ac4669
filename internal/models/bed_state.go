package models

import "time"

// BedState 床位状态快照
// 不变量：每个通道同时最多一个 active/acknowledged 报警；
// 通道值在正常范围内时该通道没有活跃报警
type BedState struct {
	BedID        string       `json:"bed_id"`
	PatientID    string       `json:"patient_id"`
	LatestSample *VitalSample `json:"latest_sample,omitempty"`

	// ActiveAlarms 按通道索引的活跃报警副本（active/acknowledged）
	ActiveAlarms map[string]*Alarm `json:"active_alarms,omitempty"`

	// History 有界滚动历史（最近 N 个样本，用于趋势显示）
	History []VitalSample `json:"history,omitempty"`

	LastSeenAt time.Time `json:"last_seen_at"`

	// Stale 床位静默标记（LastSeenAt 超过静默阈值；由聚合中心在快照时计算）
	// 与报警严格区分：传感器断连不等于病人正常
	Stale bool `json:"stale,omitempty"`
}

// HighestSeverity 当前最高活跃报警级别（无报警时为 NORMAL）
func (b *BedState) HighestSeverity() Severity {
	highest := SeverityNormal
	for _, a := range b.ActiveAlarms {
		if a.Severity > highest {
			highest = a.Severity
		}
	}
	return highest
}
