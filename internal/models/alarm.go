package models

import "time"

// AlarmState 报警状态
// 终态：CLEARED、EXPIRED（历史记录，之后不可变）
type AlarmState string

const (
	AlarmActive       AlarmState = "active"
	AlarmAcknowledged AlarmState = "acknowledged"
	AlarmCleared      AlarmState = "cleared"
	AlarmExpired      AlarmState = "expired"
)

// Terminal 是否为终态
func (s AlarmState) Terminal() bool {
	return s == AlarmCleared || s == AlarmExpired
}

// Alarm 报警（由所属床位监护器独占持有；聚合中心只持有只读副本）
type Alarm struct {
	ID             string     `json:"id"`
	BedID          string     `json:"bed_id"`
	Channel        string     `json:"channel"`
	Severity       Severity   `json:"severity"`
	State          AlarmState `json:"state"`
	Value          float64    `json:"value"` // 触发当前级别的测量值
	RaisedAt       time.Time  `json:"raised_at"`
	LastUpdatedAt  time.Time  `json:"last_updated_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty"`

	// Overdue CRITICAL 报警超过确认宽限期后置位（提升显示优先级，CRITICAL 永不超时自清）
	Overdue bool `json:"overdue,omitempty"`
}

// Clone 返回报警副本（传给聚合中心和订阅者，原件不外泄）
func (a *Alarm) Clone() *Alarm {
	cp := *a
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		cp.AcknowledgedAt = &t
	}
	if a.AcknowledgedBy != nil {
		u := *a.AcknowledgedBy
		cp.AcknowledgedBy = &u
	}
	return &cp
}
