package monitor

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skanray-cns/internal/models"
	"skanray-cns/internal/policy"
)

// Timeouts 未确认报警的生命周期时长配置
type Timeouts struct {
	// AdvisoryExpiry / WarningExpiry 超过该时长未确认且无新突破 → EXPIRED
	AdvisoryExpiry time.Duration
	WarningExpiry  time.Duration
	// CriticalOverdue CRITICAL 超过该宽限期未确认 → 标记 Overdue 提升显示优先级
	// CRITICAL 永不超时自清
	CriticalOverdue time.Duration
}

// BedMonitor 床位监护器（每床一个，独占该床的最新样本、滚动历史和活跃报警集）
// 各床之间无共享可变状态，可完全并行
type BedMonitor struct {
	mu sync.Mutex

	bedID     string
	patientID string
	bedClass  string

	policy   *policy.PolicySet
	timeouts Timeouts

	latest  *models.VitalSample
	history []models.VitalSample
	histCap int

	// alarms 按通道索引的活跃报警（每通道最多一个 active/acknowledged）
	alarms map[string]*models.Alarm
	// byID 按 ID 索引（含有界终态历史，用于确认时区分 not-found 和 terminal）
	byID         map[string]*models.Alarm
	terminalIDs  []string
	terminalKeep int

	// lastBreach 每通道最近一次异常读数时间（含同级重复突破）
	// ADVISORY/WARNING 的自动过期以此计时：持续无新突破才过期
	lastBreach map[string]time.Time

	logger *zap.Logger
}

// NewBedMonitor 创建床位监护器
func NewBedMonitor(bedID, patientID, bedClass string, pol *policy.PolicySet, timeouts Timeouts, historySize int, logger *zap.Logger) *BedMonitor {
	if historySize <= 0 {
		historySize = 32
	}
	return &BedMonitor{
		bedID:        bedID,
		patientID:    patientID,
		bedClass:     bedClass,
		policy:       pol,
		timeouts:     timeouts,
		histCap:      historySize,
		alarms:       make(map[string]*models.Alarm),
		byID:         make(map[string]*models.Alarm),
		terminalKeep: 64,
		lastBreach:   make(map[string]time.Time),
		logger:       logger,
	}
}

// BedID 返回床位 ID
func (m *BedMonitor) BedID() string { return m.bedID }

// Ingest 摄入一个样本：逐通道评估阈值并推进报警状态机
// 返回更新后的床位快照、产生的事件（按通道声明顺序）以及无策略规则的通道（PolicyGap）
// 样本不属于本床 → ErrMismatchedBed；时间戳不晚于当前最新样本 → ErrStaleSample；
// 两种错误都不改变状态
func (m *BedMonitor) Ingest(sample *models.VitalSample) (*models.BedState, []models.AlarmEvent, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sample.BedID != m.bedID {
		return nil, nil, nil, models.ErrMismatchedBed
	}
	if m.latest != nil && !sample.Timestamp.After(m.latest.Timestamp) {
		return nil, nil, nil, models.ErrStaleSample
	}

	var events []models.AlarmEvent
	var gaps []string

	for _, cv := range sample.Channels {
		severity, known := m.policy.Classify(cv.Channel, cv.Value, m.patientID, m.bedClass)
		if !known {
			gaps = append(gaps, cv.Channel)
			continue
		}
		if ev := m.applyChannel(cv.Channel, cv.Value, severity, sample.Timestamp); ev != nil {
			events = append(events, *ev)
		}
	}

	m.latest = sample
	m.history = append(m.history, *sample)
	if len(m.history) > m.histCap {
		m.history = m.history[len(m.history)-m.histCap:]
	}

	return m.snapshotLocked(), events, gaps, nil
}

// applyChannel 单通道状态机转换（调用时已持锁）
func (m *BedMonitor) applyChannel(channel string, value float64, severity models.Severity, at time.Time) *models.AlarmEvent {
	current := m.alarms[channel]
	if severity != models.SeverityNormal {
		m.lastBreach[channel] = at
	}

	// NORMAL→NORMAL：无操作
	if current == nil && severity == models.SeverityNormal {
		return nil
	}

	// NORMAL→非NORMAL：创建报警
	if current == nil {
		alarm := &models.Alarm{
			ID:            uuid.New().String(),
			BedID:         m.bedID,
			Channel:       channel,
			Severity:      severity,
			State:         models.AlarmActive,
			Value:         value,
			RaisedAt:      at,
			LastUpdatedAt: at,
		}
		m.alarms[channel] = alarm
		m.byID[alarm.ID] = alarm
		m.logger.Info("Alarm raised",
			zap.String("bed_id", m.bedID),
			zap.String("channel", channel),
			zap.String("severity", severity.String()),
			zap.Float64("value", value),
		)
		return m.event(models.EventAlarmRaised, alarm, at)
	}

	switch {
	case severity == models.SeverityNormal:
		// 非NORMAL→NORMAL：清除（不论是否已确认，生理恢复优先于待确认状态）
		current.State = models.AlarmCleared
		current.Severity = models.SeverityNormal
		current.Value = value
		current.LastUpdatedAt = at
		m.retireLocked(channel, current)
		m.logger.Info("Alarm cleared",
			zap.String("bed_id", m.bedID),
			zap.String("channel", channel),
			zap.String("alarm_id", current.ID),
		)
		return m.event(models.EventAlarmCleared, current, at)

	case severity > current.Severity:
		// 升级：单调上升；已确认的报警恢复 ACTIVE（先前确认不压制更恶化的状况）
		current.Severity = severity
		current.Value = value
		current.LastUpdatedAt = at
		current.State = models.AlarmActive
		current.AcknowledgedAt = nil
		current.AcknowledgedBy = nil
		m.logger.Warn("Alarm escalated",
			zap.String("bed_id", m.bedID),
			zap.String("channel", channel),
			zap.String("severity", severity.String()),
			zap.Float64("value", value),
		)
		return m.event(models.EventAlarmEscalated, current, at)

	case severity < current.Severity:
		// 降级：级别原地下调，状态不变（仍需确认）
		current.Severity = severity
		current.Value = value
		current.LastUpdatedAt = at
		return m.event(models.EventAlarmDowngraded, current, at)

	default:
		// 同级重复突破：不产生事件（已确认的保持已确认）
		current.Value = value
		return nil
	}
}

// Acknowledge 确认报警：ACTIVE→ACKNOWLEDGED
// 重复确认已确认的报警幂等（返回当前状态，无事件、无错误）；
// 确认终态报警返回 ErrAlarmTerminal；未知 ID 返回 ErrAlarmNotFound
func (m *BedMonitor) Acknowledge(alarmID, byUser string, at time.Time) (*models.Alarm, *models.AlarmEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alarm, ok := m.byID[alarmID]
	if !ok {
		return nil, nil, models.ErrAlarmNotFound
	}
	if alarm.State.Terminal() {
		return nil, nil, models.ErrAlarmTerminal
	}
	if alarm.State == models.AlarmAcknowledged {
		return alarm.Clone(), nil, nil
	}

	alarm.State = models.AlarmAcknowledged
	alarm.AcknowledgedAt = &at
	alarm.AcknowledgedBy = &byUser
	alarm.LastUpdatedAt = at
	m.logger.Info("Alarm acknowledged",
		zap.String("bed_id", m.bedID),
		zap.String("alarm_id", alarmID),
		zap.String("by", byUser),
	)
	ev := m.event(models.EventAlarmAcknowledged, alarm, at)
	return alarm.Clone(), ev, nil
}

// SweepExpired 扫描未确认超时的报警
// ADVISORY/WARNING 超时 → EXPIRED；CRITICAL 超过宽限期 → 标记 Overdue（永不自清）
func (m *BedMonitor) SweepExpired(now time.Time) []models.AlarmEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []models.AlarmEvent
	for channel, alarm := range m.alarms {
		if alarm.State != models.AlarmActive {
			continue
		}

		// 过期计时从最近一次异常突破算起（有新突破就重置）
		idle := now.Sub(alarm.LastUpdatedAt)
		if breach, ok := m.lastBreach[channel]; ok && breach.After(alarm.LastUpdatedAt) {
			idle = now.Sub(breach)
		}

		switch alarm.Severity {
		case models.SeverityCritical:
			if !alarm.Overdue && m.timeouts.CriticalOverdue > 0 && now.Sub(alarm.LastUpdatedAt) >= m.timeouts.CriticalOverdue {
				alarm.Overdue = true
				m.logger.Warn("Critical alarm overdue",
					zap.String("bed_id", m.bedID),
					zap.String("alarm_id", alarm.ID),
					zap.Duration("unacknowledged_for", now.Sub(alarm.LastUpdatedAt)),
				)
				events = append(events, *m.event(models.EventAlarmOverdue, alarm, now))
			}
		case models.SeverityWarning:
			if m.timeouts.WarningExpiry > 0 && idle >= m.timeouts.WarningExpiry {
				alarm.State = models.AlarmExpired
				alarm.LastUpdatedAt = now
				m.retireLocked(channel, alarm)
				events = append(events, *m.event(models.EventAlarmExpired, alarm, now))
			}
		case models.SeverityAdvisory:
			if m.timeouts.AdvisoryExpiry > 0 && idle >= m.timeouts.AdvisoryExpiry {
				alarm.State = models.AlarmExpired
				alarm.LastUpdatedAt = now
				m.retireLocked(channel, alarm)
				events = append(events, *m.event(models.EventAlarmExpired, alarm, now))
			}
		}
	}
	return events
}

// Reset 床位出院重置：丢弃最新样本、历史和全部报警
func (m *BedMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latest = nil
	m.history = nil
	m.alarms = make(map[string]*models.Alarm)
	m.byID = make(map[string]*models.Alarm)
	m.terminalIDs = nil
	m.lastBreach = make(map[string]time.Time)
	m.logger.Info("Bed monitor reset", zap.String("bed_id", m.bedID))
}

// Snapshot 返回当前床位状态副本
func (m *BedMonitor) Snapshot() *models.BedState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// retireLocked 将报警移出活跃集并保留在有界终态历史中
func (m *BedMonitor) retireLocked(channel string, alarm *models.Alarm) {
	delete(m.alarms, channel)
	m.terminalIDs = append(m.terminalIDs, alarm.ID)
	for len(m.terminalIDs) > m.terminalKeep {
		delete(m.byID, m.terminalIDs[0])
		m.terminalIDs = m.terminalIDs[1:]
	}
}

func (m *BedMonitor) event(t models.AlarmEventType, alarm *models.Alarm, at time.Time) *models.AlarmEvent {
	return &models.AlarmEvent{Type: t, BedID: m.bedID, Alarm: alarm.Clone(), At: at}
}

func (m *BedMonitor) snapshotLocked() *models.BedState {
	state := &models.BedState{
		BedID:     m.bedID,
		PatientID: m.patientID,
	}
	if m.latest != nil {
		cp := *m.latest
		state.LatestSample = &cp
		state.LastSeenAt = m.latest.Timestamp
	}
	if len(m.alarms) > 0 {
		state.ActiveAlarms = make(map[string]*models.Alarm, len(m.alarms))
		for channel, alarm := range m.alarms {
			state.ActiveAlarms[channel] = alarm.Clone()
		}
	}
	if len(m.history) > 0 {
		state.History = append([]models.VitalSample(nil), m.history...)
	}
	return state
}
