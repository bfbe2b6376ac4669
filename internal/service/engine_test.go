package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skanray-cns/internal/models"
	"skanray-cns/internal/monitor"
	"skanray-cns/internal/policy"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func testEngine(t *testing.T) *Engine {
	set := &policy.PolicySet{
		Global: policy.RuleSet{
			models.ChannelHeartRate: {
				Channel: models.ChannelHeartRate,
				Tiers: []policy.Tier{
					{Severity: models.SeverityWarning, Ranges: []policy.Range{{Min: fp(100), Max: fp(120)}}},
					{Severity: models.SeverityCritical, Ranges: []policy.Range{{Min: fp(120)}}},
				},
			},
		},
		BedClass: map[string]policy.RuleSet{},
		Patient:  map[string]policy.RuleSet{},
	}
	require.NoError(t, set.Validate())

	opts := Options{
		QueueSize:   8,
		HistorySize: 8,
		StaleAfter:  30 * time.Second,
		EventBuffer: 32,
		Timeouts:    monitor.Timeouts{CriticalOverdue: 2 * time.Minute},
	}
	return NewEngine(set, opts, zap.NewNop())
}

func fp(v float64) *float64 { return &v }

func hrSample(bedID string, at time.Time, hr float64) *models.VitalSample {
	return &models.VitalSample{
		BedID:     bedID,
		PatientID: "P-1001",
		Timestamp: at,
		Channels:  []models.ChannelValue{{Channel: models.ChannelHeartRate, Value: hr}},
	}
}

func findBed(states []models.BedState, bedID string) *models.BedState {
	for i := range states {
		if states[i].BedID == bedID {
			return &states[i]
		}
	}
	return nil
}

// ============================================
// 样本流转测试
// ============================================

func TestEngine_PushSampleFlowsToSnapshot(t *testing.T) {
	e := testEngine(t)
	require.NoError(t, e.RegisterBed("B1", "P-1001", ""))

	require.NoError(t, e.PushSample("B1", hrSample("B1", t0, 130)))

	assert.Eventually(t, func() bool {
		bed := findBed(e.Snapshot(), "B1")
		return bed != nil && bed.HighestSeverity() == models.SeverityCritical
	}, time.Second, 10*time.Millisecond)
}

func TestEngine_PushSampleValidation(t *testing.T) {
	e := testEngine(t)
	require.NoError(t, e.RegisterBed("B1", "P-1001", ""))

	// bed_id 不符：同步拒绝
	err := e.PushSample("B1", hrSample("B2", t0, 80))
	assert.ErrorIs(t, err, models.ErrMismatchedBed)

	// 未注册床位
	err = e.PushSample("B9", hrSample("B9", t0, 80))
	assert.ErrorIs(t, err, models.ErrBedNotFound)
}

func TestEngine_RegisterIdempotent(t *testing.T) {
	e := testEngine(t)
	require.NoError(t, e.RegisterBed("B1", "P-1001", ""))
	require.NoError(t, e.RegisterBed("B1", "P-1001", ""))

	snap := e.Snapshot()
	assert.Len(t, snap, 1)
}

func TestEngine_RegisteredBedVisibleBeforeData(t *testing.T) {
	e := testEngine(t)
	require.NoError(t, e.RegisterBed("B1", "P-1001", ""))

	// 注册即出现在视图中（作为静默床处理）
	bed := findBed(e.Snapshot(), "B1")
	require.NotNil(t, bed)
	assert.Nil(t, bed.LatestSample)
	assert.True(t, bed.Stale)
}

// ============================================
// 确认路由测试
// ============================================

func TestEngine_AcknowledgeRoutesByAlarmID(t *testing.T) {
	e := testEngine(t)
	require.NoError(t, e.RegisterBed("B1", "P-1001", ""))
	require.NoError(t, e.PushSample("B1", hrSample("B1", t0, 130)))

	var alarmID string
	require.Eventually(t, func() bool {
		bed := findBed(e.Snapshot(), "B1")
		if bed == nil || len(bed.ActiveAlarms) == 0 {
			return false
		}
		alarmID = bed.ActiveAlarms[models.ChannelHeartRate].ID
		return true
	}, time.Second, 10*time.Millisecond)

	acked, err := e.Acknowledge(alarmID, "nurse-1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.AlarmAcknowledged, acked.State)

	// 确认结果折叠进全局视图
	assert.Eventually(t, func() bool {
		bed := findBed(e.Snapshot(), "B1")
		return bed != nil && bed.ActiveAlarms[models.ChannelHeartRate].State == models.AlarmAcknowledged
	}, time.Second, 10*time.Millisecond)
}

func TestEngine_AcknowledgeUnknownAlarm(t *testing.T) {
	e := testEngine(t)
	require.NoError(t, e.RegisterBed("B1", "P-1001", ""))

	_, err := e.Acknowledge("no-such-alarm", "nurse-1", t0)
	assert.ErrorIs(t, err, models.ErrAlarmNotFound)
}

// ============================================
// 床位生命周期测试
// ============================================

func TestEngine_RetireBed(t *testing.T) {
	e := testEngine(t)
	require.NoError(t, e.RegisterBed("B1", "P-1001", ""))
	require.NoError(t, e.RegisterBed("B2", "P-1002", ""))

	require.NoError(t, e.RetireBed("B1"))

	snap := e.Snapshot()
	assert.Nil(t, findBed(snap, "B1"))
	assert.NotNil(t, findBed(snap, "B2"))

	// 出院后推样本被拒绝
	err := e.PushSample("B1", hrSample("B1", t0, 80))
	assert.ErrorIs(t, err, models.ErrBedNotFound)

	// 重复出院
	assert.ErrorIs(t, e.RetireBed("B1"), models.ErrBedNotFound)
}

func TestEngine_ResetBed(t *testing.T) {
	e := testEngine(t)
	require.NoError(t, e.RegisterBed("B1", "P-1001", ""))
	require.NoError(t, e.PushSample("B1", hrSample("B1", t0, 130)))

	require.Eventually(t, func() bool {
		bed := findBed(e.Snapshot(), "B1")
		return bed != nil && len(bed.ActiveAlarms) > 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, e.ResetBed("B1"))

	bed := findBed(e.Snapshot(), "B1")
	require.NotNil(t, bed)
	assert.Empty(t, bed.ActiveAlarms)
	assert.Nil(t, bed.LatestSample)
}

// ============================================
// 事件订阅与诊断测试
// ============================================

func TestEngine_SubscribeReceivesAlarmEvents(t *testing.T) {
	e := testEngine(t)

	var mu sync.Mutex
	var got []models.AlarmEventType
	e.Subscribe(func(ev models.AlarmEvent) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})

	require.NoError(t, e.RegisterBed("B1", "P-1001", ""))
	require.NoError(t, e.PushSample("B1", hrSample("B1", t0, 110)))
	require.NoError(t, e.PushSample("B1", hrSample("B1", t0.Add(time.Minute), 130)))
	require.NoError(t, e.PushSample("B1", hrSample("B1", t0.Add(2*time.Minute), 80)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.AlarmEventType{
		models.EventAlarmRaised,
		models.EventAlarmEscalated,
		models.EventAlarmCleared,
	}, got)
}

func TestEngine_PolicyGapDiagnostics(t *testing.T) {
	e := testEngine(t)
	require.NoError(t, e.RegisterBed("B1", "P-1001", ""))

	sample := &models.VitalSample{
		BedID: "B1", PatientID: "P-1001", Timestamp: t0,
		Channels: []models.ChannelValue{{Channel: "etco2", Value: 40}},
	}
	require.NoError(t, e.PushSample("B1", sample))

	assert.Eventually(t, func() bool {
		diags := e.Diagnostics()
		return len(diags) == 1 && diags[0].Channel == "etco2" && diags[0].BedID == "B1"
	}, time.Second, 10*time.Millisecond)
}
