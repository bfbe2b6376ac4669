package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverity_Ordering(t *testing.T) {
	assert.True(t, SeverityNormal < SeverityAdvisory)
	assert.True(t, SeverityAdvisory < SeverityWarning)
	assert.True(t, SeverityWarning < SeverityCritical)
}

func TestSeverity_ParseRoundTrip(t *testing.T) {
	for _, sev := range []Severity{SeverityNormal, SeverityAdvisory, SeverityWarning, SeverityCritical} {
		parsed, err := ParseSeverity(sev.String())
		require.NoError(t, err)
		assert.Equal(t, sev, parsed)
	}

	_, err := ParseSeverity("FATAL")
	assert.Error(t, err)
}

func TestSeverity_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(SeverityCritical)
	require.NoError(t, err)
	assert.Equal(t, `"CRITICAL"`, string(data))
}

func TestAlarmState_Terminal(t *testing.T) {
	assert.False(t, AlarmActive.Terminal())
	assert.False(t, AlarmAcknowledged.Terminal())
	assert.True(t, AlarmCleared.Terminal())
	assert.True(t, AlarmExpired.Terminal())
}

func TestAlarm_Clone(t *testing.T) {
	now := time.Now()
	user := "nurse-1"
	a := &Alarm{
		ID: "alarm-1", BedID: "B1", Channel: ChannelHeartRate,
		Severity: SeverityWarning, State: AlarmAcknowledged,
		AcknowledgedAt: &now, AcknowledgedBy: &user,
	}

	cp := a.Clone()
	*cp.AcknowledgedBy = "nurse-2"
	cp.State = AlarmCleared

	// 深拷贝：指针字段互不影响
	assert.Equal(t, "nurse-1", *a.AcknowledgedBy)
	assert.Equal(t, AlarmAcknowledged, a.State)
}

func TestBedState_HighestSeverity(t *testing.T) {
	state := &BedState{}
	assert.Equal(t, SeverityNormal, state.HighestSeverity())

	state.ActiveAlarms = map[string]*Alarm{
		ChannelHeartRate: {Severity: SeverityWarning},
		ChannelSpO2:      {Severity: SeverityCritical},
	}
	assert.Equal(t, SeverityCritical, state.HighestSeverity())
}

func TestVitalSample_Get(t *testing.T) {
	s := &VitalSample{Channels: []ChannelValue{
		{Channel: ChannelHeartRate, Value: 72},
		{Channel: ChannelSpO2, Value: 97},
	}}

	v, ok := s.Get(ChannelSpO2)
	assert.True(t, ok)
	assert.Equal(t, 97.0, v)

	_, ok = s.Get(ChannelTemperature)
	assert.False(t, ok)
}
