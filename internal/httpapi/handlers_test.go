package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skanray-cns/internal/models"
)

// fakeEngine EngineAPI 测试替身
type fakeEngine struct {
	registered map[string]bool
	samples    []*models.VitalSample
	pushErr    error
	ackErr     error
	ackedBy    string
	snapshot   []models.BedState
	diags      []models.PolicyGap
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{registered: make(map[string]bool)}
}

func (f *fakeEngine) RegisterBed(bedID, patientID, bedClass string) error {
	f.registered[bedID] = true
	return nil
}

func (f *fakeEngine) PushSample(bedID string, sample *models.VitalSample) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.samples = append(f.samples, sample)
	return nil
}

func (f *fakeEngine) Acknowledge(alarmID, userID string, at time.Time) (*models.Alarm, error) {
	if f.ackErr != nil {
		return nil, f.ackErr
	}
	f.ackedBy = userID
	return &models.Alarm{ID: alarmID, State: models.AlarmAcknowledged}, nil
}

func (f *fakeEngine) RetireBed(bedID string) error {
	if !f.registered[bedID] {
		return models.ErrBedNotFound
	}
	delete(f.registered, bedID)
	return nil
}

func (f *fakeEngine) ResetBed(bedID string) error {
	if !f.registered[bedID] {
		return models.ErrBedNotFound
	}
	return nil
}

func (f *fakeEngine) Snapshot() []models.BedState    { return f.snapshot }
func (f *fakeEngine) Diagnostics() []models.PolicyGap { return f.diags }

func setupRouter(engine *fakeEngine) http.Handler {
	h := NewHandler(engine, nil, zap.NewNop())
	return NewRouter(h)
}

func decodeResult(t *testing.T, body *bytes.Buffer) map[string]interface{} {
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(body.Bytes(), &out))
	return out
}

// ============================================
// 快照与诊断接口测试
// ============================================

func TestGetSnapshot(t *testing.T) {
	engine := newFakeEngine()
	engine.snapshot = []models.BedState{{BedID: "B1"}, {BedID: "B2"}}
	router := setupRouter(engine)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cns/snapshot", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	out := decodeResult(t, rec.Body)
	assert.Equal(t, float64(2000), out["code"])
	assert.Len(t, out["result"], 2)
}

func TestGetSnapshot_MethodNotAllowed(t *testing.T) {
	router := setupRouter(newFakeEngine())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cns/snapshot", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetDiagnostics(t *testing.T) {
	engine := newFakeEngine()
	engine.diags = []models.PolicyGap{{BedID: "B1", Channel: "etco2", Count: 3}}
	router := setupRouter(engine)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cns/diagnostics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	out := decodeResult(t, rec.Body)
	assert.Equal(t, "success", out["type"])
}

// ============================================
// 床位接口测试
// ============================================

func TestPushSample(t *testing.T) {
	engine := newFakeEngine()
	router := setupRouter(engine)

	body := `{"bed_id":"B1","timestamp":"2026-03-01T08:00:00Z","channels":[{"channel":"heart_rate","value":110}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/beds/B1/samples", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, engine.samples, 1)
	assert.Equal(t, "B1", engine.samples[0].BedID)
	assert.Equal(t, 110.0, engine.samples[0].Channels[0].Value)
}

func TestPushSample_BedIDDefaultsFromPath(t *testing.T) {
	engine := newFakeEngine()
	router := setupRouter(engine)

	body := `{"channels":[{"channel":"heart_rate","value":80}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/beds/B5/samples", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, engine.samples, 1)
	assert.Equal(t, "B5", engine.samples[0].BedID)
	assert.False(t, engine.samples[0].Timestamp.IsZero())
}

func TestPushSample_BedNotFound(t *testing.T) {
	engine := newFakeEngine()
	engine.pushErr = models.ErrBedNotFound
	router := setupRouter(engine)

	body := `{"channels":[{"channel":"heart_rate","value":80}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/beds/B9/samples", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPushSample_MismatchedBed(t *testing.T) {
	engine := newFakeEngine()
	engine.pushErr = models.ErrMismatchedBed
	router := setupRouter(engine)

	body := `{"bed_id":"B2","channels":[{"channel":"heart_rate","value":80}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/beds/B1/samples", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPushSample_InvalidPayload(t *testing.T) {
	router := setupRouter(newFakeEngine())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/beds/B1/samples", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterAndRetireBed(t *testing.T) {
	engine := newFakeEngine()
	router := setupRouter(engine)

	body := `{"patient_id":"P-1001","bed_class":"icu"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/beds/B1/register", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, engine.registered["B1"])

	req = httptest.NewRequest(http.MethodPost, "/api/v1/beds/B1/retire", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, engine.registered["B1"])

	// 重复出院 → 404
	req = httptest.NewRequest(http.MethodPost, "/api/v1/beds/B1/retire", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBedRoutes_UnknownAction(t *testing.T) {
	router := setupRouter(newFakeEngine())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/beds/B1/unknown", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================
// 报警确认接口测试
// ============================================

func TestAcknowledgeAlarm(t *testing.T) {
	engine := newFakeEngine()
	router := setupRouter(engine)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alarms/alarm-123/acknowledge", nil)
	req.Header.Set("X-User-Id", "nurse-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nurse-1", engine.ackedBy)
}

func TestAcknowledgeAlarm_MissingUser(t *testing.T) {
	router := setupRouter(newFakeEngine())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alarms/alarm-123/acknowledge", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAcknowledgeAlarm_NotFound(t *testing.T) {
	engine := newFakeEngine()
	engine.ackErr = models.ErrAlarmNotFound
	router := setupRouter(engine)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alarms/no-such/acknowledge", nil)
	req.Header.Set("X-User-Id", "nurse-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAcknowledgeAlarm_Terminal(t *testing.T) {
	engine := newFakeEngine()
	engine.ackErr = models.ErrAlarmTerminal
	router := setupRouter(engine)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alarms/alarm-123/acknowledge", nil)
	req.Header.Set("X-User-Id", "nurse-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}
