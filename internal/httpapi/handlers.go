package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"skanray-cns/internal/models"
	"skanray-cns/internal/repository"
)

// EngineAPI 监护引擎对 HTTP 层暴露的操作
type EngineAPI interface {
	RegisterBed(bedID, patientID, bedClass string) error
	PushSample(bedID string, sample *models.VitalSample) error
	Acknowledge(alarmID, userID string, at time.Time) (*models.Alarm, error)
	RetireBed(bedID string) error
	ResetBed(bedID string) error
	Snapshot() []models.BedState
	Diagnostics() []models.PolicyGap
}

// Handler CNS HTTP Handler
// 鉴权是外部信任边界：X-User-Id 视为已由上游网关校验
type Handler struct {
	engine EngineAPI
	events *repository.AlarmEventsRepository // 可为 nil（未启用审计库时）
	logger *zap.Logger
}

// NewHandler 创建 Handler
func NewHandler(engine EngineAPI, events *repository.AlarmEventsRepository, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, events: events, logger: logger}
}

// NewRouter 注册路由（标准库 http.ServeMux，不引入第三方路由依赖）
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/cns/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetSnapshot(w, r)
	})

	mux.HandleFunc("/api/v1/cns/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetDiagnostics(w, r)
	})

	// /api/v1/beds/{id}/samples|register|retire|reset|events
	mux.HandleFunc("/api/v1/beds/", h.serveBeds)

	// /api/v1/alarms/{id}/acknowledge
	mux.HandleFunc("/api/v1/alarms/", h.serveAlarms)

	return mux
}

// serveBeds 床位路由分发
func (h *Handler) serveBeds(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/beds/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	bedID, action := parts[0], parts[1]

	switch {
	case action == "samples" && r.Method == http.MethodPost:
		h.PushSample(w, r, bedID)
	case action == "register" && r.Method == http.MethodPost:
		h.RegisterBed(w, r, bedID)
	case action == "retire" && r.Method == http.MethodPost:
		h.RetireBed(w, r, bedID)
	case action == "reset" && r.Method == http.MethodPost:
		h.ResetBed(w, r, bedID)
	case action == "events" && r.Method == http.MethodGet:
		h.ListBedEvents(w, r, bedID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// serveAlarms 报警路由分发
func (h *Handler) serveAlarms(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/alarms/")
	if strings.HasSuffix(rest, "/acknowledge") && r.Method == http.MethodPost {
		alarmID := strings.TrimSuffix(rest, "/acknowledge")
		if alarmID != "" && !strings.Contains(alarmID, "/") {
			h.AcknowledgeAlarm(w, r, alarmID)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

// GetSnapshot 返回 CNS 全局视图（排序见聚合中心）
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.engine.Snapshot()))
}

// GetDiagnostics 返回策略缺口诊断
func (h *Handler) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.engine.Diagnostics()))
}

// PushSample 推入单个生命体征样本
func (h *Handler) PushSample(w http.ResponseWriter, r *http.Request, bedID string) {
	var sample models.VitalSample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid sample payload"))
		return
	}
	if sample.BedID == "" {
		sample.BedID = bedID
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	if err := h.engine.PushSample(bedID, &sample); err != nil {
		switch {
		case errors.Is(err, models.ErrBedNotFound):
			writeJSON(w, http.StatusNotFound, Fail(err.Error()))
		case errors.Is(err, models.ErrMismatchedBed):
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		default:
			writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		}
		return
	}
	writeJSON(w, http.StatusAccepted, Ok("queued"))
}

type registerBedRequest struct {
	PatientID string `json:"patient_id"`
	BedClass  string `json:"bed_class"`
}

// RegisterBed 注册床位
func (h *Handler) RegisterBed(w http.ResponseWriter, r *http.Request, bedID string) {
	var req registerBedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid register payload"))
		return
	}
	if err := h.engine.RegisterBed(bedID, req.PatientID, req.BedClass); err != nil {
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok("registered"))
}

// RetireBed 床位出院
func (h *Handler) RetireBed(w http.ResponseWriter, r *http.Request, bedID string) {
	if err := h.engine.RetireBed(bedID); err != nil {
		if errors.Is(err, models.ErrBedNotFound) {
			writeJSON(w, http.StatusNotFound, Fail(err.Error()))
			return
		}
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok("retired"))
}

// ResetBed 床位重置
func (h *Handler) ResetBed(w http.ResponseWriter, r *http.Request, bedID string) {
	if err := h.engine.ResetBed(bedID); err != nil {
		if errors.Is(err, models.ErrBedNotFound) {
			writeJSON(w, http.StatusNotFound, Fail(err.Error()))
			return
		}
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok("reset"))
}

// AcknowledgeAlarm 确认报警
func (h *Handler) AcknowledgeAlarm(w http.ResponseWriter, r *http.Request, alarmID string) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("user ID is required"))
		return
	}

	alarm, err := h.engine.Acknowledge(alarmID, userID, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, models.ErrAlarmNotFound):
			writeJSON(w, http.StatusNotFound, Fail(err.Error()))
		case errors.Is(err, models.ErrAlarmTerminal):
			writeJSON(w, http.StatusConflict, Fail(err.Error()))
		default:
			writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		}
		return
	}
	writeJSON(w, http.StatusOK, Ok(alarm))
}

// ListBedEvents 查询单床报警事件审计记录
func (h *Handler) ListBedEvents(w http.ResponseWriter, r *http.Request, bedID string) {
	if h.events == nil {
		writeJSON(w, http.StatusOK, Fail("audit store is not enabled"))
		return
	}

	limit := parseInt(r.URL.Query().Get("limit"), 100)
	records, err := h.events.ListAlarmEvents(r.Context(), bedID, limit)
	if err != nil {
		h.logger.Error("Failed to list alarm events",
			zap.String("bed_id", bedID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to query alarm events"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(records))
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// Serve 启动 HTTP 服务（阻塞直到 ctx 取消，带优雅关闭）
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
