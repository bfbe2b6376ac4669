package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"skanray-cns/internal/hub"
	"skanray-cns/internal/models"
	"skanray-cns/internal/monitor"
	"skanray-cns/internal/policy"
)

// Options 引擎参数（均为数据，不硬编码：阈值、超时、队列大小见 §配置）
type Options struct {
	QueueSize     int              // 每床样本队列容量（满时丢最旧，最新读数永远更有临床价值）
	HistorySize   int              // 每床滚动历史样本数
	StaleAfter    time.Duration    // 床位静默阈值
	SweepInterval time.Duration    // 过期扫描周期
	EventBuffer   int              // 事件回放缓冲大小
	Timeouts      monitor.Timeouts // 未确认报警超时
}

// Engine 监护引擎：床位注册表 + 每床评估协程 + 聚合中心
// 每床一个逻辑评估任务，床位之间完全并行；聚合中心是唯一共享写资源
type Engine struct {
	mu   sync.RWMutex
	beds map[string]*bedWorker

	// alarmIndex alarmID→bedID 路由索引（确认请求按报警找床；有界 FIFO 修剪）
	alarmIndex map[string]string
	alarmOrder []string
	indexCap   int

	hub    *hub.Hub
	policy *policy.PolicySet
	opts   Options
	logger *zap.Logger

	wg sync.WaitGroup
}

type bedWorker struct {
	monitor *monitor.BedMonitor
	queue   chan *models.VitalSample
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEngine 创建监护引擎
func NewEngine(pol *policy.PolicySet, opts Options, logger *zap.Logger) *Engine {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	return &Engine{
		beds:       make(map[string]*bedWorker),
		alarmIndex: make(map[string]string),
		indexCap:   4096,
		hub:        hub.New(opts.StaleAfter, opts.EventBuffer, logger),
		policy:     pol,
		opts:       opts,
		logger:     logger,
	}
}

// Start 启动过期扫描循环（阻塞直到 ctx 取消）
func (e *Engine) Start(ctx context.Context) error {
	interval := e.opts.SweepInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Monitoring engine started",
		zap.Duration("sweep_interval", interval),
		zap.Duration("stale_after", e.opts.StaleAfter),
	)

	for {
		select {
		case <-ctx.Done():
			e.stopAllWorkers()
			e.logger.Info("Monitoring engine stopped")
			return nil
		case <-ticker.C:
			e.sweepExpired(time.Now())
		}
	}
}

// RegisterBed 注册床位并启动其评估协程
func (e *Engine) RegisterBed(bedID, patientID, bedClass string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.beds[bedID]; exists {
		return nil // 已注册，幂等
	}

	m := monitor.NewBedMonitor(bedID, patientID, bedClass, e.policy, e.opts.Timeouts, e.opts.HistorySize, e.logger)
	ctx, cancel := context.WithCancel(context.Background())
	w := &bedWorker{
		monitor: m,
		queue:   make(chan *models.VitalSample, e.opts.QueueSize),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	e.beds[bedID] = w

	// 空床条目立即进入聚合视图（注册但无数据的床按静默处理）
	e.hub.OnUpdate(m.Snapshot(), nil)

	e.wg.Add(1)
	go e.runWorker(ctx, w)

	e.logger.Info("Bed registered",
		zap.String("bed_id", bedID),
		zap.String("patient_id", patientID),
		zap.String("bed_class", bedClass),
	)
	return nil
}

// PushSample 推入样本：同步做归属校验，异步入队评估
// 队列满时丢弃最旧样本（最新生命体征永远比延迟的更有临床价值）
func (e *Engine) PushSample(bedID string, sample *models.VitalSample) error {
	if sample.BedID != bedID {
		return models.ErrMismatchedBed
	}

	e.mu.RLock()
	w, ok := e.beds[bedID]
	e.mu.RUnlock()
	if !ok {
		return models.ErrBedNotFound
	}

	select {
	case w.queue <- sample:
		return nil
	default:
	}

	// 队列满：丢最旧再入队
	select {
	case dropped := <-w.queue:
		e.logger.Warn("Sample queue full, dropped oldest",
			zap.String("bed_id", bedID),
			zap.Time("dropped_ts", dropped.Timestamp),
		)
	default:
	}
	select {
	case w.queue <- sample:
	default:
	}
	return nil
}

// Acknowledge 确认报警（调用方身份已由上游校验，引擎不做鉴权）
func (e *Engine) Acknowledge(alarmID, userID string, at time.Time) (*models.Alarm, error) {
	e.mu.RLock()
	bedID, ok := e.alarmIndex[alarmID]
	var w *bedWorker
	if ok {
		w = e.beds[bedID]
	}
	e.mu.RUnlock()

	if w == nil {
		return nil, models.ErrAlarmNotFound
	}

	alarm, ev, err := w.monitor.Acknowledge(alarmID, userID, at)
	if err != nil {
		return nil, err
	}
	if ev != nil {
		e.hub.OnUpdate(w.monitor.Snapshot(), []models.AlarmEvent{*ev})
	}
	return alarm, nil
}

// RetireBed 床位出院：停止评估协程、丢弃队列、从聚合视图原子移除
func (e *Engine) RetireBed(bedID string) error {
	e.mu.Lock()
	w, ok := e.beds[bedID]
	if ok {
		delete(e.beds, bedID)
	}
	e.mu.Unlock()
	if !ok {
		return models.ErrBedNotFound
	}

	w.cancel()
	<-w.done // 等待在途样本处理完，避免移除后又被折叠回视图
	e.hub.RemoveBed(bedID)

	e.logger.Info("Bed retired", zap.String("bed_id", bedID))
	return nil
}

// ResetBed 重置床位状态（换床不出院）
func (e *Engine) ResetBed(bedID string) error {
	e.mu.RLock()
	w, ok := e.beds[bedID]
	e.mu.RUnlock()
	if !ok {
		return models.ErrBedNotFound
	}
	w.monitor.Reset()
	e.hub.OnUpdate(w.monitor.Snapshot(), nil)
	return nil
}

// Snapshot 返回当前全局视图（排序规则见 hub）
func (e *Engine) Snapshot() []models.BedState {
	return e.hub.Snapshot(time.Now())
}

// Diagnostics 返回策略缺口诊断
func (e *Engine) Diagnostics() []models.PolicyGap {
	return e.hub.Diagnostics()
}

// Subscribe 订阅报警事件流（至少一次投递，先回放最近事件）
func (e *Engine) Subscribe(cb func(models.AlarmEvent)) func() {
	return e.hub.Subscribe(cb)
}

// runWorker 单床评估协程
func (e *Engine) runWorker(ctx context.Context, w *bedWorker) {
	defer e.wg.Done()
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case sample := <-w.queue:
			e.processSample(w, sample)
		}
	}
}

// processSample 评估单个样本并折叠进聚合视图
func (e *Engine) processSample(w *bedWorker, sample *models.VitalSample) {
	state, events, gaps, err := w.monitor.Ingest(sample)
	if err != nil {
		// 校验错误是局部的：样本被拒绝，状态不变，不重试
		e.logger.Warn("Sample rejected",
			zap.String("bed_id", w.monitor.BedID()),
			zap.Time("sample_ts", sample.Timestamp),
			zap.Error(err),
		)
		return
	}

	for _, ev := range events {
		if ev.Type == models.EventAlarmRaised {
			e.indexAlarm(ev.Alarm.ID, ev.BedID)
		}
	}
	for _, channel := range gaps {
		e.hub.ReportGap(w.monitor.BedID(), channel, sample.Timestamp)
	}
	e.hub.OnUpdate(state, events)
}

// sweepExpired 扫描所有床位的超时报警
func (e *Engine) sweepExpired(now time.Time) {
	e.mu.RLock()
	workers := make([]*bedWorker, 0, len(e.beds))
	for _, w := range e.beds {
		workers = append(workers, w)
	}
	e.mu.RUnlock()

	for _, w := range workers {
		if events := w.monitor.SweepExpired(now); len(events) > 0 {
			e.hub.OnUpdate(w.monitor.Snapshot(), events)
		}
	}
}

func (e *Engine) indexAlarm(alarmID, bedID string) {
	e.mu.Lock()
	e.alarmIndex[alarmID] = bedID
	e.alarmOrder = append(e.alarmOrder, alarmID)
	for len(e.alarmOrder) > e.indexCap {
		delete(e.alarmIndex, e.alarmOrder[0])
		e.alarmOrder = e.alarmOrder[1:]
	}
	e.mu.Unlock()
}

func (e *Engine) stopAllWorkers() {
	e.mu.Lock()
	for _, w := range e.beds {
		w.cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}
