package hub

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"skanray-cns/internal/models"
)

// Hub CNS 聚合中心：把各床位监护器的状态/报警折叠成一个一致的全局视图
// 单写者纪律：折叠只在锁内完成，锁不跨越订阅者回调；
// Snapshot 读取一致的时间点副本，复制完成即释放读锁
type Hub struct {
	mu   sync.RWMutex
	beds map[string]*bedEntry

	staleAfter time.Duration

	// ring 有界事件回放缓冲（新订阅者重连时回放最近事件，至少一次投递）
	ring    []models.AlarmEvent
	ringCap int

	subs   map[int]func(models.AlarmEvent)
	nextID int

	// dispatchMu 串行化订阅者回调，保持事件投递顺序
	dispatchMu sync.Mutex

	gaps map[string]*models.PolicyGap

	logger *zap.Logger
}

// bedEntry 缓存的单床条目（每次床位更新 O(1) 折叠，不重扫全部床位）
type bedEntry struct {
	state          *models.BedState
	highest        models.Severity
	overdue        bool
	earliestRaised time.Time
	alarmCount     int
}

// New 创建聚合中心
func New(staleAfter time.Duration, eventBuffer int, logger *zap.Logger) *Hub {
	if eventBuffer <= 0 {
		eventBuffer = 256
	}
	return &Hub{
		beds:       make(map[string]*bedEntry),
		staleAfter: staleAfter,
		ringCap:    eventBuffer,
		subs:       make(map[int]func(models.AlarmEvent)),
		gaps:       make(map[string]*models.PolicyGap),
		logger:     logger,
	}
}

// OnUpdate 折叠单床的状态刷新和事件（床位监护器每次摄入/确认/扫描后调用）
// 折叠是 O(1) 摊销：只重算该床的条目，不扫描其它床
func (h *Hub) OnUpdate(state *models.BedState, events []models.AlarmEvent) {
	if state == nil {
		return
	}

	h.mu.Lock()
	entry := &bedEntry{state: state}
	for _, alarm := range state.ActiveAlarms {
		entry.alarmCount++
		if alarm.Severity > entry.highest {
			entry.highest = alarm.Severity
		}
		if alarm.Overdue && alarm.Severity == models.SeverityCritical {
			entry.overdue = true
		}
		if entry.earliestRaised.IsZero() || alarm.RaisedAt.Before(entry.earliestRaised) {
			entry.earliestRaised = alarm.RaisedAt
		}
	}
	h.beds[state.BedID] = entry

	for _, ev := range events {
		h.ring = append(h.ring, ev)
	}
	if len(h.ring) > h.ringCap {
		h.ring = h.ring[len(h.ring)-h.ringCap:]
	}

	var targets []func(models.AlarmEvent)
	if len(events) > 0 && len(h.subs) > 0 {
		targets = make([]func(models.AlarmEvent), 0, len(h.subs))
		for _, cb := range h.subs {
			targets = append(targets, cb)
		}
	}
	h.mu.Unlock()

	// 回调在锁外执行（锁不跨越投递）
	if len(targets) > 0 {
		h.dispatchMu.Lock()
		for _, ev := range events {
			for _, cb := range targets {
				cb(ev)
			}
		}
		h.dispatchMu.Unlock()
	}
}

// RemoveBed 原子移除床位（出院）：并发的 Snapshot 要么看到该床，要么看不到，不会半出现
func (h *Hub) RemoveBed(bedID string) {
	h.mu.Lock()
	delete(h.beds, bedID)
	h.mu.Unlock()
	h.logger.Info("Bed removed from hub view", zap.String("bed_id", bedID))
}

// Snapshot 返回一致的时间点视图，排序规则：
// 1. 有活跃报警的床：Overdue CRITICAL 优先，再按最高级别降序、最早 raisedAt 升序、bedID
// 2. 静默无报警的床（传感器断连 ≠ 病人正常，排在正常床之前）
// 3. 新鲜且正常的床，按 bedID
func (h *Hub) Snapshot(now time.Time) []models.BedState {
	h.mu.RLock()
	type ranked struct {
		state          models.BedState
		highest        models.Severity
		overdue        bool
		earliestRaised time.Time
		alarmed        bool
	}
	out := make([]ranked, 0, len(h.beds))
	for _, entry := range h.beds {
		state := *entry.state
		state.Stale = h.staleAfter > 0 && now.Sub(state.LastSeenAt) > h.staleAfter
		out = append(out, ranked{
			state:          state,
			highest:        entry.highest,
			overdue:        entry.overdue,
			earliestRaised: entry.earliestRaised,
			alarmed:        entry.alarmCount > 0,
		})
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.alarmed != b.alarmed {
			return a.alarmed
		}
		if a.alarmed {
			if a.overdue != b.overdue {
				return a.overdue
			}
			if a.highest != b.highest {
				return a.highest > b.highest
			}
			if !a.earliestRaised.Equal(b.earliestRaised) {
				return a.earliestRaised.Before(b.earliestRaised)
			}
			return a.state.BedID < b.state.BedID
		}
		if a.state.Stale != b.state.Stale {
			return a.state.Stale
		}
		return a.state.BedID < b.state.BedID
	})

	states := make([]models.BedState, len(out))
	for i, r := range out {
		states[i] = r.state
	}
	return states
}

// Subscribe 订阅报警事件流（至少一次投递）
// 先回放有界缓冲内的最近事件，再接收实时事件；返回取消订阅函数
func (h *Hub) Subscribe(cb func(models.AlarmEvent)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = cb
	replay := append([]models.AlarmEvent(nil), h.ring...)
	h.mu.Unlock()

	h.dispatchMu.Lock()
	for _, ev := range replay {
		cb(ev)
	}
	h.dispatchMu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// ReportGap 记录策略缺口诊断（每个 床位+通道 只告警一次日志，计数累加）
func (h *Hub) ReportGap(bedID, channel string, at time.Time) {
	key := bedID + "|" + channel

	h.mu.Lock()
	gap, ok := h.gaps[key]
	if ok {
		gap.Count++
	} else {
		h.gaps[key] = &models.PolicyGap{BedID: bedID, Channel: channel, FirstAt: at, Count: 1}
	}
	h.mu.Unlock()

	if !ok {
		h.logger.Warn("Policy gap: channel has no threshold rule",
			zap.String("bed_id", bedID),
			zap.String("channel", channel),
		)
	}
}

// Diagnostics 返回当前策略缺口列表（按床位、通道排序）
func (h *Hub) Diagnostics() []models.PolicyGap {
	h.mu.RLock()
	out := make([]models.PolicyGap, 0, len(h.gaps))
	for _, gap := range h.gaps {
		out = append(out, *gap)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].BedID != out[j].BedID {
			return out[i].BedID < out[j].BedID
		}
		return out[i].Channel < out[j].Channel
	})
	return out
}
