// Package engine coordinates intelligence tasks against browser tabs.
// One Engine instance owns the task store, capability registry, insight
// log, statistics, and notification buses; tasks flow from QueueTask
// through priority dispatch, supervised execution, and insight
// generation, with a reaper cancelling overdue work.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/quinn/tabmind/internal/bus"
	"github.com/quinn/tabmind/internal/capability"
	"github.com/quinn/tabmind/internal/history"
	"github.com/quinn/tabmind/internal/insight"
	"github.com/quinn/tabmind/internal/logging"
	"github.com/quinn/tabmind/internal/settings"
	"github.com/quinn/tabmind/internal/stats"
	"github.com/quinn/tabmind/internal/task"
)

// Sentinel errors surfaced by engine operations.
var (
	ErrUnknownCapability   = errors.New("unknown capability")
	ErrCapabilityDisabled  = errors.New("capability disabled")
	ErrUnrecognizedCommand = errors.New("unrecognized command")
	ErrAlreadyStarted      = errors.New("engine already started")
)

// Sweep periods and execution limits.
const (
	reapInterval       = "@every 10s"
	purgeInterval      = "@every 30s"
	aggregateInterval  = "@every 2m"
	backgroundInterval = "@every 5m"

	// defaultEstimate is assumed for tasks without an estimated
	// duration; the reaper cancels a task once it runs for twice
	// its estimate.
	defaultEstimate = 5 * time.Minute
	reapMultiplier  = 2
)

// Tab is a registered browsing context.
type Tab struct {
	ID           string
	Surface      any // opaque render target supplied by the hosting shell
	RegisteredAt time.Time
}

// Engine schedules and supervises intelligence tasks.
type Engine struct {
	store      *task.Store
	registry   *capability.Registry
	insights   *insight.Log
	counters   *stats.Counters
	taskBus    *bus.TaskBus
	insightBus *bus.InsightBus
	cfg        *settings.Settings
	archive    *history.Archive
	logger     *logging.Logger
	nowFunc    func() time.Time

	// sem holds one permit per possible concurrency slot; parked
	// permits shrink the effective cap below the ceiling.
	sem    *semaphore.Weighted
	parkMu sync.Mutex
	parked int64

	mu      sync.Mutex
	pending *pendingQueue
	tabs    map[string]Tab
	cancels map[string]context.CancelFunc
	seq     uint64
	started bool

	wake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	cron   *cron.Cron
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithSettings sets the settings block the engine consults.
func WithSettings(s *settings.Settings) Option {
	return func(e *Engine) { e.cfg = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithHistory sets the archive that receives purged tasks and
// generated insights.
func WithHistory(a *history.Archive) Option {
	return func(e *Engine) { e.archive = a }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.nowFunc = now }
}

// New creates an engine with the given options. Call Start to begin
// dispatching.
func New(opts ...Option) *Engine {
	e := &Engine{
		store:      task.NewStore(),
		registry:   capability.NewRegistry(),
		insights:   insight.NewLog(),
		counters:   stats.NewCounters(),
		taskBus:    bus.NewTaskBus(),
		insightBus: bus.NewInsightBus(),
		logger:     logging.Component("engine"),
		nowFunc:    time.Now,
		pending:    newPendingQueue(),
		tabs:       make(map[string]Tab),
		cancels:    make(map[string]context.CancelFunc),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg == nil {
		e.cfg = settings.Default()
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.sem = semaphore.NewWeighted(int64(settings.MaxConcurrent))
	e.parked = int64(settings.MaxConcurrent - e.cfg.MaxConcurrentTasks())
	if e.parked > 0 {
		// Nothing is running yet, so parking cannot fail.
		_ = e.sem.TryAcquire(e.parked)
	}

	return e
}

func (e *Engine) now() time.Time { return e.nowFunc() }

// RegisterHandler binds a handler to a capability tag.
func (e *Engine) RegisterHandler(c capability.Capability, h capability.Handler) error {
	return e.registry.Register(c, h)
}

// Start launches the dispatcher and the periodic sweeps.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.dispatch()

	e.cron = cron.New()
	jobs := []struct {
		spec string
		fn   func()
	}{
		{reapInterval, func() { e.reapOnce(e.now()) }},
		{purgeInterval, func() { e.purgeOnce(e.now()) }},
		{aggregateInterval, func() { e.sweepAggregates(e.now()) }},
		{backgroundInterval, func() { e.sweepBackground(e.now()) }},
	}
	for _, job := range jobs {
		if _, err := e.cron.AddFunc(job.spec, job.fn); err != nil {
			return fmt.Errorf("schedule %s: %w", job.spec, err)
		}
	}
	e.cron.Start()

	e.logger.InfoCtx("engine started", map[string]any{
		"max_concurrent": e.cfg.MaxConcurrentTasks(),
		"capabilities":   len(e.cfg.EnabledCapabilities()),
	})
	return nil
}

// Stop cancels all work and waits for in-flight supervisors to settle.
func (e *Engine) Stop() {
	e.cancel()
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// QueueRequest describes a task to schedule.
type QueueRequest struct {
	TabID             string
	Name              string
	Description       string
	Capability        capability.Capability
	Priority          task.Priority
	Parameters        map[string]any
	EstimatedDuration time.Duration
}

// QueueTask admits a task for execution and returns its id. The task
// is rejected before storage when its capability is unknown or
// disabled; otherwise it enters the store Pending and the id is
// returned immediately, ahead of execution.
func (e *Engine) QueueTask(req QueueRequest) (string, error) {
	if !req.Capability.Valid() {
		return "", fmt.Errorf("%w: %s", ErrUnknownCapability, req.Capability)
	}
	if !e.cfg.Enabled(req.Capability) {
		return "", fmt.Errorf("%w: %s", ErrCapabilityDisabled, req.Capability)
	}

	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	t := task.Task{
		ID:                uuid.NewString(),
		TabID:             req.TabID,
		Name:              req.Name,
		Description:       req.Description,
		Capability:        req.Capability,
		Priority:          req.Priority,
		Parameters:        req.Parameters,
		CreatedAt:         e.now(),
		EstimatedDuration: req.EstimatedDuration,
		Seq:               seq,
	}
	e.store.Put(t)

	e.mu.Lock()
	e.pending.push(pendingRef{id: t.ID, priority: t.Priority, seq: seq})
	e.mu.Unlock()

	if stored, ok := e.store.Get(t.ID); ok {
		e.taskBus.Publish(stored)
	}
	e.signalWake()

	e.logger.DebugCtx("task queued", map[string]any{
		"task_id":    t.ID,
		"tab_id":     t.TabID,
		"capability": t.Capability,
		"priority":   t.Priority.String(),
	})
	return t.ID, nil
}

// CancelTask cancels a task that has not started. Returns false once
// the task is Running or terminal, or if it is unknown.
func (e *Engine) CancelTask(id string) bool {
	cancelled, ok := e.store.CancelPending(id, e.now())
	if !ok {
		return false
	}
	e.counters.RecordCancellation()
	e.taskBus.Publish(cancelled)
	e.logger.DebugCtx("task cancelled while pending", map[string]any{"task_id": id})
	return true
}

// ReportProgress records handler-reported progress for a running task.
// Progress only moves forward; regressions are ignored.
func (e *Engine) ReportProgress(id string, progress float64) {
	if updated, ok := e.store.SetProgress(id, progress); ok {
		e.taskBus.Publish(updated)
	}
}

// RegisterTab records a browsing context and auto-queues its initial
// analysis triple. Disabled capabilities are skipped silently.
func (e *Engine) RegisterTab(tabID string, surface any) {
	e.mu.Lock()
	e.tabs[tabID] = Tab{ID: tabID, Surface: surface, RegisteredAt: e.now()}
	e.mu.Unlock()

	initial := []QueueRequest{
		{TabID: tabID, Name: "Initial page analysis", Capability: capability.WebAnalysis, Priority: task.PriorityHigh},
		{TabID: tabID, Name: "Initial security scan", Capability: capability.Security, Priority: task.PriorityMedium},
		{TabID: tabID, Name: "Initial performance analysis", Capability: capability.Performance, Priority: task.PriorityMedium},
	}
	for _, req := range initial {
		if _, err := e.QueueTask(req); err != nil {
			e.logger.DebugCtx("initial task skipped", map[string]any{
				"tab_id":     tabID,
				"capability": req.Capability,
				"reason":     err.Error(),
			})
		}
	}
	e.logger.InfoCtx("tab registered", map[string]any{"tab_id": tabID})
}

// UnregisterTab removes a browsing context, cancels its pending tasks,
// and closes its subscriptions.
func (e *Engine) UnregisterTab(tabID string) {
	e.mu.Lock()
	delete(e.tabs, tabID)
	e.mu.Unlock()

	for _, t := range e.store.ByTab(tabID) {
		if t.Status == task.StatusPending {
			e.CancelTask(t.ID)
		}
	}
	e.taskBus.DropTab(tabID)
	e.logger.InfoCtx("tab unregistered", map[string]any{"tab_id": tabID})
}

// Tabs returns the registered tab ids.
func (e *Engine) Tabs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.tabs))
	for id := range e.tabs {
		out = append(out, id)
	}
	return out
}

// GetTask returns a copy of the task with the given id.
func (e *Engine) GetTask(id string) (task.Task, bool) {
	return e.store.Get(id)
}

// GetActiveTasks returns retained tasks, filtered to a tab when tabID
// is non-empty.
func (e *Engine) GetActiveTasks(tabID string) []task.Task {
	return e.store.ByTab(tabID)
}

// GetInsights returns retained insights, filtered to a category when
// one is given.
func (e *Engine) GetInsights(category capability.Capability) []insight.Insight {
	return e.insights.List(category)
}

// Stats returns a snapshot of the aggregate statistics.
func (e *Engine) Stats() stats.Snapshot {
	return e.counters.Snapshot()
}

// SubscribeTasks returns a channel receiving updates for one tab.
func (e *Engine) SubscribeTasks(tabID string) chan task.Task {
	return e.taskBus.Subscribe(tabID)
}

// UnsubscribeTasks removes a task subscription.
func (e *Engine) UnsubscribeTasks(tabID string, ch chan task.Task) {
	e.taskBus.Unsubscribe(tabID, ch)
}

// SubscribeInsights returns a channel receiving every new insight.
func (e *Engine) SubscribeInsights() chan insight.Insight {
	return e.insightBus.Subscribe()
}

// UnsubscribeInsights removes an insight subscription.
func (e *Engine) UnsubscribeInsights(ch chan insight.Insight) {
	e.insightBus.Unsubscribe(ch)
}

// emitInsights filters insights against the confidence threshold,
// appends survivors to the bounded log, and fans them out.
func (e *Engine) emitInsights(ins []insight.Insight) {
	threshold := e.cfg.ConfidenceThreshold()
	for _, in := range ins {
		if in.Confidence < threshold {
			continue
		}
		if evicted := e.insights.Add(in); evicted != nil {
			e.logger.DebugCtx("insight evicted", map[string]any{"insight_id": evicted.ID})
		}
		e.insightBus.Publish(in)
		if e.archive != nil {
			if err := e.archive.ArchiveInsight(in); err != nil {
				e.logger.WarnCtx("insight archive failed", map[string]any{"error": err.Error()})
			}
		}
		e.logger.InfoCtx("insight generated", map[string]any{
			"insight_id": in.ID,
			"category":   in.Category,
			"title":      in.Title,
		})
	}
}

func (e *Engine) signalWake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
