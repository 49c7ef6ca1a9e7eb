package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quinn/tabmind/internal/capability"
	"github.com/quinn/tabmind/internal/settings"
	"github.com/quinn/tabmind/internal/task"
)

func testSettings(maxConcurrent int) *settings.Settings {
	s := settings.Default()
	s.SetMaxConcurrentTasks(maxConcurrent)
	return s
}

func startEngine(t *testing.T, s *settings.Settings) *Engine {
	t.Helper()
	e := New(WithSettings(s))
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

// immediateHandler completes at once with the given result.
func immediateHandler(result map[string]any) capability.Handler {
	return func(ctx context.Context, tabID string, params map[string]any) (map[string]any, error) {
		return result, nil
	}
}

// gatedHandler blocks until released or its context is cancelled.
func gatedHandler(gate <-chan struct{}) capability.Handler {
	return func(ctx context.Context, tabID string, params map[string]any) (map[string]any, error) {
		select {
		case <-gate:
			return map[string]any{"ok": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitTerminal(t *testing.T, e *Engine, id string) task.Task {
	t.Helper()
	waitUntil(t, "task "+id+" to finish", func() bool {
		got, ok := e.GetTask(id)
		return ok && got.Status.Terminal()
	})
	got, _ := e.GetTask(id)
	return got
}

func TestQueueTaskLifecycle(t *testing.T) {
	e := startEngine(t, testSettings(5))
	if err := e.RegisterHandler(capability.WebAnalysis, immediateHandler(map[string]any{"wordCount": 120})); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	updates := e.SubscribeTasks("tab-1")
	defer e.UnsubscribeTasks("tab-1", updates)

	id, err := e.QueueTask(QueueRequest{
		TabID:      "tab-1",
		Name:       "Analyze current page",
		Capability: capability.WebAnalysis,
		Priority:   task.PriorityCritical,
	})
	if err != nil {
		t.Fatalf("QueueTask: %v", err)
	}

	got := waitTerminal(t, e, id)
	if got.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want completed (error=%q)", got.Status, got.Error)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatal("completed task missing timestamps")
	}
	if got.Progress != 1.0 {
		t.Fatalf("progress = %v, want 1.0", got.Progress)
	}
	if got.Result["wordCount"] != 120 {
		t.Fatalf("result = %v, want handler output merged", got.Result)
	}

	snap := e.Stats()
	if snap.Completed != 1 {
		t.Fatalf("completed = %d, want 1", snap.Completed)
	}
	if snap.Usage[capability.WebAnalysis] != 1 {
		t.Fatalf("usage[web_analysis] = %d, want 1", snap.Usage[capability.WebAnalysis])
	}

	// The subscriber saw the pending, running, and completed states
	// in order.
	var statuses []task.Status
	for len(statuses) < 3 {
		select {
		case u := <-updates:
			statuses = append(statuses, u.Status)
		case <-time.After(5 * time.Second):
			t.Fatalf("updates stalled after %v", statuses)
		}
	}
	want := []task.Status{task.StatusPending, task.StatusRunning, task.StatusCompleted}
	for i, st := range want {
		if statuses[i] != st {
			t.Fatalf("update %d = %s, want %s", i, statuses[i], st)
		}
	}
}

func TestQueueTaskRejectsBeforeStorage(t *testing.T) {
	s := testSettings(5)
	s.SetEnabled(capability.Security, false)
	e := startEngine(t, s)

	if _, err := e.QueueTask(QueueRequest{Capability: capability.Capability("telepathy")}); !errors.Is(err, ErrUnknownCapability) {
		t.Fatalf("unknown capability: err = %v, want ErrUnknownCapability", err)
	}
	if _, err := e.QueueTask(QueueRequest{TabID: "t", Capability: capability.Security}); !errors.Is(err, ErrCapabilityDisabled) {
		t.Fatalf("disabled capability: err = %v, want ErrCapabilityDisabled", err)
	}
	if got := e.GetActiveTasks(""); len(got) != 0 {
		t.Fatalf("rejected tasks reached the store: %v", got)
	}
}

func TestConcurrencyCapHoldsAtLimit(t *testing.T) {
	e := startEngine(t, testSettings(5))
	gate := make(chan struct{})
	if err := e.RegisterHandler(capability.Performance, gatedHandler(gate)); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	ids := make([]string, 6)
	for i := range ids {
		id, err := e.QueueTask(QueueRequest{
			TabID:      "tab-1",
			Capability: capability.Performance,
			Priority:   task.PriorityMedium,
		})
		if err != nil {
			t.Fatalf("QueueTask %d: %v", i, err)
		}
		ids[i] = id
	}

	waitUntil(t, "five tasks running", func() bool {
		return runningCount(e) == 5
	})

	// Give the dispatcher a chance to over-admit, then confirm it
	// did not.
	time.Sleep(20 * time.Millisecond)
	if n := runningCount(e); n != 5 {
		t.Fatalf("running = %d, want 5", n)
	}
	pending := 0
	for _, id := range ids {
		if got, _ := e.GetTask(id); got.Status == task.StatusPending {
			pending++
		}
	}
	if pending != 1 {
		t.Fatalf("pending = %d, want 1", pending)
	}

	// Releasing one slot admits the sixth task.
	gate <- struct{}{}
	waitUntil(t, "sixth task admitted", func() bool {
		for _, id := range ids {
			if got, _ := e.GetTask(id); got.Status == task.StatusPending {
				return false
			}
		}
		return true
	})
	close(gate)
}

func runningCount(e *Engine) int {
	n := 0
	for _, got := range e.GetActiveTasks("") {
		if got.Status == task.StatusRunning {
			n++
		}
	}
	return n
}

func TestPriorityOrderingAtSlotFree(t *testing.T) {
	e := startEngine(t, testSettings(1))
	gate := make(chan struct{})
	started := make(chan string, 8)
	handler := func(ctx context.Context, tabID string, params map[string]any) (map[string]any, error) {
		started <- params["label"].(string)
		select {
		case <-gate:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := e.RegisterHandler(capability.WebAnalysis, handler); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	queue := func(label string, p task.Priority) {
		t.Helper()
		_, err := e.QueueTask(QueueRequest{
			TabID:      "tab-1",
			Capability: capability.WebAnalysis,
			Priority:   p,
			Parameters: map[string]any{"label": label},
		})
		if err != nil {
			t.Fatalf("QueueTask %s: %v", label, err)
		}
	}

	queue("filler", task.PriorityMedium)
	if first := <-started; first != "filler" {
		t.Fatalf("first started = %q, want filler", first)
	}

	// With the only slot held, a later Critical task must beat the
	// earlier Low one to the next opening.
	queue("low", task.PriorityLow)
	queue("critical", task.PriorityCritical)

	gate <- struct{}{}
	if next := <-started; next != "critical" {
		t.Fatalf("second started = %q, want critical", next)
	}
	gate <- struct{}{}
	if next := <-started; next != "low" {
		t.Fatalf("third started = %q, want low", next)
	}
	close(gate)
}

func TestEqualPriorityRunsInArrivalOrder(t *testing.T) {
	e := startEngine(t, testSettings(1))
	gate := make(chan struct{})
	started := make(chan string, 8)
	handler := func(ctx context.Context, tabID string, params map[string]any) (map[string]any, error) {
		started <- params["label"].(string)
		select {
		case <-gate:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := e.RegisterHandler(capability.WebAnalysis, handler); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	for _, label := range []string{"filler", "a", "b", "c"} {
		_, err := e.QueueTask(QueueRequest{
			TabID:      "tab-1",
			Capability: capability.WebAnalysis,
			Priority:   task.PriorityMedium,
			Parameters: map[string]any{"label": label},
		})
		if err != nil {
			t.Fatalf("QueueTask %s: %v", label, err)
		}
	}

	var order []string
	for i := 0; i < 4; i++ {
		order = append(order, <-started)
		gate <- struct{}{}
	}
	want := []string{"filler", "a", "b", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("run order = %v, want %v", order, want)
		}
	}
}

func TestReaperCancelsOverdueTask(t *testing.T) {
	e := startEngine(t, testSettings(5))
	if err := e.RegisterHandler(capability.Automation, gatedHandler(nil)); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	id, err := e.QueueTask(QueueRequest{
		TabID:             "tab-1",
		Capability:        capability.Automation,
		Priority:          task.PriorityMedium,
		EstimatedDuration: time.Second,
	})
	if err != nil {
		t.Fatalf("QueueTask: %v", err)
	}
	waitUntil(t, "task running", func() bool {
		got, _ := e.GetTask(id)
		return got.Status == task.StatusRunning
	})

	// Just past twice the estimate the reaper leaves it alone.
	e.reapOnce(time.Now().Add(time.Second))
	if got, _ := e.GetTask(id); got.Status != task.StatusRunning {
		t.Fatalf("status after early reap = %s, want running", got.Status)
	}

	e.reapOnce(time.Now().Add(time.Hour))
	got := waitTerminal(t, e, id)
	if got.Status != task.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if got.Error != "Task timeout" {
		t.Fatalf("error = %q, want %q", got.Error, "Task timeout")
	}
	if got.CompletedAt == nil {
		t.Fatal("reaped task missing CompletedAt")
	}
	if snap := e.Stats(); snap.Cancelled != 1 {
		t.Fatalf("cancelled = %d, want 1", snap.Cancelled)
	}

	// The slot freed by the reap admits new work.
	done, err := e.QueueTask(QueueRequest{TabID: "tab-1", Capability: capability.Automation})
	if err != nil {
		t.Fatalf("QueueTask after reap: %v", err)
	}
	waitUntil(t, "post-reap task running", func() bool {
		after, _ := e.GetTask(done)
		return after.Status == task.StatusRunning || after.Status.Terminal()
	})
}

func TestCancelTaskPendingOnly(t *testing.T) {
	e := startEngine(t, testSettings(1))
	gate := make(chan struct{})
	if err := e.RegisterHandler(capability.Learning, gatedHandler(gate)); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	first, err := e.QueueTask(QueueRequest{TabID: "tab-1", Capability: capability.Learning})
	if err != nil {
		t.Fatalf("QueueTask: %v", err)
	}
	waitUntil(t, "first task running", func() bool {
		got, _ := e.GetTask(first)
		return got.Status == task.StatusRunning
	})

	second, err := e.QueueTask(QueueRequest{TabID: "tab-1", Capability: capability.Learning})
	if err != nil {
		t.Fatalf("QueueTask: %v", err)
	}

	if !e.CancelTask(second) {
		t.Fatal("CancelTask(pending) = false, want true")
	}
	got, _ := e.GetTask(second)
	if got.Status != task.StatusCancelled || got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("cancelled pending task = %+v, want cancelled with both stamps", got)
	}

	if e.CancelTask(first) {
		t.Fatal("CancelTask(running) = true, want false")
	}
	if e.CancelTask(second) {
		t.Fatal("CancelTask(terminal) = true, want false")
	}

	// The cancelled task never reaches its handler.
	close(gate)
	waitTerminal(t, e, first)
	if got, _ := e.GetTask(second); got.Status != task.StatusCancelled {
		t.Fatalf("cancelled task reran: %s", got.Status)
	}
}

func TestRegisterTabQueuesInitialTriple(t *testing.T) {
	e := New(WithSettings(testSettings(5)))
	e.RegisterTab("tab-9", nil)

	got := e.GetActiveTasks("tab-9")
	if len(got) != 3 {
		t.Fatalf("initial tasks = %d, want 3", len(got))
	}
	want := map[capability.Capability]task.Priority{
		capability.WebAnalysis: task.PriorityHigh,
		capability.Security:    task.PriorityMedium,
		capability.Performance: task.PriorityMedium,
	}
	for _, tk := range got {
		p, ok := want[tk.Capability]
		if !ok {
			t.Fatalf("unexpected initial capability %s", tk.Capability)
		}
		if tk.Priority != p {
			t.Fatalf("%s priority = %s, want %s", tk.Capability, tk.Priority, p)
		}
		delete(want, tk.Capability)
	}
}

func TestRegisterTabSkipsDisabledCapabilities(t *testing.T) {
	s := testSettings(5)
	s.SetEnabled(capability.Security, false)
	e := New(WithSettings(s))

	e.RegisterTab("tab-9", nil)
	for _, tk := range e.GetActiveTasks("tab-9") {
		if tk.Capability == capability.Security {
			t.Fatal("disabled capability queued on tab registration")
		}
	}
}

func TestUnregisterTabCancelsPending(t *testing.T) {
	e := New(WithSettings(testSettings(5)))
	e.RegisterTab("tab-9", nil)
	e.UnregisterTab("tab-9")

	for _, tk := range e.GetActiveTasks("tab-9") {
		if tk.Status != task.StatusCancelled {
			t.Fatalf("task %s status = %s, want cancelled", tk.ID, tk.Status)
		}
	}
	if got := e.Tabs(); len(got) != 0 {
		t.Fatalf("tabs = %v, want empty", got)
	}
}

func TestProcessCommandKeywordMapping(t *testing.T) {
	e := New(WithSettings(testSettings(5)))

	cases := []struct {
		text string
		want capability.Capability
	}{
		{"analyze this page", capability.WebAnalysis},
		{"is this site safe?", capability.Security},
		{"fill out the form for me", capability.Automation},
		{"why is this page so slow", capability.Performance},
		{"summarize the article", capability.AIInteraction},
		{"check accessibility", capability.Accessibility},
	}
	for _, tc := range cases {
		id, err := e.ProcessCommand("tab-1", tc.text)
		if err != nil {
			t.Fatalf("ProcessCommand(%q): %v", tc.text, err)
		}
		got, _ := e.GetTask(id)
		if got.Capability != tc.want {
			t.Fatalf("ProcessCommand(%q) capability = %s, want %s", tc.text, got.Capability, tc.want)
		}
		if got.Priority != task.PriorityMedium {
			t.Fatalf("ProcessCommand(%q) priority = %s, want medium", tc.text, got.Priority)
		}
		if got.Parameters["command"] != tc.text {
			t.Fatalf("ProcessCommand(%q) lost the raw text: %v", tc.text, got.Parameters)
		}
	}

	if _, err := e.ProcessCommand("tab-1", "make me a sandwich"); !errors.Is(err, ErrUnrecognizedCommand) {
		t.Fatalf("err = %v, want ErrUnrecognizedCommand", err)
	}
	if _, err := e.ProcessCommand("tab-1", "   "); !errors.Is(err, ErrUnrecognizedCommand) {
		t.Fatalf("blank command err = %v, want ErrUnrecognizedCommand", err)
	}
}

func TestInsightEmittedOnPoorVitals(t *testing.T) {
	e := startEngine(t, testSettings(5))
	if err := e.RegisterHandler(capability.Performance, immediateHandler(map[string]any{"coreWebVitalsScore": 0.5})); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	insights := e.SubscribeInsights()
	defer e.UnsubscribeInsights(insights)

	id, err := e.QueueTask(QueueRequest{TabID: "tab-1", Capability: capability.Performance})
	if err != nil {
		t.Fatalf("QueueTask: %v", err)
	}
	waitTerminal(t, e, id)

	select {
	case in := <-insights:
		if in.Category != capability.Performance {
			t.Fatalf("insight category = %s, want performance", in.Category)
		}
		if in.Confidence != 0.9 {
			t.Fatalf("confidence = %v, want 0.9", in.Confidence)
		}
		if in.Data["tab_id"] != "tab-1" {
			t.Fatalf("tab id = %v, want tab-1", in.Data["tab_id"])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no insight delivered")
	}

	got := e.GetInsights(capability.Performance)
	if len(got) != 1 {
		t.Fatalf("stored insights = %d, want 1", len(got))
	}
}

func TestConfidenceThresholdFiltersInsights(t *testing.T) {
	s := testSettings(5)
	s.SetConfidenceThreshold(0.95)
	e := startEngine(t, s)
	if err := e.RegisterHandler(capability.Performance, immediateHandler(map[string]any{"coreWebVitalsScore": 0.5})); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	id, err := e.QueueTask(QueueRequest{TabID: "tab-1", Capability: capability.Performance})
	if err != nil {
		t.Fatalf("QueueTask: %v", err)
	}
	waitTerminal(t, e, id)

	if got := e.GetInsights(""); len(got) != 0 {
		t.Fatalf("insights = %v, want none below 0.95 threshold", got)
	}
}

func TestPurgeOnceDropsOldTerminalTasks(t *testing.T) {
	e := startEngine(t, testSettings(5))
	if err := e.RegisterHandler(capability.WebAnalysis, immediateHandler(nil)); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	id, err := e.QueueTask(QueueRequest{TabID: "tab-1", Capability: capability.WebAnalysis})
	if err != nil {
		t.Fatalf("QueueTask: %v", err)
	}
	waitTerminal(t, e, id)

	e.purgeOnce(time.Now())
	if _, ok := e.GetTask(id); !ok {
		t.Fatal("fresh terminal task purged inside retention window")
	}

	e.purgeOnce(time.Now().Add(task.RetentionWindow + time.Minute))
	if _, ok := e.GetTask(id); ok {
		t.Fatal("terminal task survived past retention window")
	}
}

func TestSweepBackgroundRespectsFlags(t *testing.T) {
	s := testSettings(5)
	s.SetAutoOptimize(false)
	s.SetPredictiveBrowsing(false)
	s.SetLearningMode(false)
	e := New(WithSettings(s))
	e.RegisterTab("tab-1", nil)
	base := len(e.GetActiveTasks("tab-1"))

	e.sweepBackground(time.Now())
	if got := len(e.GetActiveTasks("tab-1")); got != base {
		t.Fatalf("tasks after disabled sweep = %d, want %d", got, base)
	}

	s.SetAutoOptimize(true)
	e.sweepBackground(time.Now())
	got := e.GetActiveTasks("tab-1")
	if len(got) != base+1 {
		t.Fatalf("tasks after auto-optimize sweep = %d, want %d", len(got), base+1)
	}
	var swept *task.Task
	for i := range got {
		if got[i].Parameters["trigger"] == "background" {
			swept = &got[i]
		}
	}
	if swept == nil {
		t.Fatal("no background-triggered task found")
	}
	if swept.Capability != capability.Performance || swept.Priority != task.PriorityLow {
		t.Fatalf("sweep task = %s/%s, want performance/low", swept.Capability, swept.Priority)
	}
}

func TestSweepAggregatesEmitsUsageTrend(t *testing.T) {
	e := startEngine(t, testSettings(5))
	if err := e.RegisterHandler(capability.WebAnalysis, immediateHandler(nil)); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	for i := 0; i < 11; i++ {
		id, err := e.QueueTask(QueueRequest{TabID: "tab-1", Capability: capability.WebAnalysis})
		if err != nil {
			t.Fatalf("QueueTask: %v", err)
		}
		waitTerminal(t, e, id)
	}

	e.sweepAggregates(time.Now())
	got := e.GetInsights(capability.WebAnalysis)
	if len(got) != 1 {
		t.Fatalf("usage-trend insights = %d, want 1", len(got))
	}
	if got[0].Confidence != 0.8 {
		t.Fatalf("confidence = %v, want 0.8", got[0].Confidence)
	}
}

func TestSetMaxConcurrentExpandsSlots(t *testing.T) {
	e := startEngine(t, testSettings(1))
	gate := make(chan struct{})
	if err := e.RegisterHandler(capability.Prediction, gatedHandler(gate)); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	first, err := e.QueueTask(QueueRequest{TabID: "tab-1", Capability: capability.Prediction})
	if err != nil {
		t.Fatalf("QueueTask: %v", err)
	}
	waitUntil(t, "first task running", func() bool {
		got, _ := e.GetTask(first)
		return got.Status == task.StatusRunning
	})

	second, err := e.QueueTask(QueueRequest{TabID: "tab-1", Capability: capability.Prediction})
	if err != nil {
		t.Fatalf("QueueTask: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got, _ := e.GetTask(second); got.Status != task.StatusPending {
		t.Fatalf("second task status = %s, want pending at cap 1", got.Status)
	}

	if err := e.SetMaxConcurrent(2); err != nil {
		t.Fatalf("SetMaxConcurrent: %v", err)
	}
	waitUntil(t, "second task admitted", func() bool {
		got, _ := e.GetTask(second)
		return got.Status == task.StatusRunning
	})
	close(gate)
}

func TestReportProgressMonotonic(t *testing.T) {
	e := startEngine(t, testSettings(1))
	gate := make(chan struct{})
	if err := e.RegisterHandler(capability.Collaboration, gatedHandler(gate)); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	id, err := e.QueueTask(QueueRequest{TabID: "tab-1", Capability: capability.Collaboration})
	if err != nil {
		t.Fatalf("QueueTask: %v", err)
	}
	waitUntil(t, "task running", func() bool {
		got, _ := e.GetTask(id)
		return got.Status == task.StatusRunning
	})

	e.ReportProgress(id, 0.6)
	e.ReportProgress(id, 0.3)
	got, _ := e.GetTask(id)
	if got.Progress != 0.6 {
		t.Fatalf("progress = %v, want 0.6 after regression ignored", got.Progress)
	}
	close(gate)
}

func TestHandlerErrorMarksFailed(t *testing.T) {
	e := startEngine(t, testSettings(5))
	boom := errors.New("page script rejected injection")
	handler := func(ctx context.Context, tabID string, params map[string]any) (map[string]any, error) {
		return nil, boom
	}
	if err := e.RegisterHandler(capability.Personalization, handler); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	id, err := e.QueueTask(QueueRequest{TabID: "tab-1", Capability: capability.Personalization})
	if err != nil {
		t.Fatalf("QueueTask: %v", err)
	}
	got := waitTerminal(t, e, id)
	if got.Status != task.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error != boom.Error() {
		t.Fatalf("error = %q, want %q", got.Error, boom.Error())
	}
	if snap := e.Stats(); snap.Failed != 1 {
		t.Fatalf("failed = %d, want 1", snap.Failed)
	}
}

func TestMissingHandlerFailsTask(t *testing.T) {
	e := startEngine(t, testSettings(5))

	id, err := e.QueueTask(QueueRequest{TabID: "tab-1", Capability: capability.Accessibility})
	if err != nil {
		t.Fatalf("QueueTask: %v", err)
	}
	got := waitTerminal(t, e, id)
	if got.Status != task.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
}
