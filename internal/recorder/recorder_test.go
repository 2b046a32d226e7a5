package recorder

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeSession struct {
	mu         sync.Mutex
	onText     func(string)
	fed        [][]byte
	startErr   error
	finishText string
	finishErr  error
	finished   bool
	stopped    bool
}

func (f *fakeSession) Start(ctx context.Context) error { return f.startErr }

func (f *fakeSession) FeedAudio(chunk []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	f.fed = append(f.fed, buf)
}

func (f *fakeSession) Finish() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = true
	return f.finishText, f.finishErr
}

func (f *fakeSession) Stop() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return "", nil
}

func (f *fakeSession) emit(text string) {
	f.onText(text)
}

type fakeSource struct {
	mu      sync.Mutex
	onChunk func([]byte)
	started bool
	stopped bool
	failure error
}

func (f *fakeSource) Start(onChunk func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure != nil {
		return f.failure
	}
	f.onChunk = onChunk
	f.started = true
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeSource) snapshot() (started, stopped bool, onChunk func([]byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped, f.onChunk
}

// harness wires a recorder to fakes and runs the actor loop for the test.
type harness struct {
	recorder *Recorder
	source   *fakeSource
	sessions []*fakeSession
	mu       sync.Mutex
	next     *fakeSession
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{source: &fakeSource{}}
	factory := func(onText func(string)) (SessionHandle, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		session := h.next
		if session == nil {
			session = &fakeSession{}
		}
		h.next = nil
		session.onText = onText
		h.sessions = append(h.sessions, session)
		return session, nil
	}
	h.recorder = New(factory, h.source, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	donec := make(chan struct{})
	go func() {
		h.recorder.Run(ctx)
		close(donec)
	}()
	t.Cleanup(func() {
		cancel()
		<-donec
	})
	return h
}

// stage primes the session the next start will receive.
func (h *harness) stage(session *fakeSession) {
	h.mu.Lock()
	h.next = session
	h.mu.Unlock()
}

func (h *harness) current(t *testing.T) *fakeSession {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sessions) == 0 {
		t.Fatal("no session was created")
	}
	return h.sessions[len(h.sessions)-1]
}

func do(t *testing.T, r *Recorder, action Action) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	outcome, err := r.Do(ctx, action)
	if err != nil {
		t.Fatalf("Do(%s) failed: %v", action, err)
	}
	return outcome
}

func getStatus(t *testing.T, r *Recorder) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := r.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	return status
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t)
	h.stage(&fakeSession{finishText: "今天天气不错。"})

	outcome := do(t, h.recorder, ActionStart)
	if outcome.Conflict || outcome.Err != nil {
		t.Fatalf("start outcome = %+v", outcome)
	}
	started, _, onChunk := h.source.snapshot()
	if !started {
		t.Error("capture source was not started")
	}

	// Captured audio flows into the session.
	onChunk([]byte{1, 2, 3})
	session := h.current(t)
	session.mu.Lock()
	fed := len(session.fed)
	session.mu.Unlock()
	if fed != 1 {
		t.Errorf("session received %d chunks, expected 1", fed)
	}

	outcome = do(t, h.recorder, ActionStop)
	if outcome.Err != nil {
		t.Fatalf("stop returned error: %v", outcome.Err)
	}
	if outcome.Text != "今天天气不错" {
		t.Errorf("text = %q, expected trailing punctuation stripped", outcome.Text)
	}
	session.mu.Lock()
	finished := session.finished
	session.mu.Unlock()
	if !finished {
		t.Error("session was not finished gracefully")
	}
	if _, stopped, _ := h.source.snapshot(); !stopped {
		t.Error("capture source was not stopped")
	}
}

func TestStartWhileActiveIsConflict(t *testing.T) {
	h := newHarness(t)

	do(t, h.recorder, ActionStart)
	outcome := do(t, h.recorder, ActionStart)
	if !outcome.Conflict {
		t.Error("second start was not reported as a conflict")
	}

	// The original recording is untouched.
	if status := getStatus(t, h.recorder); !status.Recording {
		t.Error("recording stopped by conflicting start")
	}
}

func TestStopWhenIdleIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.stage(&fakeSession{finishText: "第一段"})

	do(t, h.recorder, ActionStart)
	do(t, h.recorder, ActionStop)

	outcome := do(t, h.recorder, ActionStop)
	if !outcome.NoOp {
		t.Error("stop when idle was not a no-op")
	}
	if outcome.Text != "第一段" {
		t.Errorf("no-op stop text = %q, expected retained last result", outcome.Text)
	}
}

func TestCancelDiscardsResult(t *testing.T) {
	h := newHarness(t)
	h.stage(&fakeSession{finishText: "первый"})
	do(t, h.recorder, ActionStart)
	do(t, h.recorder, ActionStop)

	h.stage(&fakeSession{finishText: "должен пропасть"})
	do(t, h.recorder, ActionStart)
	time.Sleep(10 * time.Millisecond)
	outcome := do(t, h.recorder, ActionCancel)
	if outcome.NoOp || outcome.Err != nil {
		t.Fatalf("cancel outcome = %+v", outcome)
	}
	if outcome.Duration <= 0 {
		t.Errorf("cancel duration = %f, expected positive", outcome.Duration)
	}

	session := h.current(t)
	session.mu.Lock()
	stopped, finished := session.stopped, session.finished
	session.mu.Unlock()
	if !stopped {
		t.Error("cancel did not force-stop the session")
	}
	if finished {
		t.Error("cancel used graceful finish")
	}

	// Cancel empties the completed transcript; a later idle status or
	// stop must not resurface the earlier recording's text.
	status := getStatus(t, h.recorder)
	if status.Recording {
		t.Error("still recording after cancel")
	}
	if status.LastText != "" {
		t.Errorf("last text = %q, expected empty after cancel", status.LastText)
	}
	if status.LastDuration != outcome.Duration {
		t.Errorf("last duration = %f, expected %f", status.LastDuration, outcome.Duration)
	}

	stop := do(t, h.recorder, ActionStop)
	if !stop.NoOp || stop.Text != "" {
		t.Errorf("idle stop after cancel = %+v, expected empty no-op result", stop)
	}

	outcome = do(t, h.recorder, ActionCancel)
	if !outcome.NoOp {
		t.Error("cancel when idle was not a no-op")
	}
}

func TestToggleReportsAction(t *testing.T) {
	h := newHarness(t)

	outcome := do(t, h.recorder, ActionToggle)
	if outcome.Performed != "start" {
		t.Errorf("toggle performed %q, expected start", outcome.Performed)
	}
	if status := getStatus(t, h.recorder); !status.Recording {
		t.Error("toggle did not start recording")
	}

	outcome = do(t, h.recorder, ActionToggle)
	if outcome.Performed != "stop" {
		t.Errorf("toggle performed %q, expected stop", outcome.Performed)
	}
	if status := getStatus(t, h.recorder); status.Recording {
		t.Error("toggle did not stop recording")
	}
}

func TestProgressiveTranscriptUpdates(t *testing.T) {
	h := newHarness(t)

	var updates []string
	var mu sync.Mutex
	h.recorder.OnTranscript(func(text string) {
		mu.Lock()
		updates = append(updates, text)
		mu.Unlock()
	})

	do(t, h.recorder, ActionStart)
	session := h.current(t)
	session.emit("今天")
	session.emit("今天天气，")

	// Updates arrive asynchronously on the actor goroutine.
	deadline := time.Now().Add(time.Second)
	for {
		status := getStatus(t, h.recorder)
		if status.Text == "今天天气" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("live text = %q, expected 今天天气", status.Text)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) == 0 || updates[len(updates)-1] != "今天天气" {
		t.Errorf("transcript updates = %v, expected stripped 今天天气 last", updates)
	}
}

func TestStopFallsBackToLiveText(t *testing.T) {
	// When the session returns no final text, the latest progressive
	// transcript is used instead.
	h := newHarness(t)
	h.stage(&fakeSession{finishText: ""})

	do(t, h.recorder, ActionStart)
	h.current(t).emit("中途结果。")

	outcome := do(t, h.recorder, ActionStop)
	if outcome.Text != "中途结果" {
		t.Errorf("text = %q, expected fallback to live transcript", outcome.Text)
	}
}

func TestStartFailurePropagates(t *testing.T) {
	h := newHarness(t)
	h.stage(&fakeSession{startErr: fmt.Errorf("endpoint unreachable")})

	outcome := do(t, h.recorder, ActionStart)
	if outcome.Err == nil {
		t.Fatal("start succeeded, expected session error")
	}
	if status := getStatus(t, h.recorder); status.Recording {
		t.Error("recorder active after failed start")
	}

	// The recorder accepts the next start.
	h.stage(&fakeSession{})
	if outcome := do(t, h.recorder, ActionStart); outcome.Err != nil || outcome.Conflict {
		t.Errorf("start after failure = %+v", outcome)
	}
}

func TestStatusFields(t *testing.T) {
	h := newHarness(t)
	h.stage(&fakeSession{finishText: "记录完毕。"})

	status := getStatus(t, h.recorder)
	if status.Recording || status.Text != "" || status.LastText != "" {
		t.Errorf("fresh status = %+v, expected zero values", status)
	}

	do(t, h.recorder, ActionStart)
	time.Sleep(20 * time.Millisecond)
	status = getStatus(t, h.recorder)
	if !status.Recording {
		t.Error("status not recording after start")
	}
	if status.Duration <= 0 {
		t.Errorf("live duration = %f, expected positive", status.Duration)
	}

	outcome := do(t, h.recorder, ActionStop)
	status = getStatus(t, h.recorder)
	if status.Recording {
		t.Error("status recording after stop")
	}
	if status.LastText != "记录完毕" {
		t.Errorf("last text = %q, expected 记录完毕", status.LastText)
	}
	if status.LastDuration != outcome.Duration {
		t.Errorf("last duration = %f, expected %f", status.LastDuration, outcome.Duration)
	}
}
