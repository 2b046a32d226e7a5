package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/wbopan/DoubaoVoice/internal/audio"
	"github.com/wbopan/DoubaoVoice/internal/metrics"
)

// trailingPunctuation is stripped from the end of every transcript before
// it is reported.
const trailingPunctuation = ".,!?;:。，！？；：、…~～"

// Action is a control-plane command.
type Action int

const (
	ActionStart Action = iota
	ActionStop
	ActionCancel
	ActionToggle
)

// String returns the action name
func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	case ActionCancel:
		return "cancel"
	case ActionToggle:
		return "toggle"
	default:
		return "unknown"
	}
}

// Outcome is the result of a control-plane action.
type Outcome struct {
	// Performed names the action actually taken; for toggle it reports
	// whether the toggle started or stopped a recording.
	Performed string
	// Conflict is set when start was requested while a recording was
	// already active.
	Conflict bool
	// NoOp is set when stop or cancel found no active recording.
	NoOp bool
	// Text is the final transcript (stop only).
	Text string
	// Duration is the recording length in seconds, rounded to 2 decimals
	// (stop and cancel).
	Duration float64
	// Err carries a failure starting or finishing the recording.
	Err error
}

// Status is a point-in-time snapshot of the recorder.
type Status struct {
	Recording    bool
	Text         string
	Duration     float64
	LastText     string
	LastDuration float64
}

// SessionHandle is the slice of the streaming session the recorder drives.
type SessionHandle interface {
	Start(ctx context.Context) error
	FeedAudio(chunk []byte)
	Finish() (string, error)
	Stop() (string, error)
}

// SessionFactory creates a fresh session for one recording. onText receives
// progressive transcripts from the session's receiver goroutine.
type SessionFactory func(onText func(string)) (SessionHandle, error)

type command struct {
	action Action
	reply  chan Outcome
}

type statusQuery struct {
	reply chan Status
}

// Recorder owns the recording state machine. All mutation happens on the
// actor goroutine inside Run.
type Recorder struct {
	newSession SessionFactory
	source     audio.Source
	logger     *slog.Logger
	metrics    *metrics.Metrics

	commands chan command
	statusc  chan statusQuery
	// textUpdates carries progressive transcripts from the session's
	// receiver goroutine onto the actor goroutine.
	textUpdates chan string

	transcriptListeners []func(string)
	audioListeners      []func([]byte)

	// Actor-owned state.
	active       bool
	session      SessionHandle
	startTime    time.Time
	liveText     string
	lastText     string
	lastDuration float64
}

// New creates a recorder. Listeners must be registered before Run is
// called.
func New(factory SessionFactory, source audio.Source, logger *slog.Logger, m *metrics.Metrics) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		newSession:  factory,
		source:      source,
		logger:      logger,
		metrics:     m,
		commands:    make(chan command),
		statusc:     make(chan statusQuery),
		textUpdates: make(chan string, 16),
	}
}

// OnTranscript registers a listener for incremental transcript updates.
// Listeners run on the actor goroutine and must not block.
func (r *Recorder) OnTranscript(fn func(string)) {
	r.transcriptListeners = append(r.transcriptListeners, fn)
}

// OnAudioChunk registers a listener for raw capture chunks, e.g. for level
// or waveform displays. Listeners run on the capture goroutine and must
// not retain the slice.
func (r *Recorder) OnAudioChunk(fn func([]byte)) {
	r.audioListeners = append(r.audioListeners, fn)
}

// Run executes the actor loop until ctx is cancelled. An active recording
// is cancelled on the way out.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if r.active {
				r.logger.Info("Shutting down with active recording, cancelling")
				r.handleCancel()
			}
			return
		case text := <-r.textUpdates:
			r.applyText(text)
		case q := <-r.statusc:
			q.reply <- r.snapshot()
		case cmd := <-r.commands:
			cmd.reply <- r.dispatch(ctx, cmd.action)
		}
	}
}

// Do submits an action and waits for its outcome. The wait is bounded by
// ctx; on timeout the action still completes on the actor goroutine and
// its outcome is discarded.
func (r *Recorder) Do(ctx context.Context, action Action) (Outcome, error) {
	cmd := command{action: action, reply: make(chan Outcome, 1)}
	select {
	case r.commands <- cmd:
	case <-ctx.Done():
		return Outcome{}, fmt.Errorf("recorder busy: %w", ctx.Err())
	}
	select {
	case outcome := <-cmd.reply:
		return outcome, nil
	case <-ctx.Done():
		return Outcome{}, fmt.Errorf("timed out waiting for %s: %w", action, ctx.Err())
	}
}

// Status returns a snapshot of the recorder state.
func (r *Recorder) Status(ctx context.Context) (Status, error) {
	q := statusQuery{reply: make(chan Status, 1)}
	select {
	case r.statusc <- q:
	case <-ctx.Done():
		return Status{}, fmt.Errorf("recorder busy: %w", ctx.Err())
	}
	select {
	case status := <-q.reply:
		return status, nil
	case <-ctx.Done():
		return Status{}, fmt.Errorf("timed out waiting for status: %w", ctx.Err())
	}
}

func (r *Recorder) dispatch(ctx context.Context, action Action) Outcome {
	switch action {
	case ActionStart:
		return r.handleStart(ctx)
	case ActionStop:
		return r.handleStop()
	case ActionCancel:
		return r.handleCancel()
	case ActionToggle:
		if r.active {
			outcome := r.handleStop()
			outcome.Performed = "stop"
			return outcome
		}
		outcome := r.handleStart(ctx)
		outcome.Performed = "start"
		return outcome
	default:
		return Outcome{Err: fmt.Errorf("unknown action %d", action)}
	}
}

func (r *Recorder) handleStart(ctx context.Context) Outcome {
	if r.active {
		r.logger.Warn("Start requested while recording")
		return Outcome{Performed: "start", Conflict: true}
	}

	session, err := r.newSession(r.postText)
	if err != nil {
		return Outcome{Performed: "start", Err: fmt.Errorf("failed to create session: %w", err)}
	}
	if err := session.Start(ctx); err != nil {
		return Outcome{Performed: "start", Err: err}
	}

	if err := r.source.Start(func(chunk []byte) {
		session.FeedAudio(chunk)
		r.metrics.RecordAudioCaptured(len(chunk))
		for _, fn := range r.audioListeners {
			fn(chunk)
		}
	}); err != nil {
		session.Stop()
		return Outcome{Performed: "start", Err: fmt.Errorf("failed to start capture: %w", err)}
	}

	r.active = true
	r.session = session
	r.startTime = time.Now()
	r.liveText = ""

	r.metrics.RecordRecordingStarted()
	r.metrics.SetRecordingActive(true)
	r.logger.Info("Recording started")

	return Outcome{Performed: "start"}
}

func (r *Recorder) handleStop() Outcome {
	if !r.active {
		return Outcome{Performed: "stop", NoOp: true, Text: r.lastText, Duration: r.lastDuration}
	}

	duration := roundDuration(time.Since(r.startTime))

	if err := r.source.Stop(); err != nil {
		r.logger.Error("Failed to stop capture", slog.String("error", err.Error()))
	}

	text, err := r.session.Finish()
	// The final high-accuracy revision may have been dispatched to the
	// update channel rather than returned; drain before deciding.
	r.drainTextUpdates()
	if text == "" {
		text = r.liveText
	}

	final := strings.TrimRight(text, trailingPunctuation)

	r.active = false
	r.session = nil
	r.liveText = ""
	r.lastText = final
	r.lastDuration = duration

	r.metrics.SetRecordingActive(false)
	r.metrics.RecordRecordingStopped(duration, len([]rune(final)))
	r.logger.Info("Recording stopped",
		slog.Float64("duration", duration),
		slog.Int("chars", len([]rune(final))))

	return Outcome{Performed: "stop", Text: final, Duration: duration, Err: err}
}

func (r *Recorder) handleCancel() Outcome {
	if !r.active {
		return Outcome{Performed: "cancel", NoOp: true}
	}

	duration := roundDuration(time.Since(r.startTime))

	if err := r.source.Stop(); err != nil {
		r.logger.Error("Failed to stop capture", slog.String("error", err.Error()))
	}
	if _, err := r.session.Stop(); err != nil {
		r.logger.Warn("Session teardown reported error", slog.String("error", err.Error()))
	}
	r.drainTextUpdates()

	// A cancel discards the result entirely: the completed transcript
	// becomes empty, not the previous recording's text.
	r.active = false
	r.session = nil
	r.liveText = ""
	r.lastText = ""
	r.lastDuration = duration

	r.metrics.SetRecordingActive(false)
	r.metrics.RecordRecordingCanceled()
	r.logger.Info("Recording canceled", slog.Float64("duration", duration))

	return Outcome{Performed: "cancel", Duration: duration}
}

func (r *Recorder) snapshot() Status {
	status := Status{
		Recording:    r.active,
		LastText:     r.lastText,
		LastDuration: r.lastDuration,
	}
	if r.active {
		status.Text = strings.TrimRight(r.liveText, trailingPunctuation)
		status.Duration = roundDuration(time.Since(r.startTime))
	}
	return status
}

// postText hands a progressive transcript to the actor goroutine. When the
// channel is full the oldest pending update is discarded; only the latest
// transcript matters.
func (r *Recorder) postText(text string) {
	for {
		select {
		case r.textUpdates <- text:
			return
		default:
			select {
			case <-r.textUpdates:
			default:
			}
		}
	}
}

func (r *Recorder) applyText(text string) {
	r.liveText = text
	display := strings.TrimRight(text, trailingPunctuation)
	for _, fn := range r.transcriptListeners {
		fn(display)
	}
}

func (r *Recorder) drainTextUpdates() {
	for {
		select {
		case text := <-r.textUpdates:
			r.liveText = text
		default:
			return
		}
	}
}

func roundDuration(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
