package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wbopan/DoubaoVoice/internal/audio"
	"github.com/wbopan/DoubaoVoice/internal/metrics"
	"github.com/wbopan/DoubaoVoice/internal/protocol"
)

// State represents the session lifecycle state
type State int

const (
	StateConnecting State = iota
	StateStreaming
	StateClosing
	StateClosed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config contains everything a session needs to reach the recognition
// endpoint.
type Config struct {
	URL        string
	AppKey     string
	AccessKey  string
	ResourceID string

	RequestOptions protocol.RequestOptions
	SegmentSize    int

	HandshakeTimeout time.Duration
	SendTimeout      time.Duration
	FinishTimeout    time.Duration
	CleanupGrace     time.Duration
	StopTimeout      time.Duration
}

// Validate checks the session configuration
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}
	if c.AppKey == "" || c.AccessKey == "" {
		return fmt.Errorf("recognition credentials not configured")
	}
	if c.ResourceID == "" {
		return fmt.Errorf("resource id cannot be empty")
	}
	return nil
}

// queueCapacity bounds the audio queue. At 200 ms per segment this holds
// several minutes of backlog before chunks are dropped.
const queueCapacity = 1024

// Session is one recognition stream. Audio flows in through FeedAudio,
// recognized text flows out through the onText callback. Sessions are
// single-use.
type Session struct {
	config    Config
	requestID string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	onText    func(string)

	conn  *websocket.Conn
	queue chan []byte // nil element is the end-of-audio sentinel

	stopc    chan struct{} // closed to abort the sender
	sendDone chan struct{}
	recvDone chan struct{}
	done     chan struct{} // closed when the connection is fully torn down

	stopOnce     sync.Once
	sentinelOnce sync.Once

	mu        sync.Mutex
	state     State
	seq       int32
	latest    string
	streamErr error
}

// NewSession creates a session. onText is invoked from the receiver
// goroutine with each progressive transcript; later text supersedes
// earlier text.
func NewSession(config Config, onText func(string), logger *slog.Logger, m *metrics.Metrics) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if config.SegmentSize <= 0 {
		config.SegmentSize = audio.SegmentSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if onText == nil {
		onText = func(string) {}
	}

	return &Session{
		config:    config,
		requestID: uuid.NewString(),
		logger:    logger,
		metrics:   m,
		onText:    onText,
		queue:     make(chan []byte, queueCapacity),
		stopc:     make(chan struct{}),
		sendDone:  make(chan struct{}),
		recvDone:  make(chan struct{}),
		done:      make(chan struct{}),
		state:     StateConnecting,
		seq:       1,
	}, nil
}

// RequestID returns the per-session request identifier sent to the
// endpoint.
func (s *Session) RequestID() string {
	return s.requestID
}

// Start dials the endpoint, performs the handshake, and launches the
// sender and receiver goroutines. On error the session is unusable.
func (s *Session) Start(ctx context.Context) error {
	header := http.Header{}
	header.Set("X-Api-Resource-Id", s.config.ResourceID)
	header.Set("X-Api-Request-Id", s.requestID)
	header.Set("X-Api-Access-Key", s.config.AccessKey)
	header.Set("X-Api-App-Key", s.config.AppKey)

	dialCtx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.config.URL, header)
	if err != nil {
		s.metrics.RecordSessionFailure()
		return fmt.Errorf("failed to connect to recognition endpoint: %w", err)
	}
	s.conn = conn

	if err := s.handshake(); err != nil {
		conn.Close()
		s.metrics.RecordSessionFailure()
		return err
	}

	s.setState(StateStreaming)
	s.metrics.RecordSessionOpened()
	s.logger.Info("Recognition session started",
		slog.String("request_id", s.requestID))

	go s.senderLoop()
	go s.receiverLoop()
	go s.closer()

	return nil
}

// handshake sends the full client request and validates the first server
// response.
func (s *Session) handshake() error {
	frame, err := protocol.NewFullClientRequest(s.seq, s.config.RequestOptions)
	if err != nil {
		return fmt.Errorf("failed to build handshake frame: %w", err)
	}
	s.seq++

	deadline := time.Now().Add(s.config.HandshakeTimeout)
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set handshake deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("failed to send handshake: %w", err)
	}

	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set handshake deadline: %w", err)
	}
	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read handshake response: %w", err)
	}
	// Clear the deadline; the receiver loop blocks indefinitely and is
	// unblocked by closing the connection.
	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("failed to clear read deadline: %w", err)
	}

	resp, err := protocol.ParseResponse(msg)
	if err != nil {
		// The ack's content only confirms liveness; a malformed frame on
		// a healthy socket is not fatal.
		s.logger.Warn("Malformed handshake response, proceeding",
			slog.String("error", err.Error()))
		return nil
	}
	if resp.Code != 0 {
		return fmt.Errorf("handshake rejected by endpoint: code %d", resp.Code)
	}

	s.logger.Debug("Handshake complete", slog.String("response", resp.String()))
	return nil
}

// FeedAudio queues a capture chunk for transmission. The chunk is copied;
// the caller may reuse the buffer. Chunks arriving after the session
// started closing are dropped.
func (s *Session) FeedAudio(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)

	select {
	case <-s.stopc:
	case s.queue <- buf:
	default:
		s.logger.Warn("Audio queue full, dropping chunk",
			slog.Int("bytes", len(chunk)))
	}
}

// Finish ends the session gracefully: queue the end-of-audio sentinel so
// the terminal frame goes out after all buffered audio, wait for the
// server's final response, then allow a short grace period for late text
// already dispatched to the callback. Returns the final transcript.
func (s *Session) Finish() (string, error) {
	s.beginClose()
	s.pushSentinel()

	select {
	case <-s.done:
	case <-time.After(s.config.FinishTimeout):
		s.logger.Warn("Graceful finish timed out, forcing close",
			slog.String("request_id", s.requestID))
		s.closeNow()
		<-s.done
	}

	if s.config.CleanupGrace > 0 {
		time.Sleep(s.config.CleanupGrace)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.streamErr
}

// Stop tears the session down immediately, discarding queued audio. The
// transcript accumulated so far is still returned.
func (s *Session) Stop() (string, error) {
	s.beginClose()
	s.closeNow()

	select {
	case <-s.done:
	case <-time.After(s.config.StopTimeout):
		s.logger.Warn("Forced stop timed out",
			slog.String("request_id", s.requestID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.streamErr
}

// Done is closed when the session is fully torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Text returns the latest transcript received so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// beginClose marks the session closing unless it already closed.
func (s *Session) beginClose() {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = StateClosing
	}
	s.mu.Unlock()
}

func (s *Session) setError(err error) {
	s.mu.Lock()
	if s.streamErr == nil {
		s.streamErr = err
	}
	s.mu.Unlock()
}

// pushSentinel queues the nil end-of-audio marker exactly once. The
// sender may have already exited on a write error with the queue full;
// sendDone keeps the push from blocking on a queue nobody drains.
func (s *Session) pushSentinel() {
	s.sentinelOnce.Do(func() {
		select {
		case s.queue <- nil:
		case <-s.stopc:
		case <-s.sendDone:
		}
	})
}

// closeNow aborts the sender and closes the connection, unblocking the
// receiver's pending read.
func (s *Session) closeNow() {
	s.stopOnce.Do(func() {
		close(s.stopc)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// senderLoop drains the audio queue, re-blocks chunks into wire segments,
// and sends one frame per segment. The sentinel flushes the remainder as
// the terminal frame with a negated sequence.
func (s *Session) senderLoop() {
	defer close(s.sendDone)

	segmenter := audio.NewSegmenter(s.config.SegmentSize)

	for {
		select {
		case <-s.stopc:
			return
		case chunk := <-s.queue:
			if chunk == nil {
				final := segmenter.DrainFinal()
				if err := s.sendFrame(final, true); err != nil {
					s.logger.Error("Failed to send terminal frame",
						slog.String("error", err.Error()))
					s.setError(err)
				}
				return
			}
			for _, segment := range segmenter.Push(chunk) {
				if err := s.sendFrame(segment, false); err != nil {
					s.logger.Error("Failed to send audio frame",
						slog.String("error", err.Error()))
					s.setError(err)
					return
				}
			}
		}
	}
}

func (s *Session) sendFrame(segment []byte, isLast bool) error {
	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	frame, err := protocol.NewAudioOnlyRequest(seq, segment, isLast)
	if err != nil {
		return fmt.Errorf("failed to build audio frame: %w", err)
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.SendTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("failed to write audio frame: %w", err)
	}

	s.metrics.RecordFrameSent()
	return nil
}

// receiverLoop consumes server responses until the final package, a
// server-reported error, or a transport error. The read blocks; teardown
// unblocks it by closing the connection.
func (s *Session) receiverLoop() {
	defer close(s.recvDone)

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopc:
				// Expected: teardown closed the connection.
			default:
				s.logger.Error("Receive failed", slog.String("error", err.Error()))
				s.setError(fmt.Errorf("receive failed: %w", err))
				s.metrics.RecordSessionFailure()
			}
			return
		}

		resp, err := protocol.ParseResponse(msg)
		if err != nil {
			s.logger.Warn("Dropping unparseable frame", slog.String("error", err.Error()))
			s.metrics.RecordFrameParseError()
			continue
		}
		s.metrics.RecordFrameReceived()

		if resp.Code != 0 {
			s.logger.Error("Endpoint reported error", slog.Int("code", int(resp.Code)))
			s.setError(fmt.Errorf("endpoint error: code %d", resp.Code))
			s.metrics.RecordSessionFailure()
			return
		}

		if text, ok := resp.Text(); ok {
			s.mu.Lock()
			s.latest = text
			s.mu.Unlock()
			s.metrics.RecordTranscriptUpdate()
			s.onText(text)
		}

		if resp.IsLastPackage {
			s.logger.Debug("Final response received",
				slog.String("request_id", s.requestID))
			return
		}
	}
}

// closer tears the connection down once the receiver has ended, then
// waits for the sender before marking the session closed.
func (s *Session) closer() {
	<-s.recvDone
	s.closeNow()
	<-s.sendDone
	s.setState(StateClosed)
	close(s.done)
}
