package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Source captures raw PCM audio and delivers it in chunks via a push
// callback. Implementations must deliver 16 kHz mono s16le data.
type Source interface {
	// Start begins capture. onChunk is invoked from the capture goroutine
	// with each raw buffer; the callback must not retain the slice.
	Start(onChunk func([]byte)) error
	// Stop ends capture and releases the device. Safe to call when not
	// started.
	Stop() error
}

// MicSource captures from the default input device via PortAudio.
type MicSource struct {
	framesPerBuffer int
	logger          *slog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewMicSource creates a microphone source. framesPerBuffer controls the
// capture granularity; a non-positive value uses 1024 frames.
func NewMicSource(framesPerBuffer int, logger *slog.Logger) *MicSource {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MicSource{
		framesPerBuffer: framesPerBuffer,
		logger:          logger,
	}
}

// Start opens the default input stream and begins delivering chunks.
func (m *MicSource) Start(onChunk func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("microphone source already started")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init failed: %w", err)
	}

	in := make([]int16, m.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(Channels, 0, float64(SampleRate), len(in), in)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	go m.captureLoop(stream, in, onChunk, m.stop, m.done)

	m.logger.Debug("Microphone capture started",
		slog.Int("sample_rate", SampleRate),
		slog.Int("frames_per_buffer", m.framesPerBuffer))

	return nil
}

func (m *MicSource) captureLoop(stream *portaudio.Stream, in []int16, onChunk func([]byte), stop, done chan struct{}) {
	defer close(done)
	defer portaudio.Terminate()
	defer stream.Close()
	defer stream.Stop()

	chunk := make([]byte, len(in)*BytesPerSample)
	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			// Overflows happen when the consumer stalls briefly; the
			// device keeps running, so keep reading.
			if err == portaudio.InputOverflowed {
				m.logger.Debug("Input overflow, continuing")
				continue
			}
			m.logger.Error("Capture read failed", slog.String("error", err.Error()))
			return
		}

		for i, sample := range in {
			binary.LittleEndian.PutUint16(chunk[i*2:], uint16(sample))
		}
		onChunk(chunk)
	}
}

// Stop ends capture and waits for the capture goroutine to exit.
func (m *MicSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	close(m.stop)
	<-m.done
	m.running = false

	m.logger.Debug("Microphone capture stopped")
	return nil
}
