package audio

// Audio format constants for the recognition endpoint.
const (
	SampleRate     = 16000
	BytesPerSample = 2
	Channels       = 1

	// SegmentDurationMs is the wire segment length in milliseconds.
	SegmentDurationMs = 200

	// SegmentSize is the wire segment length in bytes:
	// 16000 Hz * 2 B * 0.2 s.
	SegmentSize = SampleRate * BytesPerSample * SegmentDurationMs / 1000
)

// Segmenter re-blocks an incoming PCM byte stream into fixed-size segments.
// Capture buffers arrive in arbitrary sizes; Push emits complete segments
// and buffers the remainder until more data arrives or DrainFinal is called.
type Segmenter struct {
	segmentSize int
	pending     []byte
}

// NewSegmenter creates a segmenter emitting segments of the given size.
// A non-positive size falls back to SegmentSize.
func NewSegmenter(segmentSize int) *Segmenter {
	if segmentSize <= 0 {
		segmentSize = SegmentSize
	}
	return &Segmenter{segmentSize: segmentSize}
}

// Push appends data to the pending buffer and returns all complete segments
// now available, in arrival order. Each returned segment is an independent
// copy of exactly segmentSize bytes.
func (s *Segmenter) Push(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	s.pending = append(s.pending, data...)

	var segments [][]byte
	for len(s.pending) >= s.segmentSize {
		segment := make([]byte, s.segmentSize)
		copy(segment, s.pending[:s.segmentSize])
		segments = append(segments, segment)
		s.pending = s.pending[s.segmentSize:]
	}
	return segments
}

// DrainFinal returns the buffered remainder as a final short segment and
// resets the segmenter. It returns nil when nothing is buffered.
func (s *Segmenter) DrainFinal() []byte {
	if len(s.pending) == 0 {
		return nil
	}
	final := make([]byte, len(s.pending))
	copy(final, s.pending)
	s.pending = s.pending[:0]
	return final
}

// Buffered returns the number of bytes waiting for a complete segment.
func (s *Segmenter) Buffered() int {
	return len(s.pending)
}
