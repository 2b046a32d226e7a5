package protocol

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Protocol constants. Each header field occupies one nibble.
const (
	// Protocol version
	Version = 0b0001

	// Message types
	MsgClientFullRequest      = 0b0001
	MsgClientAudioOnlyRequest = 0b0010
	MsgServerFullResponse     = 0b1001
	MsgServerErrorResponse    = 0b1111

	// Message-type specific flags
	FlagNoSequence      = 0b0000
	FlagPosSequence     = 0b0001
	FlagNegSequence     = 0b0010
	FlagNegWithSequence = 0b0011

	// Serialization methods
	SerializationNone = 0b0000
	SerializationJSON = 0b0001

	// Compression methods
	CompressionNone = 0b0000
	CompressionGzip = 0b0001

	// HeaderSize is the fixed header length in bytes. The header-word-count
	// nibble is always 1 (one 32-bit word) in this protocol's usage.
	HeaderSize = 4
)

// Flag bits within the message-type specific flags nibble.
const (
	flagBitSequence = 0b0001 // frame carries a 4-byte sequence number
	flagBitLast     = 0b0010 // frame is the last of the session
	flagBitEvent    = 0b0100 // frame carries a 4-byte event field (skipped)
)

// RequestOptions describes the recognition parameters carried by the
// handshake frame.
type RequestOptions struct {
	UserID          string
	ModelName       string
	SampleRate      int
	Bits            int
	Channels        int
	EnableITN       bool
	EnablePunc      bool
	EnableDDC       bool
	ShowUtterances  bool
	EnableNonstream bool
	EndWindowMs     int
}

// DefaultRequestOptions returns the recognition parameters used for live
// dictation: two-pass recognition with the high-accuracy pass triggered
// after 3 seconds of silence.
func DefaultRequestOptions() RequestOptions {
	return RequestOptions{
		UserID:          "doubaovoice_user",
		ModelName:       "bigmodel",
		SampleRate:      16000,
		Bits:            16,
		Channels:        1,
		EnableITN:       true,
		EnablePunc:      true,
		EnableDDC:       true,
		ShowUtterances:  true,
		EnableNonstream: true,
		EndWindowMs:     3000,
	}
}

// fullRequestPayload is the JSON body of the handshake frame.
type fullRequestPayload struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	Audio struct {
		Format  string `json:"format"`
		Codec   string `json:"codec"`
		Rate    int    `json:"rate"`
		Bits    int    `json:"bits"`
		Channel int    `json:"channel"`
	} `json:"audio"`
	Request struct {
		ModelName       string `json:"model_name"`
		EnableITN       bool   `json:"enable_itn"`
		EnablePunc      bool   `json:"enable_punc"`
		EnableDDC       bool   `json:"enable_ddc"`
		ShowUtterances  bool   `json:"show_utterances"`
		EnableNonstream bool   `json:"enable_nonstream"`
		EndWindowSize   int    `json:"end_window_size"`
	} `json:"request"`
}

// ResponseMessage is the decoded JSON payload of a server frame.
type ResponseMessage struct {
	Result *RecognitionResult `json:"result,omitempty"`
}

// RecognitionResult carries the recognized text. Responses are progressive:
// later text supersedes earlier text.
type RecognitionResult struct {
	Text       string      `json:"text"`
	Utterances []Utterance `json:"utterances,omitempty"`
}

// Utterance is one recognized utterance with timing information.
type Utterance struct {
	Text      string `json:"text"`
	StartTime int    `json:"start_time"`
	EndTime   int    `json:"end_time"`
	Definite  bool   `json:"definite"`
}

// Response represents a parsed server frame.
type Response struct {
	MessageType   uint8
	Flags         uint8
	Code          int32  // non-zero only for error responses
	IsLastPackage bool   // set when the last-package flag bit is present
	Sequence      int32  // set when the sequence flag bit is present
	PayloadSize   uint32 // declared compressed payload size
	Message       *ResponseMessage
}

// Text returns the recognized text carried by the frame, if any.
func (r *Response) Text() (string, bool) {
	if r.Message == nil || r.Message.Result == nil {
		return "", false
	}
	return r.Message.Result.Text, r.Message.Result.Text != ""
}

// String returns a human-readable representation of the response.
func (r *Response) String() string {
	text, _ := r.Text()
	return fmt.Sprintf("Response{Type:0b%04b, Seq:%d, Code:%d, Last:%v, TextLen:%d}",
		r.MessageType, r.Sequence, r.Code, r.IsLastPackage, len(text))
}

// buildHeader assembles the fixed 4-byte frame header.
func buildHeader(messageType, flags uint8) [HeaderSize]byte {
	return [HeaderSize]byte{
		Version<<4 | 0x01, // version nibble, one header word
		messageType<<4 | flags,
		SerializationJSON<<4 | CompressionGzip,
		0x00, // reserved
	}
}

// NewFullClientRequest builds the handshake frame that opens a recognition
// session. Layout: header(4B) | sequence(4B BE signed) | payload-size(4B BE
// unsigned) | gzip(JSON payload).
func NewFullClientRequest(seq int32, opts RequestOptions) ([]byte, error) {
	var payload fullRequestPayload
	payload.User.UID = opts.UserID
	payload.Audio.Format = "pcm"
	payload.Audio.Codec = "raw"
	payload.Audio.Rate = opts.SampleRate
	payload.Audio.Bits = opts.Bits
	payload.Audio.Channel = opts.Channels
	payload.Request.ModelName = opts.ModelName
	payload.Request.EnableITN = opts.EnableITN
	payload.Request.EnablePunc = opts.EnablePunc
	payload.Request.EnableDDC = opts.EnableDDC
	payload.Request.ShowUtterances = opts.ShowUtterances
	payload.Request.EnableNonstream = opts.EnableNonstream
	payload.Request.EndWindowSize = opts.EndWindowMs

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal handshake payload: %w", err)
	}

	compressed, err := Compress(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to compress handshake payload: %w", err)
	}

	return assembleFrame(buildHeader(MsgClientFullRequest, FlagPosSequence), seq, compressed), nil
}

// NewAudioOnlyRequest builds one audio segment frame. The terminal segment
// sets the NEG_WITH_SEQUENCE flags and transmits the negated sequence value;
// every other segment transmits the sequence as-is with POS_SEQUENCE.
func NewAudioOnlyRequest(seq int32, segment []byte, isLast bool) ([]byte, error) {
	flags := uint8(FlagPosSequence)
	if isLast {
		flags = FlagNegWithSequence
		seq = -seq
	}

	compressed, err := Compress(segment)
	if err != nil {
		return nil, fmt.Errorf("failed to compress audio segment: %w", err)
	}

	return assembleFrame(buildHeader(MsgClientAudioOnlyRequest, flags), seq, compressed), nil
}

// assembleFrame concatenates header, sequence, payload size, and payload.
func assembleFrame(header [HeaderSize]byte, seq int32, payload []byte) []byte {
	frame := make([]byte, 0, HeaderSize+8+len(payload))
	frame = append(frame, header[:]...)
	frame = binary.BigEndian.AppendUint32(frame, uint32(seq))
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)
	return frame
}

// ParseResponse decodes a server frame. A truncated or invalid header is a
// caller precondition violation and returns an error; a malformed trailing
// payload (bad gzip, bad JSON) is non-fatal and yields a metadata-only
// response.
func ParseResponse(msg []byte) (*Response, error) {
	if len(msg) < 1 {
		return nil, fmt.Errorf("frame too short: empty input")
	}

	headerWords := int(msg[0] & 0x0F)
	headerLen := headerWords * 4
	if len(msg) < headerLen || headerLen < HeaderSize {
		return nil, fmt.Errorf("frame too short: header declares %d bytes, got %d", headerLen, len(msg))
	}

	resp := &Response{
		MessageType: msg[1] >> 4,
		Flags:       msg[1] & 0x0F,
	}
	serialization := msg[2] >> 4
	compression := msg[2] & 0x0F

	payload := msg[headerLen:]

	if resp.Flags&flagBitSequence != 0 {
		if len(payload) < 4 {
			return nil, fmt.Errorf("frame too short: missing sequence field")
		}
		resp.Sequence = int32(binary.BigEndian.Uint32(payload[:4]))
		payload = payload[4:]
	}
	if resp.Flags&flagBitLast != 0 {
		resp.IsLastPackage = true
	}
	if resp.Flags&flagBitEvent != 0 {
		// Event field observed in traffic but never consumed; skip it.
		if len(payload) < 4 {
			return nil, fmt.Errorf("frame too short: missing event field")
		}
		payload = payload[4:]
	}

	switch resp.MessageType {
	case MsgServerFullResponse:
		if len(payload) < 4 {
			return nil, fmt.Errorf("frame too short: missing payload size")
		}
		resp.PayloadSize = binary.BigEndian.Uint32(payload[:4])
		payload = payload[4:]
	case MsgServerErrorResponse:
		if len(payload) < 8 {
			return nil, fmt.Errorf("frame too short: missing error code or payload size")
		}
		resp.Code = int32(binary.BigEndian.Uint32(payload[:4]))
		resp.PayloadSize = binary.BigEndian.Uint32(payload[4:8])
		payload = payload[8:]
	}

	if len(payload) == 0 {
		return resp, nil
	}

	if compression == CompressionGzip {
		decompressed, err := Decompress(payload)
		if err != nil {
			// Degrade to a metadata-only frame.
			return resp, nil
		}
		payload = decompressed
	}

	if serialization == SerializationJSON {
		var message ResponseMessage
		if err := json.Unmarshal(payload, &message); err == nil {
			resp.Message = &message
		}
	}

	return resp, nil
}

// Compress gzips a payload.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress gunzips a payload.
func Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
