package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bft-labs/replayship/internal/domain"
)

// maxPayload guards decoding against corrupt length prefixes.
const maxPayload = 64 << 20

// ErrTruncated is returned when input ends in the middle of a message.
var ErrTruncated = errors.New("codec: truncated message")

// Event is a typed telemetry event that can be serialized.
type Event interface {
	// Kind returns the wire tag of the event.
	Kind() domain.Kind

	// AppendPayload appends the encoded fields to dst.
	AppendPayload(dst []byte) []byte
}

// Encode serializes ev with the given timestamp into a standalone message.
func Encode(ev Event, ts time.Time) []byte {
	return AppendMessage(nil, ev.Kind(), uint64(ts.UnixMilli()), ev.AppendPayload(nil))
}

// AppendMessage appends one framed message to dst.
func AppendMessage(dst []byte, kind domain.Kind, ts uint64, payload []byte) []byte {
	dst = append(dst, byte(kind))
	dst = binary.AppendUvarint(dst, ts)
	dst = binary.AppendUvarint(dst, uint64(len(payload)))
	return append(dst, payload...)
}

// Decode reads the first message from data and returns it together with the
// number of bytes consumed.
func Decode(data []byte) (domain.Message, int, error) {
	if len(data) == 0 {
		return domain.Message{}, 0, io.EOF
	}
	kind := domain.Kind(data[0])
	pos := 1

	ts, n := binary.Uvarint(data[pos:])
	if n <= 0 {
		return domain.Message{}, 0, ErrTruncated
	}
	pos += n

	size, n := binary.Uvarint(data[pos:])
	if n <= 0 {
		return domain.Message{}, 0, ErrTruncated
	}
	pos += n

	if size > maxPayload || uint64(len(data)-pos) < size {
		return domain.Message{}, 0, ErrTruncated
	}
	payload := data[pos : pos+int(size)]
	pos += int(size)

	return domain.Message{Kind: kind, Timestamp: ts, Payload: payload}, pos, nil
}

// DecodeAll splits a concatenated stream (a batch or spill file) into messages.
func DecodeAll(data []byte) ([]domain.Message, error) {
	var out []domain.Message
	for len(data) > 0 {
		msg, n, err := Decode(data)
		if err != nil {
			return out, err
		}
		out = append(out, msg)
		data = data[n:]
	}
	return out, nil
}

// Reader decodes messages from a stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next message. It returns io.EOF at a clean end of stream
// and ErrTruncated if the stream stops mid-message.
func (r *Reader) Next() (domain.Message, error) {
	kind, err := r.r.ReadByte()
	if err != nil {
		return domain.Message{}, err
	}
	ts, err := binary.ReadUvarint(r.r)
	if err != nil {
		return domain.Message{}, ErrTruncated
	}
	size, err := binary.ReadUvarint(r.r)
	if err != nil || size > maxPayload {
		return domain.Message{}, ErrTruncated
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return domain.Message{}, ErrTruncated
	}
	return domain.Message{Kind: domain.Kind(kind), Timestamp: ts, Payload: payload}, nil
}

// DecodeEvent decodes the payload of msg into its typed event.
func DecodeEvent(msg domain.Message) (Event, error) {
	f := &fieldReader{buf: msg.Payload}
	var ev Event
	switch msg.Kind {
	case domain.KindBatchMeta:
		ev = BatchMeta{FirstIndex: f.uint()}
	case domain.KindMetadata:
		ev = Metadata{Key: f.str(), Value: f.str()}
	case domain.KindEvent:
		ev = CustomEvent{Name: f.str(), Payload: f.str()}
	case domain.KindUserID:
		ev = UserID{ID: f.str()}
	case domain.KindUserAnonymousID:
		ev = UserAnonymousID{ID: f.str()}
	case domain.KindCrash:
		ev = Crash{Name: f.str(), Reason: f.str(), Stacktrace: f.str()}
	case domain.KindClickEvent:
		ev = ClickEvent{Label: f.str(), X: f.uint(), Y: f.uint()}
	case domain.KindInputEvent:
		ev = InputEvent{Value: f.str(), ValueMasked: f.boolean(), Label: f.str()}
	case domain.KindPerformanceEvent:
		ev = PerformanceEvent{Name: f.str(), Value: f.uint()}
	case domain.KindLog:
		ev = Log{Severity: f.str(), Content: f.str()}
	case domain.KindInternalError:
		ev = InternalError{Content: f.str()}
	case domain.KindNetworkCall:
		ev = NetworkCall{
			Type:     f.str(),
			Method:   f.str(),
			URL:      f.str(),
			Request:  f.str(),
			Response: f.str(),
			Status:   f.uint(),
			Duration: f.uint(),
		}
	case domain.KindSwipeEvent:
		ev = SwipeEvent{Label: f.str(), X: f.uint(), Y: f.uint(), Direction: f.str()}
	default:
		return nil, fmt.Errorf("codec: unknown kind %d", uint8(msg.Kind))
	}
	if f.err != nil {
		return nil, fmt.Errorf("decode %s: %w", msg.Kind, f.err)
	}
	return ev, nil
}

// fieldReader reads payload fields, remembering the first error.
type fieldReader struct {
	buf []byte
	err error
}

func (f *fieldReader) uint() uint64 {
	if f.err != nil {
		return 0
	}
	v, n := binary.Uvarint(f.buf)
	if n <= 0 {
		f.err = ErrTruncated
		return 0
	}
	f.buf = f.buf[n:]
	return v
}

func (f *fieldReader) boolean() bool {
	if f.err != nil {
		return false
	}
	if len(f.buf) == 0 {
		f.err = ErrTruncated
		return false
	}
	v := f.buf[0] != 0
	f.buf = f.buf[1:]
	return v
}

func (f *fieldReader) str() string {
	size := f.uint()
	if f.err != nil {
		return ""
	}
	if uint64(len(f.buf)) < size {
		f.err = ErrTruncated
		return ""
	}
	s := string(f.buf[:size])
	f.buf = f.buf[size:]
	return s
}

func appendUint(dst []byte, v uint64) []byte {
	return binary.AppendUvarint(dst, v)
}

func appendBool(dst []byte, v bool) []byte {
	if v {
		return append(dst, 1)
	}
	return append(dst, 0)
}

func appendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}
