// Package slip implements the SLIP/KISS byte framing used on the serial side
// of the bridge: frames are delimited by End and the two reserved bytes are
// escaped inside the payload.
package slip

import "errors"

const (
	End    = 0xC0
	Esc    = 0xDB
	EscEnd = 0xDC
	EscEsc = 0xDD
)

var (
	// ErrFrameOpen is returned when a frame is opened twice.
	ErrFrameOpen = errors.New("slip: frame is already open")
	// ErrFrameNotOpen is returned when bytes are encoded or a frame is closed
	// without a matching Open.
	ErrFrameNotOpen = errors.New("slip: frame is not open")

	// ErrInvalidFrame is wrapped by every error the Decoder reports for a
	// discarded frame.
	ErrInvalidFrame = errors.New("slip: invalid frame")

	ErrBadEscape    error = &frameError{"escape followed by a byte that is not a transposed value"}
	ErrEscapedEnd   error = &frameError{"escape followed by frame end"}
	ErrFrameTooLong error = &frameError{"frame exceeds maximum length"}
)

type frameError struct{ msg string }

func (e *frameError) Error() string { return "slip: invalid frame: " + e.msg }
func (e *frameError) Unwrap() error { return ErrInvalidFrame }

// Escape appends the wire form of a single payload byte to dst.
func Escape(dst []byte, b byte) []byte {
	switch b {
	case End:
		return append(dst, Esc, EscEnd)
	case Esc:
		return append(dst, Esc, EscEsc)
	default:
		return append(dst, b)
	}
}

// Unescape maps the byte following Esc back to the reserved value it stands
// for. ok is false if b is not a transposed value.
func Unescape(b byte) (out byte, ok bool) {
	switch b {
	case EscEnd:
		return End, true
	case EscEsc:
		return Esc, true
	default:
		return 0, false
	}
}

// Encode wraps data in SLIP framing.
// Adds END byte at start and end, escapes special bytes.
func Encode(data []byte) []byte {
	var e Encoder
	// Pre-allocate with some extra space for escapes
	out, _ := e.EncodeFrame(make([]byte, 0, len(data)+10), data)
	return out
}

// DecodeAll decodes every complete frame in stream using a fresh, unbounded
// decoder. Invalid frames are counted, not returned.
func DecodeAll(stream []byte) (frames [][]byte, invalid int) {
	d := NewDecoder(0)
	d.Feed(stream, func(frame []byte, err error) {
		if err != nil {
			invalid++
			return
		}
		frames = append(frames, frame)
	})
	return frames, invalid
}
