package slip

type decoderState uint8

const (
	stateIdle decoderState = iota
	stateOpen
	stateEscaped
	// stateDiscard drops bytes after an invalid frame until the next End.
	stateDiscard
)

// Decoder turns a continuous byte stream back into frames. It may be fed any
// number of chunks; state carries over between calls, so splitting the stream
// at arbitrary points yields the same frames.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	state    decoderState
	buf      []byte
	maxFrame int
}

// NewDecoder returns an idle decoder. Frames longer than maxFrame bytes are
// rejected with ErrFrameTooLong; maxFrame <= 0 disables the limit.
func NewDecoder(maxFrame int) *Decoder {
	return &Decoder{maxFrame: maxFrame}
}

// Reset discards any partial frame and returns the decoder to idle.
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.buf = nil
}

// InFrame reports whether a frame is currently being accumulated.
func (d *Decoder) InFrame() bool {
	return d.state == stateOpen || d.state == stateEscaped
}

// Feed processes p. For every frame completed, emit is called with the
// payload and a nil error; the slice is owned by the callee. For every frame
// discarded, emit is called with a nil frame and an error wrapping
// ErrInvalidFrame.
func (d *Decoder) Feed(p []byte, emit func(frame []byte, err error)) {
	for _, b := range p {
		d.step(b, emit)
	}
}

func (d *Decoder) step(b byte, emit func([]byte, error)) {
	switch d.state {
	case stateIdle:
		if b == End {
			return
		}
		// The byte that opens a frame is also its first payload byte.
		d.state = stateOpen
		d.buf = make([]byte, 0, 64)
		d.payload(b, emit)

	case stateOpen:
		d.payload(b, emit)

	case stateEscaped:
		if b == End {
			// The End still marks a boundary, so the next byte opens a frame.
			d.fail(ErrEscapedEnd, stateIdle, emit)
			return
		}
		out, ok := Unescape(b)
		if !ok {
			d.fail(ErrBadEscape, stateDiscard, emit)
			return
		}
		d.state = stateOpen
		d.append(out, emit)

	case stateDiscard:
		if b == End {
			d.state = stateIdle
		}
	}
}

func (d *Decoder) payload(b byte, emit func([]byte, error)) {
	switch b {
	case Esc:
		d.state = stateEscaped
	case End:
		frame := d.buf
		d.buf = nil
		d.state = stateIdle
		emit(frame, nil)
	default:
		d.append(b, emit)
	}
}

func (d *Decoder) append(b byte, emit func([]byte, error)) {
	if d.maxFrame > 0 && len(d.buf) >= d.maxFrame {
		d.fail(ErrFrameTooLong, stateDiscard, emit)
		return
	}
	d.buf = append(d.buf, b)
}

func (d *Decoder) fail(err error, next decoderState, emit func([]byte, error)) {
	d.buf = nil
	d.state = next
	emit(nil, err)
}
