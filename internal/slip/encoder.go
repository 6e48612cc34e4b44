package slip

// Encoder produces the wire form of frames one step at a time. The zero value
// is a closed encoder ready for use.
//
// All methods append to dst and return the extended slice, so a caller can
// build an entire burst of frames into one buffer.
type Encoder struct {
	open bool
}

// IsOpen reports whether a frame has been opened and not yet closed.
func (e *Encoder) IsOpen() bool {
	return e.open
}

// Open starts a new frame.
func (e *Encoder) Open(dst []byte) ([]byte, error) {
	if e.open {
		return dst, ErrFrameOpen
	}
	e.open = true
	return append(dst, End), nil
}

// EncodeByte appends one escaped payload byte to the open frame.
func (e *Encoder) EncodeByte(dst []byte, b byte) ([]byte, error) {
	if !e.open {
		return dst, ErrFrameNotOpen
	}
	return Escape(dst, b), nil
}

// Close terminates the open frame.
func (e *Encoder) Close(dst []byte) ([]byte, error) {
	if !e.open {
		return dst, ErrFrameNotOpen
	}
	e.open = false
	return append(dst, End), nil
}

// EncodeFrame appends payload as one complete frame. The frame is closed even
// if encoding fails part way, so the encoder never stays open on return.
func (e *Encoder) EncodeFrame(dst, payload []byte) (out []byte, err error) {
	out, err = e.Open(dst)
	if err != nil {
		return dst, err
	}
	defer func() {
		var cerr error
		out, cerr = e.Close(out)
		if err == nil {
			err = cerr
		}
	}()

	for _, b := range payload {
		if out, err = e.EncodeByte(out, b); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Heartbeat appends a lone End when no frame is open. The receiving decoder
// treats it as idle filler, which keeps a link alive without touching an
// in-progress frame.
func (e *Encoder) Heartbeat(dst []byte) []byte {
	if e.open {
		return dst
	}
	return append(dst, End)
}
