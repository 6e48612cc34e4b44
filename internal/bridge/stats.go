package bridge

import "github.com/rs/zerolog"

// Stats counts what the loop has done since it was created.
type Stats struct {
	DatagramsIn      uint64
	DatagramsOut     uint64
	FramesToDevice   uint64
	FramesFromDevice uint64
	BytesToDevice    uint64
	BytesFromDevice  uint64
	InvalidFrames    uint64
	Oversized        uint64
	ReceiveErrors    uint64
	SendErrors       uint64
	Heartbeats       uint64
	OutboundDropped  uint64
	InboundDropped   uint64
}

// MarshalZerologObject lets Stats be logged with Event.Object.
func (s Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Uint64("datagrams_in", s.DatagramsIn).
		Uint64("datagrams_out", s.DatagramsOut).
		Uint64("frames_to_device", s.FramesToDevice).
		Uint64("frames_from_device", s.FramesFromDevice).
		Uint64("bytes_to_device", s.BytesToDevice).
		Uint64("bytes_from_device", s.BytesFromDevice).
		Uint64("invalid_frames", s.InvalidFrames).
		Uint64("oversized", s.Oversized).
		Uint64("receive_errors", s.ReceiveErrors).
		Uint64("send_errors", s.SendErrors).
		Uint64("heartbeats", s.Heartbeats).
		Uint64("outbound_dropped", s.OutboundDropped).
		Uint64("inbound_dropped", s.InboundDropped)
}
