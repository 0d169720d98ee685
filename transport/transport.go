// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

package transport

// PayloadSender is the boundary to the external ICE transport. The
// implementation (an ICE connector, or a fake in tests) owns sockets,
// candidate pairs, and any buffering while connectivity is still
// being established.
type PayloadSender interface {
	// SendPayload transmits one datagram for the given component of
	// the given stream. A returned error is a recoverable transport
	// condition, not a pipeline failure.
	SendPayload(streamID, componentID int, payload []byte) error
}

// StreamIDSource reports the stream id once the external transport
// has assigned one. The second return is false until the first
// component of the stream becomes ready.
type StreamIDSource interface {
	StreamID() (int, bool)
}

// PlayState mirrors the owning pipeline's playback state. Only
// PlayStatePlaying permits outbound writes through the [Gate].
type PlayState int32

const (
	// PlayStateStopped is the initial and final pipeline state.
	PlayStateStopped PlayState = iota
	// PlayStatePrepared means resources exist but data must not flow.
	PlayStatePrepared
	// PlayStatePlaying permits data flow.
	PlayStatePlaying
)

func (s PlayState) String() string {
	switch s {
	case PlayStateStopped:
		return "stopped"
	case PlayStatePrepared:
		return "prepared"
	case PlayStatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}
