// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrStreamNotReady is the send-failure cause when a write arrives
// before any component of the stream has become transport-ready (no
// stream id exists yet, so the external transport has nothing to
// address the payload to).
var ErrStreamNotReady = errors.New("no component of the stream is transport-ready yet")

// Gate is the outbound write path for one stream. It forwards
// application data to the external transport while the pipeline is
// playing, drops writes otherwise, and converts send failures into
// notifications instead of pipeline errors.
//
// Flow control is pull-based: each accepted write is acknowledged
// with exactly one demand callback, keeping one outstanding unit of
// demand per component. A dropped out-of-play-state write deliberately
// requests nothing; the caller's own demand model resumes the flow
// when the pipeline returns to playing.
type Gate struct {
	logger  *slog.Logger
	sender  PayloadSender
	streams StreamIDSource

	playState atomic.Int32

	mu             sync.Mutex
	onDemand       func(componentID int)
	onNotification func(Notification)
}

// NewGate creates the write path for one stream. sender is the
// external transport; streams reports the stream id once known
// (typically the stream's [Coordinator]).
func NewGate(sender PayloadSender, streams StreamIDSource, logger *slog.Logger) *Gate {
	return &Gate{
		logger:  logger,
		sender:  sender,
		streams: streams,
	}
}

// OnDemand registers the request-more-input callback. Must be set
// before the first Write.
func (g *Gate) OnDemand(handler func(componentID int)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDemand = handler
}

// OnNotification registers the callback for non-fatal notifications.
func (g *Gate) OnNotification(handler func(Notification)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onNotification = handler
}

// SetPlayState records the owning pipeline's playback state.
func (g *Gate) SetPlayState(state PlayState) {
	g.playState.Store(int32(state))
}

// PlayState returns the last recorded playback state.
func (g *Gate) PlayState() PlayState {
	return PlayState(g.playState.Load())
}

// Write forwards one payload for the component to the external
// transport. Writes outside the playing state are dropped by policy.
// Send failures are reported as [CouldNotSendPayload] notifications;
// in both the success and failure case exactly one demand callback
// fires, so the caller's pull loop never stalls on a transport fault.
func (g *Gate) Write(componentID int, payload []byte) {
	if state := g.PlayState(); state != PlayStatePlaying {
		g.logger.Debug("dropping write outside playing state",
			"component", componentID,
			"state", state.String(),
			"bytes", len(payload),
		)
		return
	}

	streamID, ok := g.streams.StreamID()
	if !ok {
		g.fail(componentID, ErrStreamNotReady)
		return
	}

	if err := g.sender.SendPayload(streamID, componentID, payload); err != nil {
		g.logger.Warn("payload send failed",
			"stream", streamID,
			"component", componentID,
			"error", err,
		)
		g.fail(componentID, err)
		return
	}

	g.logger.Debug("payload sent",
		"stream", streamID,
		"component", componentID,
		"bytes", len(payload),
	)
	g.demand(componentID)
}

// fail reports a recoverable send failure and still requests more
// input, leaving retry policy to the caller.
func (g *Gate) fail(componentID int, cause error) {
	g.notify(CouldNotSendPayload{Cause: cause})
	g.demand(componentID)
}

func (g *Gate) demand(componentID int) {
	g.mu.Lock()
	handler := g.onDemand
	g.mu.Unlock()
	if handler != nil {
		handler(componentID)
	}
}

func (g *Gate) notify(notification Notification) {
	g.mu.Lock()
	handler := g.onNotification
	g.mu.Unlock()
	if handler != nil {
		handler(notification)
	}
}
