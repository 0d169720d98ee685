// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrStreamMismatch is the cause when a readiness event carries a
// stream id other than the one the coordinator serves. Match with
// [errors.Is]; the wrapping error names both ids.
var ErrStreamMismatch = errors.New("readiness event for a different stream")

// Compile-time interface check.
var _ StreamIDSource = (*Coordinator)(nil)

// componentState is the per-component readiness state. Transitions
// are monotonic: unbound → channelOnly or readyOnly → active. Nothing
// ever moves a component backward.
type componentState int

const (
	stateUnbound componentState = iota
	stateChannelOnly
	stateReadyOnly
	stateActive
)

func (s componentState) String() string {
	switch s {
	case stateChannelOnly:
		return "channel-only"
	case stateReadyOnly:
		return "ready-only"
	case stateActive:
		return "active"
	default:
		return "unbound"
	}
}

// componentRecord holds the two independent record slots for one
// component: the channel flag is implied by the state, the payload
// slot is filled when the component becomes transport-ready.
type componentRecord struct {
	state   componentState
	payload []byte
}

// Activation is returned exactly once per component, at the first
// moment both a data channel and transport readiness exist for it.
// The caller must perform both activation actions: request more input
// for the component's channel, and deliver Payload downstream
// out-of-band before any application data.
type Activation struct {
	ComponentID int
	// Payload is the handshake completion payload recorded when the
	// component became transport-ready.
	Payload []byte
}

// Coordinator reconciles, per component, the two independently-timed
// facts "has a data channel" and "is transport-ready". One instance
// serves exactly one stream: the stream id is assigned by the first
// ComponentReady call and is immutable afterwards.
//
// All methods are safe for concurrent use. Calls for the same
// component are expected to be sequential (the event dispatcher's
// contract), but the coordinator does not depend on it.
type Coordinator struct {
	logger *slog.Logger

	mu          sync.Mutex
	streamID    int
	streamKnown bool
	components  map[int]*componentRecord
}

// NewCoordinator creates a coordinator for one stream.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	return &Coordinator{
		logger:     logger,
		components: make(map[int]*componentRecord),
	}
}

// StreamID returns the stream id assigned by the external transport,
// and whether any component has become ready yet.
func (c *Coordinator) StreamID() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamID, c.streamKnown
}

// ChannelAttached records that the pipeline wired a data channel for
// the component. If the component is already transport-ready this
// completes the join and returns the activation; otherwise it returns
// nil. Reattachment for an already-active component is a no-op (the
// pipeline may re-add a pad; activation stays exactly-once).
func (c *Coordinator) ChannelAttached(componentID int) *Activation {
	c.mu.Lock()
	defer c.mu.Unlock()

	record := c.record(componentID)
	switch record.state {
	case stateUnbound:
		record.state = stateChannelOnly
		c.logger.Debug("data channel attached, awaiting readiness",
			"component", componentID,
		)
		return nil

	case stateReadyOnly:
		record.state = stateActive
		c.logger.Debug("data channel attached, component activating",
			"component", componentID,
		)
		return &Activation{ComponentID: componentID, Payload: record.payload}

	default:
		// channelOnly or active: duplicate attachment.
		c.logger.Debug("ignoring duplicate channel attachment",
			"component", componentID,
			"state", record.state.String(),
		)
		return nil
	}
}

// ComponentReady records that the external transport established
// connectivity for the component, carrying the handshake completion
// payload. The first call fixes the coordinator's stream id; later
// calls with a different stream id are rejected with
// [ErrStreamMismatch] and leave all state untouched. If a data channel is already attached
// this completes the join and returns the activation.
func (c *Coordinator) ComponentReady(streamID, componentID int, payload []byte) (*Activation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streamKnown && c.streamID != streamID {
		return nil, fmt.Errorf("component %d ready on stream %d, but coordinator serves stream %d: %w",
			componentID, streamID, c.streamID, ErrStreamMismatch)
	}
	if !c.streamKnown {
		c.streamID = streamID
		c.streamKnown = true
	}

	record := c.record(componentID)
	switch record.state {
	case stateUnbound:
		record.state = stateReadyOnly
		record.payload = payload
		c.logger.Debug("component ready, awaiting data channel",
			"stream", streamID,
			"component", componentID,
		)
		return nil, nil

	case stateChannelOnly:
		record.state = stateActive
		record.payload = payload
		c.logger.Debug("component ready, activating",
			"stream", streamID,
			"component", componentID,
		)
		return &Activation{ComponentID: componentID, Payload: payload}, nil

	default:
		// readyOnly or active: a second readiness event for the same
		// component indicates a confused transport. Keep the first
		// payload; activation stays exactly-once.
		c.logger.Debug("ignoring duplicate readiness",
			"stream", streamID,
			"component", componentID,
			"state", record.state.String(),
		)
		return nil, nil
	}
}

// record returns the component's record, creating it on first
// reference. Components are never explicitly destroyed; their
// lifetime follows the coordinator's.
func (c *Coordinator) record(componentID int) *componentRecord {
	record, ok := c.components[componentID]
	if !ok {
		record = &componentRecord{}
		c.components[componentID] = record
	}
	return record
}
