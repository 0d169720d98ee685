// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"testing"
)

// fakeSender records sends and fails on demand.
type fakeSender struct {
	sent []sentPayload
	err  error
}

type sentPayload struct {
	streamID    int
	componentID int
	payload     string
}

func (s *fakeSender) SendPayload(streamID, componentID int, payload []byte) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentPayload{streamID, componentID, string(payload)})
	return nil
}

// fixedStream is a StreamIDSource with a preset id.
type fixedStream struct {
	id    int
	known bool
}

func (s fixedStream) StreamID() (int, bool) { return s.id, s.known }

// gateHarness wires a gate to counting callbacks.
type gateHarness struct {
	gate          *Gate
	sender        *fakeSender
	demands       []int
	notifications []Notification
}

func newGateHarness(sender *fakeSender, streams StreamIDSource) *gateHarness {
	h := &gateHarness{sender: sender}
	h.gate = NewGate(sender, streams, testLogger())
	h.gate.OnDemand(func(componentID int) {
		h.demands = append(h.demands, componentID)
	})
	h.gate.OnNotification(func(n Notification) {
		h.notifications = append(h.notifications, n)
	})
	return h
}

// TestGate_WriteWhilePlaying verifies the accept path: the payload is
// forwarded with the stream id, one demand fires, no notification.
func TestGate_WriteWhilePlaying(t *testing.T) {
	h := newGateHarness(&fakeSender{}, fixedStream{id: 4, known: true})
	h.gate.SetPlayState(PlayStatePlaying)

	h.gate.Write(1, []byte("media"))

	if len(h.sender.sent) != 1 {
		t.Fatalf("sent %d payloads, want 1", len(h.sender.sent))
	}
	got := h.sender.sent[0]
	if got.streamID != 4 || got.componentID != 1 || got.payload != "media" {
		t.Errorf("sent %+v, want stream 4, component 1, payload media", got)
	}
	if len(h.demands) != 1 || h.demands[0] != 1 {
		t.Errorf("demands = %v, want exactly one for component 1", h.demands)
	}
	if len(h.notifications) != 0 {
		t.Errorf("unexpected notifications: %+v", h.notifications)
	}
}

// TestGate_SendFailure verifies the failure path: one
// CouldNotSendPayload notification carrying the cause, and still one
// demand so the pull loop continues.
func TestGate_SendFailure(t *testing.T) {
	cause := errors.New("socket gone")
	h := newGateHarness(&fakeSender{err: cause}, fixedStream{id: 4, known: true})
	h.gate.SetPlayState(PlayStatePlaying)

	h.gate.Write(2, []byte("media"))

	if len(h.notifications) != 1 {
		t.Fatalf("got %d notifications, want 1", len(h.notifications))
	}
	failure, ok := h.notifications[0].(CouldNotSendPayload)
	if !ok {
		t.Fatalf("notification type %T, want CouldNotSendPayload", h.notifications[0])
	}
	if !errors.Is(failure.Cause, cause) {
		t.Errorf("cause = %v, want %v", failure.Cause, cause)
	}
	if len(h.demands) != 1 || h.demands[0] != 2 {
		t.Errorf("demands = %v, want exactly one for component 2", h.demands)
	}
}

// TestGate_DropOutsidePlaying verifies the policy drop: no transport
// call, no demand, no notification, in every non-playing state.
func TestGate_DropOutsidePlaying(t *testing.T) {
	for _, state := range []PlayState{PlayStateStopped, PlayStatePrepared} {
		h := newGateHarness(&fakeSender{}, fixedStream{id: 4, known: true})
		h.gate.SetPlayState(state)

		h.gate.Write(1, []byte("media"))

		if len(h.sender.sent) != 0 {
			t.Errorf("state %s: payload reached transport", state)
		}
		if len(h.demands) != 0 {
			t.Errorf("state %s: unexpected demand %v", state, h.demands)
		}
		if len(h.notifications) != 0 {
			t.Errorf("state %s: unexpected notifications %+v", state, h.notifications)
		}
	}
}

// TestGate_StreamNotReady verifies that a playing-state write before
// any component is ready is treated as a send failure: notification
// plus demand, nothing on the wire.
func TestGate_StreamNotReady(t *testing.T) {
	h := newGateHarness(&fakeSender{}, fixedStream{})
	h.gate.SetPlayState(PlayStatePlaying)

	h.gate.Write(1, []byte("media"))

	if len(h.sender.sent) != 0 {
		t.Error("payload reached transport without a stream id")
	}
	if len(h.notifications) != 1 {
		t.Fatalf("got %d notifications, want 1", len(h.notifications))
	}
	failure, ok := h.notifications[0].(CouldNotSendPayload)
	if !ok || !errors.Is(failure.Cause, ErrStreamNotReady) {
		t.Errorf("notification = %+v, want CouldNotSendPayload(ErrStreamNotReady)", h.notifications[0])
	}
	if len(h.demands) != 1 {
		t.Errorf("demands = %v, want exactly one", h.demands)
	}
}

// TestGate_CoordinatorAsStreamSource verifies the gate picks up the
// stream id the coordinator learned from the first readiness event.
func TestGate_CoordinatorAsStreamSource(t *testing.T) {
	coordinator := NewCoordinator(testLogger())
	sender := &fakeSender{}
	h := newGateHarness(sender, coordinator)
	h.gate.SetPlayState(PlayStatePlaying)

	if _, err := coordinator.ComponentReady(9, 1, nil); err != nil {
		t.Fatalf("ComponentReady: %v", err)
	}
	h.gate.Write(1, []byte("media"))

	if len(sender.sent) != 1 || sender.sent[0].streamID != 9 {
		t.Fatalf("sent = %+v, want one payload on stream 9", sender.sent)
	}
}
