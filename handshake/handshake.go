// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

// InitResult is returned by [Engine.Init]. When Finished is true the
// handshake needed no wire exchange at all: the transport makes no
// further engine calls for the component, and InitData doubles as the
// completion payload.
type InitResult struct {
	// InitData is an opaque payload the transport forwards to the
	// owning pipeline as a handshake-init-data notification before
	// negotiation starts (e.g. a certificate fingerprint to advertise
	// in SDP). May be nil.
	InitData []byte

	// Finished reports that the handshake completed without any
	// packet exchange.
	Finished bool
}

// Outcome is the tagged result of a handshake transition. It encodes
// four variants: Continue (nothing to send, not finished),
// ContinuePackets, Finished, and FinishedWithPackets. Use the
// constructor functions rather than building the struct directly.
type Outcome struct {
	// Finished reports that the handshake has completed. Once an
	// engine returns a finished outcome the transport makes no
	// further calls to it.
	Finished bool

	// Payload is the opaque completion payload. Only meaningful when
	// Finished is true.
	Payload []byte

	// Packets are datagrams the transport must send to the peer, in
	// order. Datagram boundaries are significant: each element is one
	// packet on the wire.
	Packets [][]byte
}

// Continue reports a transition that consumed input without producing
// output and did not finish the handshake.
func Continue() Outcome {
	return Outcome{}
}

// ContinuePackets reports a transition that produced packets to send
// but did not finish the handshake.
func ContinuePackets(packets ...[]byte) Outcome {
	return Outcome{Packets: packets}
}

// Finished reports handshake completion with no trailing packets.
func Finished(payload []byte) Outcome {
	return Outcome{Finished: true, Payload: payload}
}

// FinishedWithPackets reports handshake completion with trailing
// packets that must still reach the peer (e.g. the final DTLS server
// flight).
func FinishedWithPackets(payload []byte, packets ...[]byte) Outcome {
	return Outcome{Finished: true, Payload: payload, Packets: packets}
}

// Engine is a handshake protocol state machine bound to one transport
// component. Implementations own their state exclusively; the
// transport guarantees at most one in-flight call per engine, so no
// internal locking is required for the contract methods.
//
// Call sequence: Init exactly once, before the component's transport
// is ready. ConnectionReady exactly once, when the transport first
// becomes able to send and receive. RecvFromPeer once per inbound
// packet classified by IsHandshakePacket, in arrival order. After any
// finished result (from Init or an Outcome) no further calls are made.
// Engines must also tolerate being abandoned without further calls at
// any point, e.g. when the environment imposes a timeout by simply
// ceasing to deliver events.
type Engine interface {
	// Init prepares the engine and returns data to advertise before
	// negotiation. Called exactly once.
	Init() (InitResult, error)

	// ConnectionReady is called exactly once, when the component's
	// transport becomes usable. This is the conventional place to
	// emit the first handshake flight.
	ConnectionReady() (Outcome, error)

	// IsHandshakePacket classifies an inbound datagram as handshake
	// traffic versus application data. It must be side-effect-free:
	// the transport calls it before deciding whether to route data to
	// RecvFromPeer, including after the handshake has finished.
	IsHandshakePacket(data []byte) bool

	// RecvFromPeer processes one inbound handshake packet.
	RecvFromPeer(data []byte) (Outcome, error)
}

// Factory creates one engine per component. The transport calls it
// lazily, when a component is first set up.
type Factory func(componentID int) (Engine, error)
