// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

// Package handshake defines the contract for pluggable per-component
// handshake protocols that must complete before application data flows
// over an ICE transport component.
//
// An [Engine] is bound to exactly one component for its entire
// lifetime. The surrounding transport drives it through three phases:
// [Engine.Init] once at construction time (its init data is advertised
// to the owning pipeline, e.g. a certificate fingerprint for SDP),
// [Engine.ConnectionReady] once when the component's transport becomes
// able to send and receive, and [Engine.RecvFromPeer] once per inbound
// packet that [Engine.IsHandshakePacket] classifies as handshake
// traffic. Every transition returns an [Outcome] carrying packets the
// transport must put on the wire and, once the handshake completes, an
// opaque completion payload (for DTLS-SRTP, the exported keying
// material).
//
// The predicate/handler split lets the transport demultiplex a single
// inbound datagram stream into handshake and application traffic
// without the engine needing visibility into transport framing.
//
// Two implementations are provided: [NoOp] finishes immediately at
// init and classifies nothing as handshake traffic, for pipelines that
// need no security layer; [DTLS] runs a DTLS 1.2 handshake via
// pion/dtls and exports SRTP keying material as its completion
// payload.
package handshake
