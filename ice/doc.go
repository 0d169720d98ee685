// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

// Package ice supplies the external transport side of the readiness
// coordination core: per-component ICE connectivity built on
// pion/ice, with the handshake engine and the transport package's
// coordinator and gate wired together in an [Endpoint].
//
// Each component gets its own [ice.Agent] negotiating one candidate
// pair; the stream is the set of components sharing an Endpoint and a
// stream id. Credential and candidate exchange is abstracted behind
// the [Signaler] interface — [MemorySignaler] provides the in-process
// implementation used by tests and the demo binary; production
// deployments bring their own (SDP, a rendezvous service, a message
// bus).
//
// When a component's agent connects, the Endpoint drives its
// handshake engine: ConnectionReady first, then one RecvFromPeer per
// inbound datagram the engine classifies as handshake traffic, with
// every outcome's packets written back to the wire. On a finished
// outcome the completion payload flows into the coordinator as the
// component's readiness record. Application datagrams bypass the
// engine and reach the OnData callback.
//
// [Config] holds STUN/TURN server settings, loaded from YAML, and
// converts them to pion URI form.
package ice
