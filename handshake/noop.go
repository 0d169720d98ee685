// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

// Compile-time interface check.
var _ Engine = (*NoOp)(nil)

// NoOp is the trivial handshake: it finishes immediately at init with
// no payload, and classifies nothing as handshake traffic. Pipelines
// that need no security layer use it so that components activate as
// soon as ICE connectivity is established.
type NoOp struct{}

// NewNoOp returns a NoOp engine.
func NewNoOp() *NoOp {
	return &NoOp{}
}

// Init reports immediate completion with no init data.
func (*NoOp) Init() (InitResult, error) {
	return InitResult{Finished: true}, nil
}

// ConnectionReady is never reached under the contract (the handshake
// finished at init); it returns an empty continue outcome for callers
// that do not honor the init short-circuit.
func (*NoOp) ConnectionReady() (Outcome, error) {
	return Continue(), nil
}

// IsHandshakePacket always reports false: every inbound datagram is
// application data.
func (*NoOp) IsHandshakePacket([]byte) bool {
	return false
}

// RecvFromPeer is never reached under the contract.
func (*NoOp) RecvFromPeer([]byte) (Outcome, error) {
	return Continue(), nil
}
