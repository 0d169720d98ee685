// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

package transport

// Notification is a non-fatal event surfaced to the owning pipeline.
// Notifications never abort the coordinator or the gate; they carry
// information the pipeline may act on (or ignore).
type Notification interface {
	notification()
}

// HandshakeInitData is raised once per component, immediately after
// the handshake engine's init. InitData is engine-defined; for DTLS
// it is the local certificate fingerprint to advertise before
// negotiation.
type HandshakeInitData struct {
	ComponentID int
	InitData    []byte
}

func (HandshakeInitData) notification() {}

// CouldNotSendPayload is raised when a gated write reaches the
// external transport but the send fails. Retry and backoff policy
// belong to the pipeline, not to this layer.
type CouldNotSendPayload struct {
	Cause error
}

func (CouldNotSendPayload) notification() {}
