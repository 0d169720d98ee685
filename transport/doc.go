// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport coordinates when application data may start
// flowing over the components of an ICE connection.
//
// Two facts become true at independent, unpredictable times for each
// component: the owning pipeline attaches a data channel for it, and
// the external ICE transport reports it ready with a handshake
// completion payload. The [Coordinator] tracks both per component and
// returns an [Activation] exactly once, at the first moment both are
// known, regardless of arrival order. The caller dispatches the two
// activation actions: request more input for the component's channel,
// and deliver the handshake payload downstream out-of-band so
// consumers learn it before any application data.
//
// The [Gate] is the outbound write path. It forwards writes to the
// external transport through the [PayloadSender] boundary, but only
// while the pipeline is in [PlayStatePlaying]; writes in any other
// state are dropped by policy (buffering, if any, is the external
// transport's concern). Send failures never fail the pipeline: they
// surface as [CouldNotSendPayload] notifications, and the gate still
// requests more input so the caller's demand loop keeps turning.
//
// Both types are owned per stream: one Coordinator and one Gate serve
// exactly one stream, constructed when the stream is first known and
// torn down with it.
package transport
