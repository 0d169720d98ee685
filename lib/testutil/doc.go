// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds small helpers shared by the package tests.
// The channel helpers wrap the select-with-timeout pattern so tests
// that wait on asynchronous connectivity events cannot hang the
// suite.
package testutil
