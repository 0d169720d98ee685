// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

// shuttle drives two DTLS engines to completion by carrying each
// side's outcome packets to the other, the way the ICE transport
// would over the wire. Returns the completion payloads.
func shuttle(t *testing.T, client, server *DTLS) (clientPayload, serverPayload []byte) {
	t.Helper()

	if _, err := server.ConnectionReady(); err != nil {
		t.Fatalf("server ConnectionReady: %v", err)
	}
	outcome, err := client.ConnectionReady()
	if err != nil {
		t.Fatalf("client ConnectionReady: %v", err)
	}
	if len(outcome.Packets) == 0 {
		t.Fatal("client ConnectionReady produced no first flight")
	}

	// Alternate deliveries until both sides report completion. A full
	// DTLS 1.2 handshake with cookie exchange takes six flights; the
	// iteration cap only guards against a protocol stall.
	toServer := outcome.Packets
	var toClient [][]byte
	clientDone, serverDone := false, false

	for iteration := 0; iteration < 32; iteration++ {
		if clientDone && serverDone {
			break
		}

		progressed := false
		if len(toServer) > 0 && !serverDone {
			packet := toServer[0]
			toServer = toServer[1:]
			outcome, err := server.RecvFromPeer(packet)
			if err != nil {
				t.Fatalf("server RecvFromPeer: %v", err)
			}
			toClient = append(toClient, outcome.Packets...)
			if outcome.Finished {
				serverDone = true
				serverPayload = outcome.Payload
			}
			progressed = true
		}
		if len(toClient) > 0 && !clientDone {
			packet := toClient[0]
			toClient = toClient[1:]
			outcome, err := client.RecvFromPeer(packet)
			if err != nil {
				t.Fatalf("client RecvFromPeer: %v", err)
			}
			toServer = append(toServer, outcome.Packets...)
			if outcome.Finished {
				clientDone = true
				clientPayload = outcome.Payload
			}
			progressed = true
		}
		if !progressed {
			t.Fatalf("handshake stalled: clientDone=%v serverDone=%v", clientDone, serverDone)
		}
	}

	if !clientDone || !serverDone {
		t.Fatalf("handshake did not complete: clientDone=%v serverDone=%v", clientDone, serverDone)
	}
	return clientPayload, serverPayload
}

// TestDTLS_MutualHandshake runs a client and a server engine against
// each other and verifies both export identical SRTP keying material.
func TestDTLS_MutualHandshake(t *testing.T) {
	client, err := NewDTLS(DTLSRoleClient)
	if err != nil {
		t.Fatalf("NewDTLS(client): %v", err)
	}
	defer client.Close()

	server, err := NewDTLS(DTLSRoleServer)
	if err != nil {
		t.Fatalf("NewDTLS(server): %v", err)
	}
	defer server.Close()

	clientPayload, serverPayload := shuttle(t, client, server)

	if len(clientPayload) != keyingMaterialLength {
		t.Errorf("client payload length = %d, want %d", len(clientPayload), keyingMaterialLength)
	}
	if !bytes.Equal(clientPayload, serverPayload) {
		t.Error("client and server exported different keying material")
	}
}

// TestDTLS_NoCallsAfterFinished verifies the terminal-state contract:
// a finished engine rejects further RecvFromPeer calls instead of
// corrupting its state.
func TestDTLS_NoCallsAfterFinished(t *testing.T) {
	client, err := NewDTLS(DTLSRoleClient)
	if err != nil {
		t.Fatalf("NewDTLS(client): %v", err)
	}
	defer client.Close()

	server, err := NewDTLS(DTLSRoleServer)
	if err != nil {
		t.Fatalf("NewDTLS(server): %v", err)
	}
	defer server.Close()

	shuttle(t, client, server)

	if _, err := client.RecvFromPeer([]byte{0x16, 0xfe, 0xfd}); err != ErrHandshakeComplete {
		t.Errorf("RecvFromPeer after completion: got %v, want ErrHandshakeComplete", err)
	}
}

// TestDTLS_InitAdvertisesFingerprint verifies that init data is the
// SHA-256 certificate fingerprint in SDP form.
func TestDTLS_InitAdvertisesFingerprint(t *testing.T) {
	engine, err := NewDTLS(DTLSRoleClient)
	if err != nil {
		t.Fatalf("NewDTLS: %v", err)
	}
	defer engine.Close()

	result, err := engine.Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if result.Finished {
		t.Fatal("DTLS must not finish at init")
	}
	if string(result.InitData) != engine.Fingerprint() {
		t.Errorf("init data %q does not match fingerprint %q", result.InitData, engine.Fingerprint())
	}
	// SHA-256 fingerprint: 32 colon-separated hex octets.
	if got := strings.Count(string(result.InitData), ":"); got != 31 {
		t.Errorf("fingerprint has %d separators, want 31: %q", got, result.InitData)
	}
}

// TestDTLS_Classification verifies the RFC 7983 first-byte demux
// range and that application-looking datagrams fall outside it.
func TestDTLS_Classification(t *testing.T) {
	engine, err := NewDTLS(DTLSRoleClient)
	if err != nil {
		t.Fatalf("NewDTLS: %v", err)
	}
	defer engine.Close()

	cases := []struct {
		name string
		data []byte
		want bool
	}{
		{"empty", nil, false},
		{"change cipher spec", []byte{20, 0xfe, 0xfd}, true},
		{"alert", []byte{21, 0xfe, 0xfd}, true},
		{"handshake record", []byte{22, 0xfe, 0xfd}, true},
		{"application record", []byte{23, 0xfe, 0xfd}, true},
		{"upper demux bound", []byte{63}, true},
		{"stun binding", []byte{0, 1}, false},
		{"rtp", []byte{0x80, 0x60}, false},
		{"text", []byte("hello"), false},
	}
	for _, tc := range cases {
		if got := engine.IsHandshakePacket(tc.data); got != tc.want {
			t.Errorf("%s: IsHandshakePacket = %v, want %v", tc.name, got, tc.want)
		}
	}
}

// TestPacketPipe_DoneWinsOverSettledFlight verifies completion is
// reported even when the final flight has already been written and
// settled by the time awaitFlight looks at the pipe.
func TestPacketPipe_DoneWinsOverSettledFlight(t *testing.T) {
	pipe := newPacketPipe()
	if _, err := pipe.WriteTo([]byte{22, 0xfe, 0xfd}, pipe.peerAddr()); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	pipe.markDone()

	if !pipe.awaitFlight(0, flightWait, flightSettle) {
		t.Fatal("awaitFlight ignored a completed handshake")
	}
}

// TestPacketPipe_CompletionDuringSettle verifies the last flight of a
// handshake is never reported as unfinished: when completion lands
// while awaitFlight is settling the flight, the caller must see done.
func TestPacketPipe_CompletionDuringSettle(t *testing.T) {
	pipe := newPacketPipe()
	if _, err := pipe.WriteTo([]byte{22, 0xfe, 0xfd}, pipe.peerAddr()); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	go func() {
		time.Sleep(flightSettle / 2)
		pipe.markDone()
	}()

	if !pipe.awaitFlight(0, flightWait, flightSettle) {
		t.Fatal("awaitFlight reported an unfinished flight despite completion")
	}
}
