// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/dtls/v3/pkg/crypto/fingerprint"
	"github.com/pion/dtls/v3/pkg/crypto/selfsign"
)

// Compile-time interface check.
var _ Engine = (*DTLS)(nil)

// srtpExtractorLabel is the TLS keying material exporter label for
// DTLS-SRTP (RFC 5764).
const srtpExtractorLabel = "EXTRACTOR-dtls_srtp"

// keyingMaterialLength is the number of exported bytes: client and
// server master keys (16 each) plus salts (14 each) for
// SRTP_AES128_CM_HMAC_SHA1_80.
const keyingMaterialLength = 60

// flightWait bounds how long a transition waits for the handshake
// goroutine to produce its next flight before concluding it has
// nothing to send.
const flightWait = 500 * time.Millisecond

// flightSettle is the window with no further writes after which a
// flight is considered complete. Flights are written datagram by
// datagram in quick succession, so a short settle suffices.
const flightSettle = 50 * time.Millisecond

// ErrHandshakeComplete is returned when a contract-violating call
// reaches an engine that already finished.
var ErrHandshakeComplete = errors.New("dtls handshake already complete")

// DTLSRole selects which side of the DTLS handshake this engine
// plays. The controlling ICE agent conventionally takes the client
// role.
type DTLSRole int

const (
	// DTLSRoleClient sends the first flight from ConnectionReady.
	DTLSRoleClient DTLSRole = iota
	// DTLSRoleServer emits nothing until the first inbound flight.
	DTLSRoleServer
)

func (r DTLSRole) String() string {
	if r == DTLSRoleServer {
		return "server"
	}
	return "client"
}

// DTLS runs a DTLS 1.2 handshake as a handshake [Engine]. The
// blocking pion/dtls state machine runs on its own goroutine over an
// in-memory packet pipe; each contract call feeds the pipe and
// collects the flight (or completion) the state machine produced in
// response.
//
// Init data is the SHA-256 fingerprint of the local self-signed
// certificate, suitable for advertising in SDP before negotiation.
// The completion payload is 60 bytes of keying material exported with
// the DTLS-SRTP label: both sides of a successful handshake export
// identical material.
type DTLS struct {
	role        DTLSRole
	certificate tls.Certificate
	fingerprint string

	pipe     *packetPipe
	result   chan dtlsResult
	drained  uint64 // pipe write count at the last outbound drain
	conn     *dtls.Conn
	finished bool
}

type dtlsResult struct {
	conn *dtls.Conn
	err  error
}

// NewDTLS creates a DTLS engine for one component, generating a fresh
// self-signed certificate.
func NewDTLS(role DTLSRole) (*DTLS, error) {
	certificate, err := selfsign.GenerateSelfSigned()
	if err != nil {
		return nil, fmt.Errorf("generating self-signed certificate: %w", err)
	}
	return NewDTLSWithCertificate(role, certificate)
}

// NewDTLSWithCertificate creates a DTLS engine using the given
// certificate, for callers that manage identity themselves.
func NewDTLSWithCertificate(role DTLSRole, certificate tls.Certificate) (*DTLS, error) {
	leaf := certificate.Leaf
	if leaf == nil {
		parsed, err := x509.ParseCertificate(certificate.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}
		leaf = parsed
	}
	certFingerprint, err := fingerprint.Fingerprint(leaf, crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("computing certificate fingerprint: %w", err)
	}
	return &DTLS{
		role:        role,
		certificate: certificate,
		fingerprint: certFingerprint,
	}, nil
}

// Fingerprint returns the SHA-256 fingerprint of the local
// certificate in the colon-separated hex form used in SDP.
func (d *DTLS) Fingerprint() string {
	return d.fingerprint
}

// Init returns the certificate fingerprint as init data. The DTLS
// handshake always requires a wire exchange, so Init never finishes.
func (d *DTLS) Init() (InitResult, error) {
	return InitResult{InitData: []byte(d.fingerprint)}, nil
}

// ConnectionReady starts the DTLS state machine. In the client role
// the returned outcome carries the first flight; the server role
// returns a bare continue and waits for the client hello.
func (d *DTLS) ConnectionReady() (Outcome, error) {
	if d.pipe != nil {
		return Outcome{}, errors.New("dtls engine: ConnectionReady called twice")
	}
	d.pipe = newPacketPipe()
	d.result = make(chan dtlsResult, 1)

	go func() {
		config := &dtls.Config{
			Certificates:         []tls.Certificate{d.certificate},
			InsecureSkipVerify:   true,
			ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		}
		var conn *dtls.Conn
		var err error
		if d.role == DTLSRoleClient {
			conn, err = dtls.Client(d.pipe, d.pipe.peerAddr(), config)
		} else {
			config.ClientAuth = dtls.RequireAnyClientCert
			conn, err = dtls.Server(d.pipe, d.pipe.peerAddr(), config)
		}
		if err == nil {
			err = conn.Handshake()
		}
		// Result first, then the done flag: once collectOutcome
		// observes done, the result is guaranteed to be buffered.
		d.result <- dtlsResult{conn: conn, err: err}
		d.pipe.markDone()
	}()

	return d.collectOutcome()
}

// IsHandshakePacket classifies datagrams per the RFC 7983 demux: DTLS
// record content types occupy the first-byte range [20, 63].
func (*DTLS) IsHandshakePacket(data []byte) bool {
	return len(data) > 0 && data[0] >= 20 && data[0] <= 63
}

// RecvFromPeer delivers one inbound handshake datagram to the state
// machine and collects the response flight or the completion.
func (d *DTLS) RecvFromPeer(data []byte) (Outcome, error) {
	if d.finished {
		return Outcome{}, ErrHandshakeComplete
	}
	if d.pipe == nil {
		return Outcome{}, errors.New("dtls engine: RecvFromPeer before ConnectionReady")
	}
	d.pipe.deliver(data)
	return d.collectOutcome()
}

// Close releases the engine. Safe to call at any point, including
// mid-handshake abandonment: it unblocks the handshake goroutine by
// closing the pipe.
func (d *DTLS) Close() error {
	if d.pipe != nil {
		d.pipe.close()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// collectOutcome waits for the state machine to either finish or go
// quiet after producing its next flight, then drains the pipe's
// outbound queue into an outcome.
func (d *DTLS) collectOutcome() (Outcome, error) {
	done := d.pipe.awaitFlight(d.drained, flightWait, flightSettle)
	packets, total := d.pipe.drainOutbound()
	d.drained = total
	if !done {
		if len(packets) > 0 {
			return ContinuePackets(packets...), nil
		}
		return Continue(), nil
	}

	result := <-d.result
	d.finished = true
	if result.err != nil {
		return Outcome{}, fmt.Errorf("dtls handshake (%s): %w", d.role, result.err)
	}
	d.conn = result.conn

	state, ok := result.conn.ConnectionState()
	if !ok {
		return Outcome{}, fmt.Errorf("reading dtls connection state: handshake not complete")
	}
	payload, err := state.ExportKeyingMaterial(srtpExtractorLabel, nil, keyingMaterialLength)
	if err != nil {
		return Outcome{}, fmt.Errorf("exporting keying material: %w", err)
	}

	if len(packets) > 0 {
		return FinishedWithPackets(payload, packets...), nil
	}
	return Finished(payload), nil
}

// packetPipe is the in-memory net.PacketConn the DTLS state machine
// runs over. Inbound datagrams arrive via deliver; outbound datagrams
// written by the state machine accumulate until drained. One mutex
// and condition variable guard all state so awaitFlight can observe
// write activity and completion.
type packetPipe struct {
	mu       sync.Mutex
	cond     *sync.Cond
	inbound  [][]byte
	outbound [][]byte
	writes   uint64 // total datagrams ever written, for settle detection
	done     bool
	closed   bool
	deadline time.Time
}

func newPacketPipe() *packetPipe {
	pipe := &packetPipe{}
	pipe.cond = sync.NewCond(&pipe.mu)
	return pipe
}

// pipeEndpointAddr is the synthetic peer address; real addressing is
// the ICE layer's concern.
type pipeEndpointAddr struct{}

func (pipeEndpointAddr) Network() string { return "handshake" }
func (pipeEndpointAddr) String() string  { return "peer" }

func (*packetPipe) peerAddr() net.Addr { return pipeEndpointAddr{} }

func (p *packetPipe) deliver(data []byte) {
	packet := make([]byte, len(data))
	copy(packet, data)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbound = append(p.inbound, packet)
	p.cond.Broadcast()
}

// drainOutbound removes and returns all pending outbound datagrams
// along with the total write count at the time of the drain.
func (p *packetPipe) drainOutbound() ([][]byte, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	packets := p.outbound
	p.outbound = nil
	return packets, p.writes
}

func (p *packetPipe) markDone() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = true
	p.cond.Broadcast()
}

func (p *packetPipe) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
}

// awaitFlight blocks until the state machine finishes, or until it
// has written datagrams beyond the seen count and then gone settle
// without further writes, or until wait elapses with no activity.
// Returns whether the handshake finished.
func (p *packetPipe) awaitFlight(seen uint64, wait, settle time.Duration) bool {
	deadline := time.Now().Add(wait)

	for {
		p.mu.Lock()
		done := p.done
		writes := p.writes
		p.mu.Unlock()

		if done {
			return true
		}
		if writes > seen {
			// A flight started. Wait for it to settle, still
			// watching for completion.
			seen = writes
			if p.sleepInterruptible(settle) {
				return true
			}
			p.mu.Lock()
			settled := p.writes == seen
			done = p.done
			p.mu.Unlock()
			// Completion can land between the settle sleep and this
			// check; done wins over a settled flight.
			if done {
				return true
			}
			if settled {
				return false
			}
			continue
		}
		if time.Now().After(deadline) {
			return false
		}
		if p.sleepInterruptible(settle) {
			return true
		}
	}
}

// sleepInterruptible sleeps for at most d, waking early when the
// handshake completes or the pipe closes. Returns whether the
// handshake completed.
func (p *packetPipe) sleepInterruptible(d time.Duration) bool {
	timer := time.AfterFunc(d, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()

	expire := time.Now().Add(d)
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.done && !p.closed && time.Now().Before(expire) {
		p.cond.Wait()
	}
	return p.done
}

// ReadFrom implements net.PacketConn for the DTLS state machine.
func (p *packetPipe) ReadFrom(buf []byte) (int, net.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return 0, nil, net.ErrClosed
		}
		if len(p.inbound) > 0 {
			break
		}
		if !p.deadline.IsZero() && !time.Now().Before(p.deadline) {
			return 0, nil, os.ErrDeadlineExceeded
		}
		p.cond.Wait()
	}
	packet := p.inbound[0]
	p.inbound = p.inbound[1:]
	n := copy(buf, packet)
	return n, pipeEndpointAddr{}, nil
}

// WriteTo implements net.PacketConn; outbound datagrams accumulate
// until the engine drains them into an outcome.
func (p *packetPipe) WriteTo(data []byte, _ net.Addr) (int, error) {
	packet := make([]byte, len(data))
	copy(packet, data)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, net.ErrClosed
	}
	p.outbound = append(p.outbound, packet)
	p.writes++
	p.cond.Broadcast()
	return len(data), nil
}

func (p *packetPipe) Close() error {
	p.close()
	return nil
}

func (p *packetPipe) LocalAddr() net.Addr { return pipeEndpointAddr{} }

func (p *packetPipe) SetDeadline(t time.Time) error {
	return p.SetReadDeadline(t)
}

func (p *packetPipe) SetReadDeadline(t time.Time) error {
	p.mu.Lock()
	p.deadline = t
	p.mu.Unlock()
	if !t.IsZero() {
		// Wake a blocked reader when the deadline passes.
		time.AfterFunc(time.Until(t), func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
	}
	return nil
}

func (p *packetPipe) SetWriteDeadline(time.Time) error {
	return nil // Writes never block.
}
