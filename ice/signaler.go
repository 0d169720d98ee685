// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

package ice

import (
	"context"
	"fmt"
	"sync"
)

// Credentials are the ICE user fragment and password a peer needs to
// connect to one of our components.
type Credentials struct {
	UFrag string
	Pwd   string
}

// Signaler abstracts how two endpoints exchange ICE credentials and
// trickled candidates per component. Production deployments implement
// this over their session negotiation channel (SDP, a rendezvous
// service); [MemorySignaler] serves in-process tests and demos.
type Signaler interface {
	// PublishCredentials announces the local credentials for one
	// component under the endpoint's name.
	PublishCredentials(ctx context.Context, endpoint string, componentID int, credentials Credentials) error

	// AwaitCredentials blocks until the named peer endpoint has
	// published credentials for the component, or ctx is done.
	AwaitCredentials(ctx context.Context, endpoint string, componentID int) (Credentials, error)

	// PublishCandidate announces one marshalled local candidate for a
	// component. Candidates trickle: the peer consumes them while
	// connectivity checks run.
	PublishCandidate(ctx context.Context, endpoint string, componentID int, candidate string) error

	// Candidates returns the channel of marshalled candidates the
	// named peer endpoint has published for the component.
	Candidates(endpoint string, componentID int) <-chan string
}

// Compile-time interface check.
var _ Signaler = (*MemorySignaler)(nil)

// MemorySignaler is an in-process Signaler. Two Endpoints sharing one
// MemorySignaler can connect without any network signaling.
type MemorySignaler struct {
	mu          sync.Mutex
	credentials map[string]chan Credentials
	candidates  map[string]chan string
}

// NewMemorySignaler creates an empty in-process signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{
		credentials: make(map[string]chan Credentials),
		candidates:  make(map[string]chan string),
	}
}

func signalKey(endpoint string, componentID int) string {
	return fmt.Sprintf("%s/%d", endpoint, componentID)
}

func (s *MemorySignaler) credentialsChannel(key string) chan Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.credentials[key]
	if !ok {
		ch = make(chan Credentials, 1)
		s.credentials[key] = ch
	}
	return ch
}

func (s *MemorySignaler) candidateChannel(key string) chan string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.candidates[key]
	if !ok {
		// Gathering can outpace the consumer; a generous buffer keeps
		// publishing non-blocking for any realistic interface count.
		ch = make(chan string, 64)
		s.candidates[key] = ch
	}
	return ch
}

func (s *MemorySignaler) PublishCredentials(ctx context.Context, endpoint string, componentID int, credentials Credentials) error {
	select {
	case s.credentialsChannel(signalKey(endpoint, componentID)) <- credentials:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemorySignaler) AwaitCredentials(ctx context.Context, endpoint string, componentID int) (Credentials, error) {
	select {
	case credentials := <-s.credentialsChannel(signalKey(endpoint, componentID)):
		return credentials, nil
	case <-ctx.Done():
		return Credentials{}, ctx.Err()
	}
}

func (s *MemorySignaler) PublishCandidate(ctx context.Context, endpoint string, componentID int, candidate string) error {
	select {
	case s.candidateChannel(signalKey(endpoint, componentID)) <- candidate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemorySignaler) Candidates(endpoint string, componentID int) <-chan string {
	return s.candidateChannel(signalKey(endpoint, componentID))
}
