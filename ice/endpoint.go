// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

package ice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/ice/v4"

	"github.com/michael-borisov/membrane-ice-plugin/handshake"
	"github.com/michael-borisov/membrane-ice-plugin/transport"
)

// Compile-time interface check.
var _ transport.PayloadSender = (*Endpoint)(nil)

// readBufferSize fits any UDP datagram an agent conn can deliver.
const readBufferSize = 8192

// Role decides which side initiates connectivity checks. The
// controlling endpoint dials; the controlled endpoint accepts. By
// convention the controlling side also takes the DTLS client role.
type Role int

const (
	// Controlling dials the remote endpoint.
	Controlling Role = iota
	// Controlled accepts from the remote endpoint.
	Controlled
)

func (r Role) String() string {
	if r == Controlled {
		return "controlled"
	}
	return "controlling"
}

// EndpointConfig configures one endpoint of a stream.
type EndpointConfig struct {
	// Name identifies this endpoint in signaling.
	Name string

	// PeerName identifies the remote endpoint in signaling.
	PeerName string

	// StreamID is the id of the stream this endpoint serves. All
	// components share it.
	StreamID int

	// Components lists the component ids to establish. Empty means
	// the single component 1 (the RTP leg of an rtcp-mux stream).
	Components []int

	// Role selects dial versus accept.
	Role Role

	// EngineFactory builds the handshake engine for each component.
	EngineFactory handshake.Factory

	// ICE holds STUN/TURN server settings.
	ICE Config

	// Signaler exchanges credentials and candidates with the peer.
	Signaler Signaler

	// Logger receives structured records from the endpoint and, at
	// debug level, from the pion agent internals.
	Logger *slog.Logger
}

// Endpoint owns the ICE connectivity for one stream: one agent per
// component, the handshake engine runs, and the stream's readiness
// coordinator and write gate. It is the concrete implementation of
// the external-transport boundary the transport package specifies.
type Endpoint struct {
	name          string
	peerName      string
	streamID      int
	componentIDs  []int
	role          Role
	engineFactory handshake.Factory
	iceConfig     Config
	signaler      Signaler
	logger        *slog.Logger

	coordinator *transport.Coordinator
	gate        *transport.Gate

	mu         sync.Mutex
	components map[int]*component

	handlerMu      sync.Mutex
	onData         func(componentID int, data []byte)
	onDemand       func(componentID int)
	onActivation   func(componentID int, payload []byte)
	onNotification func(transport.Notification)

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// component tracks one agent, its handshake engine, and the conn once
// connectivity exists. engineDone and initPayload are touched only by
// the component's own goroutine after Start.
type component struct {
	id          int
	engine      handshake.Engine
	engineDone  bool
	initPayload []byte
	agent       *ice.Agent

	mu   sync.Mutex
	conn *ice.Conn
}

func (c *component) setConn(conn *ice.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *component) connection() *ice.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// NewEndpoint creates an endpoint. Register callbacks before calling
// Start.
func NewEndpoint(config EndpointConfig) (*Endpoint, error) {
	if config.Name == "" || config.PeerName == "" {
		return nil, errors.New("endpoint and peer names are required")
	}
	if config.EngineFactory == nil {
		return nil, errors.New("an engine factory is required")
	}
	if config.Signaler == nil {
		return nil, errors.New("a signaler is required")
	}
	if config.Logger == nil {
		return nil, errors.New("a logger is required")
	}
	componentIDs := config.Components
	if len(componentIDs) == 0 {
		componentIDs = []int{1}
	}

	endpoint := &Endpoint{
		name:          config.Name,
		peerName:      config.PeerName,
		streamID:      config.StreamID,
		componentIDs:  componentIDs,
		role:          config.Role,
		engineFactory: config.EngineFactory,
		iceConfig:     config.ICE,
		signaler:      config.Signaler,
		logger:        config.Logger.With("endpoint", config.Name),
		components:    make(map[int]*component),
		closed:        make(chan struct{}),
	}
	endpoint.coordinator = transport.NewCoordinator(endpoint.logger)
	endpoint.gate = transport.NewGate(endpoint, endpoint.coordinator, endpoint.logger)
	endpoint.gate.OnDemand(endpoint.dispatchDemand)
	endpoint.gate.OnNotification(endpoint.dispatchNotification)
	return endpoint, nil
}

// OnData registers the consumer for inbound application datagrams.
func (e *Endpoint) OnData(handler func(componentID int, data []byte)) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	e.onData = handler
}

// OnDemand registers the request-more-input consumer. It fires once
// per accepted write and once at component activation.
func (e *Endpoint) OnDemand(handler func(componentID int)) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	e.onDemand = handler
}

// OnActivation registers the consumer for the one-time activation of
// a component, carrying the handshake completion payload that must
// reach the channel before any application data.
func (e *Endpoint) OnActivation(handler func(componentID int, payload []byte)) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	e.onActivation = handler
}

// OnNotification registers the consumer for non-fatal notifications.
func (e *Endpoint) OnNotification(handler func(transport.Notification)) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	e.onNotification = handler
}

// Start initializes the handshake engines, begins candidate gathering
// for every component, and launches the per-component connect and
// read goroutines. It returns once setup is underway; connectivity
// progress surfaces through callbacks.
func (e *Endpoint) Start(ctx context.Context) error {
	for _, componentID := range e.componentIDs {
		comp, err := e.setupComponent(ctx, componentID)
		if err != nil {
			return fmt.Errorf("setting up component %d: %w", componentID, err)
		}
		e.mu.Lock()
		e.components[componentID] = comp
		e.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, comp := range e.components {
		e.wg.Add(1)
		go e.runComponent(ctx, comp)
	}
	return nil
}

// setupComponent builds the engine and agent for one component and
// publishes local credentials. Candidates trickle to the signaler as
// gathering finds them.
func (e *Endpoint) setupComponent(ctx context.Context, componentID int) (*component, error) {
	engine, err := e.engineFactory(componentID)
	if err != nil {
		return nil, fmt.Errorf("building handshake engine: %w", err)
	}
	initResult, err := engine.Init()
	if err != nil {
		return nil, fmt.Errorf("handshake init: %w", err)
	}
	e.dispatchNotification(transport.HandshakeInitData{
		ComponentID: componentID,
		InitData:    initResult.InitData,
	})

	comp := &component{
		id:          componentID,
		engine:      engine,
		engineDone:  initResult.Finished,
		initPayload: initResult.InitData,
	}

	agentConfig, err := e.agentConfig()
	if err != nil {
		return nil, err
	}
	agent, err := ice.NewAgent(agentConfig)
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}
	comp.agent = agent

	if err := agent.OnConnectionStateChange(func(state ice.ConnectionState) {
		e.logger.Info("ICE state change",
			"component", componentID,
			"state", state.String(),
		)
	}); err != nil {
		agent.Close()
		return nil, fmt.Errorf("registering state handler: %w", err)
	}

	if err := agent.OnCandidate(func(candidate ice.Candidate) {
		if candidate == nil {
			// Gathering complete.
			return
		}
		if err := e.signaler.PublishCandidate(ctx, e.name, componentID, candidate.Marshal()); err != nil {
			e.logger.Warn("publishing candidate failed",
				"component", componentID,
				"error", err,
			)
		}
	}); err != nil {
		agent.Close()
		return nil, fmt.Errorf("registering candidate handler: %w", err)
	}

	ufrag, pwd, err := agent.GetLocalUserCredentials()
	if err != nil {
		agent.Close()
		return nil, fmt.Errorf("reading local credentials: %w", err)
	}
	if err := e.signaler.PublishCredentials(ctx, e.name, componentID, Credentials{UFrag: ufrag, Pwd: pwd}); err != nil {
		agent.Close()
		return nil, fmt.Errorf("publishing credentials: %w", err)
	}

	if err := agent.GatherCandidates(); err != nil {
		agent.Close()
		return nil, fmt.Errorf("gathering candidates: %w", err)
	}

	return comp, nil
}

// runComponent connects one component and then serves its inbound
// datagrams until the endpoint closes.
func (e *Endpoint) runComponent(ctx context.Context, comp *component) {
	defer e.wg.Done()

	remote, err := e.signaler.AwaitCredentials(ctx, e.peerName, comp.id)
	if err != nil {
		e.logger.Warn("awaiting peer credentials failed",
			"component", comp.id,
			"error", err,
		)
		return
	}

	// Feed trickled remote candidates while connectivity checks run.
	e.wg.Add(1)
	go e.consumeRemoteCandidates(ctx, comp)

	var conn *ice.Conn
	if e.role == Controlling {
		conn, err = comp.agent.Dial(ctx, remote.UFrag, remote.Pwd)
	} else {
		conn, err = comp.agent.Accept(ctx, remote.UFrag, remote.Pwd)
	}
	if err != nil {
		e.logger.Warn("ICE connect failed",
			"component", comp.id,
			"role", e.role.String(),
			"error", err,
		)
		return
	}
	comp.setConn(conn)
	e.logger.Info("component connected",
		"component", comp.id,
		"role", e.role.String(),
	)

	e.startHandshake(comp, conn)
	e.readLoop(comp, conn)
}

func (e *Endpoint) consumeRemoteCandidates(ctx context.Context, comp *component) {
	defer e.wg.Done()

	candidates := e.signaler.Candidates(e.peerName, comp.id)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.closed:
			return
		case marshalled, ok := <-candidates:
			if !ok {
				return
			}
			candidate, err := ice.UnmarshalCandidate(marshalled)
			if err != nil {
				e.logger.Warn("unmarshalling remote candidate failed",
					"component", comp.id,
					"candidate", marshalled,
					"error", err,
				)
				continue
			}
			if err := comp.agent.AddRemoteCandidate(candidate); err != nil {
				e.logger.Warn("adding remote candidate failed",
					"component", comp.id,
					"error", err,
				)
			}
		}
	}
}

// startHandshake runs the transport-ready transition for a freshly
// connected component. When the engine finished at init, the init
// data doubles as the completion payload.
func (e *Endpoint) startHandshake(comp *component, conn *ice.Conn) {
	if comp.engineDone {
		e.markReady(comp, comp.initPayload)
		return
	}
	outcome, err := comp.engine.ConnectionReady()
	if err != nil {
		e.logger.Warn("handshake connection-ready failed",
			"component", comp.id,
			"error", err,
		)
		return
	}
	e.applyOutcome(comp, conn, outcome)
}

// applyOutcome sends the outcome's packets and records completion.
func (e *Endpoint) applyOutcome(comp *component, conn *ice.Conn, outcome handshake.Outcome) {
	for _, packet := range outcome.Packets {
		if _, err := conn.Write(packet); err != nil {
			e.logger.Warn("sending handshake packet failed",
				"component", comp.id,
				"error", err,
			)
			return
		}
	}
	if outcome.Finished {
		comp.engineDone = true
		e.logger.Info("handshake complete",
			"component", comp.id,
			"payload_bytes", len(outcome.Payload),
		)
		e.markReady(comp, outcome.Payload)
	}
}

// readLoop demultiplexes inbound datagrams: handshake packets feed
// the engine (until it finishes; late retransmits are dropped),
// everything else is application data.
func (e *Endpoint) readLoop(comp *component, conn *ice.Conn) {
	buffer := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buffer)
		if err != nil {
			select {
			case <-e.closed:
			default:
				e.logger.Debug("read loop ended",
					"component", comp.id,
					"error", err,
				)
			}
			return
		}
		data := make([]byte, n)
		copy(data, buffer[:n])

		if comp.engine.IsHandshakePacket(data) {
			if comp.engineDone {
				e.logger.Debug("dropping late handshake packet",
					"component", comp.id,
					"bytes", n,
				)
				continue
			}
			outcome, err := comp.engine.RecvFromPeer(data)
			if err != nil {
				e.logger.Warn("handshake packet processing failed",
					"component", comp.id,
					"error", err,
				)
				continue
			}
			e.applyOutcome(comp, conn, outcome)
			continue
		}

		e.dispatchData(comp.id, data)
	}
}

// markReady feeds the component's readiness into the coordinator and
// dispatches the activation when the join completes.
func (e *Endpoint) markReady(comp *component, payload []byte) {
	activation, err := e.coordinator.ComponentReady(e.streamID, comp.id, payload)
	if err != nil {
		e.logger.Warn("recording component readiness failed",
			"component", comp.id,
			"error", err,
		)
		return
	}
	e.dispatchActivation(activation)
}

// AttachChannel records that the pipeline wired a data channel for
// the component. Safe before or after the component becomes ready;
// the activation fires exactly once either way.
func (e *Endpoint) AttachChannel(componentID int) {
	e.dispatchActivation(e.coordinator.ChannelAttached(componentID))
}

// Write submits one outbound payload through the stream's gate.
func (e *Endpoint) Write(componentID int, payload []byte) {
	e.gate.Write(componentID, payload)
}

// SetPlayState mirrors the owning pipeline's state into the gate.
func (e *Endpoint) SetPlayState(state transport.PlayState) {
	e.gate.SetPlayState(state)
}

// SendPayload implements the transport.PayloadSender boundary over
// the per-component conns.
func (e *Endpoint) SendPayload(streamID, componentID int, payload []byte) error {
	if streamID != e.streamID {
		return fmt.Errorf("endpoint serves stream %d, not %d", e.streamID, streamID)
	}
	e.mu.Lock()
	comp, ok := e.components[componentID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown component %d", componentID)
	}
	conn := comp.connection()
	if conn == nil {
		return fmt.Errorf("component %d is not connected", componentID)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("writing to component %d: %w", componentID, err)
	}
	return nil
}

// Close tears down all agents and waits for the component goroutines
// to drain.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
	})

	e.mu.Lock()
	components := make([]*component, 0, len(e.components))
	for _, comp := range e.components {
		components = append(components, comp)
	}
	e.mu.Unlock()

	var firstErr error
	for _, comp := range components {
		if closer, ok := comp.engine.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := comp.agent.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.wg.Wait()
	return firstErr
}

// agentConfig translates the endpoint's ICE settings for pion.
func (e *Endpoint) agentConfig() (*ice.AgentConfig, error) {
	uris, err := e.iceConfig.ServerURIs()
	if err != nil {
		return nil, err
	}
	return &ice.AgentConfig{
		NetworkTypes:    []ice.NetworkType{ice.NetworkTypeUDP4},
		Urls:            uris,
		IncludeLoopback: e.iceConfig.IncludeLoopback,
		LoggerFactory:   &slogLoggerFactory{logger: e.logger},
	}, nil
}

func (e *Endpoint) dispatchActivation(activation *transport.Activation) {
	if activation == nil {
		return
	}
	e.dispatchDemand(activation.ComponentID)
	e.handlerMu.Lock()
	handler := e.onActivation
	e.handlerMu.Unlock()
	if handler != nil {
		handler(activation.ComponentID, activation.Payload)
	}
}

func (e *Endpoint) dispatchDemand(componentID int) {
	e.handlerMu.Lock()
	handler := e.onDemand
	e.handlerMu.Unlock()
	if handler != nil {
		handler(componentID)
	}
}

func (e *Endpoint) dispatchData(componentID int, data []byte) {
	e.handlerMu.Lock()
	handler := e.onData
	e.handlerMu.Unlock()
	if handler != nil {
		handler(componentID, data)
	}
}

func (e *Endpoint) dispatchNotification(notification transport.Notification) {
	e.handlerMu.Lock()
	handler := e.onNotification
	e.handlerMu.Unlock()
	if handler != nil {
		handler(notification)
	}
}
