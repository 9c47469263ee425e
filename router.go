package main

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

// shutdownGrace bounds the last chat and presence calls made after shutdown
// has begun.
const shutdownGrace = 5 * time.Second

// ConnectionPhase is the router's view of the chat gateway session.
type ConnectionPhase string

const (
	ConnDisconnected ConnectionPhase = "disconnected"
	ConnConnecting   ConnectionPhase = "connecting"
	ConnConnected    ConnectionPhase = "connected"
	ConnReconnecting ConnectionPhase = "reconnecting"
)

// BridgeConnectionState reports the gateway session; Attempt counts
// reconnects since the last successful connection.
type BridgeConnectionState struct {
	Phase   ConnectionPhase
	Attempt int
}

// ServerConsole is the part of the supervisor the router drives.
type ServerConsole interface {
	SendCommand(text string) error
	State() ProcessState
}

type RouterConfig struct {
	CommandPrefix    string
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// Router is the single consumer of server output and chat events. It keeps
// the roster, relays chat both ways and answers wrapper commands.
type Router struct {
	cfg     RouterConfig
	parser  *ConsoleParser
	roster  *Roster
	server  ServerConsole
	gateway Gateway // nil when the bridge is disabled
	console *ConsolePrinter
	metrics *Telemetry

	lines       <-chan RawLine
	transitions <-chan ProcessState
	local       <-chan RawLine

	subscribers      []EventSubscriber
	members          map[string]string
	reconnectPending bool
	reconnectResults chan error

	mu   sync.RWMutex
	conn BridgeConnectionState

	after afterFunc
}

type RouterDeps struct {
	Parser      *ConsoleParser
	Roster      *Roster
	Server      ServerConsole
	Gateway     Gateway
	Console     *ConsolePrinter
	Metrics     *Telemetry
	Lines       <-chan RawLine
	Transitions <-chan ProcessState
	Local       <-chan RawLine
}

func NewRouter(cfg RouterConfig, deps RouterDeps) *Router {
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!mc "
	}
	parser := deps.Parser
	if parser == nil {
		parser = NewConsoleParser()
	}
	return &Router{
		cfg:              cfg,
		parser:           parser,
		roster:           deps.Roster,
		server:           deps.Server,
		gateway:          deps.Gateway,
		console:          deps.Console,
		metrics:          deps.Metrics,
		lines:            deps.Lines,
		transitions:      deps.Transitions,
		local:            deps.Local,
		members:          make(map[string]string),
		reconnectResults: make(chan error, 1),
		conn:             BridgeConnectionState{Phase: ConnDisconnected},
		after:            time.After,
	}
}

// Subscribe registers sub for every parsed console event. It must be called
// before Run.
func (r *Router) Subscribe(sub EventSubscriber) {
	r.subscribers = append(r.subscribers, sub)
}

func (r *Router) ConnectionState() BridgeConnectionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn
}

func (r *Router) setConn(state BridgeConnectionState) {
	r.mu.Lock()
	r.conn = state
	r.mu.Unlock()
}

// Run processes events until ctx is done. Everything that touches the roster
// or the member cache happens on this goroutine.
func (r *Router) Run(ctx context.Context) error {
	var gatewayEvents <-chan GatewayEvent
	if r.gateway != nil {
		gatewayEvents = r.gateway.Events()
		r.setConn(BridgeConnectionState{Phase: ConnConnecting})
		r.dial(ctx, 0)
	}

	local := r.local
	for {
		select {
		case <-ctx.Done():
			r.drainTransitions(ctx)
			return nil
		case line := <-r.lines:
			r.handleLine(ctx, line)
		case state := <-r.transitions:
			r.handleTransition(ctx, state)
		case event := <-gatewayEvents:
			r.handleGatewayEvent(ctx, event)
		case err := <-r.reconnectResults:
			r.handleDialResult(ctx, err)
		case line, ok := <-local:
			if !ok {
				local = nil
				continue
			}
			r.handleLocal(ctx, line.Text)
		}
	}
}

func (r *Router) handleLine(ctx context.Context, line RawLine) {
	event := r.parser.Parse(line)
	r.console.Print(event)
	for _, sub := range r.subscribers {
		sub.OnServerEvent(event)
	}
	changed := r.roster.Apply(event)

	switch event.Kind {
	case EventChatMessage:
		r.relayToChat(ctx, BridgeMessage{Origin: OriginMinecraft, Author: event.Player, Body: event.Text})
	case EventPlayerJoined:
		if changed {
			r.relayToChat(ctx, joinMessage(event.Player))
		}
	case EventPlayerLeft:
		if changed {
			r.relayToChat(ctx, leaveMessage(event.Player))
		}
	case EventServerReady:
		r.relayToChat(ctx, BridgeMessage{Origin: OriginMinecraft, Body: readyMessage(event.Elapsed)})
	case EventUnrecognized:
		if strings.Contains(event.Raw, "You need to agree to the EULA") {
			log.Printf("server refused to start: set eula=true in %s next to the server jar", eulaFileName)
		}
	}
}

func (r *Router) handleTransition(ctx context.Context, state ProcessState) {
	if state.Phase != PhaseCrashed && state.Phase != PhaseStopped {
		return
	}
	r.roster.Clear()
	if msg := lifecycleMessage(state); msg != "" {
		r.relayToChat(ctx, BridgeMessage{Origin: OriginMinecraft, Body: msg})
	}
}

// drainTransitions announces the lifecycle states still queued when the
// router is told to stop; the final "stopped" usually arrives last.
func (r *Router) drainTransitions(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	for {
		select {
		case state := <-r.transitions:
			r.handleTransition(ctx, state)
		default:
			return
		}
	}
}

// relayToChat delivers a message to the chat channel at most once. Nothing
// is queued while the gateway is down.
func (r *Router) relayToChat(ctx context.Context, msg BridgeMessage) {
	if r.gateway == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}
	if r.ConnectionState().Phase != ConnConnected {
		r.metrics.Dropped(ctx, directionToChat, "disconnected")
		return
	}
	text := formatForChat(msg)
	if err := r.gateway.Send(ctx, text); err != nil {
		log.Printf("send to %s, dropping %q: %v", r.gateway.Name(), text, err)
		r.metrics.Dropped(ctx, directionToChat, "send_failed")
		return
	}
	r.metrics.Relayed(ctx, directionToChat)
}

func (r *Router) handleGatewayEvent(ctx context.Context, event GatewayEvent) {
	switch event.Kind {
	case GatewayConnected:
		previous := r.ConnectionState()
		r.setConn(BridgeConnectionState{Phase: ConnConnected})
		if previous.Phase == ConnReconnecting {
			log.Printf("%s reconnected after %d attempt(s)", r.gateway.Name(), previous.Attempt)
			r.metrics.Reconnected(ctx)
		}
	case GatewayDisconnected:
		if r.reconnectPending || ctx.Err() != nil {
			return
		}
		r.scheduleReconnect(ctx, r.ConnectionState().Attempt+1)
	case GatewayMemberUpdated:
		if event.MemberID != "" && event.DisplayName != "" {
			r.members[event.MemberID] = event.DisplayName
		}
	case GatewayMessage:
		r.handleInbound(ctx, event.Message)
	}
}

func (r *Router) scheduleReconnect(ctx context.Context, attempt int) {
	delay := exponentialDelay(r.cfg.ReconnectInitial, r.cfg.ReconnectMax, attempt)
	r.setConn(BridgeConnectionState{Phase: ConnReconnecting, Attempt: attempt})
	log.Printf("%s disconnected, reconnecting in %s (attempt %d)", r.gateway.Name(), delay, attempt)
	r.dial(ctx, delay)
}

// dial opens the gateway after delay on a separate goroutine; the result
// comes back through reconnectResults.
func (r *Router) dial(ctx context.Context, delay time.Duration) {
	r.reconnectPending = true
	go func() {
		if !sleepCtx(ctx, r.after, delay) {
			return
		}
		err := r.gateway.Open(ctx)
		select {
		case r.reconnectResults <- err:
		case <-ctx.Done():
		}
	}()
}

func (r *Router) handleDialResult(ctx context.Context, err error) {
	r.reconnectPending = false
	if err == nil {
		return
	}
	log.Printf("connect to %s: %v", r.gateway.Name(), err)
	r.scheduleReconnect(ctx, r.ConnectionState().Attempt+1)
}

func (r *Router) handleInbound(ctx context.Context, msg InboundMessage) {
	if reply, ok := r.runCommand(msg.Content); ok {
		if reply != "" {
			r.relayToChat(ctx, BridgeMessage{Origin: OriginMinecraft, Body: reply})
		}
		return
	}

	state := r.server.State()
	if !state.Running() {
		log.Printf("server is %s, dropping message from %s", state.Phase, msg.Author)
		r.metrics.Dropped(ctx, directionToServer, "not_running")
		return
	}

	body := renderInbound(msg, r.directory())
	if strings.TrimSpace(body) == "" {
		return
	}
	bm := BridgeMessage{Origin: OriginChat, Author: msg.Author, Body: body}
	cmd, err := tellrawCommand(bm)
	if err != nil {
		log.Printf("build tellraw for %s: %v", msg.Author, err)
		return
	}
	if err := r.server.SendCommand(cmd); err != nil {
		log.Printf("relay message from %s: %v", msg.Author, err)
		r.metrics.Dropped(ctx, directionToServer, "write_failed")
		return
	}
	r.console.Bridged(bm)
	r.metrics.Relayed(ctx, directionToServer)
}

// handleLocal runs wrapper commands typed by the operator and forwards
// everything else to the server console.
func (r *Router) handleLocal(ctx context.Context, text string) {
	text = strings.TrimRight(text, "\r\n")
	if reply, ok := r.runCommand(text); ok {
		if reply != "" {
			r.console.Notice(reply)
		}
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := r.server.SendCommand(text); err != nil {
		log.Printf("console command %q: %v", text, err)
	}
}

// runCommand reports whether text is a wrapper command. Unknown commands
// are swallowed with an empty reply.
func (r *Router) runCommand(text string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(text)+" ", r.cfg.CommandPrefix)
	if !ok {
		return "", false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", true
	}
	switch strings.ToLower(fields[0]) {
	case "list":
		return formatPlayerList(r.roster.Snapshot(), false), true
	}
	return "", true
}

func (r *Router) directory() Directory {
	return memberDirectory{members: r.members, fallback: r.gateway}
}

// memberDirectory prefers names seen in member updates over the gateway
// cache.
type memberDirectory struct {
	members  map[string]string
	fallback Directory
}

func (d memberDirectory) MemberName(id string) (string, bool) {
	if name, ok := d.members[id]; ok {
		return name, true
	}
	if d.fallback == nil {
		return "", false
	}
	return d.fallback.MemberName(id)
}

func (d memberDirectory) ChannelName(id string) (string, bool) {
	if d.fallback == nil {
		return "", false
	}
	return d.fallback.ChannelName(id)
}

func (d memberDirectory) RoleName(id string) (string, bool) {
	if d.fallback == nil {
		return "", false
	}
	return d.fallback.RoleName(id)
}
