package main

import "context"

// Directory resolves chat-network IDs from the gateway's local cache. It
// never makes a network round-trip.
type Directory interface {
	MemberName(id string) (string, bool)
	ChannelName(id string) (string, bool)
	RoleName(id string) (string, bool)
}

// Gateway abstracts the chat network the server is bridged to.
type Gateway interface {
	Directory
	Name() string
	// Open connects (or reconnects) the gateway session. Readiness, for a
	// fresh or a resumed session, is reported later as a GatewayConnected
	// event.
	Open(ctx context.Context) error
	Close() error
	Events() <-chan GatewayEvent
	Send(ctx context.Context, text string) error
	UpdatePresence(ctx context.Context, text string) error
	SetTopic(ctx context.Context, text string) error
}
