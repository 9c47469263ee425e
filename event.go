package main

import "time"

// Stream identifies where a line came from: one of the server's output
// pipes, or the operator's terminal.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	StreamStdin  Stream = "stdin"
)

// RawLine is one newline-terminated chunk of input.
type RawLine struct {
	Text    string
	Stream  Stream
	Arrival time.Time
}

// EventKind tags the variant carried by a ServerEvent.
type EventKind string

const (
	EventUnrecognized EventKind = "unrecognized"
	EventPlayerJoined EventKind = "join"
	EventPlayerLeft   EventKind = "leave"
	EventChatMessage  EventKind = "chat"
	EventServerReady  EventKind = "ready"
	EventCommandEcho  EventKind = "command_echo"
)

// LogHeader is the decomposed `[time] [thread/LEVEL]: message` prefix of a
// console line. Parsed is false for lines that carry no header.
type LogHeader struct {
	Parsed  bool
	Clock   string // HH:MM:SS as printed by the server
	Thread  string // empty on Paper-style headers
	Level   string
	Message string
}

// ServerEvent is the classification of exactly one RawLine.
type ServerEvent struct {
	Kind    EventKind
	Player  string        // join, leave, chat
	Text    string        // chat body, command echo text
	Elapsed time.Duration // ready
	Raw     string        // ANSI-stripped source line
	Header  LogHeader
	Stream  Stream
	Time    time.Time
}

// Origin says which side of the bridge produced a BridgeMessage.
type Origin string

const (
	OriginMinecraft Origin = "minecraft"
	OriginChat      Origin = "chat"
)

// BridgeMessage is the normalized payload relayed across the bridge.
type BridgeMessage struct {
	Origin Origin
	Author string
	Body   string
}

// Attachment is a file uploaded alongside a chat message.
type Attachment struct {
	Filename string
	URL      string
	Image    bool
}

// Embed is a rich link preview attached to a chat message.
type Embed struct {
	URL      string
	Title    string
	Provider string
}

// InboundMessage represents a message from the chat network destined for the
// Minecraft server.
type InboundMessage struct {
	Source      string // gateway name (e.g., "Discord")
	ChannelID   string
	AuthorID    string
	Author      string
	Content     string
	Embeds      []Embed
	Attachments []Attachment
}

// GatewayEventKind tags a GatewayEvent.
type GatewayEventKind string

const (
	GatewayConnected     GatewayEventKind = "connected"
	GatewayDisconnected  GatewayEventKind = "disconnected"
	GatewayMessage       GatewayEventKind = "message"
	GatewayMemberUpdated GatewayEventKind = "member_updated"
)

// GatewayEvent is one item of the chat gateway's inbound stream.
type GatewayEvent struct {
	Kind        GatewayEventKind
	Message     InboundMessage // GatewayMessage
	MemberID    string         // GatewayMemberUpdated
	DisplayName string         // GatewayMemberUpdated
}

// EventSubscriber receives parsed console events.
type EventSubscriber interface {
	OnServerEvent(event ServerEvent)
}
