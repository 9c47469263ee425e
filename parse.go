package main

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
)

var (
	// [23:10:31] [Server thread/INFO]: msg   (vanilla, Spigot)
	// [23:10:31] [Server thread/INFO] [minecraft/DedicatedServer]: msg   (Forge)
	threadHeaderPattern = regexp.MustCompile(`^\[(\d{1,2}:\d{2}:\d{2})\] \[(.*?)/([A-Z]+)\](?: \[[^\]]*\])?: ?(.*)$`)
	// [23:10:31 INFO]: msg   (Paper)
	levelHeaderPattern  = regexp.MustCompile(`^\[(\d{1,2}:\d{2}:\d{2}) ([A-Z]+)\]: ?(.*)$`)

	joinPattern        = regexp.MustCompile(`^([^<\s\[]\S*) joined the game$`)
	joinRenamedPattern = regexp.MustCompile(`^([^<\s\[]\S*) \(formerly known as \S+\) joined the game$`)
	leavePattern       = regexp.MustCompile(`^([^<\s\[]\S*) left the game$`)
	chatPattern        = regexp.MustCompile(`^(?:\[Not Secure\] )?<([^<>\s]+)> (.*)$`)
	readyPattern       = regexp.MustCompile(`^Done \((\d+(?:[.,]\d+)?)s\)!`)
	sayEchoPattern     = regexp.MustCompile(`^\[(?:Server|Rcon)\] (.*)$`)
	feedbackPattern    = regexp.MustCompile(`^\[(?:Server|Rcon): (.*)\]$`)
	listEchoPattern    = regexp.MustCompile(`^There are \d+ of a max(?: of)? \d+ players online:.*$`)
	unknownCmdPattern  = regexp.MustCompile(`^Unknown (?:or incomplete )?command`)
)

// parseRule turns a console message into a specific event. It reports false
// when the message is not its phrasing.
type parseRule struct {
	name  string
	match func(header LogHeader, msg string, event *ServerEvent) bool
}

// ConsoleParser classifies console lines with an ordered rule list; the first
// matching rule wins.
type ConsoleParser struct {
	rules []parseRule
}

func NewConsoleParser() *ConsoleParser {
	return &ConsoleParser{rules: defaultRules()}
}

func defaultRules() []parseRule {
	return []parseRule{
		{name: "join", match: playerRule(EventPlayerJoined, joinPattern, joinRenamedPattern)},
		{name: "leave", match: playerRule(EventPlayerLeft, leavePattern)},
		{name: "chat", match: matchChat},
		{name: "ready", match: matchReady},
		{name: "command_echo", match: matchCommandEcho},
	}
}

// Parse never fails: a line no rule recognizes comes back as
// EventUnrecognized carrying the original text.
func (p *ConsoleParser) Parse(line RawLine) ServerEvent {
	raw := strings.TrimRight(ansi.Strip(line.Text), "\r\n")
	header := parseHeader(raw)

	event := ServerEvent{
		Kind:   EventUnrecognized,
		Raw:    raw,
		Header: header,
		Stream: line.Stream,
		Time:   line.Arrival,
	}

	msg := raw
	if header.Parsed {
		msg = header.Message
	}

	for _, rule := range p.rules {
		candidate := event
		if rule.match(header, msg, &candidate) {
			return candidate
		}
	}
	return event
}

func parseHeader(raw string) LogHeader {
	if m := threadHeaderPattern.FindStringSubmatch(raw); m != nil {
		return LogHeader{Parsed: true, Clock: m[1], Thread: m[2], Level: m[3], Message: m[4]}
	}
	if m := levelHeaderPattern.FindStringSubmatch(raw); m != nil {
		return LogHeader{Parsed: true, Clock: m[1], Level: m[2], Message: m[3]}
	}
	return LogHeader{}
}

// playerRule matches any of the alternative phrasings of a join or leave.
func playerRule(kind EventKind, patterns ...*regexp.Regexp) func(LogHeader, string, *ServerEvent) bool {
	return func(header LogHeader, msg string, event *ServerEvent) bool {
		if !isInfo(header) {
			return false
		}
		for _, pattern := range patterns {
			if m := pattern.FindStringSubmatch(msg); m != nil {
				event.Kind = kind
				event.Player = m[1]
				return true
			}
		}
		return false
	}
}

func matchChat(header LogHeader, msg string, event *ServerEvent) bool {
	if !isInfo(header) {
		return false
	}
	m := chatPattern.FindStringSubmatch(msg)
	if m == nil {
		return false
	}
	event.Kind = EventChatMessage
	event.Player = m[1]
	event.Text = m[2]
	return true
}

func matchReady(header LogHeader, msg string, event *ServerEvent) bool {
	m := readyPattern.FindStringSubmatch(msg)
	if m == nil {
		return false
	}
	seconds, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return false
	}
	event.Kind = EventServerReady
	event.Elapsed = time.Duration(math.Round(seconds*1000)) * time.Millisecond
	return true
}

func matchCommandEcho(header LogHeader, msg string, event *ServerEvent) bool {
	if m := sayEchoPattern.FindStringSubmatch(msg); m != nil {
		event.Kind = EventCommandEcho
		event.Text = m[1]
		return true
	}
	if m := feedbackPattern.FindStringSubmatch(msg); m != nil {
		event.Kind = EventCommandEcho
		event.Text = m[1]
		return true
	}
	if listEchoPattern.MatchString(msg) || unknownCmdPattern.MatchString(msg) {
		event.Kind = EventCommandEcho
		event.Text = msg
		return true
	}
	return false
}

// isInfo accepts header-less lines so wrappers that strip the log prefix
// still get player events.
func isInfo(header LogHeader) bool {
	return !header.Parsed || header.Level == "INFO"
}
