package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	offlinePresence = "Minecraft server is offline"

	// Discord truncates activity names past 128 characters; the last name
	// plus the "(+ N more)" suffix needs the rest.
	presenceSoftLimit = 95

	tellrawPrefix  = "[D] "
	maxTellrawBody = 1000
)

// formatPlayerList answers the list command. The short form names at most
// three players.
func formatPlayerList(snapshot RosterSnapshot, short bool) string {
	names := snapshot.Names()
	switch len(names) {
	case 0:
		return "Nobody is playing Minecraft"
	case 1:
		return names[0] + " is playing Minecraft"
	case 2:
		return names[0] + " and " + names[1] + " are playing Minecraft"
	}
	if short {
		list := fmt.Sprintf("%s, %s, and %s", names[0], names[1], names[2])
		if len(names) > 3 {
			list += fmt.Sprintf(" (+ %d more)", len(names)-3)
		}
		return list + " are playing Minecraft"
	}
	return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1] + " are playing Minecraft"
}

// formatPresence renders the bot status for the current roster, keeping as
// many full names as fit.
func formatPresence(snapshot RosterSnapshot) string {
	names := snapshot.Names()
	switch len(names) {
	case 0:
		return "Minecraft with nobody"
	case 1:
		return "Minecraft with " + names[0]
	case 2:
		return "Minecraft with " + names[0] + " and " + names[1]
	}

	var b strings.Builder
	b.WriteString("Minecraft with ")
	i := 0
	for ; i < len(names); i++ {
		last := i == len(names)-1
		if b.Len()+len(names[i])+2 > presenceSoftLimit && !last {
			break
		}
		if last {
			b.WriteString("and " + names[i])
		} else {
			b.WriteString(names[i] + ", ")
		}
	}
	if i < len(names) {
		b.WriteString("and " + names[i])
		i++
		fmt.Fprintf(&b, " (+ %d more)", len(names)-i)
	}
	return b.String()
}

// formatForChat renders a console-originated message for the chat channel.
// Names are sent as-is.
func formatForChat(m BridgeMessage) string {
	if m.Author == "" {
		return m.Body
	}
	return "**" + m.Author + "** " + m.Body
}

func joinMessage(player string) BridgeMessage {
	return BridgeMessage{Origin: OriginMinecraft, Body: "_**" + player + "** joined the game_"}
}

func leaveMessage(player string) BridgeMessage {
	return BridgeMessage{Origin: OriginMinecraft, Body: "_**" + player + "** left the game_"}
}

func readyMessage(elapsed time.Duration) string {
	return fmt.Sprintf("Server is ready (started in %s)", elapsed)
}

// lifecycleMessage describes a process transition for the chat channel; it
// returns "" for transitions that are not announced.
func lifecycleMessage(state ProcessState) string {
	switch state.Phase {
	case PhaseCrashed:
		code := -1
		if state.Exit != nil {
			code = state.Exit.Code
		}
		if state.RestartIn > 0 {
			return fmt.Sprintf("Server crashed (exit code %d), restarting in %s", code, state.RestartIn)
		}
		return fmt.Sprintf("Server crashed (exit code %d) and will not be restarted", code)
	case PhaseStopped:
		return "Server stopped"
	}
	return ""
}

type tellrawComponent struct {
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
	Bold  bool   `json:"bold,omitempty"`
}

// tellrawCommand builds the console command that shows a chat message to
// every player. The body is flattened to one line and truncated.
func tellrawCommand(m BridgeMessage) (string, error) {
	body := strings.Join(strings.Fields(strings.ReplaceAll(m.Body, "\n", " ")), " ")
	if utf8.RuneCountInString(body) > maxTellrawBody {
		body = string([]rune(body)[:maxTellrawBody]) + "..."
	}

	components := []tellrawComponent{
		{Text: ""},
		{Text: tellrawPrefix, Color: "light_purple", Bold: true},
		{Text: "<" + m.Author + "> " + body},
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(components); err != nil {
		return "", fmt.Errorf("encode tellraw: %w", err)
	}
	return "tellraw @a " + strings.TrimSpace(buf.String()), nil
}

// consoleEcho is what the local operator sees for a message delivered with
// tellraw, which the server does not log.
func consoleEcho(m BridgeMessage) string {
	return tellrawPrefix + "<" + m.Author + "> " + m.Body
}
