package main

import (
	"sort"
	"sync"
)

// Player is identified by display name only; the console offers nothing
// stronger.
type Player struct {
	DisplayName string
}

// RosterSnapshot is an immutable, name-sorted copy of the online players.
type RosterSnapshot struct {
	Players []Player
}

func (s RosterSnapshot) Len() int { return len(s.Players) }

func (s RosterSnapshot) Names() []string {
	names := make([]string, len(s.Players))
	for i, p := range s.Players {
		names[i] = p.DisplayName
	}
	return names
}

func (s RosterSnapshot) Contains(name string) bool {
	for _, p := range s.Players {
		if p.DisplayName == name {
			return true
		}
	}
	return false
}

// Roster tracks who is online from parsed join/leave events.
type Roster struct {
	mu      sync.RWMutex
	players map[string]struct{}
	changed chan struct{}
}

func NewRoster() *Roster {
	return &Roster{
		players: make(map[string]struct{}),
		changed: make(chan struct{}, 1),
	}
}

// Apply updates the roster from a console event and reports whether the set
// changed. Duplicate joins and leaves of unknown players are no-ops.
func (r *Roster) Apply(event ServerEvent) bool {
	r.mu.Lock()
	var changed bool
	switch event.Kind {
	case EventPlayerJoined:
		if _, ok := r.players[event.Player]; !ok {
			r.players[event.Player] = struct{}{}
			changed = true
		}
	case EventPlayerLeft:
		if _, ok := r.players[event.Player]; ok {
			delete(r.players, event.Player)
			changed = true
		}
	}
	r.mu.Unlock()

	if changed {
		select {
		case r.changed <- struct{}{}:
		default:
		}
	}
	return changed
}

// Clear empties the roster; nobody is online once the server process is gone.
func (r *Roster) Clear() bool {
	r.mu.Lock()
	changed := len(r.players) > 0
	r.players = make(map[string]struct{})
	r.mu.Unlock()

	if changed {
		select {
		case r.changed <- struct{}{}:
		default:
		}
	}
	return changed
}

func (r *Roster) Snapshot() RosterSnapshot {
	r.mu.RLock()
	players := make([]Player, 0, len(r.players))
	for name := range r.players {
		players = append(players, Player{DisplayName: name})
	}
	r.mu.RUnlock()

	sort.Slice(players, func(i, j int) bool { return players[i].DisplayName < players[j].DisplayName })
	return RosterSnapshot{Players: players}
}

// Changed delivers a coalesced signal after any roster mutation.
func (r *Roster) Changed() <-chan struct{} { return r.changed }
