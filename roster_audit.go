package main

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"
)

// unresponsiveAfter is how many consecutive failed probes are tolerated
// before the server is reported as not answering.
const unresponsiveAfter = 3

var listResponsePattern = regexp.MustCompile(`(?s)^There are (\d+)(?: of a max(?: of)? |/)(\d+) players online:\s*(.*)$`)

// RosterAuditor periodically asks the server who is online over RCON and
// logs where that disagrees with the roster built from console output. It
// never changes the roster.
type RosterAuditor struct {
	rcon     CommandExecutor
	roster   *Roster
	running  func() bool
	interval time.Duration
	failures int
}

// rosterDrift lists players only one side knows about.
type rosterDrift struct {
	missing []string // online per RCON, absent from the roster
	extra   []string // in the roster, not online per RCON
}

func (d rosterDrift) empty() bool { return len(d.missing) == 0 && len(d.extra) == 0 }

func NewRosterAuditor(rcon CommandExecutor, roster *Roster, running func() bool, interval time.Duration) *RosterAuditor {
	return &RosterAuditor{rcon: rcon, roster: roster, running: running, interval: interval}
}

func (a *RosterAuditor) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.running != nil && !a.running() {
				a.failures = 0
				continue
			}
			drift, err := a.audit()
			if err != nil {
				a.failures++
				if a.failures == unresponsiveAfter {
					log.Printf("server has not answered RCON %d times in a row: %v", a.failures, err)
				}
				continue
			}
			if a.failures >= unresponsiveAfter {
				log.Println("server is answering RCON again")
			}
			a.failures = 0
			if !drift.empty() {
				log.Printf("roster drift: missing from roster %v, stale in roster %v", drift.missing, drift.extra)
			}
		}
	}
}

func (a *RosterAuditor) audit() (rosterDrift, error) {
	resp, err := a.rcon.Execute("list")
	if err != nil {
		return rosterDrift{}, err
	}
	names, ok := parseListResponse(resp)
	if !ok {
		log.Printf("unexpected list response: %.200q", resp)
		return rosterDrift{}, nil
	}
	return compareRoster(a.roster.Snapshot(), names), nil
}

func compareRoster(snapshot RosterSnapshot, online []string) rosterDrift {
	seen := make(map[string]bool, len(online))
	var drift rosterDrift
	for _, name := range online {
		seen[name] = true
		if !snapshot.Contains(name) {
			drift.missing = append(drift.missing, name)
		}
	}
	for _, name := range snapshot.Names() {
		if !seen[name] {
			drift.extra = append(drift.extra, name)
		}
	}
	return drift
}

// parseListResponse extracts player names from the reply to "list", in both
// the current and the pre-1.13 phrasing.
func parseListResponse(resp string) ([]string, bool) {
	m := listResponsePattern.FindStringSubmatch(strings.TrimSpace(resp))
	if m == nil {
		return nil, false
	}
	names := []string{}
	for _, name := range strings.Split(m[3], ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names, true
}
