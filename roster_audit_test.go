package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	resp string
	err  error
	cmds []string
}

func (e *fakeExecutor) Execute(cmd string) (string, error) {
	e.cmds = append(e.cmds, cmd)
	return e.resp, e.err
}

func TestParseListResponse(t *testing.T) {
	tests := []struct {
		name string
		resp string
		want []string
		ok   bool
	}{
		{"empty", "There are 0 of a max of 20 players online: ", []string{}, true},
		{"two", "There are 2 of a max of 20 players online: Alex, Steve", []string{"Alex", "Steve"}, true},
		{"old max wording", "There are 1 of a max 20 players online: Steve", []string{"Steve"}, true},
		{"pre 1.13", "There are 2/20 players online:\nAlex, Steve", []string{"Alex", "Steve"}, true},
		{"garbage", "Unknown command", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseListResponse(tt.resp)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRosterAuditor_Audit(t *testing.T) {
	roster := NewRoster()
	roster.Apply(ServerEvent{Kind: EventPlayerJoined, Player: "Steve"})
	roster.Apply(ServerEvent{Kind: EventPlayerJoined, Player: "Ghost"})

	exec := &fakeExecutor{resp: "There are 2 of a max of 20 players online: Alex, Steve"}
	a := NewRosterAuditor(exec, roster, nil, 0)

	drift, err := a.audit()
	require.NoError(t, err)
	assert.Equal(t, []string{"Alex"}, drift.missing)
	assert.Equal(t, []string{"Ghost"}, drift.extra)
	assert.Equal(t, []string{"list"}, exec.cmds)

	// The audit only reports; the roster stays as the console built it.
	assert.Equal(t, []string{"Ghost", "Steve"}, roster.Snapshot().Names())
}

func TestRosterAuditor_InSync(t *testing.T) {
	roster := NewRoster()
	roster.Apply(ServerEvent{Kind: EventPlayerJoined, Player: "Steve"})

	a := NewRosterAuditor(&fakeExecutor{resp: "There are 1 of a max of 20 players online: Steve"}, roster, nil, 0)
	drift, err := a.audit()
	require.NoError(t, err)
	assert.True(t, drift.empty())
}

func TestRosterAuditor_ExecuteError(t *testing.T) {
	a := NewRosterAuditor(&fakeExecutor{err: errBoom}, NewRoster(), nil, 0)
	_, err := a.audit()
	assert.ErrorIs(t, err, errBoom)
}
