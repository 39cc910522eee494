// Package groups derives group membership and moderation state from the
// ingested log. Relays cannot be trusted to pre-filter moderation actions,
// so every action's legitimacy is re-derived locally from prior accepted
// events.
package groups

import (
	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/eventid"
	"github.com/Hubmakerlabs/aggregatr/pkg/kind"
	"github.com/Hubmakerlabs/aggregatr/pkg/timestamp"
)

type Permission = string

const (
	PermAddUser          Permission = "add-user"
	PermEditMetadata     Permission = "edit-metadata"
	PermDeleteEvent      Permission = "delete-event"
	PermRemoveUser       Permission = "remove-user"
	PermAddPermission    Permission = "add-permission"
	PermRemovePermission Permission = "remove-permission"
	PermEditGroupStatus  Permission = "edit-group-status"
)

// moderationPermission maps each moderation kind to the permission its actor
// must hold at the event's position in the log.
var moderationPermission = map[kind.T]Permission{
	kind.GroupAddUser:          PermAddUser,
	kind.GroupRemoveUser:       PermRemoveUser,
	kind.GroupEditMetadata:     PermEditMetadata,
	kind.GroupAddPermission:    PermAddPermission,
	kind.GroupRemovePermission: PermRemovePermission,
	kind.GroupDeleteEvent:      PermDeleteEvent,
	kind.GroupEditGroupStatus:  PermEditGroupStatus,
}

type Role struct {
	Name        string
	Permissions map[Permission]struct{}
}

func NewRole(name string, perms ...Permission) *Role {
	r := &Role{Name: name, Permissions: make(map[Permission]struct{})}
	for _, p := range perms {
		r.Permissions[p] = struct{}{}
	}
	return r
}

func (r *Role) Has(p Permission) bool {
	if r == nil {
		return false
	}
	_, ok := r.Permissions[p]
	return ok
}

func (r *Role) Clone() *Role {
	if r == nil {
		return nil
	}
	c := &Role{Name: r.Name,
		Permissions: make(map[Permission]struct{}, len(r.Permissions))}
	for p := range r.Permissions {
		c.Permissions[p] = struct{}{}
	}
	return c
}

// Position is a point in the canonical (created_at, id) order.
type Position struct {
	CreatedAt timestamp.T
	ID        eventid.T
}

// LogEntry records one event's fate in the moderation log. Rejected actions
// stay in the log but produced no state change.
type LogEntry struct {
	Event    *event.T
	Accepted bool
	Reason   string
}

// State is the derived view of one group. Mutated only by the reducer's
// replay; callers get snapshots.
type State struct {
	ID      string
	Name    string
	About   string
	Picture string
	Private bool
	Closed  bool

	// Members maps pubkey to role; a nil role is a plain member.
	Members map[string]*Role
	// Banned holds removed users; re-adding un-bans.
	Banned map[string]struct{}
	// Deleted holds ids struck by delete-event actions.
	Deleted map[string]struct{}
	// Log is the moderation log in applied order, rejections included.
	Log []LogEntry
	// Applied is the position through which the state has been computed.
	Applied Position
}

func newState(id string) *State {
	return &State{
		ID:      id,
		Members: make(map[string]*Role),
		Banned:  make(map[string]struct{}),
		Deleted: make(map[string]struct{}),
	}
}

// IsMember reports whether pk is currently in the member set.
func (s *State) IsMember(pk string) bool {
	_, ok := s.Members[pk]
	return ok
}

// IsBanned reports whether pk is in the removed/banned set.
func (s *State) IsBanned(pk string) bool {
	_, ok := s.Banned[pk]
	return ok
}

func (s *State) hasPermission(pk string, p Permission) bool {
	role, ok := s.Members[pk]
	if !ok {
		return false
	}
	return role.Has(p)
}

// Snapshot copies the derived fields so callers can read without racing the
// reducer. The log events themselves are immutable and shared.
func (s *State) Snapshot() *State {
	c := &State{
		ID:      s.ID,
		Name:    s.Name,
		About:   s.About,
		Picture: s.Picture,
		Private: s.Private,
		Closed:  s.Closed,
		Members: make(map[string]*Role, len(s.Members)),
		Banned:  make(map[string]struct{}, len(s.Banned)),
		Deleted: make(map[string]struct{}, len(s.Deleted)),
		Log:     make([]LogEntry, len(s.Log)),
		Applied: s.Applied,
	}
	for pk, role := range s.Members {
		c.Members[pk] = role.Clone()
	}
	for pk := range s.Banned {
		c.Banned[pk] = struct{}{}
	}
	for id := range s.Deleted {
		c.Deleted[id] = struct{}{}
	}
	copy(c.Log, s.Log)
	return c
}
