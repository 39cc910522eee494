package groups

import (
	"fmt"
	"os"
	"sync"

	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/kind"
	"github.com/Hubmakerlabs/aggregatr/pkg/slog"
	"golang.org/x/exp/slices"
)

var log, chk = slog.New(os.Stderr)

// DefaultRetention bounds the per-group log kept for insertion-point
// replay; oldest entries fall off first.
const DefaultRetention = 4096

// ModerationKinds are the group actions the reducer authority-checks.
var ModerationKinds = []kind.T{
	kind.GroupAddUser,
	kind.GroupRemoveUser,
	kind.GroupEditMetadata,
	kind.GroupAddPermission,
	kind.GroupRemovePermission,
	kind.GroupDeleteEvent,
	kind.GroupEditGroupStatus,
}

// MetadataKinds are the authority-published group definition events.
var MetadataKinds = []kind.T{
	kind.GroupMetadata,
	kind.GroupAdmins,
	kind.GroupMembers,
}

// MessageKinds are the content kinds gated by membership.
var MessageKinds = []kind.T{
	kind.GroupChatMessage,
	kind.GroupThread,
	kind.GroupReply,
}

// GroupID extracts the group a given event belongs to, or "" when the event
// carries no group scoping.
func GroupID(ev *event.T) string {
	switch {
	case slices.Contains(MetadataKinds, ev.Kind):
		return ev.Tags.GetD()
	case slices.Contains(ModerationKinds, ev.Kind),
		slices.Contains(MessageKinds, ev.Kind):
		if t := ev.Tags.GetFirst([]string{"h", ""}); t != nil {
			return t.Value()
		}
	}
	return ""
}

type group struct {
	// log holds the retained events in (created_at, id) ascending order.
	log   []*event.T
	state *State
}

// Reducer replays group-scoped events into per-group derived state. The
// state is a pure function of the retained log: applying the same set of
// events in any arrival order converges to the same result.
type Reducer struct {
	mx     sync.Mutex
	groups map[string]*group
	// authority holds pubkeys whose actions always pass the permission
	// check, typically the relay keys that host the groups.
	authority map[string]struct{}
	retention int
}

type ReducerOption func(*Reducer)

// WithAuthority marks pubkeys as root authorities for all groups.
func WithAuthority(pubkeys ...string) ReducerOption {
	return func(r *Reducer) {
		for _, pk := range pubkeys {
			r.authority[pk] = struct{}{}
		}
	}
}

// WithRetention overrides the per-group log horizon.
func WithRetention(n int) ReducerOption {
	return func(r *Reducer) { r.retention = n }
}

func NewReducer(opts ...ReducerOption) *Reducer {
	r := &Reducer{
		groups:    make(map[string]*group),
		authority: make(map[string]struct{}),
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reducer) isAuthority(pk string) bool {
	_, ok := r.authority[pk]
	return ok
}

// eventCmp is the canonical log order: (created_at, id) ascending.
func eventCmp(a, b *event.T) int {
	if a.CreatedAt != b.CreatedAt {
		if a.CreatedAt < b.CreatedAt {
			return -1
		}
		return 1
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// HandleEvent feeds one ingested event into the reducer. Non-group events
// are ignored. A late arrival that lands before the applied position forces
// a replay from the start of the retained log, because later actions'
// authority may depend on it.
func (r *Reducer) HandleEvent(ev *event.T) {
	gid := GroupID(ev)
	if gid == "" {
		return
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	g, ok := r.groups[gid]
	if !ok {
		g = &group{state: newState(gid)}
		r.groups[gid] = g
	}
	i, found := slices.BinarySearchFunc(g.log, ev, eventCmp)
	if found {
		return
	}
	g.log = slices.Insert(g.log, i, ev)
	if len(g.log) > r.retention {
		g.log = g.log[len(g.log)-r.retention:]
	}
	if i == len(g.log)-1 {
		// in-order arrival, extend the state
		r.applyOne(g.state, ev)
		return
	}
	log.T.F("group %s: late arrival %s, replaying %d events",
		gid, ev.ID, len(g.log))
	g.state = newState(gid)
	for _, e := range g.log {
		r.applyOne(g.state, e)
	}
}

// State returns a snapshot of one group's derived state.
func (r *Reducer) State(gid string) (s *State, ok bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	g, ok := r.groups[gid]
	if !ok {
		return nil, false
	}
	return g.state.Snapshot(), true
}

// Groups lists the group ids the reducer has state for.
func (r *Reducer) Groups() (ids []string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	for id := range r.groups {
		ids = append(ids, id)
	}
	return
}

// applyOne advances s by one event. Authority is evaluated against the
// state as computed immediately before this event's position, which is
// exactly what s holds at this point in the replay.
func (r *Reducer) applyOne(s *State, ev *event.T) {
	accepted, reason := r.apply(s, ev)
	s.Log = append(s.Log, LogEntry{Event: ev, Accepted: accepted,
		Reason: reason})
	if len(s.Log) > r.retention {
		s.Log = s.Log[len(s.Log)-r.retention:]
	}
	s.Applied = Position{CreatedAt: ev.CreatedAt, ID: ev.ID}
}

func (r *Reducer) apply(s *State, ev *event.T) (accepted bool,
	reason string) {

	actor := ev.PubKey
	if perm, isModeration := moderationPermission[ev.Kind]; isModeration {
		if !r.isAuthority(actor) && !s.hasPermission(actor, perm) {
			return false, fmt.Sprintf("%s lacks %s", actor, perm)
		}
		return r.applyModeration(s, ev)
	}
	if slices.Contains(MetadataKinds, ev.Kind) {
		if !r.isAuthority(actor) {
			return false, "group definition from non-authority"
		}
		return r.applyMetadata(s, ev)
	}
	// message kinds
	if s.IsBanned(actor) {
		return false, "author is banned"
	}
	if s.Closed && !s.IsMember(actor) && !r.isAuthority(actor) {
		return false, "closed group, author is not a member"
	}
	return true, ""
}

func (r *Reducer) applyModeration(s *State, ev *event.T) (accepted bool,
	reason string) {

	switch ev.Kind {
	case kind.GroupAddUser:
		for _, t := range ev.Tags.GetAll("p", "") {
			pk := t.Value()
			delete(s.Banned, pk)
			if _, exists := s.Members[pk]; !exists {
				s.Members[pk] = nil
			}
			if len(t) > 2 {
				s.Members[pk] = NewRole(t[2])
			}
		}
	case kind.GroupRemoveUser:
		for _, t := range ev.Tags.GetAll("p", "") {
			pk := t.Value()
			delete(s.Members, pk)
			s.Banned[pk] = struct{}{}
		}
	case kind.GroupAddPermission:
		for _, t := range ev.Tags.GetAll("p", "") {
			pk := t.Value()
			role := s.Members[pk]
			if role == nil {
				role = NewRole("")
				s.Members[pk] = role
			}
			for _, perm := range t[2:] {
				role.Permissions[perm] = struct{}{}
			}
		}
	case kind.GroupRemovePermission:
		for _, t := range ev.Tags.GetAll("p", "") {
			pk := t.Value()
			role := s.Members[pk]
			if role == nil {
				continue
			}
			for _, perm := range t[2:] {
				delete(role.Permissions, perm)
			}
		}
	case kind.GroupEditMetadata:
		if t := ev.Tags.GetFirst([]string{"name", ""}); t != nil {
			s.Name = t.Value()
		}
		if t := ev.Tags.GetFirst([]string{"about", ""}); t != nil {
			s.About = t.Value()
		}
		if t := ev.Tags.GetFirst([]string{"picture", ""}); t != nil {
			s.Picture = t.Value()
		}
	case kind.GroupDeleteEvent:
		for _, t := range ev.Tags.GetAll("e", "") {
			s.Deleted[t.Value()] = struct{}{}
		}
	case kind.GroupEditGroupStatus:
		if ev.Tags.GetFirst([]string{"private"}) != nil {
			s.Private = true
		}
		if ev.Tags.GetFirst([]string{"public"}) != nil {
			s.Private = false
		}
		if ev.Tags.GetFirst([]string{"closed"}) != nil {
			s.Closed = true
		}
		if ev.Tags.GetFirst([]string{"open"}) != nil {
			s.Closed = false
		}
	}
	return true, ""
}

func (r *Reducer) applyMetadata(s *State, ev *event.T) (accepted bool,
	reason string) {

	switch ev.Kind {
	case kind.GroupMetadata:
		if t := ev.Tags.GetFirst([]string{"name", ""}); t != nil {
			s.Name = t.Value()
		}
		if t := ev.Tags.GetFirst([]string{"about", ""}); t != nil {
			s.About = t.Value()
		}
		if t := ev.Tags.GetFirst([]string{"picture", ""}); t != nil {
			s.Picture = t.Value()
		}
		if ev.Content != "" {
			s.About = ev.Content
		}
		if ev.Tags.GetFirst([]string{"private"}) != nil {
			s.Private = true
		}
		if ev.Tags.GetFirst([]string{"closed"}) != nil {
			s.Closed = true
		}
	case kind.GroupAdmins:
		// wholesale replacement of the privileged set
		for pk, role := range s.Members {
			if role != nil {
				s.Members[pk] = nil
			}
		}
		for _, t := range ev.Tags.GetAll("p", "") {
			pk := t.Value()
			role := NewRole("admin")
			for _, perm := range t[2:] {
				role.Permissions[perm] = struct{}{}
			}
			s.Members[pk] = role
		}
	case kind.GroupMembers:
		// wholesale replacement of the member set, privileged roles kept
		members := make(map[string]*Role)
		for _, t := range ev.Tags.GetAll("p", "") {
			pk := t.Value()
			members[pk] = s.Members[pk]
		}
		for pk, role := range s.Members {
			if role != nil {
				members[pk] = role
			}
		}
		s.Members = members
	}
	return true, ""
}
