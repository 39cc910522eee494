package filter

import (
	"encoding/json"

	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/eventid"
	"github.com/Hubmakerlabs/aggregatr/pkg/kinds"
	"github.com/Hubmakerlabs/aggregatr/pkg/timestamp"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

// T is the query form sent in a REQ: a set of constraints an event must
// satisfy to match. Empty fields match everything.
type T struct {
	IDs     []eventid.T  `json:"ids,omitempty"`
	Kinds   kinds.T      `json:"kinds,omitempty"`
	Authors []string     `json:"authors,omitempty"`
	Tags    TagMap       `json:"-"`
	Since   *timestamp.T `json:"since,omitempty"`
	Until   *timestamp.T `json:"until,omitempty"`
	Limit   int          `json:"limit,omitempty"`
	Search  string       `json:"search,omitempty"`
}

// TagMap is the set of tag-value constraints, keyed by tag name without the
// wire "#" prefix.
type TagMap map[string][]string

// Matches reports whether the event satisfies every constraint of the
// filter.
func (f T) Matches(ev *event.T) bool {
	if ev == nil {
		return false
	}
	if f.IDs != nil && !slices.Contains(f.IDs, ev.ID) {
		return false
	}
	if f.Kinds != nil && !f.Kinds.Contains(ev.Kind) {
		return false
	}
	if f.Authors != nil && !slices.Contains(f.Authors, ev.PubKey) {
		return false
	}
	for tn, tv := range f.Tags {
		if tv != nil && !ev.Tags.ContainsAny(tn, tv) {
			return false
		}
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	return true
}

func Equal(a, b T) bool {
	if !similar(a.Kinds, b.Kinds) {
		return false
	}
	if !similar(a.IDs, b.IDs) {
		return false
	}
	if !similar(a.Authors, b.Authors) {
		return false
	}
	if len(a.Tags) != len(b.Tags) {
		return false
	}
	for tn, av := range a.Tags {
		bv, ok := b.Tags[tn]
		if !ok || !similar(av, bv) {
			return false
		}
	}
	if !arePointerValuesEqual(a.Since, b.Since) {
		return false
	}
	if !arePointerValuesEqual(a.Until, b.Until) {
		return false
	}
	return a.Search == b.Search
}

// Clone makes an independent copy of the filter.
func (f T) Clone() T {
	clone := T{
		IDs:     slices.Clone(f.IDs),
		Authors: slices.Clone(f.Authors),
		Kinds:   slices.Clone(f.Kinds),
		Limit:   f.Limit,
		Search:  f.Search,
	}
	if f.Tags != nil {
		clone.Tags = make(TagMap, len(f.Tags))
		for k, v := range f.Tags {
			clone.Tags[k] = slices.Clone(v)
		}
	}
	if f.Since != nil {
		since := *f.Since
		clone.Since = &since
	}
	if f.Until != nil {
		until := *f.Until
		clone.Until = &until
	}
	return clone
}

// MarshalJSON flattens the tag map into the wire "#x" keys that plain struct
// tags can't express.
func (f T) MarshalJSON() ([]byte, error) {
	type alias T
	raw := map[string]json.RawMessage{}
	ab, err := json.Marshal(alias(f))
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(ab, &raw); err != nil {
		return nil, err
	}
	for tn, tv := range f.Tags {
		vb, _ := json.Marshal(tv)
		raw["#"+tn] = vb
	}
	return json.Marshal(raw)
}

// UnmarshalJSON reverses MarshalJSON, collecting "#x" keys into the tag map.
func (f *T) UnmarshalJSON(b []byte) (err error) {
	type alias T
	var a alias
	if err = json.Unmarshal(b, &a); err != nil {
		return
	}
	*f = T(a)
	raw := map[string]json.RawMessage{}
	if err = json.Unmarshal(b, &raw); err != nil {
		return
	}
	for k, v := range raw {
		if len(k) < 2 || k[0] != '#' {
			continue
		}
		var vals []string
		if err = json.Unmarshal(v, &vals); err != nil {
			return
		}
		if f.Tags == nil {
			f.Tags = make(TagMap)
		}
		f.Tags[k[1:]] = vals
	}
	return
}

func (f T) String() string {
	b, _ := f.MarshalJSON()
	return string(b)
}

func similar[E constraints.Ordered](as, bs []E) bool {
	if len(as) != len(bs) {
		return false
	}
	for _, a := range as {
		if !slices.Contains(bs, a) {
			return false
		}
	}
	return true
}

func arePointerValuesEqual[V comparable](a *V, b *V) bool {
	if a == nil && b == nil {
		return true
	}
	if a != nil && b != nil {
		return *a == *b
	}
	return false
}
