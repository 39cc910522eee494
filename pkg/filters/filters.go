package filters

import (
	"encoding/json"

	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/filter"
)

// T is the list of filters a single subscription carries; an event matches
// the subscription if it matches any member.
type T []filter.T

func (f T) Match(ev *event.T) bool {
	for _, ff := range f {
		if ff.Matches(ev) {
			return true
		}
	}
	return false
}

func (f T) String() string {
	b, _ := json.Marshal(f)
	return string(b)
}
