package okenvelope

import (
	"fmt"

	"github.com/Hubmakerlabs/aggregatr/pkg/eventid"
	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

const Label = "OK"

// Machine-readable reason prefixes found in OK and CLOSED messages.
const (
	PrefixPoW          = "pow"
	PrefixDuplicate    = "duplicate"
	PrefixBlocked      = "blocked"
	PrefixRateLimited  = "rate-limited"
	PrefixInvalid      = "invalid"
	PrefixAuthRequired = "auth-required"
	PrefixRestricted   = "restricted"
	PrefixError        = "error"
)

// T is the OK envelope, the relay's acknowledgment of a published event or
// auth response.
type T struct {
	ID     eventid.T
	OK     bool
	Reason string
}

func (env *T) Label() string { return Label }

func (env *T) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode OK envelope: missing fields")
	}
	env.ID = eventid.T(arr[1].Str)
	env.OK = arr[2].Bool()
	if len(arr) > 3 {
		env.Reason = arr[3].Str
	}
	return nil
}

func (env *T) MarshalJSON() ([]byte, error) {
	w := &jwriter.Writer{}
	w.RawString(`["` + Label + `",`)
	w.String(env.ID.String())
	w.RawByte(',')
	w.Bool(env.OK)
	w.RawByte(',')
	w.String(env.Reason)
	w.RawByte(']')
	return w.BuildBytes()
}

func (env *T) String() string {
	b, _ := env.MarshalJSON()
	return string(b)
}
