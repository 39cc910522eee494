package closedenvelope

import (
	"fmt"

	"github.com/Hubmakerlabs/aggregatr/pkg/subscriptionid"
	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

const Label = "CLOSED"

// T is the CLOSED envelope: the relay ended a subscription, with a
// machine-readable reason prefix such as "auth-required:".
type T struct {
	ID     subscriptionid.T
	Reason string
}

func (env *T) Label() string { return Label }

func (env *T) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode CLOSED envelope")
	}
	env.ID = subscriptionid.T(arr[1].Str)
	env.Reason = arr[2].Str
	return nil
}

func (env *T) MarshalJSON() ([]byte, error) {
	w := &jwriter.Writer{}
	w.RawString(`["` + Label + `",`)
	w.String(env.ID.String())
	w.RawByte(',')
	w.String(env.Reason)
	w.RawByte(']')
	return w.BuildBytes()
}

func (env *T) String() string {
	b, _ := env.MarshalJSON()
	return string(b)
}
