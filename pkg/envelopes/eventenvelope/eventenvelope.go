package eventenvelope

import (
	"encoding/json"
	"fmt"

	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/subscriptionid"
	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

const Label = "EVENT"

// T is the EVENT envelope: relay to client it carries the subscription id
// the event was matched by; client to relay (publish) the id is absent.
type T struct {
	SubscriptionID subscriptionid.T
	Event          *event.T
}

func (env *T) Label() string { return Label }

func (env *T) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	switch len(arr) {
	case 2:
		env.Event = &event.T{}
		return json.Unmarshal([]byte(arr[1].Raw), env.Event)
	case 3:
		env.SubscriptionID = subscriptionid.T(arr[1].Str)
		env.Event = &event.T{}
		return json.Unmarshal([]byte(arr[2].Raw), env.Event)
	default:
		return fmt.Errorf("failed to decode EVENT envelope")
	}
}

func (env *T) MarshalJSON() ([]byte, error) {
	w := &jwriter.Writer{}
	w.RawString(`["` + Label + `",`)
	if env.SubscriptionID != "" {
		w.String(env.SubscriptionID.String())
		w.RawByte(',')
	}
	env.Event.MarshalWriter(w)
	w.RawByte(']')
	return w.BuildBytes()
}

func (env *T) String() string {
	b, _ := env.MarshalJSON()
	return string(b)
}
