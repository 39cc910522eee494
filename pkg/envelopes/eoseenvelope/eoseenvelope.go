package eoseenvelope

import (
	"fmt"

	"github.com/Hubmakerlabs/aggregatr/pkg/subscriptionid"
	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

const Label = "EOSE"

// T is the end-of-stored-events marker: the relay has delivered everything
// matching from its backlog and what follows is live.
type T struct {
	Sub subscriptionid.T
}

func (env *T) Label() string { return Label }

func (env *T) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode EOSE envelope")
	}
	env.Sub = subscriptionid.T(arr[1].Str)
	return nil
}

func (env *T) MarshalJSON() ([]byte, error) {
	w := &jwriter.Writer{}
	w.RawString(`["` + Label + `",`)
	w.String(env.Sub.String())
	w.RawByte(']')
	return w.BuildBytes()
}

func (env *T) String() string {
	b, _ := env.MarshalJSON()
	return string(b)
}
