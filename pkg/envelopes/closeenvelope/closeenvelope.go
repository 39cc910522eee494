package closeenvelope

import (
	"fmt"

	"github.com/Hubmakerlabs/aggregatr/pkg/subscriptionid"
	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

const Label = "CLOSE"

// T is the CLOSE envelope, ending a subscription from the client side.
type T struct {
	ID subscriptionid.T
}

func New(id subscriptionid.T) *T { return &T{ID: id} }

func (env *T) Label() string { return Label }

func (env *T) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode CLOSE envelope")
	}
	env.ID = subscriptionid.T(arr[1].Str)
	return nil
}

func (env *T) MarshalJSON() ([]byte, error) {
	w := &jwriter.Writer{}
	w.RawString(`["` + Label + `",`)
	w.String(env.ID.String())
	w.RawByte(']')
	return w.BuildBytes()
}

func (env *T) String() string {
	b, _ := env.MarshalJSON()
	return string(b)
}
