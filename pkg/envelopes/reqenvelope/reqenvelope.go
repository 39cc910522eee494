package reqenvelope

import (
	"encoding/json"
	"fmt"

	"github.com/Hubmakerlabs/aggregatr/pkg/filter"
	"github.com/Hubmakerlabs/aggregatr/pkg/filters"
	"github.com/Hubmakerlabs/aggregatr/pkg/subscriptionid"
	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

const Label = "REQ"

// T is the REQ envelope, opening a filtered subscription.
type T struct {
	SubscriptionID subscriptionid.T
	Filters        filters.T
}

func (env *T) Label() string { return Label }

func (env *T) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode REQ envelope: missing filters")
	}
	env.SubscriptionID = subscriptionid.T(arr[1].Str)
	env.Filters = make(filters.T, len(arr)-2)
	for i, fr := range arr[2:] {
		var f filter.T
		if err := json.Unmarshal([]byte(fr.Raw), &f); err != nil {
			return err
		}
		env.Filters[i] = f
	}
	return nil
}

func (env *T) MarshalJSON() ([]byte, error) {
	w := &jwriter.Writer{}
	w.RawString(`["` + Label + `",`)
	w.String(env.SubscriptionID.String())
	for _, f := range env.Filters {
		w.RawByte(',')
		w.Raw(f.MarshalJSON())
	}
	w.RawByte(']')
	return w.BuildBytes()
}

func (env *T) String() string {
	b, _ := env.MarshalJSON()
	return string(b)
}
