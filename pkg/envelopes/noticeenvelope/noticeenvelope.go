package noticeenvelope

import (
	"fmt"

	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

const Label = "NOTICE"

// T is the NOTICE envelope carrying a human-readable message from the relay.
type T struct {
	Text string
}

func (env *T) Label() string { return Label }

func (env *T) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode NOTICE envelope")
	}
	env.Text = arr[1].Str
	return nil
}

func (env *T) MarshalJSON() ([]byte, error) {
	w := &jwriter.Writer{}
	w.RawString(`["` + Label + `",`)
	w.String(env.Text)
	w.RawByte(']')
	return w.BuildBytes()
}

func (env *T) String() string {
	b, _ := env.MarshalJSON()
	return string(b)
}
