package authenvelope

import (
	"encoding/json"
	"fmt"

	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

const Label = "AUTH"

// Challenge is the relay-to-client AUTH envelope: a single-use nonce scoped
// to this one connection, discarded when the connection resets.
type Challenge struct {
	Challenge string
}

func (env *Challenge) Label() string { return Label }

func (env *Challenge) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode AUTH challenge envelope")
	}
	env.Challenge = arr[1].Str
	return nil
}

func (env *Challenge) MarshalJSON() ([]byte, error) {
	w := &jwriter.Writer{}
	w.RawString(`["` + Label + `",`)
	w.String(env.Challenge)
	w.RawByte(']')
	return w.BuildBytes()
}

func (env *Challenge) String() string {
	b, _ := env.MarshalJSON()
	return string(b)
}

// Response is the client-to-relay AUTH envelope carrying the signed
// kind 22242 event.
type Response struct {
	Event *event.T
}

func (env *Response) Label() string { return Label }

func (env *Response) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode AUTH response envelope")
	}
	env.Event = &event.T{}
	return json.Unmarshal([]byte(arr[1].Raw), env.Event)
}

func (env *Response) MarshalJSON() ([]byte, error) {
	w := &jwriter.Writer{}
	w.RawString(`["` + Label + `",`)
	env.Event.MarshalWriter(w)
	w.RawByte(']')
	return w.BuildBytes()
}

func (env *Response) String() string {
	b, _ := env.MarshalJSON()
	return string(b)
}
