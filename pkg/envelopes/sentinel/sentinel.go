package sentinel

import (
	"fmt"
	"os"

	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/authenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/closedenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/closeenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/enveloper"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/eoseenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/eventenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/noticeenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/okenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/reqenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/slog"
	"github.com/tidwall/gjson"
)

var log, chk = slog.New(os.Stderr)

// Identify reads the label of a wire envelope without fully decoding it.
func Identify(b []byte) (label string, err error) {
	r := gjson.ParseBytes(b)
	if !r.IsArray() {
		return "", fmt.Errorf("envelope is not a JSON array: %.80s", string(b))
	}
	arr := r.Array()
	if len(arr) == 0 || arr[0].Type != gjson.String {
		return "", fmt.Errorf("envelope carries no label: %.80s", string(b))
	}
	return arr[0].Str, nil
}

// Read identifies and fully decodes a wire envelope. A label that is not
// recognised is a protocol violation: the caller logs and drops the message
// but the session continues.
func Read(b []byte) (env enveloper.I, err error) {
	var label string
	if label, err = Identify(b); err != nil {
		return
	}
	switch label {
	case eventenvelope.Label:
		env = &eventenvelope.T{}
	case reqenvelope.Label:
		env = &reqenvelope.T{}
	case closeenvelope.Label:
		env = &closeenvelope.T{}
	case closedenvelope.Label:
		env = &closedenvelope.T{}
	case eoseenvelope.Label:
		env = &eoseenvelope.T{}
	case okenvelope.Label:
		env = &okenvelope.T{}
	case noticeenvelope.Label:
		env = &noticeenvelope.T{}
	case authenvelope.Label:
		// AUTH carries a bare challenge string relay-to-client and an event
		// object client-to-relay; disambiguate on the payload type.
		r := gjson.ParseBytes(b).Array()
		if len(r) > 1 && r[1].IsObject() {
			env = &authenvelope.Response{}
		} else {
			env = &authenvelope.Challenge{}
		}
	default:
		return nil, log.E.Err("label '%s' not recognised as envelope label",
			label)
	}
	if err = env.UnmarshalJSON(b); chk.D(err) {
		return nil, err
	}
	return
}
