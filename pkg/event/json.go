package event

import (
	"encoding/json"

	"github.com/mailru/easyjson/jwriter"
)

// MarshalJSON writes the wire form of the event. The field order follows the
// canonical form so relay operators eyeballing logs see the same shape
// everywhere.
func (ev *T) MarshalJSON() ([]byte, error) {
	w := &jwriter.Writer{}
	ev.MarshalWriter(w)
	return w.BuildBytes()
}

// MarshalWriter writes the event object into an easyjson writer, for
// embedding in envelope arrays without intermediate allocations.
func (ev *T) MarshalWriter(w *jwriter.Writer) {
	w.RawString(`{"id":`)
	w.String(ev.ID.String())
	w.RawString(`,"pubkey":`)
	w.String(ev.PubKey)
	w.RawString(`,"created_at":`)
	w.Int64(ev.CreatedAt.I64())
	w.RawString(`,"kind":`)
	w.Uint16(ev.Kind.ToUint16())
	w.RawString(`,"tags":`)
	if ev.Tags == nil {
		w.RawString(`[]`)
	} else {
		w.Raw(json.Marshal(ev.Tags))
	}
	w.RawString(`,"content":`)
	w.String(ev.Content)
	w.RawString(`,"sig":`)
	w.String(ev.Sig)
	w.RawByte('}')
}

// String returns the raw wire JSON of the event.
func (ev *T) String() string {
	b, _ := ev.MarshalJSON()
	return string(b)
}
