package tags

import (
	"encoding/json"
	"errors"

	"github.com/Hubmakerlabs/aggregatr/pkg/tag"
)

// T is a list of tag.T - which are lists of string elements with ordering
// and no uniqueness constraint (not a set).
type T []tag.T

// GetFirst gets the first tag in tags that matches the prefix, see
// [tag.T.StartsWith].
func (t T) GetFirst(tagPrefix []string) *tag.T {
	for _, v := range t {
		if v.StartsWith(tagPrefix) {
			return &v
		}
	}
	return nil
}

// GetLast gets the last tag in tags that matches the prefix.
func (t T) GetLast(tagPrefix []string) *tag.T {
	for i := len(t) - 1; i >= 0; i-- {
		v := t[i]
		if v.StartsWith(tagPrefix) {
			return &v
		}
	}
	return nil
}

// GetAll gets all the tags that match the prefix.
func (t T) GetAll(tagPrefix ...string) T {
	result := make(T, 0, len(t))
	for _, v := range t {
		if v.StartsWith(tagPrefix) {
			result = append(result, v)
		}
	}
	return result
}

// GetD returns the value of the first d tag, the distinguishing element of
// the identity key of addressable events.
func (t T) GetD() string {
	if d := t.GetFirst([]string{"d", ""}); d != nil {
		return d.Value()
	}
	return ""
}

// FilterOut removes all tags that match the prefix.
func (t T) FilterOut(tagPrefix []string) T {
	filtered := make(T, 0, len(t))
	for _, v := range t {
		if !v.StartsWith(tagPrefix) {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

// AppendUnique appends a tag if it doesn't exist yet, otherwise does
// nothing. The uniqueness comparison is done based only on the first 2
// elements of the tag.
func (t T) AppendUnique(tg tag.T) T {
	n := len(tg)
	if n > 2 {
		n = 2
	}
	if t.GetFirst(tg[:n]) == nil {
		return append(t, tg)
	}
	return t
}

// Scan parses a string or raw bytes that should be a JSON encoded tags array
// and embeds the values into the receiver.
func (t *T) Scan(src any) (err error) {
	var jtags []byte
	switch v := src.(type) {
	case []byte:
		jtags = v
	case string:
		jtags = []byte(v)
	default:
		return errors.New("couldn't scan tags, it's not a json string")
	}
	return json.Unmarshal(jtags, t)
}

// ContainsAny returns true if any of the strings given in `values` matches
// any of the tag elements with the given key.
func (t T) ContainsAny(tagName string, values []string) bool {
	for _, v := range t {
		if len(v) < 2 {
			continue
		}
		if v.Key() != tagName {
			continue
		}
		for _, candidate := range values {
			if v.Value() == candidate {
				return true
			}
		}
	}
	return false
}

// MarshalTo appends the JSON encoded tags as [][]string to dst. String
// escaping is as described in RFC8259.
func (t T) MarshalTo(dst []byte) []byte {
	dst = append(dst, '[')
	for i, tg := range t {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = tg.MarshalTo(dst)
	}
	dst = append(dst, ']')
	return dst
}

// Clone deep copies the tags.
func (t T) Clone() (c T) {
	c = make(T, len(t))
	for i := range t {
		c[i] = t[i].Clone()
	}
	return
}
