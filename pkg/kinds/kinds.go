package kinds

import (
	"github.com/Hubmakerlabs/aggregatr/pkg/kind"
)

// T is a list of kind.T, used in filters and kind-range dispatch.
type T []kind.T

// ToUint16 converts a kinds.T to a slice of uint16.
func (k T) ToUint16() (o []uint16) {
	for i := range k {
		o = append(o, k[i].ToUint16())
	}
	return
}

// FromIntSlice converts a slice of int to a kinds.T.
func FromIntSlice(is []int) (k T) {
	for i := range is {
		k = append(k, kind.T(is[i]))
	}
	return
}

// Contains returns true if the provided element is present.
func (k T) Contains(s kind.T) bool {
	for i := range k {
		if k[i] == s {
			return true
		}
	}
	return false
}

func (k T) Equals(t1 T) bool {
	if len(k) != len(t1) {
		return false
	}
	for i := range k {
		if k[i] != t1[i] {
			return false
		}
	}
	return true
}
