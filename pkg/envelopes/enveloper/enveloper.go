package enveloper

// I is the interface all wire envelopes implement: a message label as found
// in the first element of the envelope array, plus JSON codec methods.
type I interface {
	Label() string
	MarshalJSON() ([]byte, error)
	UnmarshalJSON(b []byte) error
	String() string
}
