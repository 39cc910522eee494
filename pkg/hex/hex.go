package hex

import (
	"encoding/hex"
)

// Enc and Dec are shortened names for the encoder and decoder so hex encoding
// calls stay compact at call sites, where they appear a lot.
var (
	Enc = hex.EncodeToString
	Dec = hex.DecodeString
)
