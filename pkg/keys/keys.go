package keys

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/Hubmakerlabs/aggregatr/pkg/hex"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// GeneratePrivateKey returns a freshly generated secp256k1 secret key as 64
// hex characters.
func GeneratePrivateKey() string {
	params := btcec.S256().Params()
	one := new(big.Int).SetInt64(1)

	b := make([]byte, params.BitSize/8+8)
	if _, e := io.ReadFull(rand.Reader, b); e != nil {
		return ""
	}

	k := new(big.Int).SetBytes(b)
	n := new(big.Int).Sub(params.N, one)
	k.Mod(k, n)
	k.Add(k, one)

	return fmt.Sprintf("%064x", k.Bytes())
}

// GetPublicKey derives the x-only schnorr public key for a secret key, both
// hex encoded.
func GetPublicKey(sk string) (string, error) {
	b, e := hex.Dec(sk)
	if e != nil {
		return "", e
	}

	_, pk := btcec.PrivKeyFromBytes(b)
	return hex.Enc(schnorr.SerializePubKey(pk)), nil
}

// IsValid32ByteHex reports whether pk parses as 32 lower case hex encoded
// bytes, the form of pubkeys and event ids on the wire.
func IsValid32ByteHex(pk string) bool {
	if strings.ToLower(pk) != pk {
		return false
	}
	dec, _ := hex.Dec(pk)
	return len(dec) == 32
}
