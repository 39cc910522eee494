package subscriptionid

import (
	"fmt"
)

// T is the client-chosen identifier scoping a REQ, its event deliveries, the
// EOSE marker and the CLOSE/CLOSED messages.
type T string

func (si T) String() string { return string(si) }

// IsValid checks the length bound; relays commonly reject ids longer than 64
// characters.
func (si T) IsValid() bool { return len(si) <= 64 && len(si) > 0 }

// New validates and coerces a string to a subscription id.
func New(s string) (T, error) {
	si := T(s)
	if !si.IsValid() {
		return "", fmt.Errorf("invalid subscription ID, length 1-64 required, got %d", len(s))
	}
	return si, nil
}
