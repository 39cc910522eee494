package auth

import (
	"net/url"
	"strings"
	"time"

	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/kind"
	"github.com/Hubmakerlabs/aggregatr/pkg/tag"
	"github.com/Hubmakerlabs/aggregatr/pkg/tags"
	"github.com/Hubmakerlabs/aggregatr/pkg/timestamp"
)

// CreateUnsigned constructs the kind 22242 event that answers a relay auth
// challenge. The caller must pass it to the signer before sending it back.
func CreateUnsigned(challenge, relayURL string) *event.T {
	return &event.T{
		Kind:      kind.ClientAuthentication,
		CreatedAt: timestamp.Now(),
		Tags: tags.T{
			tag.T{"relay", relayURL},
			tag.T{"challenge", challenge},
		},
	}
}

// Validate checks whether ev is a valid auth response for the given
// challenge and relay URL. The result of the validation is encoded in the ok
// bool.
func Validate(ev *event.T, challenge, relayURL string) (pubkey string,
	ok bool) {

	if ev.Kind != kind.ClientAuthentication {
		return "", false
	}
	if ev.Tags.GetFirst([]string{"challenge", challenge}) == nil {
		return "", false
	}
	var expected, found *url.URL
	var err error
	if expected, err = parseURL(relayURL); err != nil {
		return "", false
	}
	rTag := ev.Tags.GetFirst([]string{"relay", ""})
	if rTag == nil {
		return "", false
	}
	if found, err = parseURL(rTag.Value()); err != nil {
		return "", false
	}
	if expected.Scheme != found.Scheme ||
		expected.Host != found.Host ||
		expected.Path != found.Path {
		return "", false
	}
	// the timestamp must be within a 10 minute window of now, so a stolen
	// auth event can't be replayed later
	now := time.Now()
	if ev.CreatedAt.Time().After(now.Add(10*time.Minute)) ||
		ev.CreatedAt.Time().Before(now.Add(-10*time.Minute)) {
		return "", false
	}
	// save for last, as it is the most expensive operation
	if ok, _ = ev.CheckSignature(); !ok {
		return "", false
	}
	return ev.PubKey, true
}

// helper function for Validate.
func parseURL(input string) (*url.URL, error) {
	return url.Parse(
		strings.ToLower(
			strings.TrimSuffix(input, "/"),
		),
	)
}
