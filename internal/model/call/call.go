package call

import "fmt"

// Provider identifies the telephony platform a call arrived on.
type Provider string

const (
	ProviderTelnyx Provider = "telnyx"
	ProviderTwilio Provider = "twilio"
)

// Valid reports whether the provider is one we know how to route.
func (p Provider) Valid() bool {
	switch p {
	case ProviderTelnyx, ProviderTwilio:
		return true
	}
	return false
}

// ParseProvider converts a wire value into a Provider.
func ParseProvider(raw string) (Provider, error) {
	p := Provider(raw)
	if !p.Valid() {
		return "", fmt.Errorf("unknown call provider %q", raw)
	}
	return p, nil
}

// Record is the durable routing metadata persisted for every call. It is
// written when the provider reports the call answered and expires on its own
// TTL; it may outlive the in-memory session.
type Record struct {
	CallID   string   `json:"callId"`
	To       string   `json:"to"`
	From     string   `json:"from"`
	Provider Provider `json:"provider"`
}
