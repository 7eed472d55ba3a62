package credstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws/credentials"
)

// DefaultExpiryWindow is how long before the real expiry Retrieve starts
// reporting the credential as expired.
const DefaultExpiryWindow = 5 * time.Minute

// ProviderName is reported in credentials.Value.ProviderName.
const ProviderName = "msk-iam-auth"

// Provider exposes a Store as an aws-sdk-go credentials.Provider, so the
// credential kept fresh for broker authentication can also drive other AWS
// API clients.
type Provider struct {
	credentials.Expiry
	Store *Store

	// ExpiryWindow defaults to DefaultExpiryWindow when zero.
	ExpiryWindow time.Duration
}

var _ credentials.Provider = (*Provider)(nil)

// Retrieve returns the current credential snapshot as a credentials.Value.
func (p *Provider) Retrieve() (credentials.Value, error) {
	cred, ok := p.Store.Snapshot()
	if !ok {
		if last := p.Store.LastError(); last != "" {
			return credentials.Value{}, fmt.Errorf("no credential available; last error: %s", last)
		}
		return credentials.Value{}, errors.New("no credential available")
	}

	window := p.ExpiryWindow
	if window == 0 {
		window = DefaultExpiryWindow
	}
	if !cred.ExpiresAt.IsZero() {
		p.SetExpiration(cred.ExpiresAt, window)
	} else {
		// Static credentials carry no expiry. The embedded Expiry zero
		// value reports expired, which would make the SDK call Retrieve
		// on every request; push the horizon far out instead.
		p.SetExpiration(time.Now().AddDate(10, 0, 0), 0)
	}

	return credentials.Value{
		AccessKeyID:     cred.AccessKeyID,
		SecretAccessKey: cred.SecretAccessKey,
		SessionToken:    cred.SecurityToken,
		ProviderName:    ProviderName,
	}, nil
}
