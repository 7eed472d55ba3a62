// Package mskiam implements SASL/AWS_MSK_IAM authentication for Kafka
// clients: a per-client handle that keeps an AWS credential fresh (directly
// configured or exchanged through STS AssumeRole), and a per-connection
// two-step handshake that signs an authentication payload with that
// credential.
package mskiam

import (
	"errors"
	"time"

	"github.com/kafkatools/msk-iam-auth/sts"
)

const (
	// DefaultDurationSeconds is the requested lifetime of exchanged
	// credentials when none is configured.
	DefaultDurationSeconds = 900

	// DefaultUserAgent identifies this client in the SASL payload and in
	// requests to STS.
	DefaultUserAgent = "msk-iam-auth"
)

// Errors returned by Config.Validate.
var (
	ErrMissingCredentials = errors.New("access key id, secret access key, and region must be set")
	ErrMissingRoleConfig  = errors.New("use sts is enabled but role arn or role session name is missing")
)

// Config is the authentication surface consumed by a Handle. It is read
// once at handle creation and never mutated afterwards.
type Config struct {
	// Base credential. With UseSTS these sign the AssumeRole exchange;
	// without it they authenticate connections directly.
	AccessKeyID     string
	SecretAccessKey string
	Region          string

	// SecurityToken optionally accompanies statically supplied
	// credentials.
	SecurityToken string

	// UseSTS enables the background AssumeRole exchange. RoleARN and
	// RoleSessionName are then mandatory.
	UseSTS          bool
	RoleARN         string
	RoleSessionName string
	ExternalID      string

	// DurationSeconds is the requested lifetime for exchanged
	// credentials. Defaults to DefaultDurationSeconds.
	DurationSeconds int

	// STSEndpoint overrides the global STS endpoint, for regional
	// endpoints or testing.
	STSEndpoint string

	// TLS supplies optional mutual-TLS material for the STS exchange.
	TLS *sts.TLSConfig

	// UserAgent defaults to DefaultUserAgent.
	UserAgent string

	// HTTPClientTimeout overrides the sts package's default timeout.
	HTTPClientTimeout *time.Duration

	// OnAuthFailure, if set, is called with a human-readable reason each
	// time the standing refresh-failure state changes. It is never called
	// twice in a row with the same reason.
	OnAuthFailure func(reason string)
}

// Validate fails fast, before any network activity, when mandatory fields
// are missing.
func (c Config) Validate() error {
	if c.AccessKeyID == "" || c.SecretAccessKey == "" || c.Region == "" {
		return ErrMissingCredentials
	}
	if c.UseSTS && (c.RoleARN == "" || c.RoleSessionName == "") {
		return ErrMissingRoleConfig
	}
	return nil
}

func (c Config) applyDefaults() Config {
	if c.DurationSeconds == 0 {
		c.DurationSeconds = DefaultDurationSeconds
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	return c
}
