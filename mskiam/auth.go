package mskiam

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kafkatools/msk-iam-auth/credstore"
	"github.com/kafkatools/msk-iam-auth/sigv4"
)

type authPhase int

const (
	phaseClientFirstMessage authPhase = iota
	phaseServerResponse
	phaseDone
)

var phaseNames = [...]string{
	"client-first-message",
	"server-response",
	"done",
}

func (p authPhase) String() string {
	return phaseNames[p]
}

// AuthState is the per-connection authentication state machine: one
// client-first message out, one broker response in. It is driven
// synchronously by Step and is not safe for concurrent use; each broker
// connection owns exactly one AuthState.
//
// The credential snapshot is taken once, at construction, so a concurrent
// refresh cannot change the signature mid-handshake.
type AuthState struct {
	phase     authPhase
	host      string
	cred      credstore.Credential
	userAgent string

	// now is a test hook.
	now func() time.Time
}

// NewAuthState snapshots the handle's current credential for a connection
// to host. It fails immediately, without starting the handshake, when no
// credential is available or when the configuration requires an exchanged
// token that has not arrived yet.
func NewAuthState(h *Handle, host string) (*AuthState, error) {
	cred, ok := h.store.Snapshot()
	if !ok {
		return nil, fmt.Errorf("AWS_MSK_IAM cannot log in because there are no credentials available; last error: %s",
			lastErrorText(h.store))
	}
	if h.cfg.UseSTS && !cred.HasToken() {
		return nil, fmt.Errorf("AWS_MSK_IAM cannot authenticate before the first STS exchange; last error: %s",
			lastErrorText(h.store))
	}

	return &AuthState{
		phase:     phaseClientFirstMessage,
		host:      host,
		cred:      cred,
		userAgent: h.cfg.UserAgent,
		now:       time.Now,
	}, nil
}

func lastErrorText(store *credstore.Store) string {
	if last := store.LastError(); last != "" {
		return last
	}
	return "(not available)"
}

// Step advances the state machine. The first call must pass a nil in and
// returns the payload to send; the second call passes the broker's response
// frame and returns done. A failed attempt is reported once; retrying is
// the connection layer's decision.
func (s *AuthState) Step(in []byte) (out []byte, done bool, err error) {
	log.Debugf("mskiam: auth state %s", s.phase)

	switch s.phase {
	case phaseClientFirstMessage:
		if in != nil {
			return nil, false, errors.New("unexpected server input before client first message")
		}
		s.phase = phaseServerResponse
		return s.clientFirstMessage(), false, nil

	case phaseServerResponse:
		s.phase = phaseDone
		if len(in) > 0 {
			log.Debugf("mskiam: received non-empty SASL response from broker (%s)", in)
			return nil, true, nil
		}
		return nil, true, fmt.Errorf("SASL AWS_MSK_IAM authentication failed: broker response: %s", in)

	default:
		return nil, false, errors.New("authentication already completed")
	}
}

func (s *AuthState) clientFirstMessage() []byte {
	ymd, hms := sigv4.FormatTimestamp(s.now())

	canonicalQueryString := sigv4.BuildSASLCanonicalQueryString(
		sigv4.ActionConnect,
		s.cred.AccessKeyID,
		s.cred.Region,
		ymd,
		hms,
		sigv4.ServiceKafka,
		s.cred.SecurityToken,
	)
	canonicalHeaders := "host:" + s.host + "\n"
	log.Debugf("mskiam: canonical_headers=%q canonical_query_string=%q",
		canonicalHeaders, canonicalQueryString)

	payload := sigv4.BuildSASLPayload(
		ymd, hms,
		s.host,
		s.cred.AccessKeyID,
		s.cred.SecretAccessKey,
		s.cred.SecurityToken,
		s.cred.Region,
		sigv4.ServiceKafka,
		"GET",
		s.userAgent,
		canonicalHeaders,
		canonicalQueryString,
		"host",
		nil,
	)
	log.Debugf("mskiam: sasl payload calculated as %s", payload)
	return []byte(payload)
}
