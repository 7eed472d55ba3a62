package mskiam

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go/sasl"
)

// MechanismName is the SASL mechanism name brokers advertise for IAM
// authentication.
const MechanismName = "AWS_MSK_IAM"

// Mechanism adapts a Handle to kafka-go's sasl.Mechanism, so the handshake
// can drive any kafka-go dialer or transport. The broker hostname is taken
// from the sasl metadata kafka-go attaches to the context.
type Mechanism struct {
	Handle *Handle
}

var _ sasl.Mechanism = (*Mechanism)(nil)

// Name implements sasl.Mechanism.
func (m *Mechanism) Name() string {
	return MechanismName
}

// Start implements sasl.Mechanism: it snapshots the current credential for
// this connection and returns the signed payload as the initial response.
func (m *Mechanism) Start(ctx context.Context) (sasl.StateMachine, []byte, error) {
	meta := sasl.MetadataFromContext(ctx)
	if meta == nil {
		return nil, nil, errors.New("missing sasl metadata (broker host) in context")
	}

	state, err := NewAuthState(m.Handle, meta.Host)
	if err != nil {
		return nil, nil, err
	}
	first, _, err := state.Step(nil)
	if err != nil {
		return nil, nil, err
	}
	return &saslSession{state: state}, first, nil
}

type saslSession struct {
	state *AuthState
}

// Next feeds the broker's response frame into the state machine.
func (s *saslSession) Next(ctx context.Context, challenge []byte) (bool, []byte, error) {
	out, done, err := s.state.Step(challenge)
	return done, out, err
}
