package mskiam

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kafkatools/msk-iam-auth/credstore"
	"github.com/kafkatools/msk-iam-auth/sts"
)

// fakeExchanger substitutes for the sts client in refresh tests. When gate
// is set, AssumeRole blocks until the gate is closed.
type fakeExchanger struct {
	cred credstore.Credential
	err  error
	gate chan struct{}

	mu       sync.Mutex
	calls    int
	lastBase credstore.Credential
	lastIn   sts.AssumeRoleInput
}

func (f *fakeExchanger) AssumeRole(ctx context.Context, base credstore.Credential, in sts.AssumeRoleInput) (credstore.Credential, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return credstore.Credential{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastBase = base
	f.lastIn = in
	return f.cred, f.err
}

func (h *Handle) lastArmed() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastArm
}

func TestNewHandleValidatesConfig(t *testing.T) {
	_, err := newHandle(Config{}, nil)
	assert.Equal(t, ErrMissingCredentials, err)

	cfg := validStaticConfig()
	cfg.UseSTS = true
	_, err = newHandle(cfg, nil)
	assert.Equal(t, ErrMissingRoleConfig, err)
}

func TestHandleStaticConfiguration(t *testing.T) {
	h, err := newHandle(validStaticConfig(), nil)
	assert.NoError(t, err)
	defer h.Close()

	cred, ok := h.store.Snapshot()
	assert.True(t, ok)
	assert.Equal(t, validStaticConfig().AccessKeyID, cred.AccessKeyID)
	assert.True(t, cred.ExpiresAt.IsZero())

	// Static credentials idle on the no-op tick.
	assert.Equal(t, staticTickInterval, h.lastArmed())

	got, err := h.AwaitCredential(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, cred, got)
}

func TestRefreshSuccessPublishesCredential(t *testing.T) {
	expiresAt := time.Now().Add(100 * time.Second)
	fake := &fakeExchanger{cred: credstore.Credential{
		AccessKeyID:     "ASIAEXCHANGED",
		SecretAccessKey: "exchanged-secret",
		Region:          "us-east-1",
		SecurityToken:   "exchanged-token",
		ExpiresAt:       expiresAt,
	}}

	cfg := validSTSConfig()
	cfg.ExternalID = "external-id"
	h, err := newHandle(cfg, fake)
	assert.NoError(t, err)
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cred, err := h.AwaitCredential(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "ASIAEXCHANGED", cred.AccessKeyID)
	assert.Equal(t, "exchanged-token", cred.SecurityToken)
	assert.Equal(t, "", h.store.LastError())

	// Next refresh fires at 80% of the remaining lifetime.
	assert.InDelta(t, float64(80*time.Second), float64(h.lastArmed()), float64(2*time.Second))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, cfg.AccessKeyID, fake.lastBase.AccessKeyID)
	assert.Equal(t, cfg.Region, fake.lastBase.Region)
	assert.Equal(t, cfg.RoleARN, fake.lastIn.RoleARN)
	assert.Equal(t, cfg.RoleSessionName, fake.lastIn.RoleSessionName)
	assert.Equal(t, "external-id", fake.lastIn.ExternalID)
	assert.Equal(t, DefaultDurationSeconds, fake.lastIn.DurationSeconds)
}

func TestRefreshFailureSchedulesRetry(t *testing.T) {
	fake := &fakeExchanger{err: assert.AnError}

	notified := make(chan string, 4)
	cfg := validSTSConfig()
	cfg.OnAuthFailure = func(reason string) { notified <- reason }

	h, err := newHandle(cfg, fake)
	assert.NoError(t, err)
	defer h.Close()

	select {
	case reason := <-notified:
		assert.Contains(t, reason, "failed to acquire AWS_MSK_IAM credential")
		assert.Contains(t, reason, assert.AnError.Error())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for failure notification")
	}

	assert.Equal(t, failureRetryInterval, h.lastArmed())
	assert.Equal(t, assert.AnError.Error(), h.store.LastError())

	// The base credential is kept; only the exchanged token is missing.
	cred, ok := h.store.Snapshot()
	assert.True(t, ok)
	assert.Equal(t, cfg.AccessKeyID, cred.AccessKeyID)

	// The same reason again is not re-notified.
	h.SetCredentialFailure(assert.AnError.Error())
	select {
	case reason := <-notified:
		t.Fatalf("unexpected duplicate notification: %s", reason)
	case <-time.After(50 * time.Millisecond):
	}

	// A different reason is.
	h.SetCredentialFailure("region is unreachable")
	select {
	case reason := <-notified:
		assert.Contains(t, reason, "region is unreachable")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for second failure notification")
	}
}

func TestSetCredentialRejectsExpired(t *testing.T) {
	h, err := newHandle(validStaticConfig(), nil)
	assert.NoError(t, err)
	defer h.Close()

	err = h.SetCredential(credstore.Credential{
		AccessKeyID:     "ASIAEXPIRED",
		SecretAccessKey: "secret",
		Region:          "us-east-1",
		SecurityToken:   "token",
		ExpiresAt:       time.Now().Add(-time.Minute),
	})
	assert.Error(t, err)

	cred, ok := h.store.Snapshot()
	assert.True(t, ok)
	assert.Equal(t, validStaticConfig().AccessKeyID, cred.AccessKeyID)
}

func TestCloseStopsHandle(t *testing.T) {
	h, err := newHandle(validStaticConfig(), nil)
	assert.NoError(t, err)

	h.Close()
	h.Close() // idempotent

	err = h.SetCredential(credstore.Credential{
		AccessKeyID:     "ASIA",
		SecretAccessKey: "secret",
		Region:          "us-east-1",
	})
	assert.Equal(t, ErrNotConfigured, err)

	_, err = h.AwaitCredential(context.Background())
	assert.Equal(t, ErrNotConfigured, err)

	// A late failure report after teardown is a no-op.
	h.SetCredentialFailure("too late")
	assert.Equal(t, "", h.store.LastError())
}

func TestCloseReleasesWaiters(t *testing.T) {
	// The exchange keeps failing, so the waiter has nothing to wake it
	// but teardown.
	h, err := newHandle(validSTSConfig(), &fakeExchanger{err: assert.AnError})
	assert.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, err := h.AwaitCredential(ctx)
		errs <- err
	}()

	// Give the waiter time to block before tearing down.
	time.Sleep(50 * time.Millisecond)
	h.Close()

	select {
	case err := <-errs:
		assert.Equal(t, ErrNotConfigured, err)
	case <-time.After(time.Second):
		t.Fatal("waiter still blocked after Close")
	}
}

func TestAwaitCredentialBlocksUntilExchange(t *testing.T) {
	gate := make(chan struct{})
	fake := &fakeExchanger{
		cred: credstore.Credential{
			AccessKeyID:     "ASIAEXCHANGED",
			SecretAccessKey: "exchanged-secret",
			Region:          "us-east-1",
			SecurityToken:   "exchanged-token",
			ExpiresAt:       time.Now().Add(time.Hour),
		},
		gate: gate,
	}

	h, err := newHandle(validSTSConfig(), fake)
	assert.NoError(t, err)
	defer h.Close()
	defer close(gate)

	// The base credential has no token yet, so a bounded wait times out.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.AwaitCredential(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Releasing the exchange wakes the waiter.
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cred, err := h.AwaitCredential(ctx)
		assert.NoError(t, err)
		assert.Equal(t, "exchanged-token", cred.SecurityToken)
	}()

	gate <- struct{}{}
	<-done
}
