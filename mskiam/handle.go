package mskiam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kafkatools/msk-iam-auth/credstore"
	"github.com/kafkatools/msk-iam-auth/sts"
)

const (
	// failureRetryInterval is the fixed delay before retrying a failed
	// credential refresh.
	failureRetryInterval = 10 * time.Second

	// staticTickInterval keeps the refresh timer armed when static
	// credentials are configured and each tick is a no-op.
	staticTickInterval = time.Minute
)

// ErrNotConfigured is returned for operations on a handle that has been
// closed, i.e. when AWS_MSK_IAM is no longer the configured authentication
// mechanism of the client instance.
var ErrNotConfigured = errors.New("AWS_MSK_IAM is not the configured authentication mechanism")

// exchanger is the token-exchange dependency of the refresh loop.
type exchanger interface {
	AssumeRole(ctx context.Context, base credstore.Credential, in sts.AssumeRoleInput) (credstore.Credential, error)
}

// Handle is the per-client-instance authentication state: the shared
// credential store and the timer that keeps it refreshed. Connections
// derive per-connection auth state from it with NewAuthState.
//
// The refresh timer is always armed while the handle is open: after a
// successful refresh it fires at 80% of the credential's remaining
// lifetime, after a failure 10 seconds later, and with static credentials
// it idles on a no-op tick.
type Handle struct {
	cfg      Config
	store    *credstore.Store
	exchange exchanger

	mu       sync.Mutex
	closed   bool
	timer    *time.Timer
	lastArm  time.Duration
	wake     chan struct{}
	inflight sync.WaitGroup
}

// NewHandle validates cfg, seeds the store with the configured credential
// and starts the refresh timer. With UseSTS the first exchange is kicked
// off immediately.
func NewHandle(cfg Config) (*Handle, error) {
	client, err := sts.NewClient(&sts.ClientOptions{
		Endpoint:          cfg.STSEndpoint,
		TLS:               cfg.TLS,
		UserAgent:         cfg.UserAgent,
		HTTPClientTimeout: cfg.HTTPClientTimeout,
	})
	if err != nil {
		return nil, err
	}
	return newHandle(cfg, client)
}

func newHandle(cfg Config, exchange exchanger) (*Handle, error) {
	cfg = cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Handle{
		cfg:      cfg,
		store:    credstore.NewStore(),
		exchange: exchange,
		wake:     make(chan struct{}),
	}

	// The configured credential is usable immediately for the static
	// case, and serves as the base credential for STS.
	if err := h.store.Replace(credstore.Credential{
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Region:          cfg.Region,
		SecurityToken:   cfg.SecurityToken,
	}); err != nil {
		return nil, err
	}

	if cfg.UseSTS {
		log.Debugf("mskiam: enqueuing immediate credential refresh")
		h.armTimer(0)
	} else {
		h.armTimer(staticTickInterval)
	}
	return h, nil
}

// Store exposes the credential store, e.g. to wrap it in a
// credstore.Provider.
func (h *Handle) Store() *credstore.Store {
	return h.store
}

// Close stops the refresh timer and waits for any in-flight refresh to
// finish before returning, so the store is never touched after teardown.
// In-flight connection handshakes keep their snapshots and run to
// completion.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	if h.timer != nil {
		h.timer.Stop()
	}
	// Release goroutines blocked in AwaitCredential; they re-check closed
	// on wake-up.
	close(h.wake)
	h.mu.Unlock()

	h.inflight.Wait()
}

// SetCredential replaces the shared credential, schedules the next refresh
// at 80% of its remaining lifetime and wakes every connection waiting for a
// usable credential. Credentials whose expiry is not in the future are
// rejected and the store is left unchanged.
func (h *Handle) SetCredential(cred credstore.Credential) error {
	if h.isClosed() {
		return ErrNotConfigured
	}
	if err := h.store.Replace(cred); err != nil {
		return err
	}

	if lifetime := cred.Lifetime(time.Now()); lifetime > 0 {
		h.armTimer(lifetime * 8 / 10)
	} else {
		h.armTimer(staticTickInterval)
	}

	log.Debugf("mskiam: waking waiting connections after credential refresh")
	h.wakeAll()
	return nil
}

// SetCredentialFailure records why a credential could not be acquired and
// schedules a retry on the fixed short interval. Any existing credential is
// kept because it may have some life left. The failure notification fires
// only when the reason changed.
func (h *Handle) SetCredentialFailure(reason string) {
	if h.isClosed() {
		return
	}
	h.armTimer(failureRetryInterval)
	if reason == "" {
		return
	}
	if h.store.SetError(reason) && h.cfg.OnAuthFailure != nil {
		h.cfg.OnAuthFailure(fmt.Sprintf("failed to acquire AWS_MSK_IAM credential: %s", reason))
	}
}

// AwaitCredential blocks until a credential usable by this configuration is
// available (for UseSTS that means an exchanged credential carrying a
// security token), or ctx is done. Connection layers call this to retry
// promptly after a refresh instead of sitting out their own backoff.
func (h *Handle) AwaitCredential(ctx context.Context) (credstore.Credential, error) {
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return credstore.Credential{}, ErrNotConfigured
		}
		wake := h.wake
		h.mu.Unlock()

		if cred, ok := h.store.Snapshot(); ok && h.usable(cred) {
			return cred, nil
		}

		select {
		case <-ctx.Done():
			return credstore.Credential{}, ctx.Err()
		case <-wake:
		}
	}
}

func (h *Handle) usable(cred credstore.Credential) bool {
	return !h.cfg.UseSTS || cred.HasToken()
}

func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// armTimer is the single re-arm step: every refresh outcome, including the
// static no-op tick, funnels through here with an explicit next delay.
func (h *Handle) armTimer(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.lastArm = d
	if h.timer == nil {
		h.timer = time.AfterFunc(d, h.onTimer)
		return
	}
	h.timer.Stop()
	h.timer.Reset(d)
}

func (h *Handle) onTimer() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.inflight.Add(1)
	h.mu.Unlock()
	defer h.inflight.Done()

	h.refresh(context.Background())
}

// refresh runs one scheduled refresh. Each branch re-arms the timer:
// success through SetCredential, failure through SetCredentialFailure, and
// the static configuration as a no-op tick.
func (h *Handle) refresh(ctx context.Context) {
	if !h.cfg.UseSTS {
		log.Debugf("mskiam: static credentials configured, refresh is a no-op")
		h.armTimer(staticTickInterval)
		return
	}

	log.Debugf("mskiam: refreshing credentials from sts")
	cred, err := h.exchange.AssumeRole(ctx, credstore.Credential{
		AccessKeyID:     h.cfg.AccessKeyID,
		SecretAccessKey: h.cfg.SecretAccessKey,
		Region:          h.cfg.Region,
	}, sts.AssumeRoleInput{
		RoleARN:         h.cfg.RoleARN,
		RoleSessionName: h.cfg.RoleSessionName,
		ExternalID:      h.cfg.ExternalID,
		DurationSeconds: h.cfg.DurationSeconds,
	})
	if err != nil {
		log.Debugf("mskiam: credential refresh failed: %s", err)
		h.SetCredentialFailure(err.Error())
		return
	}
	if err := h.SetCredential(cred); err != nil {
		h.SetCredentialFailure(err.Error())
	}
}

func (h *Handle) wakeAll() {
	h.mu.Lock()
	if h.closed {
		// Close has already released the channel.
		h.mu.Unlock()
		return
	}
	wake := h.wake
	h.wake = make(chan struct{})
	h.mu.Unlock()
	close(wake)
}
