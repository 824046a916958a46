// Package register implements the REGISTER client state machine of
// spec.md §4.3: one configurable registrar, periodic refresh at 80% of
// granted expiry, and exponential backoff retry on failure. Grounded on
// flowpbx-flowpbx/internal/sip/trunk.go's TrunkRegistrar
// (registrationLoop/sendRegister/backoff), generalized from its
// per-trunk map down to the single registrar spec.md §4.3 describes,
// and its digest handling replaced with github.com/icholy/digest
// (the same library the teacher already depends on), which computes
// the response hash and nc bookkeeping for a given challenge directly.
package register

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
)

// Status is the registrar-facing registration state.
type Status string

const (
	StatusUnregistered Status = "unregistered"
	StatusRegistering  Status = "registering"
	StatusRegistered   Status = "registered"
	StatusFailed       Status = "failed"
)

// Config carries the REGISTER_* environment variables of spec.md §6.
type Config struct {
	RegistrarHost string
	RegistrarPort int
	Transport     string
	User          string
	Domain        string
	Expires       int
	AuthUser      string
	AuthPassword  string
	ContactHost   string
	ContactPort   int
}

// State is a snapshot of the registrar's runtime status, read by
// callers (metrics, health checks) without touching the driver
// goroutine's internals.
type State struct {
	Status       Status
	LastError    string
	RetryAttempt int
	RegisteredAt time.Time
	ExpiresAt    time.Time
}

// Client drives the REGISTER refresh/retry loop described in
// spec.md §4.3 against Config.RegistrarHost.
type Client struct {
	cfg    Config
	client *sipgo.Client
	ua     *sipgo.UserAgent
	log    *slog.Logger

	mu    sync.RWMutex
	state State

	onState func(State)
}

// New creates a REGISTER client. It does not start the loop; call Run
// in its own goroutine.
func New(log *slog.Logger, ua *sipgo.UserAgent, client *sipgo.Client, cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		client: client,
		ua:     ua,
		log:    log,
		state:  State{Status: StatusUnregistered},
	}
}

// OnStateChange registers a callback invoked whenever State changes,
// used to drive the register-state gauge (internal/metrics).
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *Client) setState(mutate func(*State)) {
	c.mu.Lock()
	mutate(&c.state)
	snapshot := c.state
	cb := c.onState
	c.mu.Unlock()
	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns the current registration state.
func (c *Client) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Run drives the registration lifecycle until ctx is cancelled, at
// which point it sends a final Expires: 0 REGISTER to unregister
// (spec.md §4.3 "Shutdown emits REGISTER with Expires: 0").
func (c *Client) Run(ctx context.Context) {
	expiry := c.cfg.Expires
	if expiry <= 0 {
		expiry = 3600
	}

	bo := newBackoff()

	for {
		c.setState(func(s *State) { s.Status = StatusRegistering })

		granted, err := c.sendRegister(ctx, expiry)
		if err != nil {
			if ctx.Err() != nil {
				c.sendFinalUnregister()
				return
			}

			delay := bo.next()
			c.setState(func(s *State) {
				s.Status = StatusFailed
				s.LastError = err.Error()
				s.RetryAttempt = bo.attempt
			})
			c.log.Error("register failed", "error", err, "retry_in", delay)

			select {
			case <-ctx.Done():
				c.sendFinalUnregister()
				return
			case <-time.After(delay):
				continue
			}
		}

		bo.reset()
		now := time.Now()
		expiresAt := now.Add(time.Duration(granted) * time.Second)
		c.setState(func(s *State) {
			s.Status = StatusRegistered
			s.LastError = ""
			s.RetryAttempt = 0
			s.RegisteredAt = now
			s.ExpiresAt = expiresAt
		})
		c.log.Info("registered", "expires", granted)

		refresh := time.Duration(float64(granted)*0.8) * time.Second
		if refresh < time.Second {
			refresh = time.Second
		}

		select {
		case <-ctx.Done():
			c.sendFinalUnregister()
			return
		case <-time.After(refresh):
		}
	}
}

func (c *Client) sendFinalUnregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.sendRegister(ctx, 0); err != nil {
		c.log.Warn("unregister on shutdown failed", "error", err)
	}
}

func (c *Client) registrarURI() string {
	return fmt.Sprintf("sip:%s:%d", c.cfg.RegistrarHost, c.cfg.RegistrarPort)
}

func (c *Client) sendRegister(ctx context.Context, expiry int) (int, error) {
	var recipient sip.Uri
	if err := sip.ParseUri(c.registrarURI(), &recipient); err != nil {
		return 0, fmt.Errorf("register: parse registrar uri: %w", err)
	}

	req := c.buildRequest(recipient, expiry)

	tx, err := c.client.TransactionRequest(ctx, req, sipgo.ClientRequestRegisterBuild)
	if err != nil {
		return 0, fmt.Errorf("register: send: %w", err)
	}
	res, err := waitResponse(ctx, tx)
	tx.Terminate()
	if err != nil {
		return 0, fmt.Errorf("register: response: %w", err)
	}

	if res.StatusCode == 401 || res.StatusCode == 407 {
		authHeader, authzHeader := "WWW-Authenticate", "Authorization"
		if res.StatusCode == 407 {
			authHeader, authzHeader = "Proxy-Authenticate", "Proxy-Authorization"
		}
		wwwAuth := res.GetHeader(authHeader)
		if wwwAuth == nil {
			return 0, fmt.Errorf("register: %d with no %s header", res.StatusCode, authHeader)
		}

		chal, err := digest.ParseChallenge(wwwAuth.Value())
		if err != nil {
			return 0, fmt.Errorf("register: parse challenge: %w", err)
		}
		cred := c.authorize(chal, req.Method.String(), c.registrarURI())

		authReq := req.Clone()
		authReq.RemoveHeader("Via")
		authReq.AppendHeader(sip.NewHeader(authzHeader, cred.String()))

		tx2, err := c.client.TransactionRequest(ctx, authReq,
			sipgo.ClientRequestIncreaseCSEQ,
			sipgo.ClientRequestAddVia,
		)
		if err != nil {
			return 0, fmt.Errorf("register: send authenticated: %w", err)
		}
		res, err = waitResponse(ctx, tx2)
		tx2.Terminate()
		if err != nil {
			return 0, fmt.Errorf("register: authenticated response: %w", err)
		}
	}

	if res.StatusCode != 200 {
		return 0, fmt.Errorf("register: status %d %s", res.StatusCode, res.Reason)
	}

	granted := expiry
	if contactHdr := res.GetHeader("Contact"); contactHdr != nil {
		if v := parseContactExpires(contactHdr.Value()); v > 0 {
			granted = v
		}
	} else if expiresHdr := res.GetHeader("Expires"); expiresHdr != nil {
		if v, err := strconv.Atoi(strings.TrimSpace(expiresHdr.Value())); err == nil && v > 0 {
			granted = v
		}
	}
	return granted, nil
}

func (c *Client) buildRequest(recipient sip.Uri, expiry int) *sip.Request {
	req := sip.NewRequest(sip.REGISTER, recipient)
	req.SetTransport(strings.ToUpper(c.cfg.Transport))

	aor := fmt.Sprintf("<sip:%s@%s>", c.cfg.User, c.cfg.Domain)
	req.AppendHeader(sip.NewHeader("From", aor))
	req.AppendHeader(sip.NewHeader("To", aor))

	contactHost := c.cfg.ContactHost
	if contactHost == "" {
		contactHost = c.ua.Hostname()
	}
	contact := fmt.Sprintf("<sip:%s@%s:%d>", c.cfg.User, contactHost, c.cfg.ContactPort)
	req.AppendHeader(sip.NewHeader("Contact", contact))
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(expiry)))
	return req
}

// authorize computes digest credentials for one challenge, per
// spec.md §8 scenario 6's literal Authorization header.
func (c *Client) authorize(chal *digest.Challenge, method, uri string) *digest.Credentials {
	authUser := c.cfg.AuthUser
	if authUser == "" {
		authUser = c.cfg.User
	}

	cred, _ := digest.Digest(chal, digest.Options{
		Method:   method,
		URI:      uri,
		Username: authUser,
		Password: c.cfg.AuthPassword,
	})
	return cred
}

func waitResponse(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-tx.Done():
		return nil, fmt.Errorf("transaction terminated: %w", tx.Err())
	case res := <-tx.Responses():
		return res, nil
	}
}

func parseContactExpires(contactValue string) int {
	lower := strings.ToLower(contactValue)
	idx := strings.Index(lower, ";expires=")
	if idx < 0 {
		return 0
	}
	rest := contactValue[idx+len(";expires="):]
	if end := strings.IndexAny(rest, ";,> \t"); end > 0 {
		rest = rest[:end]
	}
	v, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0
	}
	return v
}

// backoff implements exponential backoff with jitter, base 5s cap 60s
// per spec.md §4.3.
type backoff struct {
	attempt   int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newBackoff() *backoff {
	return &backoff{baseDelay: 5 * time.Second, maxDelay: 60 * time.Second}
}

func (b *backoff) next() time.Duration {
	d := b.current()
	b.attempt++
	return d
}

func (b *backoff) current() time.Duration {
	d := b.baseDelay
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d > b.maxDelay {
			d = b.maxDelay
			break
		}
	}
	jitter := float64(d) * 0.2 * (2*rand.Float64() - 1)
	d += time.Duration(jitter)
	if d < 0 {
		d = b.baseDelay
	}
	return d
}

func (b *backoff) reset() {
	b.attempt = 0
}
