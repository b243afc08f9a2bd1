package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/MrEthical07/goSession/internal/wire"
	"github.com/MrEthical07/goSession/session"
)

const flightKey = "refresh"

// DefaultTimeout bounds one renewal round trip.
const DefaultTimeout = 15 * time.Second

var (
	errNoAccessToken = errors.New("refresh response has no access_token")
	errSuperseded    = errors.New("credentials changed during refresh")
)

// Hooks observe renewal activity. Any field may be nil.
type Hooks struct {
	// OnSkip fires when no refresh token is stored.
	OnSkip func()
	// OnRequest fires once per Refresh call that reaches the flight group.
	OnRequest func()
	// OnAttempt fires once per network renewal.
	OnAttempt func()
	// OnResult fires once per network renewal with its outcome.
	OnResult func(ok bool, elapsed time.Duration)
}

// Options configures a Coordinator.
type Options struct {
	URL              string
	Client           *http.Client
	Timeout          time.Duration
	UserAgent        string
	MaxResponseBytes int64
	Logger           zerolog.Logger
	Hooks            Hooks
}

// Coordinator performs single-flight token renewal against one credential
// store.
type Coordinator struct {
	creds *session.CredentialStore
	opts  Options
	log   zerolog.Logger
	group singleflight.Group
}

// NewCoordinator returns a Coordinator posting to opts.URL.
func NewCoordinator(creds *session.CredentialStore, opts Options) (*Coordinator, error) {
	if creds == nil {
		return nil, errors.New("refresh: credential store is required")
	}
	if opts.URL == "" {
		return nil, errors.New("refresh: URL is required")
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Coordinator{
		creds: creds,
		opts:  opts,
		log:   opts.Logger.With().Str("component", "refresh").Logger(),
	}, nil
}

// Refresh renews the access token and reports whether it succeeded. When ctx
// ends first the caller gets false, but the shared flight keeps running for
// the other waiters.
func (c *Coordinator) Refresh(ctx context.Context) bool {
	if !c.creds.Get().CanRefresh() {
		if c.opts.Hooks.OnSkip != nil {
			c.opts.Hooks.OnSkip()
		}
		c.log.Debug().Msg("no refresh token stored; renewal skipped")
		return false
	}
	if c.opts.Hooks.OnRequest != nil {
		c.opts.Hooks.OnRequest()
	}

	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		return nil, c.run(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err == nil
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) run(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, c.opts.Timeout)
	defer cancel()

	cur := c.creds.Get()
	if !cur.CanRefresh() {
		return errors.New("refresh token vanished before renewal")
	}
	if c.opts.Hooks.OnAttempt != nil {
		c.opts.Hooks.OnAttempt()
	}

	start := time.Now()
	err := c.renew(ctx, cur.RefreshToken)
	elapsed := time.Since(start)
	if c.opts.Hooks.OnResult != nil {
		c.opts.Hooks.OnResult(err == nil, elapsed)
	}
	if err != nil {
		c.log.Warn().Err(err).Dur("elapsed", elapsed).Msg("token renewal failed")
		return err
	}
	c.log.Debug().Dur("elapsed", elapsed).Msg("token renewed")
	return nil
}

func (c *Coordinator) renew(ctx context.Context, refreshToken string) error {
	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := wire.ReadBody(resp.Body, c.opts.MaxResponseBytes)
	if err != nil {
		return fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("refresh rejected: %s", wire.ErrorMessage(body, resp.StatusCode))
	}

	var tokens struct {
		AccessToken  string          `json:"access_token"`
		RefreshToken json.RawMessage `json:"refresh_token"`
	}
	if err := json.Unmarshal(wire.Unwrap(body), &tokens); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	if tokens.AccessToken == "" {
		return errNoAccessToken
	}
	upd, err := refreshUpdate(tokens.RefreshToken)
	if err != nil {
		return err
	}

	ok, err := c.creds.CompareAndSet(ctx, refreshToken, tokens.AccessToken, upd)
	if err != nil {
		return err
	}
	if !ok {
		return errSuperseded
	}
	return nil
}

// refreshUpdate maps an absent refresh_token to keep, null to clear and a
// string to replace.
func refreshUpdate(raw json.RawMessage) (session.RefreshUpdate, error) {
	if len(raw) == 0 {
		return session.KeepRefresh(), nil
	}
	if string(raw) == "null" {
		return session.ClearRefresh(), nil
	}
	var tok string
	if err := json.Unmarshal(raw, &tok); err != nil {
		return session.RefreshUpdate{}, fmt.Errorf("decode refresh_token: %w", err)
	}
	return session.WithRefresh(tok), nil
}
