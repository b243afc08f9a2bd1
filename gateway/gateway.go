package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/goSession/internal/wire"
	"github.com/MrEthical07/goSession/session"
)

// Refresher renews the access token. refresh.Coordinator implements it.
type Refresher interface {
	Refresh(ctx context.Context) bool
}

// Hooks observe gateway traffic. Any field may be nil.
type Hooks struct {
	// OnComplete fires once per logical request with its final result.
	OnComplete func(r Result, elapsed time.Duration)
	// OnRetry fires when a request is re-issued after a 401.
	OnRetry func()
	// OnAuthExpired fires for every request that ends as AuthExpired.
	OnAuthExpired func()
}

// Options configures a Gateway.
type Options struct {
	BaseURL          string
	Client           *http.Client
	Timeout          time.Duration
	UserAgent        string
	MaxResponseBytes int64
	Logger           zerolog.Logger
	Hooks            Hooks
}

type observer struct {
	id uint64
	fn func(context.Context)
}

// Gateway is safe for concurrent use.
type Gateway struct {
	creds     *session.CredentialStore
	refresher Refresher
	opts      Options
	baseURL   string
	log       zerolog.Logger

	obsMu     sync.Mutex
	observers []observer
	nextObs   uint64
}

// New returns a Gateway that reads tokens from creds and renews through r.
func New(creds *session.CredentialStore, r Refresher, opts Options) (*Gateway, error) {
	if creds == nil {
		return nil, errors.New("gateway: credential store is required")
	}
	if r == nil {
		return nil, errors.New("gateway: refresher is required")
	}
	if opts.BaseURL == "" {
		return nil, errors.New("gateway: base URL is required")
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &Gateway{
		creds:     creds,
		refresher: r,
		opts:      opts,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		log:       opts.Logger.With().Str("component", "gateway").Logger(),
	}, nil
}

// OnAuthError registers fn to run whenever the gateway tears the session
// down. Observers run synchronously in registration order.
func (g *Gateway) OnAuthError(fn func(context.Context)) (unsubscribe func()) {
	g.obsMu.Lock()
	defer g.obsMu.Unlock()
	g.nextObs++
	id := g.nextObs
	g.observers = append(g.observers, observer{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			g.obsMu.Lock()
			defer g.obsMu.Unlock()
			for i, o := range g.observers {
				if o.id == id {
					g.observers = append(g.observers[:i:i], g.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Send issues an authenticated request. body is JSON-encoded when non-nil.
func (g *Gateway) Send(ctx context.Context, method, path string, body interface{}) Result {
	return g.send(ctx, method, path, body, true)
}

// SendAnonymous issues a request without a bearer token. A 401 is returned as
// a Validation result and never treated as session expiry.
func (g *Gateway) SendAnonymous(ctx context.Context, method, path string, body interface{}) Result {
	return g.send(ctx, method, path, body, false)
}

func (g *Gateway) send(ctx context.Context, method, path string, body interface{}, authenticated bool) Result {
	start := time.Now()
	res := g.dispatch(ctx, method, path, body, authenticated)
	if g.opts.Hooks.OnComplete != nil {
		g.opts.Hooks.OnComplete(res, time.Since(start))
	}
	return res
}

func (g *Gateway) dispatch(ctx context.Context, method, path string, body interface{}, authenticated bool) Result {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Result{Error: fmt.Sprintf("encode request: %v", err), Kind: KindValidation}
		}
		payload = b
	}

	if !authenticated {
		return g.roundTrip(ctx, method, path, payload, "")
	}

	sent := g.creds.Get().AccessToken
	res := g.roundTrip(ctx, method, path, payload, sent)
	if res.Status != http.StatusUnauthorized {
		return res
	}

	// A renewal that finished while this request was in flight already
	// replaced the token; retry with it instead of starting another one.
	if cur := g.creds.Get().AccessToken; cur != "" && cur != sent {
		return g.retry(ctx, method, path, payload)
	}

	if g.refresher.Refresh(ctx) {
		return g.retry(ctx, method, path, payload)
	}
	if err := ctx.Err(); err != nil {
		return networkResult(err)
	}
	if g.expire(ctx, sent) {
		return g.expired(res.Status)
	}
	// The failed renewal belonged to a session that has since been replaced.
	// The newer token gets the single retry.
	if cur := g.creds.Get().AccessToken; cur != "" {
		return g.retry(ctx, method, path, payload)
	}
	return g.expired(res.Status)
}

func (g *Gateway) retry(ctx context.Context, method, path string, payload []byte) Result {
	if g.opts.Hooks.OnRetry != nil {
		g.opts.Hooks.OnRetry()
	}
	token := g.creds.Get().AccessToken
	res := g.roundTrip(ctx, method, path, payload, token)
	if res.Status == http.StatusUnauthorized {
		// An empty token means the session was cleared elsewhere, which
		// already notified.
		if token != "" {
			g.expire(ctx, token)
		}
		return g.expired(res.Status)
	}
	return res
}

// expire clears the credentials and notifies observers, but only while token
// is still the stored access token. It reports whether the session was torn
// down; a token replaced by a newer login or renewal is left alone.
func (g *Gateway) expire(ctx context.Context, token string) bool {
	matched, err := g.creds.CompareAndClear(ctx, token)
	if err != nil {
		g.log.Error().Err(err).Msg("clear credentials after auth expiry")
	}
	if !matched {
		g.log.Debug().Msg("stale auth expiry ignored")
		return false
	}
	g.log.Info().Msg("session expired")

	g.obsMu.Lock()
	obs := append([]observer(nil), g.observers...)
	g.obsMu.Unlock()
	for _, o := range obs {
		o.fn(ctx)
	}
	return true
}

func (g *Gateway) expired(status int) Result {
	if g.opts.Hooks.OnAuthExpired != nil {
		g.opts.Hooks.OnAuthExpired()
	}
	return expiredResult(status)
}

func (g *Gateway) roundTrip(ctx context.Context, method, path string, payload []byte, token string) Result {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rdr)
	if err != nil {
		return networkResult(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if g.opts.UserAgent != "" {
		req.Header.Set("User-Agent", g.opts.UserAgent)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.opts.Client.Do(req)
	if err != nil {
		g.log.Debug().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return networkResult(err)
	}
	defer resp.Body.Close()

	raw, err := wire.ReadBody(resp.Body, g.opts.MaxResponseBytes)
	if err != nil {
		return Result{Error: err.Error(), Status: resp.StatusCode, Kind: KindNetwork}
	}
	return decodeResponse(resp.StatusCode, raw)
}

func decodeResponse(status int, raw []byte) Result {
	if status == http.StatusUnauthorized {
		return Result{Error: wire.ErrorMessage(raw, status), Status: status, Kind: KindValidation}
	}
	if status < 200 || status > 299 {
		kind := KindValidation
		if status >= 500 {
			kind = KindServer
		}
		return Result{Error: wire.ErrorMessage(raw, status), Status: status, Kind: kind}
	}
	if !wire.Valid(raw) {
		return Result{Error: fmt.Sprintf("malformed response body (HTTP %d)", status), Status: status, Kind: KindNetwork}
	}

	res := Result{Success: true, Status: status}
	if data := wire.Unwrap(raw); len(data) > 0 {
		res.Data = data
	}
	return res
}
