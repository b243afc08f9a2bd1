package refresh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/goSession/internal/apitest"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/storage"
)

type harness struct {
	srv   *apitest.Server
	creds *session.CredentialStore
	coord *Coordinator

	skips    atomic.Int64
	requests atomic.Int64
	attempts atomic.Int64
	failures atomic.Int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{srv: apitest.New(t)}
	creds, err := session.NewCredentialStore(context.Background(), storage.NewMemoryStorage())
	if err != nil {
		t.Fatalf("credential store: %v", err)
	}
	h.creds = creds
	h.coord = h.newCoordinator(t, h.srv.BaseURL()+"/auth/refresh")
	return h
}

func (h *harness) newCoordinator(t *testing.T, url string) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(h.creds, Options{
		URL:    url,
		Logger: zerolog.Nop(),
		Hooks: Hooks{
			OnSkip:    func() { h.skips.Add(1) },
			OnRequest: func() { h.requests.Add(1) },
			OnAttempt: func() { h.attempts.Add(1) },
			OnResult: func(ok bool, _ time.Duration) {
				if !ok {
					h.failures.Add(1)
				}
			},
		},
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c
}

// login stores a real token pair issued by the fake API.
func (h *harness) login(t *testing.T) session.Credential {
	t.Helper()
	h.srv.AddUser("a@example.com", "pw", "Alice")
	resp, err := http.Post(h.srv.BaseURL()+"/auth/login", "application/json",
		stringsReader(`{"email":"a@example.com","password":"pw"}`))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Data struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		} `json:"data"`
	}
	if err := decodeJSON(resp.Body, &out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if err := h.creds.Set(context.Background(), out.Data.AccessToken, session.WithRefresh(out.Data.RefreshToken)); err != nil {
		t.Fatalf("store tokens: %v", err)
	}
	return h.creds.Get()
}

func TestRefreshWithoutRefreshTokenSkipsNetwork(t *testing.T) {
	h := newHarness(t)
	_ = h.creds.Set(context.Background(), "tok1", session.KeepRefresh())

	if h.coord.Refresh(context.Background()) {
		t.Fatal("expected refresh to fail without refresh token")
	}
	if h.srv.RefreshCalls() != 0 || h.skips.Load() != 1 {
		t.Fatalf("expected skip without network, calls=%d skips=%d", h.srv.RefreshCalls(), h.skips.Load())
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	h := newHarness(t)
	before := h.login(t)

	if !h.coord.Refresh(context.Background()) {
		t.Fatal("expected refresh to succeed")
	}
	after := h.creds.Get()
	if after.AccessToken == before.AccessToken || after.RefreshToken == before.RefreshToken || after.RefreshToken == "" {
		t.Fatalf("expected rotated pair, before=%+v after=%+v", before, after)
	}
}

func TestRefreshKeepsRefreshTokenWhenOmitted(t *testing.T) {
	h := newHarness(t)
	before := h.login(t)
	h.srv.KeepRefreshToken(true)

	if !h.coord.Refresh(context.Background()) {
		t.Fatal("expected refresh to succeed")
	}
	after := h.creds.Get()
	if after.AccessToken == before.AccessToken || after.RefreshToken != before.RefreshToken {
		t.Fatalf("expected only access token to change, before=%+v after=%+v", before, after)
	}
}

func TestRefreshRejectedLeavesStoreUntouched(t *testing.T) {
	h := newHarness(t)
	before := h.login(t)
	h.srv.RejectRefresh(true)

	if h.coord.Refresh(context.Background()) {
		t.Fatal("expected refresh to fail")
	}
	if h.creds.Get() != before {
		t.Fatal("failed refresh must not mutate credentials")
	}
	if h.failures.Load() != 1 {
		t.Fatalf("expected one failure, got %d", h.failures.Load())
	}
}

func TestRefreshMalformedBodyFails(t *testing.T) {
	h := newHarness(t)
	_ = h.creds.Set(context.Background(), "tok1", session.WithRefresh("ref1"))

	for _, body := range []string{"not json", `{"data":{"refresh_token":"r2"}}`, `{"access_token":42}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		c := h.newCoordinator(t, srv.URL)
		if c.Refresh(context.Background()) {
			t.Fatalf("%s: expected failure", body)
		}
		srv.Close()
	}
	if got := h.creds.Get(); got.AccessToken != "tok1" || got.RefreshToken != "ref1" {
		t.Fatalf("store mutated: %+v", got)
	}
}

func TestRefreshAcceptsBarePayload(t *testing.T) {
	h := newHarness(t)
	_ = h.creds.Set(context.Background(), "tok1", session.WithRefresh("ref1"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok2","refresh_token":null}`))
	}))
	defer srv.Close()

	if !h.newCoordinator(t, srv.URL).Refresh(context.Background()) {
		t.Fatal("expected refresh to succeed")
	}
	if got := h.creds.Get(); got.AccessToken != "tok2" || got.RefreshToken != "" {
		t.Fatalf("expected tok2 with cleared refresh, got %+v", got)
	}
}

func TestRefreshSingleFlight(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	release := h.srv.HoldRefresh()

	const n = 20
	results := make([]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.coord.Refresh(context.Background())
		}(i)
	}

	waitFor(t, func() bool { return h.requests.Load() == n && h.srv.RefreshCalls() == 1 })
	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()

	for i, ok := range results {
		if !ok {
			t.Fatalf("caller %d did not observe success", i)
		}
	}
	if h.srv.RefreshCalls() != 1 || h.attempts.Load() != 1 {
		t.Fatalf("expected one renewal, calls=%d attempts=%d", h.srv.RefreshCalls(), h.attempts.Load())
	}

	// The flight is released on completion; the next episode renews again.
	if !h.coord.Refresh(context.Background()) || h.srv.RefreshCalls() != 2 {
		t.Fatalf("expected a second renewal, calls=%d", h.srv.RefreshCalls())
	}
}

func TestRefreshDoesNotResurrectClearedCredentials(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	release := h.srv.HoldRefresh()

	done := make(chan bool, 1)
	go func() { done <- h.coord.Refresh(context.Background()) }()
	waitFor(t, func() bool { return h.srv.RefreshCalls() == 1 })

	if err := h.creds.Clear(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	release()

	if <-done {
		t.Fatal("refresh must fail once credentials were cleared")
	}
	if h.creds.Get().Authenticated() {
		t.Fatal("renewal resurrected cleared credentials")
	}
}

func TestRefreshCallerCancellationDoesNotAbortFlight(t *testing.T) {
	h := newHarness(t)
	before := h.login(t)
	release := h.srv.HoldRefresh()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() { done <- h.coord.Refresh(ctx) }()
	waitFor(t, func() bool { return h.srv.RefreshCalls() == 1 })

	cancel()
	if <-done {
		t.Fatal("cancelled caller must observe false")
	}
	release()

	waitFor(t, func() bool { return h.creds.Get().AccessToken != before.AccessToken })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
