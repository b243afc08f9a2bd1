package goSession

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/internal/apitest"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/storage"
)

const (
	testEmail    = "ada@example.com"
	testPassword = "correct horse"
)

type fixture struct {
	srv    *apitest.Server
	user   User
	orgA   Organization
	orgB   Organization
	projA1 Project
	projA2 Project
	projB1 Project
	kv     *storage.MemoryStorage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := apitest.New(t)
	f := &fixture{srv: srv, kv: storage.NewMemoryStorage()}
	f.user = srv.AddUser(testEmail, testPassword, "Ada")
	f.orgA = srv.AddOrganization("Acme", "acme")
	f.orgB = srv.AddOrganization("Globex", "globex")
	f.projA1 = srv.AddProject(f.orgA.ID, "Web", "")
	f.projA2 = srv.AddProject(f.orgA.ID, "Mobile", "")
	f.projB1 = srv.AddProject(f.orgB.ID, "Billing", "")
	return f
}

func (f *fixture) config(mutate ...func(*Config)) Config {
	cfg := DefaultConfig()
	cfg.API.BaseURL = f.srv.BaseURL()
	for _, m := range mutate {
		m(&cfg)
	}
	return cfg
}

func (f *fixture) build(t *testing.T, mutate ...func(*Config)) *Controller {
	t.Helper()
	return f.buildOn(t, f.kv, mutate...)
}

func (f *fixture) buildOn(t *testing.T, kv storage.Storage, mutate ...func(*Config)) *Controller {
	t.Helper()
	c, err := New().WithConfig(f.config(mutate...)).WithStorage(kv).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (f *fixture) login(t *testing.T, c *Controller) {
	t.Helper()
	if err := c.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func noAutoSelect(c *Config) {
	c.Session.AutoSelectOrganization = false
	c.Session.AutoSelectProject = false
}

func noListsOnLogin(c *Config) {
	c.Session.RefreshListsOnLogin = false
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func record(c *Controller) (*recorder, func()) {
	r := &recorder{}
	unsub := c.Subscribe(func(s Snapshot) {
		r.mu.Lock()
		r.snaps = append(r.snaps, s)
		r.mu.Unlock()
	})
	return r, unsub
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func storedKeys(t *testing.T, kv storage.Storage) []string {
	t.Helper()
	var present []string
	for _, k := range session.AllKeys {
		_, ok, err := kv.Get(context.Background(), k)
		if err != nil {
			t.Fatalf("Get(%s): %v", k, err)
		}
		if ok {
			present = append(present, k)
		}
	}
	return present
}

func TestLoginAutoSelectsFirstOrganizationAndProject(t *testing.T) {
	f := newFixture(t)
	c := f.build(t)
	rec, _ := record(c)

	f.login(t, c)

	snap := c.Snapshot()
	if snap.State != StateReady {
		t.Fatalf("state = %s, want ready", snap.State)
	}
	if snap.User == nil || snap.User.ID != f.user.ID {
		t.Fatalf("user = %+v", snap.User)
	}
	if snap.Organization == nil || snap.Organization.ID != f.orgA.ID {
		t.Fatalf("organization = %+v, want %s", snap.Organization, f.orgA.ID)
	}
	if snap.Project == nil || snap.Project.ID != f.projA1.ID {
		t.Fatalf("project = %+v, want %s", snap.Project, f.projA1.ID)
	}
	if len(snap.Organizations) != 2 || len(snap.Projects) != 2 {
		t.Fatalf("lists = %d orgs, %d projects", len(snap.Organizations), len(snap.Projects))
	}
	if got := storedKeys(t, f.kv); len(got) != 5 {
		t.Fatalf("persisted keys = %v, want all five", got)
	}

	snaps := rec.all()
	wantStates := []State{StateAuthenticatedNoOrg, StateAuthenticatedNoProject, StateReady}
	if len(snaps) != len(wantStates) {
		t.Fatalf("published %d snapshots, want %d", len(snaps), len(wantStates))
	}
	for i, s := range snaps {
		if s.State != wantStates[i] {
			t.Fatalf("snapshot %d state = %s, want %s", i, s.State, wantStates[i])
		}
		if s.Generation != uint64(i+1) {
			t.Fatalf("snapshot %d generation = %d", i, s.Generation)
		}
	}
	if m := c.MetricsSnapshot(); m.Counters[MetricLoginSuccess] != 1 || m.Counters[MetricAutoSelected] != 2 {
		t.Fatalf("metrics = %+v", m.Counters)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	c := f.build(t)

	err := c.Login(context.Background(), testEmail, "wrong")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if c.Snapshot().Authenticated() {
		t.Fatal("failed login must not authenticate")
	}
	if f.kv.Len() != 0 {
		t.Fatalf("storage holds %v", f.kv.Keys())
	}
	if f.srv.RefreshCalls() != 0 {
		t.Fatal("bad credentials must not trigger renewal")
	}
	if got := c.MetricsSnapshot().Counters[MetricLoginFailure]; got != 1 {
		t.Fatalf("login failures = %d", got)
	}
}

func TestRegisterSignsIn(t *testing.T) {
	f := newFixture(t)
	c := f.build(t, noListsOnLogin)

	if err := c.Register(context.Background(), "grace@example.com", "pw", "Grace"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	snap := c.Snapshot()
	if snap.State != StateAuthenticatedNoOrg || snap.User.Email != "grace@example.com" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Organizations != nil {
		t.Fatal("lists must stay unloaded without RefreshListsOnLogin")
	}

	err := c.Register(context.Background(), "grace@example.com", "pw", "Grace")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("duplicate register err = %v", err)
	}
}

func TestSessionSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	first := f.build(t)
	f.login(t, first)
	want := first.Snapshot()
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := f.build(t)
	got := second.Snapshot()
	if got.State != StateReady {
		t.Fatalf("restored state = %s", got.State)
	}
	if *got.User != *want.User || *got.Organization != *want.Organization || *got.Project != *want.Project {
		t.Fatalf("restored %+v, want %+v", got, want)
	}
	if got.Organizations != nil || got.Projects != nil {
		t.Fatal("lists are not persisted")
	}

	// The restored token is usable.
	if _, err := second.API().ListOrganizations(context.Background()); err != nil {
		t.Fatalf("ListOrganizations after restore: %v", err)
	}
}

func TestRestorePurgesIncompleteSession(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]string
	}{
		{
			name:   "user without token",
			values: map[string]string{session.KeyUser: `{"id":"u1","email":"a@b.c","name":"A"}`},
		},
		{
			name:   "token without user",
			values: map[string]string{session.KeyAccessToken: "tok", session.KeyRefreshToken: "ref"},
		},
		{
			name: "corrupt organization",
			values: map[string]string{
				session.KeyAccessToken:  "tok",
				session.KeyUser:         `{"id":"u1","email":"a@b.c","name":"A"}`,
				session.KeyOrganization: "{",
			},
		},
		{
			name:   "orphan organization",
			values: map[string]string{session.KeyOrganization: `{"id":"o1","name":"O","slug":"o"}`},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			for k, v := range tc.values {
				if err := f.kv.Set(context.Background(), k, v); err != nil {
					t.Fatal(err)
				}
			}
			c := f.build(t)
			if c.Snapshot().Authenticated() {
				t.Fatal("incomplete session must not restore")
			}
			if f.kv.Len() != 0 {
				t.Fatalf("storage still holds %v", f.kv.Keys())
			}
		})
	}
}

func TestRestoreDropsProjectWithoutOrganization(t *testing.T) {
	f := newFixture(t)
	first := f.build(t, noListsOnLogin)
	f.login(t, first)
	_ = first.Close()

	ctx := context.Background()
	if err := f.kv.Set(ctx, session.KeyProject, `{"id":"p1","name":"P"}`); err != nil {
		t.Fatal(err)
	}
	c := f.build(t)
	snap := c.Snapshot()
	if snap.State != StateAuthenticatedNoOrg || snap.Project != nil {
		t.Fatalf("snapshot = %+v", snap)
	}
	if _, ok, _ := f.kv.Get(ctx, session.KeyProject); ok {
		t.Fatal("orphan project key must be removed")
	}
}

func TestLogoutClearsEverything(t *testing.T) {
	f := newFixture(t)
	c := f.build(t)
	f.login(t, c)
	rec, _ := record(c)

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if got := storedKeys(t, f.kv); len(got) != 0 {
		t.Fatalf("keys left after logout: %v", got)
	}
	snap := c.Snapshot()
	if snap.User != nil || snap.Organization != nil || snap.Project != nil ||
		snap.Organizations != nil || snap.Projects != nil || snap.State != StateUnauthenticated {
		t.Fatalf("snapshot after logout = %+v", snap)
	}
	if _, err := c.AccessClaims(); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("AccessClaims err = %v", err)
	}

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if n := len(rec.all()); n != 1 {
		t.Fatalf("published %d snapshots, want 1", n)
	}
	if got := c.MetricsSnapshot().Counters[MetricLogout]; got != 1 {
		t.Fatalf("logout metric = %d", got)
	}
}

func TestSelectOrganizationCascadesInOneTransition(t *testing.T) {
	f := newFixture(t)
	c := f.build(t)
	f.login(t, c)
	rec, _ := record(c)

	if err := c.SelectOrganization(context.Background(), &f.orgB); err != nil {
		t.Fatalf("SelectOrganization: %v", err)
	}

	snaps := rec.all()
	if len(snaps) != 2 {
		t.Fatalf("published %d snapshots, want 2", len(snaps))
	}
	switched := snaps[0]
	if switched.Organization.ID != f.orgB.ID || switched.Project != nil || switched.Projects != nil {
		t.Fatalf("cascade snapshot = %+v", switched)
	}
	if switched.State != StateAuthenticatedNoProject {
		t.Fatalf("cascade state = %s", switched.State)
	}
	for _, s := range snaps {
		if s.Project != nil && s.Project.ID == f.projA1.ID {
			t.Fatal("old project observed with new organization")
		}
	}

	final := c.Snapshot()
	if final.Project == nil || final.Project.ID != f.projB1.ID {
		t.Fatalf("project = %+v, want %s", final.Project, f.projB1.ID)
	}
	if len(final.Projects) != 1 {
		t.Fatalf("projects = %+v", final.Projects)
	}
}

type writeFailingStorage struct {
	*storage.MemoryStorage
	failing atomic.Bool
}

var errWriteFailed = errors.New("write failed")

func (s *writeFailingStorage) Set(ctx context.Context, key, value string) error {
	if s.failing.Load() {
		return errWriteFailed
	}
	return s.MemoryStorage.Set(ctx, key, value)
}

func TestSelectOrganizationWriteFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	kv := &writeFailingStorage{MemoryStorage: storage.NewMemoryStorage()}
	c := f.buildOn(t, kv)
	f.login(t, c)
	if p := c.Snapshot().Project; p == nil || p.ID != f.projA1.ID {
		t.Fatalf("project = %+v", p)
	}
	rec, _ := record(c)

	// Neither the organization nor the previous project can be written back.
	kv.failing.Store(true)
	if err := c.SelectOrganization(ctx, &f.orgB); !errors.Is(err, errWriteFailed) {
		t.Fatalf("SelectOrganization err = %v", err)
	}

	snap := c.Snapshot()
	if snap.Organization == nil || snap.Organization.ID != f.orgA.ID || snap.Project != nil {
		t.Fatalf("snapshot = %+v, want org %s without project", snap, f.orgA.ID)
	}
	snaps := rec.all()
	if len(snaps) != 1 || snaps[0].Project != nil {
		t.Fatalf("published %+v, want one snapshot without project", snaps)
	}
	if _, ok, _ := kv.Get(ctx, session.KeyProject); ok {
		t.Fatal("project key must stay removed")
	}
}

func TestSelectProject(t *testing.T) {
	f := newFixture(t)
	c := f.build(t)
	ctx := context.Background()

	if err := c.SelectProject(ctx, &f.projA2); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("unauthenticated err = %v", err)
	}

	f.login(t, c)
	if err := c.SelectProject(ctx, &f.projA2); err != nil {
		t.Fatalf("SelectProject: %v", err)
	}
	if p := c.Snapshot().Project; p == nil || p.ID != f.projA2.ID {
		t.Fatalf("project = %+v", p)
	}
	raw, ok, _ := f.kv.Get(ctx, session.KeyProject)
	if !ok || raw == "" {
		t.Fatal("project not persisted")
	}

	if err := c.SelectProject(ctx, &f.projB1); !errors.Is(err, ErrProjectNotInOrganization) {
		t.Fatalf("foreign project err = %v", err)
	}
	if p := c.Snapshot().Project; p.ID != f.projA2.ID {
		t.Fatal("rejected selection must not change state")
	}

	if err := c.SelectProject(ctx, nil); err != nil {
		t.Fatalf("deselect: %v", err)
	}
	if c.Snapshot().State != StateAuthenticatedNoProject {
		t.Fatal("deselect must leave no project")
	}

	if err := c.SelectOrganization(ctx, nil); err != nil {
		t.Fatalf("deselect organization: %v", err)
	}
	if err := c.SelectProject(ctx, &f.projA1); !errors.Is(err, ErrNoOrganization) {
		t.Fatalf("no organization err = %v", err)
	}
}

func TestNoAutoSelectionWhenDisabled(t *testing.T) {
	f := newFixture(t)
	c := f.build(t, noAutoSelect)
	f.login(t, c)

	snap := c.Snapshot()
	if snap.State != StateAuthenticatedNoOrg || len(snap.Organizations) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Projects != nil {
		t.Fatal("projects load only for a selected organization")
	}
}

func TestLoginAsAnotherUserClearsSelection(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser("bob@example.com", "pw", "Bob")
	c := f.build(t)
	f.login(t, c)

	// Same user keeps the selection.
	if err := c.SelectProject(context.Background(), &f.projA2); err != nil {
		t.Fatal(err)
	}
	f.login(t, c)
	if p := c.Snapshot().Project; p == nil || p.ID != f.projA2.ID {
		t.Fatalf("same-user login lost project: %+v", p)
	}

	c2 := f.build(t, noListsOnLogin)
	if err := c2.Login(context.Background(), "bob@example.com", "pw"); err != nil {
		t.Fatal(err)
	}
	snap := c2.Snapshot()
	if snap.User.Email != "bob@example.com" || snap.Organization != nil || snap.Project != nil {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestConcurrentExpiryRenewsOnce(t *testing.T) {
	f := newFixture(t)
	c := f.build(t)
	f.login(t, c)

	f.srv.Expire()
	release := f.srv.HoldRefresh()
	base := f.srv.Unauthorized()

	const n = 12
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.API().ListOrganizations(context.Background())
			errs <- err
		}()
	}
	f.srv.WaitUnauthorized(t, base+n, 5*time.Second)
	release()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
	}
	if got := f.srv.RefreshCalls(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	m := c.MetricsSnapshot().Counters
	if m[MetricRefreshAttempt] != 1 || m[MetricRefreshSuccess] != 1 || m[MetricRequestRetried] != n {
		t.Fatalf("metrics = %+v", m)
	}
	if c.Snapshot().State != StateReady {
		t.Fatal("renewal must not disturb the selection")
	}
}

func TestRenewalFailureTearsDownSession(t *testing.T) {
	f := newFixture(t)
	c := f.build(t)
	f.login(t, c)
	rec, _ := record(c)

	f.srv.Expire()
	f.srv.RejectRefresh(true)

	const n = 6
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.API().ListProjects(context.Background(), f.orgA.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrAuthExpired) {
			t.Fatalf("err = %v, want ErrAuthExpired", err)
		}
	}
	if c.Snapshot().Authenticated() {
		t.Fatal("session must be torn down")
	}
	if got := storedKeys(t, f.kv); len(got) != 0 {
		t.Fatalf("keys left: %v", got)
	}

	var teardowns int
	for _, s := range rec.all() {
		if s.State == StateUnauthenticated {
			teardowns++
		}
	}
	if teardowns != 1 {
		t.Fatalf("teardown published %d times, want 1", teardowns)
	}
}

func TestStaleRenewalFailureKeepsNewerSession(t *testing.T) {
	cases := []struct {
		name   string
		logout bool
	}{
		{"re-login", false},
		{"logout then login", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.build(t)
			f.login(t, c)

			f.srv.Expire()
			f.srv.RejectRefresh(true)
			release := f.srv.HoldRefresh()
			defer release()
			base := f.srv.Unauthorized()

			done := make(chan error, 1)
			go func() {
				_, err := c.API().ListOrganizations(context.Background())
				done <- err
			}()
			f.srv.WaitUnauthorized(t, base+1, 5*time.Second)

			if tc.logout {
				if err := c.Logout(context.Background()); err != nil {
					t.Fatalf("Logout: %v", err)
				}
			}
			f.login(t, c)
			rec, _ := record(c)
			fresh := c.Snapshot()
			release()

			if err := <-done; err != nil {
				t.Fatalf("in-flight request: %v", err)
			}
			snap := c.Snapshot()
			if !snap.Authenticated() || snap.User.ID != f.user.ID || snap.State != fresh.State {
				t.Fatalf("newer session disturbed: %+v", snap)
			}
			if keys := storedKeys(t, f.kv); len(keys) < 3 {
				t.Fatalf("stored keys = %v", keys)
			}
			for _, s := range rec.all() {
				if !s.Authenticated() {
					t.Fatal("stale renewal failure tore the newer session down")
				}
			}
			if got := c.MetricsSnapshot().Counters[MetricAuthExpired]; got != 0 {
				t.Fatalf("auth expired = %d, want 0", got)
			}
		})
	}
}

func TestNoRefreshTokenSkipsRenewal(t *testing.T) {
	f := newFixture(t)
	first := f.build(t, noListsOnLogin)
	f.login(t, first)
	_ = first.Close()
	if err := f.kv.Remove(context.Background(), session.KeyRefreshToken); err != nil {
		t.Fatal(err)
	}

	c := f.build(t)
	f.srv.Expire()
	err := c.RefreshOrganizations(context.Background())
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("err = %v, want ErrAuthExpired", err)
	}
	if got := f.srv.RefreshCalls(); got != 0 {
		t.Fatalf("refresh calls = %d, want 0", got)
	}
	if got := c.MetricsSnapshot().Counters[MetricRefreshSkipped]; got != 1 {
		t.Fatalf("skipped = %d", got)
	}
	if c.Snapshot().Authenticated() {
		t.Fatal("session must be torn down")
	}
}

func TestStaleProjectListDiscardedAfterLogout(t *testing.T) {
	f := newFixture(t)
	c := f.build(t)
	f.login(t, c)

	f.srv.DelayProjects(150 * time.Millisecond)
	before := f.srv.Requests()
	done := make(chan error, 1)
	go func() { done <- c.SelectOrganization(context.Background(), &f.orgB) }()

	waitFor(t, 2*time.Second, "project fetch", func() bool { return f.srv.Requests() > before })
	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("SelectOrganization: %v", err)
	}
	snap := c.Snapshot()
	if snap.Authenticated() || snap.Projects != nil {
		t.Fatalf("stale result resurrected state: %+v", snap)
	}
	if f.kv.Len() != 0 {
		t.Fatalf("storage holds %v", f.kv.Keys())
	}
	if got := c.MetricsSnapshot().Counters[MetricStaleResultDiscarded]; got != 1 {
		t.Fatalf("discarded = %d", got)
	}
}

func TestExplicitSelectionBeatsSlowAutoSelect(t *testing.T) {
	f := newFixture(t)
	c := f.build(t, noListsOnLogin)
	f.login(t, c)

	f.srv.DelayOrganizations(150 * time.Millisecond)
	before := f.srv.Requests()
	done := make(chan error, 1)
	go func() { done <- c.RefreshOrganizations(context.Background()) }()

	waitFor(t, 2*time.Second, "organization fetch", func() bool { return f.srv.Requests() > before })
	if err := c.SelectOrganization(context.Background(), &f.orgB); err != nil {
		t.Fatalf("SelectOrganization: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("RefreshOrganizations: %v", err)
	}

	snap := c.Snapshot()
	if snap.Organization == nil || snap.Organization.ID != f.orgB.ID {
		t.Fatalf("organization = %+v, want explicit %s", snap.Organization, f.orgB.ID)
	}
	if len(snap.Organizations) != 2 {
		t.Fatal("the list itself still applies")
	}
	if snap.Project == nil || snap.Project.ID != f.projB1.ID {
		t.Fatalf("project = %+v", snap.Project)
	}
}

func TestOlderOrganizationFetchDoesNotOverwriteNewer(t *testing.T) {
	f := newFixture(t)
	c := f.build(t, noListsOnLogin, noAutoSelect)
	f.login(t, c)

	f.srv.DelayOrganizations(150 * time.Millisecond)
	before := f.srv.Requests()
	done := make(chan error, 1)
	go func() { done <- c.RefreshOrganizations(context.Background()) }()
	waitFor(t, 2*time.Second, "slow fetch", func() bool { return f.srv.Requests() > before })

	f.srv.DelayOrganizations(0)
	f.srv.AddOrganization("Initech", "initech")
	if err := c.RefreshOrganizations(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if n := len(c.Snapshot().Organizations); n != 3 {
		t.Fatalf("organizations = %d, want the newer list of 3", n)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	f := newFixture(t)
	c := f.build(t, noListsOnLogin)
	rec, unsub := record(c)

	f.login(t, c)
	unsub()
	unsub()
	if err := c.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(rec.all()); n != 1 {
		t.Fatalf("delivered %d snapshots after unsubscribe, want 1", n)
	}
}

func TestSubscriberMayCallController(t *testing.T) {
	f := newFixture(t)
	c := f.build(t, noListsOnLogin)

	var seen []State
	c.Subscribe(func(s Snapshot) {
		seen = append(seen, s.State)
		if s.State == StateAuthenticatedNoOrg && s.Organizations == nil {
			_ = c.SelectOrganization(context.Background(), &f.orgA)
		}
	})
	f.login(t, c)

	want := []State{StateAuthenticatedNoOrg, StateAuthenticatedNoProject, StateReady}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

func TestResyncFollowsExternalChanges(t *testing.T) {
	f := newFixture(t)
	writer := f.build(t)
	f.login(t, writer)
	reader := f.build(t)
	rec, _ := record(reader)
	ctx := context.Background()

	if err := writer.SelectOrganization(ctx, &f.orgB); err != nil {
		t.Fatal(err)
	}
	if err := reader.Resync(ctx); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if org := reader.Snapshot().Organization; org == nil || org.ID != f.orgB.ID {
		t.Fatalf("organization = %+v", org)
	}

	if err := writer.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if err := reader.Resync(ctx); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if reader.Snapshot().Authenticated() {
		t.Fatal("external logout not observed")
	}

	n := len(rec.all())
	if err := reader.Resync(ctx); err != nil {
		t.Fatal(err)
	}
	if len(rec.all()) != n {
		t.Fatal("unchanged storage must not publish")
	}
}

func TestWatchStorageResyncsFileStorage(t *testing.T) {
	f := newFixture(t)
	path := t.TempDir() + "/session.json"
	writerKV, err := storage.NewFileStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	writer := f.buildOn(t, writerKV)
	f.login(t, writer)

	readerKV, err := storage.NewFileStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	reader := f.buildOn(t, readerKV, func(c *Config) { c.Session.WatchStorage = true })
	if !reader.Snapshot().Authenticated() {
		t.Fatal("reader must restore the session")
	}
	// Let the watcher register the directory before the write.
	time.Sleep(100 * time.Millisecond)

	if err := writer.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 5*time.Second, "watched logout", func() bool {
		return !reader.Snapshot().Authenticated()
	})
}

func TestRevalidateOnStartTearsDownRevokedSession(t *testing.T) {
	f := newFixture(t)
	first := f.build(t)
	f.login(t, first)
	_ = first.Close()

	f.srv.Expire()
	f.srv.RevokeRefreshTokens()
	c := f.build(t, func(c *Config) { c.Session.RevalidateOnStart = true })
	waitFor(t, 5*time.Second, "revalidation teardown", func() bool {
		return !c.Snapshot().Authenticated()
	})
	if f.kv.Len() != 0 {
		t.Fatalf("storage holds %v", f.kv.Keys())
	}
}

func TestEventsFollowSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	sink := NewChannelSink(16)
	cfg := f.config(func(c *Config) { c.Events.Enabled = true })
	c, err := New().WithConfig(cfg).WithStorage(f.kv).WithEventSink(sink).Build()
	if err != nil {
		t.Fatal(err)
	}
	f.login(t, c)
	if err := c.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	_ = c.Close()

	want := []string{EventLogin, EventOrganizationSelected, EventProjectSelected, EventLogout}
	for i, typ := range want {
		select {
		case e := <-sink.Events():
			if e.Type != typ {
				t.Fatalf("event %d = %s, want %s", i, e.Type, typ)
			}
			if e.UserID != f.user.ID || !e.Success {
				t.Fatalf("event %d = %+v", i, e)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing event %s", typ)
		}
	}
	if c.EventsDropped() != 0 {
		t.Fatal("no events should drop")
	}
}

func TestCloseBoundsEventFlush(t *testing.T) {
	f := newFixture(t)
	sink := NewChannelSink(1)
	cfg := f.config(func(c *Config) {
		c.Events.Enabled = true
		c.Events.FlushTimeout = 20 * time.Millisecond
	})
	c, err := New().WithConfig(cfg).WithStorage(f.kv).WithEventSink(sink).Build()
	if err != nil {
		t.Fatal(err)
	}
	f.login(t, c)

	start := time.Now()
	if err := c.Close(); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close err = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Close waited past the flush timeout")
	}
	if got := (<-sink.Events()).Type; got != EventLogin {
		t.Fatalf("first event = %s", got)
	}
	waitFor(t, time.Second, "unflushed events counted", func() bool { return c.EventsDropped() == 2 })
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestAccessClaims(t *testing.T) {
	f := newFixture(t)
	c := f.build(t, noListsOnLogin)
	if _, err := c.AccessClaims(); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v", err)
	}
	f.login(t, c)
	claims, err := c.AccessClaims()
	if err != nil {
		t.Fatalf("AccessClaims: %v", err)
	}
	if claims.UserID != f.user.ID || claims.Email != testEmail {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestLoginRejectsResponseWithoutUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"access_token":"tok","refresh_token":"ref"}}`))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.API.BaseURL = srv.URL
	kv := storage.NewMemoryStorage()
	c, err := New().WithConfig(cfg).WithStorage(kv).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer c.Close()

	if err := c.Login(context.Background(), testEmail, testPassword); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("Login err = %v", err)
	}
	if c.Snapshot().Authenticated() {
		t.Fatal("session must stay signed out")
	}
	if keys := storedKeys(t, kv); len(keys) != 0 {
		t.Fatalf("stored keys = %v", keys)
	}
}

func TestClosedController(t *testing.T) {
	f := newFixture(t)
	c := f.build(t)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := c.Login(context.Background(), testEmail, testPassword); !errors.Is(err, ErrControllerClosed) {
		t.Fatalf("Login err = %v", err)
	}
	if err := c.Logout(context.Background()); !errors.Is(err, ErrControllerClosed) {
		t.Fatalf("Logout err = %v", err)
	}
}

func TestBuilder(t *testing.T) {
	f := newFixture(t)

	b := New().WithConfig(f.config())
	c, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := b.Build(); !errors.Is(err, ErrBuilderUsed) {
		t.Fatalf("second Build err = %v", err)
	}

	bad := f.config(func(c *Config) { c.API.BaseURL = "" })
	if _, err := New().WithConfig(bad).Build(); err == nil {
		t.Fatal("invalid config must fail")
	}

	noSink := f.config(func(c *Config) { c.Events.Enabled = true })
	if _, err := New().WithConfig(noSink).Build(); err == nil {
		t.Fatal("events without a sink must fail")
	}
}
