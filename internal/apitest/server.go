package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/session"
)

// Prefix is the route prefix of every endpoint.
const Prefix = "/api/v1"

// Environment, APIKey and Member mirror the management API records.
type Environment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type APIKey struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	EnvironmentID string `json:"environment_id"`
	Key           string `json:"key,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type Member struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

type account struct {
	user         session.User
	passwordHash string
}

// Server is the fake management API. Create one with New.
type Server struct {
	*httptest.Server

	tokens *jwt.Signer

	mu            sync.Mutex
	accounts      map[string]*account
	refresh       map[string]refreshRecord
	generation    uint64
	minValidGen   uint64
	orgs          []session.Organization
	projects      map[string][]session.Project
	environments  map[string][]Environment
	apiKeys       map[string][]APIKey
	members       map[string][]Member
	rejectRefresh bool
	keepRefresh   bool
	refreshGate   chan struct{}
	projectDelay  time.Duration
	orgDelay      time.Duration
	bearers       []string

	refreshCalls atomic.Int64
	unauthorized atomic.Int64
	requests     atomic.Int64
}

// New starts a Server and registers its shutdown with t.Cleanup.
func New(t testing.TB) *Server {
	t.Helper()
	s, err := Start()
	if err != nil {
		t.Fatalf("start fake api: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// Start runs a Server outside a test. Callers must Close it.
func Start() (*Server, error) {
	signer, err := jwt.NewSigner(jwt.SignerConfig{
		Secret: []byte(uuid.NewString() + uuid.NewString()),
		TTL:    time.Hour,
		Issuer: "apitest",
	})
	if err != nil {
		return nil, err
	}
	s := &Server{
		tokens:       signer,
		accounts:     make(map[string]*account),
		refresh:      make(map[string]refreshRecord),
		generation:   1,
		minValidGen:  1,
		projects:     make(map[string][]session.Project),
		environments: make(map[string][]Environment),
		apiKeys:      make(map[string][]APIKey),
		members:      make(map[string][]Member),
	}
	s.Server = httptest.NewServer(s.routes())
	return s, nil
}

// BaseURL is the URL clients should be configured with.
func (s *Server) BaseURL() string { return s.URL + Prefix }

// AddUser registers an account and returns its user record.
func (s *Server) AddUser(email, password, name string) session.User {
	hash, err := hashPassword(password)
	if err != nil {
		panic("apitest: hash password: " + err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := session.User{ID: uuid.NewString(), Email: email, Name: name}
	s.accounts[strings.ToLower(email)] = &account{user: u, passwordHash: hash}
	return u
}

// AddOrganization appends an organization visible to every user.
func (s *Server) AddOrganization(name, slug string) session.Organization {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addOrganizationLocked(name, slug)
}

func (s *Server) addOrganizationLocked(name, slug string) session.Organization {
	org := session.Organization{ID: uuid.NewString(), Name: name, Slug: slug}
	s.orgs = append(s.orgs, org)
	return org
}

// AddProject appends a project to orgID and gives it development and
// production environments.
func (s *Server) AddProject(orgID, name, description string) session.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addProjectLocked(orgID, name, description)
}

func (s *Server) addProjectLocked(orgID, name, description string) session.Project {
	p := session.Project{ID: uuid.NewString(), Name: name, Description: description}
	s.projects[orgID] = append(s.projects[orgID], p)
	s.environments[p.ID] = []Environment{
		{ID: uuid.NewString(), Name: "development"},
		{ID: uuid.NewString(), Name: "production"},
	}
	return p
}

// Expire invalidates every access token issued so far.
func (s *Server) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minValidGen = s.generation + 1
}

// RevokeRefreshTokens invalidates every outstanding refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = make(map[string]refreshRecord)
}

// RejectRefresh makes every renewal answer 401.
func (s *Server) RejectRefresh(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectRefresh = reject
}

// KeepRefreshToken makes renewals omit refresh_token instead of rotating it.
func (s *Server) KeepRefreshToken(keep bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepRefresh = keep
}

// HoldRefresh blocks renewals until the returned release func is called.
func (s *Server) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.refreshGate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.refreshGate == gate {
				s.refreshGate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// DelayProjects delays every project-list response by d.
func (s *Server) DelayProjects(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectDelay = d
}

// DelayOrganizations delays every organization-list response by d.
func (s *Server) DelayOrganizations(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgDelay = d
}

// RefreshCalls counts requests to the refresh endpoint.
func (s *Server) RefreshCalls() int64 { return s.refreshCalls.Load() }

// Unauthorized counts 401 answers on protected routes.
func (s *Server) Unauthorized() int64 { return s.unauthorized.Load() }

// Requests counts requests to protected routes.
func (s *Server) Requests() int64 { return s.requests.Load() }

// Bearers returns the Authorization headers seen on protected routes, in
// arrival order.
func (s *Server) Bearers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bearers...)
}

// Generation returns the generation of the most recently issued token.
func (s *Server) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// WaitUnauthorized blocks until at least n 401 answers were sent or the
// timeout passes.
func (s *Server) WaitUnauthorized(t testing.TB, n int64, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for s.unauthorized.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("waited for %d unauthorized responses, saw %d", n, s.unauthorized.Load())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// issueLocked mints a token pair for u.
func (s *Server) issueLocked(u session.User) (access, refresh string, err error) {
	s.generation++
	access, err = s.tokens.Issue(u.ID, u.Email, s.generation)
	if err != nil {
		return "", "", err
	}
	id, hash, refresh, err := newRefreshToken()
	if err != nil {
		return "", "", err
	}
	s.refresh[id] = refreshRecord{userID: u.ID, hash: hash}
	return access, refresh, nil
}

func (s *Server) userByIDLocked(id string) (session.User, bool) {
	for _, a := range s.accounts {
		if a.user.ID == id {
			return a.user, true
		}
	}
	return session.User{}, false
}

func writeData(w http.ResponseWriter, status int, v interface{}) {
	writeJSON(w, status, map[string]interface{}{"data": v})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": map[string]string{"message": msg}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v interface{}) bool {
	return json.NewDecoder(r.Body).Decode(v) == nil
}
