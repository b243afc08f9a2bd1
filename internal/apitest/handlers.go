package apitest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goSession/session"
)

type ctxKey struct{}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+Prefix+"/auth/login", s.handleLogin)
	mux.HandleFunc("POST "+Prefix+"/auth/register", s.handleRegister)
	mux.HandleFunc("POST "+Prefix+"/auth/refresh", s.handleRefresh)

	mux.Handle("GET "+Prefix+"/organizations", s.protect(s.listOrganizations))
	mux.Handle("POST "+Prefix+"/organizations", s.protect(s.createOrganization))
	mux.Handle("PUT "+Prefix+"/organizations/{org}", s.protect(s.updateOrganization))
	mux.Handle("DELETE "+Prefix+"/organizations/{org}", s.protect(s.deleteOrganization))
	mux.Handle("GET "+Prefix+"/organizations/{org}/projects", s.protect(s.listProjects))
	mux.Handle("POST "+Prefix+"/organizations/{org}/projects", s.protect(s.createProject))
	mux.Handle("GET "+Prefix+"/organizations/{org}/members", s.protect(s.listMembers))
	mux.Handle("POST "+Prefix+"/organizations/{org}/invite", s.protect(s.inviteMember))
	mux.Handle("DELETE "+Prefix+"/organizations/{org}/members/{member}", s.protect(s.removeMember))

	mux.Handle("PUT "+Prefix+"/projects/{project}", s.protect(s.updateProject))
	mux.Handle("DELETE "+Prefix+"/projects/{project}", s.protect(s.deleteProject))
	mux.Handle("GET "+Prefix+"/projects/{project}/environments", s.protect(s.listEnvironments))
	mux.Handle("GET "+Prefix+"/projects/{project}/api-keys", s.protect(s.listAPIKeys))
	mux.Handle("POST "+Prefix+"/projects/{project}/api-keys", s.protect(s.createAPIKey))
	mux.Handle("DELETE "+Prefix+"/projects/{project}/api-keys/{key}", s.protect(s.deleteAPIKey))
	return mux
}

// protect admits requests whose bearer token verifies and belongs to the
// current token generation window.
func (s *Server) protect(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		header := r.Header.Get("Authorization")

		s.mu.Lock()
		s.bearers = append(s.bearers, header)
		minGen := s.minValidGen
		s.mu.Unlock()

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.deny(w, "missing bearer token")
			return
		}
		claims, err := s.tokens.Verify(token)
		if err != nil || claims.Generation < minGen {
			s.deny(w, "token expired")
			return
		}

		s.mu.Lock()
		u, found := s.userByIDLocked(claims.SubjectID())
		s.mu.Unlock()
		if !found {
			s.deny(w, "unknown user")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	})
}

func (s *Server) deny(w http.ResponseWriter, msg string) {
	s.unauthorized.Add(1)
	writeError(w, http.StatusUnauthorized, msg)
}

func currentUser(r *http.Request) session.User {
	u, _ := r.Context().Value(ctxKey{}).(session.User)
	return u
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(r, &in) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[strings.ToLower(in.Email)]
	if !ok || !verifyPassword(in.Password, acc.passwordHash) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	s.writeSessionLocked(w, http.StatusOK, acc.user)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if !decode(r, &in) || in.Email == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(in.Email)
	if _, exists := s.accounts[key]; exists {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}
	u := session.User{ID: uuid.NewString(), Email: in.Email, Name: in.Name}
	s.accounts[key] = &account{user: u, passwordHash: hash}
	s.writeSessionLocked(w, http.StatusCreated, u)
}

func (s *Server) writeSessionLocked(w http.ResponseWriter, status int, u session.User) {
	access, refresh, err := s.issueLocked(u)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, status, map[string]interface{}{
		"user":          u,
		"access_token":  access,
		"refresh_token": refresh,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	s.mu.Lock()
	gate := s.refreshGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decode(r, &in) || in.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectRefresh {
		writeError(w, http.StatusUnauthorized, "refresh token rejected")
		return
	}
	oldID, uid, ok := s.lookupRefreshLocked(in.RefreshToken)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	u, ok := s.userByIDLocked(uid)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	access, refresh, err := s.issueLocked(u)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.keepRefresh {
		if newID, _, ok := s.lookupRefreshLocked(refresh); ok {
			delete(s.refresh, newID)
		}
		writeData(w, http.StatusOK, map[string]string{"access_token": access})
		return
	}
	delete(s.refresh, oldID)
	writeData(w, http.StatusOK, map[string]string{"access_token": access, "refresh_token": refresh})
}

func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delay := s.orgDelay
	s.mu.Unlock()
	if !sleep(r.Context(), delay) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	writeData(w, http.StatusOK, append([]session.Organization{}, s.orgs...))
}

func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	}
	if !decode(r, &in) || in.Name == "" || in.Slug == "" {
		writeError(w, http.StatusBadRequest, "name and slug are required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orgs {
		if o.Slug == in.Slug {
			writeError(w, http.StatusConflict, "slug already in use")
			return
		}
	}
	org := s.addOrganizationLocked(in.Name, in.Slug)
	u := currentUser(r)
	s.members[org.ID] = append(s.members[org.ID], Member{
		ID: uuid.NewString(), UserID: u.ID, Email: u.Email, Name: u.Name,
		Role: "OWNER", CreatedAt: now(),
	})
	writeData(w, http.StatusCreated, org)
}

func (s *Server) updateOrganization(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if !decode(r, &in) || in.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("org")
	for i := range s.orgs {
		if s.orgs[i].ID == id {
			s.orgs[i].Name = in.Name
			writeData(w, http.StatusOK, s.orgs[i])
			return
		}
	}
	writeError(w, http.StatusNotFound, "organization not found")
}

func (s *Server) deleteOrganization(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("org")
	for i := range s.orgs {
		if s.orgs[i].ID == id {
			s.orgs = append(s.orgs[:i], s.orgs[i+1:]...)
			delete(s.projects, id)
			delete(s.members, id)
			writeData(w, http.StatusOK, map[string]string{"message": "organization deleted"})
			return
		}
	}
	writeError(w, http.StatusNotFound, "organization not found")
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delay := s.projectDelay
	s.mu.Unlock()
	if !sleep(r.Context(), delay) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.orgExistsLocked(r.PathValue("org")) {
		writeError(w, http.StatusNotFound, "organization not found")
		return
	}
	writeData(w, http.StatusOK, append([]session.Project{}, s.projects[r.PathValue("org")]...))
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !decode(r, &in) || in.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	orgID := r.PathValue("org")
	if !s.orgExistsLocked(orgID) {
		writeError(w, http.StatusNotFound, "organization not found")
		return
	}
	writeData(w, http.StatusCreated, s.addProjectLocked(orgID, in.Name, in.Description))
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string  `json:"name"`
		Description *string `json:"description"`
	}
	if !decode(r, &in) || in.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	orgID, idx, ok := s.findProjectLocked(r.PathValue("project"))
	if !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	p := &s.projects[orgID][idx]
	p.Name = in.Name
	if in.Description != nil {
		p.Description = *in.Description
	}
	writeData(w, http.StatusOK, *p)
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("project")
	orgID, idx, ok := s.findProjectLocked(id)
	if !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	list := s.projects[orgID]
	s.projects[orgID] = append(list[:idx], list[idx+1:]...)
	delete(s.environments, id)
	delete(s.apiKeys, id)
	writeData(w, http.StatusOK, map[string]string{"message": "project deleted"})
}

func (s *Server) listEnvironments(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	envs, ok := s.environments[r.PathValue("project")]
	if !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	writeData(w, http.StatusOK, append([]Environment{}, envs...))
}

func (s *Server) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("project")
	if _, ok := s.environments[id]; !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	keys := make([]APIKey, 0, len(s.apiKeys[id]))
	for _, k := range s.apiKeys[id] {
		k.Key = ""
		keys = append(keys, k)
	}
	writeData(w, http.StatusOK, keys)
}

func (s *Server) createAPIKey(w http.ResponseWriter, r *http.Request) {
	var in struct {
		EnvironmentID string `json:"environment_id"`
		Name          string `json:"name"`
	}
	if !decode(r, &in) || in.Name == "" || in.EnvironmentID == "" {
		writeError(w, http.StatusBadRequest, "name and environment_id are required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("project")
	envs, ok := s.environments[id]
	if !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	found := false
	for _, e := range envs {
		found = found || e.ID == in.EnvironmentID
	}
	if !found {
		writeError(w, http.StatusBadRequest, "unknown environment")
		return
	}
	secret, err := newAPIKeySecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	key := APIKey{
		ID:            uuid.NewString(),
		Name:          in.Name,
		EnvironmentID: in.EnvironmentID,
		Key:           secret,
		CreatedAt:     now(),
	}
	s.apiKeys[id] = append(s.apiKeys[id], key)
	writeData(w, http.StatusCreated, key)
}

func (s *Server) deleteAPIKey(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("project")
	keys := s.apiKeys[id]
	for i := range keys {
		if keys[i].ID == r.PathValue("key") {
			s.apiKeys[id] = append(keys[:i], keys[i+1:]...)
			writeData(w, http.StatusOK, map[string]string{"message": "api key deleted"})
			return
		}
	}
	writeError(w, http.StatusNotFound, "api key not found")
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("org")
	if !s.orgExistsLocked(id) {
		writeError(w, http.StatusNotFound, "organization not found")
		return
	}
	writeData(w, http.StatusOK, append([]Member{}, s.members[id]...))
}

func (s *Server) inviteMember(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if !decode(r, &in) || in.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if in.Role == "" {
		in.Role = "MEMBER"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("org")
	if !s.orgExistsLocked(id) {
		writeError(w, http.StatusNotFound, "organization not found")
		return
	}
	acc, ok := s.accounts[strings.ToLower(in.Email)]
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	m := Member{
		ID: uuid.NewString(), UserID: acc.user.ID, Email: acc.user.Email, Name: acc.user.Name,
		Role: strings.ToUpper(in.Role), CreatedAt: now(),
	}
	s.members[id] = append(s.members[id], m)
	writeData(w, http.StatusCreated, m)
}

func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("org")
	list := s.members[id]
	for i := range list {
		if list[i].ID == r.PathValue("member") {
			s.members[id] = append(list[:i], list[i+1:]...)
			writeData(w, http.StatusOK, map[string]string{"message": "member removed"})
			return
		}
	}
	writeError(w, http.StatusNotFound, "member not found")
}

func (s *Server) orgExistsLocked(id string) bool {
	for _, o := range s.orgs {
		if o.ID == id {
			return true
		}
	}
	return false
}

func (s *Server) findProjectLocked(id string) (orgID string, idx int, ok bool) {
	for org, list := range s.projects {
		for i, p := range list {
			if p.ID == id {
				return org, i, true
			}
		}
	}
	return "", 0, false
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }
