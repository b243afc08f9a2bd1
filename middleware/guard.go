package middleware

import (
	"context"
	"net/http"

	goSession "github.com/MrEthical07/goSession"
)

// Requirement is the minimum session state a route needs.
type Requirement uint8

const (
	RequireAuthenticated Requirement = iota
	RequireOrganization
	RequireProject
)

// SnapshotSource is satisfied by *goSession.Controller.
type SnapshotSource interface {
	Snapshot() goSession.Snapshot
}

type snapshotContextKey struct{}

func SnapshotFromContext(ctx context.Context) (goSession.Snapshot, bool) {
	snap, ok := ctx.Value(snapshotContextKey{}).(goSession.Snapshot)
	return snap, ok
}

func Guard(src SnapshotSource, req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if src == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			snap := src.Snapshot()
			if status, msg := check(snap, req); status != 0 {
				http.Error(w, msg, status)
				return
			}

			ctx := context.WithValue(r.Context(), snapshotContextKey{}, snap)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func check(snap goSession.Snapshot, req Requirement) (int, string) {
	if snap.User == nil {
		return http.StatusUnauthorized, "unauthorized"
	}
	if req >= RequireOrganization && snap.Organization == nil {
		return http.StatusConflict, "no organization selected"
	}
	if req >= RequireProject && snap.Project == nil {
		return http.StatusConflict, "no project selected"
	}
	return 0, ""
}

// Authenticated is Guard(src, RequireAuthenticated).
func Authenticated(src SnapshotSource) func(http.Handler) http.Handler {
	return Guard(src, RequireAuthenticated)
}

// WithProject is Guard(src, RequireProject).
func WithProject(src SnapshotSource) func(http.Handler) http.Handler {
	return Guard(src, RequireProject)
}
