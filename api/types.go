package api

import "github.com/MrEthical07/goSession/session"

// AuthResponse is returned by login and register.
type AuthResponse struct {
	User         session.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken *string      `json:"refresh_token"`
}

type Environment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// APIKey is an SDK key bound to one environment. Key is only populated in the
// response to CreateAPIKey.
type APIKey struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	EnvironmentID string `json:"environment_id"`
	Key           string `json:"key,omitempty"`
	CreatedAt     string `json:"created_at"`
	LastUsedAt    string `json:"last_used_at,omitempty"`
}

type Member struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}
