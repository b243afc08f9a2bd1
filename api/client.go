package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/session"
)

// Sender is the transport the client runs on. *gateway.Gateway implements it.
type Sender interface {
	Send(ctx context.Context, method, path string, body interface{}) gateway.Result
	SendAnonymous(ctx context.Context, method, path string, body interface{}) gateway.Result
}

// Paths are the auth endpoints, relative to the gateway base URL.
type Paths struct {
	Login    string
	Register string
}

// DefaultPaths matches the management API routes.
var DefaultPaths = Paths{Login: "/auth/login", Register: "/auth/register"}

// Client wraps a Sender with typed management-API operations.
type Client struct {
	s     Sender
	paths Paths
}

func NewClient(s Sender, paths Paths) *Client {
	if paths.Login == "" {
		paths.Login = DefaultPaths.Login
	}
	if paths.Register == "" {
		paths.Register = DefaultPaths.Register
	}
	return &Client{s: s, paths: paths}
}

// Login exchanges credentials for a token pair. The request carries no
// bearer token and a 401 means bad credentials, not an expired session.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	return c.auth(ctx, c.paths.Login, map[string]string{"email": email, "password": password})
}

func (c *Client) Register(ctx context.Context, email, password, name string) (*AuthResponse, error) {
	return c.auth(ctx, c.paths.Register, map[string]string{"email": email, "password": password, "name": name})
}

func (c *Client) auth(ctx context.Context, path string, body map[string]string) (*AuthResponse, error) {
	var out AuthResponse
	if err := decode(c.s.SendAnonymous(ctx, http.MethodPost, path, body), &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, &Error{Kind: gateway.KindNetwork, Status: http.StatusOK, Message: "auth response has no access_token"}
	}
	return &out, nil
}

func (c *Client) ListOrganizations(ctx context.Context) ([]session.Organization, error) {
	return list[session.Organization](ctx, c, "/organizations")
}

func (c *Client) CreateOrganization(ctx context.Context, name, slug string) (*session.Organization, error) {
	var out session.Organization
	if err := c.call(ctx, http.MethodPost, "/organizations", map[string]string{"name": name, "slug": slug}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateOrganization(ctx context.Context, orgID, name string) (*session.Organization, error) {
	var out session.Organization
	if err := c.call(ctx, http.MethodPut, "/organizations/"+url.PathEscape(orgID), map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteOrganization(ctx context.Context, orgID string) error {
	return c.call(ctx, http.MethodDelete, "/organizations/"+url.PathEscape(orgID), nil, nil)
}

func (c *Client) ListProjects(ctx context.Context, orgID string) ([]session.Project, error) {
	return list[session.Project](ctx, c, fmt.Sprintf("/organizations/%s/projects", url.PathEscape(orgID)))
}

func (c *Client) CreateProject(ctx context.Context, orgID, name, description string) (*session.Project, error) {
	var out session.Project
	path := fmt.Sprintf("/organizations/%s/projects", url.PathEscape(orgID))
	if err := c.call(ctx, http.MethodPost, path, map[string]string{"name": name, "description": description}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProject renames a project. A nil description leaves it unchanged.
func (c *Client) UpdateProject(ctx context.Context, projectID, name string, description *string) (*session.Project, error) {
	body := struct {
		Name        string  `json:"name"`
		Description *string `json:"description,omitempty"`
	}{name, description}
	var out session.Project
	if err := c.call(ctx, http.MethodPut, "/projects/"+url.PathEscape(projectID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	return c.call(ctx, http.MethodDelete, "/projects/"+url.PathEscape(projectID), nil, nil)
}

func (c *Client) ListEnvironments(ctx context.Context, projectID string) ([]Environment, error) {
	return list[Environment](ctx, c, fmt.Sprintf("/projects/%s/environments", url.PathEscape(projectID)))
}

func (c *Client) ListAPIKeys(ctx context.Context, projectID string) ([]APIKey, error) {
	return list[APIKey](ctx, c, fmt.Sprintf("/projects/%s/api-keys", url.PathEscape(projectID)))
}

func (c *Client) CreateAPIKey(ctx context.Context, projectID, environmentID, name string) (*APIKey, error) {
	var out APIKey
	path := fmt.Sprintf("/projects/%s/api-keys", url.PathEscape(projectID))
	if err := c.call(ctx, http.MethodPost, path, map[string]string{"environment_id": environmentID, "name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteAPIKey(ctx context.Context, projectID, keyID string) error {
	path := fmt.Sprintf("/projects/%s/api-keys/%s", url.PathEscape(projectID), url.PathEscape(keyID))
	return c.call(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) ListMembers(ctx context.Context, orgID string) ([]Member, error) {
	return list[Member](ctx, c, fmt.Sprintf("/organizations/%s/members", url.PathEscape(orgID)))
}

func (c *Client) InviteMember(ctx context.Context, orgID, email, role string) (*Member, error) {
	var out Member
	path := fmt.Sprintf("/organizations/%s/invite", url.PathEscape(orgID))
	if err := c.call(ctx, http.MethodPost, path, map[string]string{"email": email, "role": role}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveMember(ctx context.Context, orgID, memberID string) error {
	path := fmt.Sprintf("/organizations/%s/members/%s", url.PathEscape(orgID), url.PathEscape(memberID))
	return c.call(ctx, http.MethodDelete, path, nil, nil)
}

func list[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var out []T
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// call sends the request and decodes into out when out is non-nil. A list
// endpoint answering with an empty body yields an empty list.
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	res := c.s.Send(ctx, method, path, body)
	if out == nil {
		return errorFrom(res)
	}
	return decode(res, out)
}

func decode(res gateway.Result, out interface{}) error {
	if err := errorFrom(res); err != nil {
		return err
	}
	if err := res.Decode(out); err != nil {
		if errors.Is(err, gateway.ErrEmptyData) {
			return nil
		}
		return &Error{Kind: gateway.KindNetwork, Status: res.Status, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}
