package session

// User is the authenticated dashboard user.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Organization is the tenant boundary every project belongs to.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Project is scoped to exactly one organization.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Storage keys. Clearing a session removes all of them.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
	KeyOrganization = "organization"
	KeyProject      = "project"
)

// AllKeys lists every persisted key.
var AllKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser, KeyOrganization, KeyProject}

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func cloneOrganization(o *Organization) *Organization {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

func cloneProject(p *Project) *Project {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
