package goSession

import (
	"fmt"

	"github.com/MrEthical07/goSession/session"
)

type (
	User         = session.User
	Organization = session.Organization
	Project      = session.Project
)

// State is derived from a Snapshot.
type State uint8

const (
	StateUnauthenticated State = iota
	StateAuthenticatedNoOrg
	StateAuthenticatedNoProject
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticatedNoOrg:
		return "authenticated_no_org"
	case StateAuthenticatedNoProject:
		return "authenticated_no_project"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Snapshot is an immutable view of the session. Slices and pointers are
// copies; mutating them does not affect the Controller.
type Snapshot struct {
	User          *User
	Organization  *Organization
	Project       *Project
	Organizations []Organization
	Projects      []Project
	State         State
	// Generation increases by one with every published transition.
	Generation uint64
}

func (s Snapshot) Authenticated() bool {
	return s.State != StateUnauthenticated
}

func deriveState(user *User, org *Organization, project *Project) State {
	switch {
	case user == nil:
		return StateUnauthenticated
	case org == nil:
		return StateAuthenticatedNoOrg
	case project == nil:
		return StateAuthenticatedNoProject
	default:
		return StateReady
	}
}
