package goSession

import (
	"errors"

	"github.com/MrEthical07/goSession/api"
	"github.com/MrEthical07/goSession/session"
)

var (
	// ErrNotAuthenticated is returned by operations that need a signed-in user.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNoOrganization is returned when selecting a project without an organization.
	ErrNoOrganization = session.ErrNoOrganization
	// ErrProjectNotInOrganization is returned when the project is not in the
	// loaded project list of the selected organization.
	ErrProjectNotInOrganization = errors.New("project does not belong to the selected organization")
	// ErrMalformedResponse is returned when the API answers 2xx with an unusable body.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrControllerClosed is returned after Close.
	ErrControllerClosed = errors.New("controller closed")
	// ErrBuilderUsed is returned when Build is called twice.
	ErrBuilderUsed = errors.New("builder already used")

	ErrAuthExpired = api.ErrAuthExpired
	ErrValidation  = api.ErrValidation
	ErrServer      = api.ErrServer
	ErrNetwork     = api.ErrNetwork
)
