// Package api is the typed client for the dashboard management API.
//
// Every method goes through a Sender, normally the session gateway, so bearer
// handling and token renewal are transparent. Failures are returned as *Error
// values that match ErrAuthExpired, ErrValidation, ErrServer or ErrNetwork
// under errors.Is.
package api
