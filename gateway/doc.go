// Package gateway sends management-API requests on behalf of the session.
//
// Every call goes through Gateway.Send, which attaches the current bearer
// token and handles access-token expiry: a 401 on the first attempt triggers
// one single-flight renewal and one retry. If renewal fails, or the retry is
// rejected again, the gateway clears the stored credentials and notifies its
// auth-error observers before returning an AuthExpired result.
//
// Send never returns a Go error and never panics on transport or decoding
// failures; the outcome is always a Result value.
package gateway
