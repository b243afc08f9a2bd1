package goSession

import (
	"net"
	"net/url"
	"strings"
)

// LintWarning is a configuration that is valid but probably unintended.
type LintWarning struct {
	Code    string
	Message string
}

type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}

// Lint inspects c for risky combinations. It never fails; call Validate
// for hard errors.
func (c Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code, msg string) {
		ws = append(ws, LintWarning{Code: code, Message: msg})
	}

	if u, err := url.Parse(c.API.BaseURL); err == nil && u.Scheme == "http" && !isLoopback(u.Hostname()) {
		add("insecure_base_url", "tokens are sent over plain http to a non-loopback host")
	}
	if c.API.Timeout == 0 {
		add("no_request_timeout", "API requests have no timeout")
	}
	if c.Session.AutoSelectProject && !c.Session.AutoSelectOrganization {
		add("project_autoselect_without_org", "projects are auto-selected only after an organization is chosen manually")
	}
	if !c.Session.RefreshListsOnLogin && c.Session.AutoSelectOrganization {
		add("autoselect_without_list_refresh", "organization auto-selection waits for an explicit RefreshOrganizations")
	}
	if c.Events.Enabled && !c.Events.DropIfFull {
		add("events_blocking", "a slow event sink will stall session operations")
	}
	if lvl := strings.ToLower(c.Logging.Level); lvl == "debug" || lvl == "trace" {
		add("verbose_logging", "debug logging records every renewal and request failure")
	}
	return ws
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
