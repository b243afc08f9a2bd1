// Package apitest runs an in-process fake of the dashboard management API.
//
// The fake issues HS256 access tokens whose "gen" claim counts renewals, and
// lets tests expire every outstanding token, reject or hold renewals, and
// count renewal and request traffic. It serves the same routes as the real
// API under the /api/v1 prefix.
package apitest
