// Package jwt handles the access tokens the management API issues.
//
// The client side never verifies signatures: Inspect decodes claims without a
// key so the dashboard can show who is signed in and when the token lapses.
// Validity is always decided by the server answering 401.
//
// Signer mints and verifies HS256 tokens for the fake management API used in
// tests and load runs.
package jwt
