// Package auth verifies bearer tokens presented to the observer REST API.
//
// Agents calling the tool endpoints are trusted by network position (they
// run on the same host or tailnet); observer clients may connect from
// anywhere, so the /api surface can require an HS256 JWT when a secret is
// configured. Tokens carry the observer identity in the "sub" claim.
package auth
