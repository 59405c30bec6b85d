// Package server implements the protocol surface agents and observers talk
// to: a hand-rolled HTTP/1.1 transport over raw connections, the legacy
// /execute endpoint, a minimal JSON-RPC 2.0 endpoint (initialize,
// tools/list, tools/call), and a small read-mostly REST API for observers.
//
// The transport deliberately avoids net/http: each connection carries one
// request, responses always close the connection, and parsing is a strict
// split on CRLF with a JSON error body for anything malformed. Listeners
// are pluggable; NewListener yields either plain TCP or a tsnet node that
// joins a tailnet.
package server
