// Package claims implements advisory file locking for agents sharing a
// project workspace.
//
// A claim is a lease: it grants one agent exclusive ownership of a file
// path for a fixed TTL (default 120 seconds). Leases are not renewed
// automatically; an agent that needs a file for longer re-claims it, which
// refreshes the timestamp. Expired leases are removed lazily before every
// claim, check, or list operation, so a crashed agent's claims dissolve on
// their own without any recovery protocol.
//
// Batch claims are all-or-nothing. If any requested path is held by a
// different agent, no path in the batch is granted and the outcome lists
// every conflict with its holder and time to expiry. This prevents two
// agents each acquiring half of an overlapping set and deadlocking.
package claims
