// Package tools implements the agent-visible tool surface: the catalog
// served to agents and the dispatcher that executes their calls.
//
// The dispatcher is the single choke-point for authorization and execution.
// Session ids resolve to a (project, agent) pair; every resource access is
// checked against the caller's project before anything is read or mutated.
// All failures, including ownership mismatches and storage errors, come back
// as {"error": ...} result maps so an LLM-driven caller always receives
// parseable JSON.
//
// Tool executions are serialized behind one mutex. This is what makes
// multi-file claim requests atomic with respect to concurrent callers.
package tools
