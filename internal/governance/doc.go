// Package governance provides resilience primitives for the engine's
// external collaborators. Today that is a circuit breaker guarding the
// distributed cache tier so that an unreachable backend stops being dialed
// on the request hot path.
package governance
