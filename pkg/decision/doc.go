// Package decision implements the two leaf components of the evaluation
// pipeline: deterministic cache-key derivation over the decision-relevant
// projection of a request, and the table-driven partial evaluator that
// resolves well-known request shapes without touching the full policy engine.
package decision
