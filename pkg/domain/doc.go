// Package domain defines the core types shared across the decision engine:
// policy requests, policy decisions, and the error taxonomy. Types in this
// package are plain data with no behaviour beyond validation and cloning so
// that every layer (cache, batching, evaluation, transport adapters) can
// depend on them without import cycles.
package domain
