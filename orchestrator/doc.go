// Package orchestrator coordinates per-asset pipeline state.
//
// A Supervisor owns the registry of running import batches, writes every
// state transition through the asset store, and publishes one
// core.ProgressEvent per transition on its Bus. Retry wraps operations that
// may fail transiently.
package orchestrator
