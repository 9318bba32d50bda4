// Package generation owns the image-generation job registry.
//
// The Registry enforces one active job per capability, tracks the model-load
// state independently of the job state, validates and defaults generation
// parameters before any engine call, and keeps a read-through cache over the
// gateway's persisted artifact catalog. Unloading the model while a job runs
// forces an implicit cancellation that resolves the job as a native failure.
package generation
