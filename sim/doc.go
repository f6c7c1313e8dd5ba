// Package sim provides the discrete-event synchronization kernel for gridsync.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - timestamp.go: simulation time, the NEVER and INVALID sentinels
//   - object.go: the optional phase capabilities an object body implements
//   - registry.go: classes, per-class arenas, handles and the autolock mutex
//   - kernel.go: Load, Step and Run; the phase order of one timestep
//   - pass.go: one sweep of a phase across the rank buckets
//   - convergence.go: the repeated sync pass and its iteration budget
//
// # Timestep
//
// Every instant runs precommit, presync, sync (repeated until no object asks
// for the same instant again), postsync and commit. Precommit, presync,
// postsync and commit visit parents before children; sync and finalize visit
// children before parents. The next instant is the earliest time any object,
// module hook or armed wake-up requested.
//
// # Architecture
//
// The sim package defines the kernel and its extension points; the rest lives
// in sub-packages:
//   - sim/pool/: persistent worker pool for large parallel classes
//   - sim/metrics/: Prometheus collector and /metrics endpoint
//   - sim/trace/: pass, convergence and failure trace recording
//   - sim/grid/: buses, loads, relays and a fixed-point voltage solver
//   - sim/recorder/: SQLite-backed property recorders
//
// sim/pool registers itself via an init() function that sets the package-level
// factory variable NewPassRunnerFunc. Without it every pass runs inline.
//
// # Key Interfaces
//
// The extension points are small interfaces:
//   - Initializer, Precommitter, Presyncer, Syncer, Postsyncer, Committer,
//     Finalizer: per-object phase capabilities
//   - Module: registers classes; optional hooks run once per phase
//   - Metrics: receives pass, convergence and failure instrumentation
//   - PassRunner: executes one phase call per item of a population
package sim
