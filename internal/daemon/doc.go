// Package daemon coordinates the long-running gantrymon process.
//
// It ties the task ledger, the pending queue, the scanner's resume points
// and the workflow runner into a single lifecycle guarded by a flock so two
// daemons never share one state directory. The daemon also owns the HTTP
// surface: the status endpoint used by external health checks, the file
// injection endpoint, and task inspection and maintenance endpoints.
//
// Keep orchestration here. Discovery, submission, reconciliation and
// cleanup live in their own packages and are registered as workers by
// daemonrun.
package daemon
