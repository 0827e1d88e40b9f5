// Package preflight provides readiness checks for the filesystem paths and
// remote services gantrymon depends on.
//
// The daemon runs RunAll once at startup and logs every failing check; the
// CLI "check" command prints the same results as a table. Checks for
// disabled features are skipped.
package preflight
