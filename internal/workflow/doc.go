// Package workflow schedules the daemon's periodic workers.
//
// Each registered Worker runs in its own goroutine: once at start, then on
// every tick of its interval or when triggered, until the Runner stops.
// Runs of one worker never overlap. The clock is injectable so tests drive
// ticks with a fake clock instead of sleeping. Status reports the last run,
// duration and error of every worker for the status API.
package workflow
