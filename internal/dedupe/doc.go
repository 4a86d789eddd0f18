// Package dedupe suppresses repeats of the same key within a time window.
//
// The watcher uses it to collapse bursts of filesystem events for one path,
// and the orchestrator uses it to log each distinct registry warning once per
// window instead of on every reload.
package dedupe
