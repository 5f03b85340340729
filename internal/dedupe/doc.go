// Package dedupe guards against replayed submissions. A client attaches a
// request id to a question; a second submission of the same id by the same
// owner within the window is rejected instead of producing a second exchange.
package dedupe
