// Package bidi provides a minimal WebDriver BiDi client core.
//
// It owns the WebSocket transport, correlates commands with their
// responses, and fans out spontaneous events to subscribers. Per-module
// typed command and event wrappers (browsingContext, input, script, ...)
// are external collaborators: this package treats every command as an
// opaque method/params pair and every event as a method/params pair keyed
// by method name.
package bidi
