// Package audit delivers security events to a pluggable sink.
//
// [Dispatcher] relays events asynchronously with drop-if-full or
// block-if-full semantics. Sinks: channel, JSON lines, zap, no-op.
//
// The package never decides which events to emit; the engine and flows do.
// A failing sink must never fail the operation that produced the event.
package audit
