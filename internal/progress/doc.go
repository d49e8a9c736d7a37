// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that watch sessions use to report their lifecycle. The hub batches
// events on a background goroutine and fans them out to pluggable sinks such as
// Prometheus metrics, structured logs, or the session registry.
package progress
