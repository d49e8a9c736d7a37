// Package watch follows one remix job from the moment its progress channel
// opens until the finished artifact expires.
//
// A Machine turns decoded status messages into typed commands and never
// touches the UI itself. A Session owns the channel stream, the Machine and
// the countdown, and applies every command to a render.Renderer from a single
// goroutine. A Manager keeps many sessions side by side for the daemon.
package watch
