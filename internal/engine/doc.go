// Package engine is the host frame loop that drives XR sessions.
//
// ARCHITECTURE:
//
// Single-Writer Frame Loop:
// Sessions, devices and the spatial graph are not safe for concurrent use.
// Host.Run owns them: every tick and every submitted task runs on the one
// goroutine that called Run. Other goroutines (the sensor bridge, HTTP
// handlers, signal handlers) reach the runtime only through Submit or the
// device mailbox.
//
// Per Frame:
//  1. Tasks submitted since the previous frame run in FIFO order.
//  2. The frame counter advances.
//  3. Every attached ticker receives Tick with the host time in milliseconds.
//  4. Tickers that report Ended are detached.
//
// Failures in tasks or ticks are logged and the loop continues. Nothing is
// retried.
//
// Frame Rate:
// The loop runs at the configured rate until an attached ticker that
// implements RateSource asks for another one; the ticker interval is reset
// at the next frame.
package engine
