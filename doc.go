// Package shapesync mirrors shape-typed documents held by a remote store
// into local reactive roots.
//
// A [Pool] speaks the shape protocol over a single [flow.Raw]. Consumers
// call [Pool.Acquire] to get a [Handle] on the document identified by a
// shape and an optional scope. Handles asking for the same shape and scope
// share one connection and one [signal.Root]: what one consumer writes,
// every other consumer sees, and the remote store receives it as a diff.
//
// ## Lifecycle
//
// The first Acquire of a key creates an empty root and sends a Request.
// The root is hydrated when the InitialResponse arrives, at which point
// [Handle.Ready] is closed. Only then are local writes forwarded. Remote
// diffs are applied in place and never echoed back.
//
// Every Handle MUST be stopped exactly once. The connection is closed with
// a Stop message when the last Handle on it stops. [Pool.Use] and
// [Pool.Subscribe] wrap that contract for scoped uses.
//
// ## Transports
//
// The pool is transport agnostic, see package flow for in-process pipes,
// QUIC and WebSocket flows.
package shapesync
