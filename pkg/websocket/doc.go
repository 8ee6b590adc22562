// Package websocket is a client-only implementation of the WebSocket
// protocol (RFC 6455): an incremental, byte-fed frame parser and
// codec, an HTTP opening handshake, and a single-threaded Session
// that a caller drives forward with repeated calls to Poll.
//
// It is designed for embedding into an existing event loop rather
// than spawning its own goroutines: all of a Session's work happens
// synchronously inside Connect, Poll, SendText/SendBinary/Ping, and
// Disconnect, and its Callbacks fire on the calling goroutine.
//
// How does this package optimize for embeddability?
//  1. No internal goroutines; Poll is the only thing that makes
//     progress, and it never blocks longer than the transport's own
//     read timeout
//  2. A pluggable Transport interface, so the default TCP backend can
//     be swapped for TLS or an in-memory pipe in tests
//  3. A byte-fed Parser that tolerates arbitrary chunk boundaries,
//     down to a single byte at a time
//  4. Idiomatic, minimalistic, and modern code patterns
//
// Note A: this package plays the client role only; it does not accept
// inbound connections or validate an opening handshake request.
//
// Note B: WebSocket [extensions] and [subprotocols] are not
// supported; a server response naming either is treated as a
// handshake failure.
//
// Note C: TLS is left to the caller's Transport implementation; this
// package's default TCPTransport is plaintext.
//
// Note D: there is no reconnection or client-pooling layer here —
// callers that need one build it on top of Session, the way the
// source's higher-level client wrapper builds on its own connections.
//
// [extensions]: https://www.iana.org/assignments/websocket/websocket.xhtml#extension-name
// [subprotocols]: https://www.iana.org/assignments/websocket/websocket.xhtml#subprotocol-name
package websocket
