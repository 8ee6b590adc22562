package websocket

import (
	"crypto/rand"
	"io"
	"log/slog"
)

// defaultMaxFrameSize matches the source's default; Autobahn-scale
// conformance testing requires configuring it up to tens of MiB.
const defaultMaxFrameSize = 1 << 16 // 65536

// defaultWriteChunkSize is the chunk size SendFrame uses to copy and
// mask an outgoing payload, matching the source's write-chunk buffer.
const defaultWriteChunkSize = 1 << 16 // 65536

// Callbacks are the session's outward API (spec's external
// interfaces table): each is invoked synchronously, from inside Poll,
// Disconnect, or a SendText/SendBinary/Ping that fails to write, on
// the caller's goroutine. Any of them may be nil.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(op Opcode, data []byte)
	OnFrame   func(h FrameHeader) // diagnostic, fires for every accepted frame
	OnClose   func(status StatusCode)
	OnError   func(code ErrorCode)
}

// settings collects a Session's configuration, built up by SessionOpt
// functions over defaultSettings.
type settings struct {
	maxFrameSize   int
	writeChunkSize int
	logger         *slog.Logger
	transport      Transport
	nonceSource    io.Reader
	maskKeySource  io.Reader
	callbacks      Callbacks
}

func defaultSettings() settings {
	return settings{
		maxFrameSize:   defaultMaxFrameSize,
		writeChunkSize: defaultWriteChunkSize,
		logger:         slog.Default(),
		transport:      NewTCPTransport(),
		nonceSource:    rand.Reader,
		maskKeySource:  rand.Reader,
	}
}

// SessionOpt configures a Session at construction time, following the
// same functional-options shape as the source's DialOpt.
type SessionOpt func(*settings)

// WithMaxFrameSize overrides the default 65536-byte cap on a single
// frame's header+payload size.
func WithMaxFrameSize(n int) SessionOpt {
	return func(s *settings) { s.maxFrameSize = n }
}

// WithWriteChunkSize overrides the chunk size SendFrame uses when
// copying and masking an outgoing payload to the transport.
func WithWriteChunkSize(n int) SessionOpt {
	return func(s *settings) { s.writeChunkSize = n }
}

// WithLogger sets the *slog.Logger a Session uses; the default is
// slog.Default().
func WithLogger(l *slog.Logger) SessionOpt {
	return func(s *settings) { s.logger = l }
}

// WithTransport overrides the default TCPTransport, e.g. with a test
// transport backed by an in-memory pipe.
func WithTransport(t Transport) SessionOpt {
	return func(s *settings) { s.transport = t }
}

// WithNonceSource overrides the randomness source for the
// Sec-WebSocket-Key nonce (default crypto/rand.Reader); useful for
// deterministic tests.
func WithNonceSource(r io.Reader) SessionOpt {
	return func(s *settings) { s.nonceSource = r }
}

// WithMaskKeySource overrides the randomness source for outgoing
// frame masking keys (default crypto/rand.Reader). RFC 6455 requires
// only unpredictability, not cryptographic strength.
func WithMaskKeySource(r io.Reader) SessionOpt {
	return func(s *settings) { s.maskKeySource = r }
}

// WithCallbacks sets the session's event callbacks.
func WithCallbacks(c Callbacks) SessionOpt {
	return func(s *settings) { s.callbacks = c }
}
