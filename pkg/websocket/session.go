package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/keelwatch/snacka/internal/logger"
	"github.com/keelwatch/snacka/internal/utf8"
)

// State is a Session's position in its connection lifecycle.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// closingHandshakeTimeout bounds how long Session waits for the peer's
// answering Close frame after it sends its own, before giving up and
// tearing down the transport unilaterally.
const closingHandshakeTimeout = 2 * time.Second

// readBufSize is the size of the buffer Poll hands to Transport.Read
// on each call.
const readBufSize = 4096

// Session drives one client-side WebSocket connection. It owns no
// goroutines: the caller drives it forward by calling Poll
// repeatedly (e.g. from an existing event loop or a dedicated
// goroutine of the caller's own design), and the configured Callbacks
// fire synchronously from inside Poll, SendText/SendBinary/Ping, or
// Disconnect.
//
// A Session is not safe for concurrent use.
type Session struct {
	id       string
	settings settings
	logger   *slog.Logger

	state State
	url   URL

	nonce     string
	handshake *HandshakeParser
	parser    *Parser

	closeSentByUs   bool
	closeReceived   bool
	closingDeadline time.Time

	readBuf [readBufSize]byte
}

// NewSession constructs a Session in StateClosed, ready for Connect.
func NewSession(opts ...SessionOpt) *Session {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		id:       shortuuid.New(),
		settings: cfg,
		logger:   cfg.logger,
		state:    StateClosed,
	}
	s.parser = NewParser(cfg.maxFrameSize, s, s)
	return s
}

// ID is a short identifier for this session, suitable for correlating
// log lines across a process handling several sessions at once.
func (s *Session) ID() string { return s.id }

// State reports the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// Connect begins opening a connection to rawURL: it resolves the
// target, opens the transport, and sends the opening HTTP handshake
// request. It returns once the request has been written; completion
// of the handshake (success or failure) is reported through Poll and
// the OnOpen/OnError callbacks.
func (s *Session) Connect(ctx context.Context, rawURL string) error {
	if s.state != StateClosed {
		return newProtocolError(WebsocketConnectionIsNotOpen, "session already connecting or connected")
	}

	u, err := ParseURL(rawURL)
	if err != nil {
		return err
	}
	s.url = u
	s.state = StateConnecting

	ctx = logger.InContext(ctx, s.logger.With("session_id", s.id))

	if err := s.settings.transport.Connect(ctx, u.Host, u.Port); err != nil {
		s.state = StateClosed
		return err
	}

	nonce, err := GenerateNonce(s.settings.nonceSource)
	if err != nil {
		_ = s.settings.transport.Disconnect()
		s.state = StateClosed
		return fmt.Errorf("websocket: %w", err)
	}
	s.nonce = nonce
	s.handshake = NewHandshakeParser(nonce)
	s.parser.Reset()

	req := BuildRequest(u.HostHeader(), u.Path, u.Query, nonce)
	if err := s.settings.transport.Write(ctx, req); err != nil {
		_ = s.settings.transport.Disconnect()
		s.state = StateClosed
		return err
	}

	logger.FromContext(ctx).DebugContext(ctx, "websocket: sent opening handshake", "host", u.Host, "path", u.Path)
	return nil
}

// Poll advances the session: it reads whatever bytes are currently
// available from the transport and feeds them to the handshake parser
// or the frame parser as appropriate, and checks the closing-handshake
// timeout. It must be called repeatedly by the caller for the session
// to make progress; it never blocks longer than the transport's own
// read timeout.
func (s *Session) Poll(ctx context.Context) error {
	if s.state == StateClosed {
		return nil
	}

	if s.state == StateClosing && !s.closingDeadline.IsZero() && time.Now().After(s.closingDeadline) {
		s.logger.WarnContext(ctx, "websocket: closing handshake timed out", "session_id", s.id)
		s.forceClose(ctx, StatusGoingAway, NoError)
		return nil
	}

	n, err := s.settings.transport.Read(s.readBuf[:])
	if err != nil {
		if errors.Is(err, ErrPeerClosed) {
			s.logger.InfoContext(ctx, "websocket: peer closed the connection without a closing handshake", "session_id", s.id)
			s.forceClose(ctx, StatusGoingAway, NoError)
			return nil
		}
		s.logger.ErrorContext(ctx, "websocket: transport read failed", "session_id", s.id, "error", err)
		s.forceClose(ctx, StatusInternalError, UnexpectedError)
		return err
	}
	if n == 0 {
		return nil
	}
	data := s.readBuf[:n]

	if s.state == StateConnecting {
		consumed, done, err := s.handshake.ProcessBytes(data)
		if err != nil {
			s.logger.ErrorContext(ctx, "websocket: opening handshake failed", "session_id", s.id, "error", err)
			_ = s.settings.transport.Disconnect()
			s.state = StateClosed
			s.notifyError(err)
			return err
		}
		if !done {
			return nil
		}

		s.state = StateOpen
		s.logger.InfoContext(ctx, "websocket: connection open", "session_id", s.id)
		if s.settings.callbacks.OnOpen != nil {
			s.settings.callbacks.OnOpen()
		}

		data = data[consumed:]
		if len(data) == 0 {
			return nil
		}
	}

	if err := s.parser.ProcessBytes(data); err != nil {
		status := StatusProtocolError
		var pe *ProtocolError
		if asProtocolError(err, &pe) && pe.Code == InvalidUTF8 {
			status = StatusInconsistentData
		}
		s.logger.ErrorContext(ctx, "websocket: frame parser rejected input", "session_id", s.id, "error", err)
		_ = s.closeWithStatus(ctx, status, "")
		s.teardown(ctx, status)
		s.notifyError(err)
		return err
	}

	return nil
}

func asProtocolError(err error, target **ProtocolError) bool {
	pe, ok := err.(*ProtocolError)
	if ok {
		*target = pe
	}
	return ok
}

func (s *Session) notifyError(err error) {
	if s.settings.callbacks.OnError == nil {
		return
	}
	switch e := err.(type) {
	case *ProtocolError:
		s.settings.callbacks.OnError(e.Code)
	case *HandshakeError:
		s.settings.callbacks.OnError(e.Code)
	default:
		s.settings.callbacks.OnError(UnexpectedError)
	}
}

// OnFrame implements FrameSink: it forwards every accepted frame to
// the diagnostic callback, if one is configured.
func (s *Session) OnFrame(h FrameHeader) {
	if s.settings.callbacks.OnFrame != nil {
		s.settings.callbacks.OnFrame(h)
	}
}

// OnMessage implements MessageSink: Text, Binary, Ping and Pong
// messages reach the application callback; a Ping is then answered
// with a Pong and a Close is handled here, per RFC 6455 §5.5.
func (s *Session) OnMessage(op Opcode, payload []byte) {
	if op != OpcodeClose && s.settings.callbacks.OnMessage != nil {
		s.settings.callbacks.OnMessage(op, payload)
	}
	switch op {
	case OpcodePing:
		if err := s.sendFrameLocked(context.Background(), OpcodePong, payload); err != nil {
			s.logger.Error("websocket: failed to send pong", "session_id", s.id, "error", err)
		}
	case OpcodeClose:
		s.handleCloseFrame(payload)
	}
}

func (s *Session) handleCloseFrame(payload []byte) {
	ctx := context.Background()
	code, reason, protocolOK := parseClosePayload(payload)

	s.closeReceived = true

	if !s.closeSentByUs {
		replyCode := code
		if !protocolOK {
			replyCode = StatusProtocolError
		} else if !utf8.Valid(reason) {
			replyCode = StatusInconsistentData
		}
		_ = s.sendFrameLocked(ctx, OpcodeClose, encodeClosePayload(replyCode, ""))
	}

	s.logger.InfoContext(ctx, "websocket: received close frame", "session_id", s.id, "status", code)
	s.teardown(ctx, code)
}

// SendText sends a complete Text message.
func (s *Session) SendText(ctx context.Context, payload []byte) error {
	return s.sendFrame(ctx, OpcodeText, payload)
}

// SendBinary sends a complete Binary message.
func (s *Session) SendBinary(ctx context.Context, payload []byte) error {
	return s.sendFrame(ctx, OpcodeBinary, payload)
}

// Ping sends a Ping frame carrying payload, which must be at most 125
// bytes. A nil or empty payload is a valid ping.
func (s *Session) Ping(ctx context.Context, payload []byte) error {
	return s.sendFrame(ctx, OpcodePing, payload)
}

func (s *Session) sendFrame(ctx context.Context, op Opcode, payload []byte) error {
	if s.state != StateOpen {
		return newProtocolError(WebsocketConnectionIsNotOpen, "session is "+s.state.String())
	}
	if err := (FrameHeader{Fin: true, Opcode: op, PayloadLen: uint64(len(payload))}).Validate(); err != nil {
		return err
	}
	if err := s.sendFrameLocked(ctx, op, payload); err != nil {
		s.logger.ErrorContext(ctx, "websocket: send failed", "session_id", s.id, "error", err)
		s.forceClose(ctx, StatusInternalError, UnexpectedError)
		return err
	}
	return nil
}

// sendFrameLocked writes a single, complete (Fin=true) masked frame,
// chunking the payload through settings.writeChunkSize pieces and
// masking each chunk at its correct offset. It bypasses the
// StateOpen check so the closing handshake and ping auto-replies can
// still send control frames while the session is winding down.
func (s *Session) sendFrameLocked(ctx context.Context, op Opcode, payload []byte) error {
	key, err := randomMaskingKey(s.settings.maskKeySource)
	if err != nil {
		return err
	}

	header := FrameHeader{
		Fin:        true,
		Opcode:     op,
		Masked:     true,
		MaskingKey: key,
		PayloadLen: uint64(len(payload)),
	}
	encoded, err := EncodeHeader(header)
	if err != nil {
		return err
	}
	if err := s.settings.transport.Write(ctx, encoded); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}

	chunkSize := s.settings.writeChunkSize
	if chunkSize <= 0 {
		chunkSize = len(payload)
	}
	chunk := make([]byte, 0, chunkSize)

	for offset := 0; offset < len(payload); offset += chunkSize {
		end := offset + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk = append(chunk[:0], payload[offset:end]...)
		ApplyMask(key, chunk, offset)
		if err := s.settings.transport.Write(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect closes the session. If immediate is false, it sends a
// Close frame with StatusNormalClosure and transitions to StateClosing,
// waiting up to closingHandshakeTimeout (driven by Poll) for the
// peer's answering Close frame before tearing down the transport
// unilaterally. If immediate is true, it tears the transport down at
// once without attempting a closing handshake.
func (s *Session) Disconnect(ctx context.Context, immediate bool) error {
	if s.state == StateClosed {
		return nil
	}
	if immediate {
		s.forceClose(ctx, StatusGoingAway, NoError)
		return nil
	}
	return s.closeWithStatus(ctx, StatusNormalClosure, "")
}

func (s *Session) closeWithStatus(ctx context.Context, status StatusCode, reason string) error {
	if s.state != StateOpen && s.state != StateClosing {
		return newProtocolError(WebsocketConnectionIsNotOpen, "session is "+s.state.String())
	}
	if !s.closeSentByUs {
		s.closeSentByUs = true
		if err := s.sendFrameLocked(ctx, OpcodeClose, encodeClosePayload(status, reason)); err != nil {
			s.logger.WarnContext(ctx, "websocket: failed to send close frame", "session_id", s.id, "error", err)
		}
	}
	if s.closeReceived {
		s.teardown(ctx, status)
		return nil
	}
	s.state = StateClosing
	s.closingDeadline = time.Now().Add(closingHandshakeTimeout)
	return nil
}

// forceClose tears the transport down immediately, bypassing the
// closing handshake, and reports status/errCode through the
// callbacks, OnClose first and then OnError. errCode of NoError
// suppresses the OnError callback.
func (s *Session) forceClose(ctx context.Context, status StatusCode, errCode ErrorCode) {
	s.teardown(ctx, status)
	if errCode != NoError && s.settings.callbacks.OnError != nil {
		s.settings.callbacks.OnError(errCode)
	}
}

func (s *Session) teardown(ctx context.Context, status StatusCode) {
	if s.state == StateClosed {
		return
	}
	if err := s.settings.transport.Disconnect(); err != nil {
		s.logger.WarnContext(ctx, "websocket: error disconnecting transport", "session_id", s.id, "error", err)
	}
	s.state = StateClosed
	s.closeSentByUs = false
	s.closeReceived = false
	s.closingDeadline = time.Time{}
	s.logger.InfoContext(ctx, "websocket: connection closed", "session_id", s.id, "status", status)
	if s.settings.callbacks.OnClose != nil {
		s.settings.callbacks.OnClose(status)
	}
}

// Delete releases the session's resources, disconnecting the
// transport immediately if it is still open. A Session must not be
// used after Delete.
func (s *Session) Delete() error {
	if s.state == StateClosed {
		return nil
	}
	s.forceClose(context.Background(), StatusGoingAway, NoError)
	return nil
}
