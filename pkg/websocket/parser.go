package websocket

import (
	"github.com/keelwatch/snacka/internal/utf8"
)

// pingPongScratchSize is the size of the separate buffer used for
// Ping/Pong payloads, which are bounded by maxControlPayload but must
// not share storage with an in-progress fragmented message (a Ping
// may legally arrive between two Continuation frames).
const pingPongScratchSize = 128

// parserPhase is the frame parser's top-level state.
type parserPhase int

const (
	phaseReadingHeader parserPhase = iota
	phaseReadingPayload
)

// FrameSink receives every accepted frame, including non-final
// fragments and control frames, before message reassembly. It is the
// diagnostic hook spec.md's settings call frame_callback.
type FrameSink interface {
	OnFrame(h FrameHeader)
}

// MessageSink receives one call per complete, reassembled message:
// a Text/Binary message (after defragmentation) or a Ping/Pong
// payload.
type MessageSink interface {
	OnMessage(op Opcode, payload []byte)
}

// Parser is a byte-fed RFC 6455 frame parser. Feed it bytes with
// ProcessBytes in any chunking; it reassembles frames and messages
// and invokes the configured sinks synchronously, in order.
//
// A Parser is not safe for concurrent use; nothing in this package
// calls it from more than one goroutine at a time (see Session).
type Parser struct {
	Frames   FrameSink
	Messages MessageSink

	maxFrameSize int

	phase        parserPhase
	headerBuf    [maxHeaderSize]byte
	headerCursor int

	current       FrameHeader
	payloadCursor uint64

	continuationOffset uint64
	continuationOpcode Opcode
	waitingForFinal    bool
	utf8State          uint32

	buffer  []byte // reassembly buffer for Text/Binary/Continuation, sized to maxFrameSize
	scratch [pingPongScratchSize]byte
}

// NewParser constructs a Parser whose reassembly buffer accommodates
// frames up to maxFrameSize bytes (header included).
func NewParser(maxFrameSize int, frames FrameSink, messages MessageSink) *Parser {
	return &Parser{
		Frames:       frames,
		Messages:     messages,
		maxFrameSize: maxFrameSize,
		buffer:       make([]byte, maxFrameSize),
	}
}

// Reset returns the parser to its initial state, as if newly
// constructed, discarding any in-progress frame or message.
func (p *Parser) Reset() {
	p.phase = phaseReadingHeader
	p.headerCursor = 0
	p.current = FrameHeader{}
	p.payloadCursor = 0
	p.continuationOffset = 0
	p.continuationOpcode = OpcodeContinuation
	p.waitingForFinal = false
	p.utf8State = utf8.Accept
}

// ProcessBytes feeds b to the parser. It consumes all of b, keeping a
// partial header or payload for the next call, invokes
// FrameSink/MessageSink synchronously for each completed frame, and
// returns a *ProtocolError on any violation (after
// which the parser must not be fed further bytes without a Reset).
func (p *Parser) ProcessBytes(b []byte) error {
	for len(b) > 0 {
		var err error
		var n int
		switch p.phase {
		case phaseReadingHeader:
			n, err = p.consumeHeaderBytes(b)
		case phaseReadingPayload:
			n, err = p.consumePayloadBytes(b)
		}
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// consumeHeaderBytes accumulates bytes of the in-progress header,
// returning the number of input bytes consumed. It never consumes
// more than is needed to complete the header.
func (p *Parser) consumeHeaderBytes(b []byte) (int, error) {
	consumed := 0

	// Need at least 2 bytes before the total header length is knowable.
	if p.headerCursor < 2 {
		for p.headerCursor < 2 && consumed < len(b) {
			p.headerBuf[p.headerCursor] = b[consumed]
			p.headerCursor++
			consumed++
		}
		if p.headerCursor < 2 {
			return consumed, nil
		}
	}

	want := headerParseLen(p.headerBuf[0], p.headerBuf[1])
	for p.headerCursor < want && consumed < len(b) {
		p.headerBuf[p.headerCursor] = b[consumed]
		p.headerCursor++
		consumed++
	}
	if p.headerCursor < want {
		return consumed, nil
	}

	h, n, err := DecodeHeader(p.headerBuf[:want])
	if err != nil {
		return consumed, err
	}
	_ = n

	if err := p.onHeaderComplete(h); err != nil {
		return consumed, err
	}

	return consumed, nil
}

// onHeaderComplete applies the fragmentation-sequence rules (which
// require the parser's running state, unlike FrameHeader.Validate)
// and transitions to payload parsing, or directly to frame
// completion for a zero-length payload.
func (p *Parser) onHeaderComplete(h FrameHeader) error {
	if p.waitingForFinal && !(h.Opcode == OpcodeContinuation || h.Opcode.isControl()) {
		return newProtocolError(ExpectedContinuationFrame, "expected continuation, ping, pong, or close frame")
	}
	if h.Opcode == OpcodeContinuation && !p.waitingForFinal {
		return newProtocolError(UnexpectedContinuationFrame, "continuation frame with nothing to continue")
	}
	maxPayload := uint64(p.maxFrameSize - maxHeaderSize)
	if h.PayloadLen > maxPayload {
		return newProtocolError(ExceededMaxPayloadSize, "payload exceeds max frame size")
	}
	if h.Opcode == OpcodeContinuation && p.continuationOffset+h.PayloadLen > maxPayload {
		return newProtocolError(ExceededMaxPayloadSize, "fragmented message exceeds max frame size")
	}

	if (h.Opcode == OpcodeText || h.Opcode == OpcodeBinary) && !h.Fin {
		p.utf8State = utf8.Accept
		p.continuationOpcode = h.Opcode
		p.waitingForFinal = true
		p.continuationOffset = 0
	}

	p.current = h
	p.payloadCursor = 0

	if h.PayloadLen == 0 {
		return p.onFrameComplete()
	}

	p.phase = phaseReadingPayload
	return nil
}

// consumePayloadBytes copies up to the remainder of the current
// frame's payload from b, validating UTF-8 incrementally for Text
// frames and unmasking as it goes, then completes the frame once its
// full payload has been consumed.
func (p *Parser) consumePayloadBytes(b []byte) (int, error) {
	remaining := p.current.PayloadLen - p.payloadCursor
	n := uint64(len(b))
	if n > remaining {
		n = remaining
	}
	chunk := b[:n]

	if p.current.Masked {
		ApplyMask(p.current.MaskingKey, chunk, int(p.payloadCursor))
	}

	isTextRun := p.current.Opcode == OpcodeText ||
		(p.current.Opcode == OpcodeContinuation && p.continuationOpcode == OpcodeText)
	if isTextRun {
		var ok bool
		p.utf8State, ok = utf8.ValidateIncremental(chunk, p.utf8State)
		if !ok {
			return int(n), newProtocolError(InvalidUTF8, "invalid utf-8 in text message")
		}
	}

	if p.current.Opcode.isControl() {
		copy(p.scratch[p.payloadCursor:], chunk)
	} else {
		copy(p.buffer[p.continuationOffset+p.payloadCursor:], chunk)
	}

	p.payloadCursor += n

	if p.payloadCursor == p.current.PayloadLen {
		if err := p.onFrameComplete(); err != nil {
			return int(n), err
		}
	}

	return int(n), nil
}

// onFrameComplete invokes the frame sink, and, if this frame
// concludes a message, the message sink, then resets per-frame
// bookkeeping and returns to header parsing.
func (p *Parser) onFrameComplete() error {
	h := p.current

	if p.Frames != nil {
		p.Frames.OnFrame(h)
	}

	if h.Fin {
		msgOpcode := h.Opcode
		if msgOpcode == OpcodeContinuation {
			msgOpcode = p.continuationOpcode
		}

		if msgOpcode == OpcodeText {
			if _, ok := utf8.ValidateIncremental(nil, p.utf8State); !ok || !utf8.Complete(p.utf8State) {
				return newProtocolError(InvalidUTF8, "truncated utf-8 sequence at message end")
			}
		}

		if h.Opcode.isControl() {
			// A control frame is never fragmented, so its own payload
			// length is the whole message; continuationOffset belongs
			// to a data message that may still be in progress around it.
			if p.Messages != nil {
				p.Messages.OnMessage(msgOpcode, cloneBytes(p.scratch[:p.current.PayloadLen]))
			}
		} else if msgOpcode == OpcodeText || msgOpcode == OpcodeBinary {
			totalLen := p.continuationOffset + p.current.PayloadLen
			if p.Messages != nil {
				p.Messages.OnMessage(msgOpcode, cloneBytes(p.buffer[:totalLen]))
			}
		}

		if !h.Opcode.isControl() {
			p.waitingForFinal = false
			p.continuationOffset = 0
			p.continuationOpcode = OpcodeContinuation
		}
	} else {
		p.continuationOffset += h.PayloadLen
	}

	p.headerCursor = 0
	p.current = FrameHeader{}
	p.payloadCursor = 0
	p.phase = phaseReadingHeader
	return nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
