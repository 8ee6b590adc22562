package websocket

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message is the logical unit delivered to the application: a
// Text/Binary message (possibly reassembled from several frames) or a
// Ping/Pong payload, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.6.
type Message struct {
	Opcode Opcode
	Data   []byte
}

// randomMaskingKey draws a fresh 4-byte masking key from r. RFC 6455
// §5.3 only requires the key be unpredictable to an attacker watching
// the wire, not cryptographically secure, but crypto/rand.Reader is
// the default and recommended source; callers may inject any
// io.Reader (e.g. a seeded PRNG) for deterministic tests.
func randomMaskingKey(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("failed to generate masking key: %w", err)
	}
	key := binary.BigEndian.Uint32(b[:])
	if key == 0 {
		// A zero key would fail FrameHeader.Validate; redraw rather
		// than surface a spurious MaskingKeyIsZero to the caller.
		return randomMaskingKey(r)
	}
	return key, nil
}
