package stats

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameLen bounds a single stat frame on the wire.
const MaxFrameLen = 1024 * 1024

// Encode serializes a record to its MessagePack payload.
func Encode(rec any) ([]byte, error) {
	return msgpack.Marshal(rec)
}

// Decode deserializes a payload into out.
func Decode(payload []byte, out any) error {
	return msgpack.Unmarshal(payload, out)
}

// WriteFrame writes a length-prefixed payload: 4-byte big-endian length,
// then the payload bytes.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameLen {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed payload, rejecting frames over
// MaxFrameLen.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameLen {
		return nil, fmt.Errorf("frame too large: %d bytes", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// EncodeFrame is Encode followed by the length prefix, in one buffer.
func EncodeFrame(rec any) ([]byte, error) {
	payload, err := Encode(rec)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxFrameLen {
		return nil, fmt.Errorf("frame too large: %d bytes", len(payload))
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	return buf, nil
}
