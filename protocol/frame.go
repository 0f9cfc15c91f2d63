package protocol

import (
	"bytes"
	"errors"
)

// Frame layout: [len][seq][payload...][crc16 hi][crc16 lo][sync]. The length
// byte counts the whole frame, and the CRC covers everything before it.
const (
	FrameHeaderSize  = 2
	FrameTrailerSize = 3
	FrameLengthMin   = FrameHeaderSize + FrameTrailerSize
	FrameLengthMax   = 96
	FrameSync        = 0x7E
)

// ErrFrameTooLarge reports a payload that does not fit one frame.
var ErrFrameTooLarge = errors.New("protocol: payload exceeds frame size")

// MaxPayload is the largest payload one frame carries.
const MaxPayload = FrameLengthMax - FrameLengthMin

// EncodeFrame appends a complete frame carrying payload to dst.
func EncodeFrame(dst []byte, seq uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return dst, ErrFrameTooLarge
	}

	start := len(dst)
	dst = append(dst, byte(FrameLengthMin+len(payload)), seq)
	dst = append(dst, payload...)

	crc := CRC16(dst[start:])
	dst = append(dst, byte(crc>>8), byte(crc), FrameSync)
	return dst, nil
}

// Frame is one decoded frame.
type Frame struct {
	Seq     uint8
	Payload []byte
}

// Decoder reassembles frames from a byte stream. Garbage between frames is
// skipped by scanning for the sync byte; frames with a bad length or CRC are
// dropped and counted, and the stream resynchronizes at the next sync byte.
type Decoder struct {
	buf    []byte
	synced bool

	// Dropped counts frames discarded for framing or checksum errors.
	Dropped int
}

// NewDecoder returns a decoder that assumes the stream starts synchronized.
func NewDecoder() *Decoder {
	return &Decoder{synced: true}
}

// Feed appends raw bytes from the transport.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next extracts the next complete frame, or returns false when more bytes
// are needed. The returned payload is a copy and stays valid across feeds.
func (d *Decoder) Next() (Frame, bool) {
	for {
		if !d.synced {
			i := bytes.IndexByte(d.buf, FrameSync)
			if i < 0 {
				d.buf = d.buf[:0]
				return Frame{}, false
			}
			d.buf = d.buf[i+1:]
			d.synced = true
		}

		// Skip idle sync bytes between frames.
		for len(d.buf) > 0 && d.buf[0] == FrameSync {
			d.buf = d.buf[1:]
		}

		if len(d.buf) < FrameLengthMin {
			return Frame{}, false
		}

		n := int(d.buf[0])
		if n < FrameLengthMin || n > FrameLengthMax {
			d.Dropped++
			d.synced = false
			continue
		}

		if len(d.buf) < n {
			return Frame{}, false
		}

		crc := uint16(d.buf[n-3])<<8 | uint16(d.buf[n-2])
		if CRC16(d.buf[:n-FrameTrailerSize]) != crc || d.buf[n-1] != FrameSync {
			d.Dropped++
			d.synced = false
			continue
		}

		f := Frame{
			Seq:     d.buf[1],
			Payload: append([]byte(nil), d.buf[FrameHeaderSize:n-FrameTrailerSize]...),
		}
		d.buf = d.buf[n:]
		return f, true
	}
}
