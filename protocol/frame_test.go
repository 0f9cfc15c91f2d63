package protocol

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0xAA, 0xBB}

	raw, err := EncodeFrame(nil, 7, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	d := NewDecoder()
	d.Feed(raw)

	f, ok := d.Next()
	if !ok {
		t.Fatal("frame not decoded")
	}
	if f.Seq != 7 {
		t.Errorf("seq: got %d", f.Seq)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Errorf("payload: got % x", f.Payload)
	}
	if _, ok := d.Next(); ok {
		t.Error("unexpected second frame")
	}
}

func TestFrameEmptyPayload(t *testing.T) {
	raw, err := EncodeFrame(nil, 0, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(raw) != FrameLengthMin {
		t.Errorf("frame length: got %d", len(raw))
	}

	d := NewDecoder()
	d.Feed(raw)
	if f, ok := d.Next(); !ok || len(f.Payload) != 0 {
		t.Errorf("got ok=%v payload=% x", ok, f.Payload)
	}
}

func TestFramePayloadTooLarge(t *testing.T) {
	if _, err := EncodeFrame(nil, 0, make([]byte, MaxPayload+1)); err != ErrFrameTooLarge {
		t.Errorf("got %v", err)
	}
}

func TestFramePartialFeed(t *testing.T) {
	raw, _ := EncodeFrame(nil, 3, []byte{1, 2, 3, 4})

	d := NewDecoder()
	for i := range raw {
		d.Feed(raw[i : i+1])
		if f, ok := d.Next(); ok {
			if i != len(raw)-1 {
				t.Fatalf("frame completed early at byte %d", i)
			}
			if !bytes.Equal(f.Payload, []byte{1, 2, 3, 4}) {
				t.Errorf("payload: got % x", f.Payload)
			}
			return
		}
	}
	t.Fatal("frame never completed")
}

func TestFrameCorruptCRCDroppedAndResync(t *testing.T) {
	bad, _ := EncodeFrame(nil, 1, []byte{9, 9})
	bad[2] ^= 0xFF // corrupt the payload under an intact CRC

	good, _ := EncodeFrame(nil, 2, []byte{5})

	d := NewDecoder()
	d.Feed(bad)
	d.Feed(good)

	f, ok := d.Next()
	if !ok {
		t.Fatal("good frame lost after corrupt one")
	}
	if f.Seq != 2 || !bytes.Equal(f.Payload, []byte{5}) {
		t.Errorf("got seq=%d payload=% x", f.Seq, f.Payload)
	}
	if d.Dropped != 1 {
		t.Errorf("dropped: got %d", d.Dropped)
	}
}

func TestFrameGarbageBetweenFrames(t *testing.T) {
	frame, _ := EncodeFrame(nil, 4, []byte{0xAB})

	d := NewDecoder()
	d.Feed([]byte{0x00, 0x13, 0x37}) // line noise with no sync byte
	if _, ok := d.Next(); ok {
		t.Fatal("decoded a frame from garbage")
	}
	d.Feed(frame)

	// The garbage poisons the first length byte; the decoder must drop it
	// and recover on the sync boundary.
	var got *Frame
	for {
		f, ok := d.Next()
		if !ok {
			break
		}
		got = &f
	}
	if got == nil {
		// Acceptable only if the real frame is still pending; feed another
		// and it must come out.
		d.Feed(frame)
		f, ok := d.Next()
		if !ok {
			t.Fatal("decoder never resynchronized")
		}
		got = &f
	}
	if got.Seq != 4 || !bytes.Equal(got.Payload, []byte{0xAB}) {
		t.Errorf("got seq=%d payload=% x", got.Seq, got.Payload)
	}
}
