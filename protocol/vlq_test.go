package protocol

import "testing"

func TestVLQRoundTrip(t *testing.T) {
	values := []int32{
		0, 1, -1, 31, 32, -32, -33, 95,
		127, 128, 4095, 4096, -4096,
		1 << 20, -(1 << 20), 1<<31 - 1, -(1 << 31),
	}

	for _, v := range values {
		enc := EncodeInt(nil, v)
		data := enc
		got, err := DecodeInt(&data)
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d: got %d (encoded % x)", v, got, enc)
		}
		if len(data) != 0 {
			t.Errorf("value %d: %d trailing bytes not consumed", v, len(data))
		}
	}
}

func TestVLQUintRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 100, 1000, 100000, 1 << 28, 0xFFFFFFFF}

	for _, v := range values {
		data := EncodeUint(nil, v)
		got, err := DecodeUint(&data)
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d: got %d", v, got)
		}
	}
}

func TestVLQSmallValuesAreOneByte(t *testing.T) {
	for v := int32(-32); v < 96; v++ {
		if n := len(EncodeInt(nil, v)); n != 1 {
			t.Errorf("value %d encoded in %d bytes", v, n)
		}
	}
}

func TestVLQTruncated(t *testing.T) {
	data := []byte{}
	if _, err := DecodeInt(&data); err != ErrTruncated {
		t.Errorf("empty input: got %v", err)
	}

	// Continuation bit set with nothing following.
	data = []byte{0x81}
	if _, err := DecodeInt(&data); err != ErrTruncated {
		t.Errorf("dangling continuation: got %v", err)
	}
}

func TestVLQBytes(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	data := EncodeBytes(nil, payload)

	got, err := DecodeBytes(&data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("got % x", got)
	}

	// Length prefix larger than the remaining data.
	data = EncodeUint(nil, 10)
	data = append(data, 1, 2)
	if _, err := DecodeBytes(&data); err != ErrTruncated {
		t.Errorf("short byte string: got %v", err)
	}
}
