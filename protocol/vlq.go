package protocol

import "errors"

// ErrTruncated reports a value cut short by the end of the payload.
var ErrTruncated = errors.New("protocol: truncated value")

// EncodeInt appends v in VLQ form: seven value bits per byte, most
// significant group first, the high bit marking continuation.
func EncodeInt(dst []byte, v int32) []byte {
	if !(-(1<<26) <= v && v < (3<<26)) {
		dst = append(dst, byte((v>>28)&0x7F)|0x80)
	}
	if !(-(1<<19) <= v && v < (3<<19)) {
		dst = append(dst, byte((v>>21)&0x7F)|0x80)
	}
	if !(-(1<<12) <= v && v < (3<<12)) {
		dst = append(dst, byte((v>>14)&0x7F)|0x80)
	}
	if !(-(1<<5) <= v && v < (3<<5)) {
		dst = append(dst, byte((v>>7)&0x7F)|0x80)
	}
	return append(dst, byte(v&0x7F))
}

// EncodeUint appends v in VLQ form.
func EncodeUint(dst []byte, v uint32) []byte {
	return EncodeInt(dst, int32(v))
}

// DecodeInt consumes one VLQ integer from the front of *data.
func DecodeInt(data *[]byte) (int32, error) {
	if len(*data) == 0 {
		return 0, ErrTruncated
	}

	c := uint32((*data)[0])
	*data = (*data)[1:]

	v := c & 0x7F
	if c&0x60 == 0x60 {
		// Sign extend the leading group.
		v |= ^uint32(0x1F)
	}

	for c&0x80 != 0 {
		if len(*data) == 0 {
			return 0, ErrTruncated
		}
		c = uint32((*data)[0])
		*data = (*data)[1:]
		v = v<<7 | c&0x7F
	}

	return int32(v), nil
}

// DecodeUint consumes one VLQ integer from the front of *data.
func DecodeUint(data *[]byte) (uint32, error) {
	v, err := DecodeInt(data)
	return uint32(v), err
}

// EncodeBytes appends a length-prefixed byte string.
func EncodeBytes(dst, data []byte) []byte {
	dst = EncodeUint(dst, uint32(len(data)))
	return append(dst, data...)
}

// DecodeBytes consumes a length-prefixed byte string. The returned slice
// aliases the input.
func DecodeBytes(data *[]byte) ([]byte, error) {
	n, err := DecodeUint(data)
	if err != nil {
		return nil, err
	}
	if uint32(len(*data)) < n {
		return nil, ErrTruncated
	}
	out := (*data)[:n]
	*data = (*data)[n:]
	return out, nil
}
