// Package protocol implements the framed request/response encoding spoken
// between the host and a register-access agent: sync-delimited frames with a
// sequence byte and a CRC16 trailer, and VLQ encoding for integer arguments.
package protocol

// CRC16 calculates the checksum carried in every frame trailer.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b = b ^ uint8(crc&0xFF)
		b = b ^ (b << 4)
		b16 := uint16(b)
		crc = (b16<<8 | crc>>8) ^ (b16 >> 4) ^ (b16 << 3)
	}
	return crc
}
