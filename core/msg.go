package core

// MsgFlags carries the per-message protocol flags.
type MsgFlags uint8

const (
	// MsgWrite transfers bytes to the slave. Zero value so a plain
	// Msg{Buf: data} is a write.
	MsgWrite MsgFlags = 0

	// MsgRead transfers bytes from the slave into Buf.
	MsgRead MsgFlags = 1 << 0

	// MsgStop releases the bus with a STOP condition after the message.
	MsgStop MsgFlags = 1 << 1

	// MsgRestart issues a repeated START (and re-addresses the slave)
	// before the message.
	MsgRestart MsgFlags = 1 << 2
)

const msgDirMask = MsgRead

// Msg is one logical I2C message. The engine borrows Buf for the duration
// of the Transfer call; read messages are filled in place.
type Msg struct {
	Buf   []byte
	Flags MsgFlags
}

// IsRead reports whether the message transfers data from the slave.
func (m *Msg) IsRead() bool {
	return m.Flags&msgDirMask == MsgRead
}

// validateMsgs checks the message list for protocol legality without
// touching hardware or the messages themselves:
//
//   - no message except the last may carry a STOP,
//   - a direction change between adjacent messages requires an explicit
//     repeated START on the following message,
//   - read messages must not be empty (the command stream cannot express an
//     addressed zero-byte read; zero-byte writes are legal address probes).
func validateMsgs(msgs []Msg) error {
	for i := range msgs {
		if msgs[i].IsRead() && len(msgs[i].Buf) == 0 {
			return ErrInvalidSequence
		}

		if i == len(msgs)-1 {
			break
		}

		if msgs[i].Flags&MsgStop != 0 {
			return ErrInvalidSequence
		}

		next := &msgs[i+1]
		if msgs[i].Flags&msgDirMask != next.Flags&msgDirMask &&
			next.Flags&MsgRestart == 0 {
			return ErrInvalidSequence
		}
	}

	return nil
}
