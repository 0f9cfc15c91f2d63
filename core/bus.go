package core

import "tinygo.org/x/drivers"

// Bus adapts a Controller to the drivers.I2C interface, so device drivers
// written against tinygo.org/x/drivers run on top of this engine unchanged.
type Bus struct {
	c *Controller
}

var _ drivers.I2C = (*Bus)(nil)

// NewBus wraps a controller in the write-then-read transaction shape most
// register-style devices expect.
func NewBus(c *Controller) *Bus {
	return &Bus{c: c}
}

// Tx performs a write followed by a read with a repeated START in between.
// A nil (or empty) w or r skips that half; both empty degrades to an
// address-only probe.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	msgs := make([]Msg, 0, 2)

	if len(w) > 0 {
		msgs = append(msgs, Msg{Buf: w})
	}
	if len(r) > 0 {
		flags := MsgRead
		if len(msgs) > 0 {
			flags |= MsgRestart
		}
		msgs = append(msgs, Msg{Buf: r, Flags: flags})
	}
	if len(msgs) == 0 {
		msgs = append(msgs, Msg{})
	}

	return b.c.Transfer(msgs, addr)
}
