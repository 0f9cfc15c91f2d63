// Package core implements the transfer engine of a FIFO-based I2C master
// controller: message validation, command-queue programming, interrupt-driven
// completion and stuck-bus recovery. The peripheral itself is reached through
// the Hal capability interface, so the engine runs unchanged against real
// registers, a remote register bridge, or a test mock.
package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Mode configures the controller's role and addressing width.
type Mode uint32

const (
	// ModeMaster enables master operation. The engine supports nothing else.
	ModeMaster Mode = 1 << iota

	// Mode10BitAddr selects 10-bit slave addressing.
	Mode10BitAddr
)

// Status tracks the outcome of the command sequence currently in flight.
// It is written from interrupt context and read by the engine after the
// completion semaphore resolves; nobody else touches it mid-segment.
type Status int32

const (
	StatusIdle Status = iota
	StatusRead
	StatusWrite
	StatusAckError
	StatusDone
	StatusTimeout
)

const (
	// defaultTimeout bounds one command sequence. A slave powered off or a
	// grounded line leaves the state machine stuck well past this.
	defaultTimeout = 500 * time.Millisecond

	// defaultFilterCycles is the analog glitch filter width.
	defaultFilterCycles = 7
)

// Config describes one controller instance. An explicit struct per instance
// replaces the original per-index register-block expansion.
type Config struct {
	// Index is the peripheral number, used only for log attribution.
	Index int

	Hal   Hal
	Pins  PinDriver
	Clock ClockDriver

	// ClockSubsys is the controller's gate in the clock subsystem.
	ClockSubsys ClockSubsys

	SCL Pin
	SDA Pin

	// Bitrate is the SCL frequency in Hz. Zero is rejected.
	Bitrate uint32

	// Wire bit order per direction. MSB first when false.
	TxLSBFirst bool
	RxLSBFirst bool

	// Timeout overrides the 500 ms default for one command sequence.
	Timeout time.Duration

	// Log defaults to a nop logger.
	Log *zap.Logger
}

// Controller drives one I2C master peripheral.
type Controller struct {
	hal   Hal
	pins  PinDriver
	clock ClockDriver
	cfg   Config
	log   *zap.Logger

	// mu serializes transactions against each other and against bus
	// recovery. At most one command sequence is in flight per controller.
	mu sync.Mutex

	// cmdSem is the binary completion semaphore given from interrupt
	// context. Capacity one; a give on an already-given semaphore is lost,
	// matching the hardware semantics of a latched completion flag.
	cmdSem chan struct{}

	status atomic.Int32

	mode    Mode
	cmdIdx  int
	timeout time.Duration
}

// New binds the capability objects, enables the peripheral clock, routes the
// pins, installs the interrupt handler and applies the master-mode
// configuration.
func New(cfg Config) (*Controller, error) {
	if cfg.Hal == nil || cfg.Clock == nil {
		return nil, fmt.Errorf("%w: missing hal or clock binding", ErrConfig)
	}
	if cfg.Pins == nil {
		return nil, fmt.Errorf("%w: missing pin driver", ErrPin)
	}

	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	c := &Controller{
		hal:     cfg.Hal,
		pins:    cfg.Pins,
		clock:   cfg.Clock,
		cfg:     cfg,
		log:     log,
		cmdSem:  make(chan struct{}, 1),
		timeout: timeout,
	}

	if err := c.configPins(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPin, err)
	}

	if err := c.clock.On(cfg.ClockSubsys); err != nil {
		return nil, fmt.Errorf("%w: clock enable: %v", ErrConfig, err)
	}

	if err := c.hal.AttachInterrupt(c.ISR); err != nil {
		return nil, fmt.Errorf("%w: interrupt binding: %v", ErrConfig, err)
	}

	if err := c.Configure(ModeMaster); err != nil {
		return nil, err
	}

	return c, nil
}

// configPins drives both lines high and hands them to the peripheral.
// Also used to give the pins back after the bus-clear sequence borrowed
// them as plain GPIOs.
func (c *Controller) configPins() error {
	const mode = PinPullUp | PinOpenDrain | PinOutput | PinInput

	if err := c.pins.Set(c.cfg.SDA, true); err != nil {
		return err
	}
	if err := c.pins.Configure(c.cfg.SDA, mode); err != nil {
		return err
	}
	if err := c.pins.Set(c.cfg.SCL, true); err != nil {
		return err
	}
	if err := c.pins.Configure(c.cfg.SCL, mode); err != nil {
		return err
	}

	return c.hal.RoutePins(c.cfg.SCL, c.cfg.SDA)
}

// Configure applies a controller mode. Anything without ModeMaster is
// rejected, and the bitrate must be coverable by some clock source.
func (c *Controller) Configure(mode Mode) error {
	if mode&ModeMaster == 0 {
		return ErrNotSupported
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.mode = mode

	c.hal.MasterInit()
	c.hal.SetDataMode(c.cfg.TxLSBFirst, c.cfg.RxLSBFirst)
	c.hal.SetFilter(defaultFilterCycles)
	c.hal.UpdateConfig()

	if c.cfg.Bitrate == 0 {
		return fmt.Errorf("%w: zero bitrate", ErrConfig)
	}

	src := selectClockSource(c.cfg.Bitrate)
	if src == ClockSourceNone {
		return fmt.Errorf("%w: no clock source covers %d Hz", ErrConfig, c.cfg.Bitrate)
	}

	c.hal.SetBusTiming(c.cfg.Bitrate, src)
	c.hal.UpdateConfig()

	c.log.Info("i2c master configured",
		zap.Int("index", c.cfg.Index),
		zap.Uint32("bitrate", c.cfg.Bitrate),
		zap.Stringer("clock", src),
	)

	return nil
}

// Transfer executes an ordered message list as one transaction against the
// slave at addr. The first message implicitly starts with a START, the last
// implicitly ends with a STOP; the list is validated before any hardware
// access and rejected with ErrInvalidSequence on a protocol violation.
//
// The engine borrows the message buffers for the duration of the call; read
// messages are filled in place.
func (c *Controller) Transfer(msgs []Msg, addr uint16) error {
	if len(msgs) == 0 {
		return nil
	}

	if err := validateMsgs(msgs); err != nil {
		return err
	}

	// First message carries the START, last one the STOP.
	msgs[0].Flags |= MsgRestart
	msgs[len(msgs)-1].Flags |= MsgStop

	c.mu.Lock()
	defer c.mu.Unlock()

	// Mask out unused address bits and make room for the R/W bit.
	bits := uint16(7)
	if c.mode&Mode10BitAddr != 0 {
		bits = 10
	}
	addr &= 1<<bits - 1
	addr <<= 1

	for i := range msgs {
		// A stuck state machine from a previous timeout, or a bus observed
		// busy, must be cleared before touching the command queue.
		if c.loadStatus() == StatusTimeout || c.hal.BusBusy() {
			c.fsmReset()
		}

		c.hal.ResetTxFIFO()
		c.hal.ResetRxFIFO()

		// Interrupt flags can latch when the FSM gets stuck and then
		// survive into the next segment, so drop and clear them every time.
		c.hal.DisableInterrupts()
		c.hal.ClearInterrupts()

		var err error
		if msgs[i].IsRead() {
			err = c.readMsg(&msgs[i], addr)
		} else {
			err = c.writeMsg(&msgs[i], addr)
		}

		if err != nil {
			c.log.Error("i2c transfer error",
				zap.Int("index", c.cfg.Index),
				zap.Int("msg", i),
				zap.Error(err),
			)
			return err
		}
	}

	return nil
}

// writeAddr queues a repeated START followed by the address byte(s) with ACK
// required, consuming two command-queue slots.
func (c *Controller) writeAddr(addr uint16) {
	c.hal.WriteCommand(Command{Op: OpRestart}, c.cmdIdx)
	c.cmdIdx++

	var ab [2]byte
	ab[0] = byte(addr)
	n := 1
	if c.mode&Mode10BitAddr != 0 {
		ab[1] = byte(addr >> 8)
		n = 2
	}
	c.hal.WriteTxFIFO(ab[:n])

	c.hal.WriteCommand(Command{Op: OpWrite, AckEn: true, Num: uint8(n)}, c.cmdIdx)
	c.cmdIdx++
}

// writeMsg drives one write message, feeding the TX FIFO in chunks bounded
// by its depth. Each chunk ends with STOP when the message is drained and
// asked for one, or with END so the state machine pauses for the next fill.
func (c *Controller) writeMsg(msg *Msg, addr uint16) error {
	c.cmdIdx = 0

	if msg.Flags&MsgRestart != 0 {
		c.writeAddr(addr)
	}

	fifo := c.hal.FIFODepth()
	buf := msg.Buf

	for {
		n := len(buf)
		if n > fifo {
			n = fifo
		}

		if n > 0 {
			c.hal.WriteTxFIFO(buf[:n])
			c.hal.WriteCommand(Command{Op: OpWrite, AckEn: true, Num: uint8(n)}, c.cmdIdx)
			c.cmdIdx++
			buf = buf[n:]
		}

		if len(buf) == 0 && msg.Flags&MsgStop != 0 {
			c.hal.WriteCommand(Command{Op: OpStop}, c.cmdIdx)
		} else {
			c.hal.WriteCommand(Command{Op: OpEnd}, c.cmdIdx)
		}
		c.cmdIdx++

		c.storeStatus(StatusWrite)
		c.hal.EnableTxInterrupts()

		if err := c.transmit(); err != nil {
			return err
		}

		// The command queue is reused for the next fill.
		c.cmdIdx = 0

		if len(buf) == 0 {
			return nil
		}
	}
}

// readMsg drives one read message. All but the final byte are read with the
// master acknowledging; the final byte always goes through a dedicated
// single-byte command answered with NACK, as the protocol requires, even
// when it would have fit in the preceding chunk.
func (c *Controller) readMsg(msg *Msg, addr uint16) error {
	c.cmdIdx = 0

	// R/W bit set to read.
	addr |= 1

	if msg.Flags&MsgRestart != 0 {
		c.writeAddr(addr)
	}

	fifo := c.hal.FIFODepth()
	buf := msg.Buf
	remaining := len(buf)

	for remaining > 0 {
		n := remaining - 1
		if n > fifo {
			n = fifo
		}
		filled := n
		remaining -= n

		if n > 0 {
			c.hal.WriteCommand(Command{Op: OpRead, Num: uint8(n)}, c.cmdIdx)
			c.cmdIdx++
		}

		if remaining == 1 {
			c.hal.WriteCommand(Command{Op: OpRead, Num: 1, AckVal: 1}, c.cmdIdx)
			c.cmdIdx++
			remaining = 0
			filled++
		}

		if remaining == 0 && msg.Flags&MsgStop != 0 {
			c.hal.WriteCommand(Command{Op: OpStop}, c.cmdIdx)
			c.cmdIdx++
		}

		c.hal.WriteCommand(Command{Op: OpEnd}, c.cmdIdx)
		c.cmdIdx++

		c.storeStatus(StatusRead)
		c.hal.EnableRxInterrupts()

		if err := c.transmit(); err != nil {
			return err
		}

		c.hal.ReadRxFIFO(buf[:filled])
		buf = buf[filled:]

		c.cmdIdx = 0
	}

	return nil
}

// transmit starts the queued command sequence and blocks until the interrupt
// handler signals completion or the timeout elapses. An expired deadline or a
// hardware-reported timeout/arbitration loss resets the state machine before
// surfacing ErrTimeout; a NACK surfaces ErrAckFailure with the hardware left
// intact so the caller can retry.
func (c *Controller) transmit() error {
	c.hal.UpdateConfig()
	c.hal.StartTrans()

	deadline := time.Now().Add(c.timeout)

	for {
		wait := time.Until(deadline)
		if wait <= 0 {
			c.fsmReset()
			return ErrTimeout
		}

		timer := time.NewTimer(wait)
		select {
		case <-c.cmdSem:
			timer.Stop()
		case <-timer.C:
			c.fsmReset()
			return ErrTimeout
		}

		switch c.loadStatus() {
		case StatusTimeout:
			c.fsmReset()
			return ErrTimeout
		case StatusAckError:
			return ErrAckFailure
		case StatusRead, StatusWrite:
			// The interrupt fired without a recognizable event. Treat the
			// wake as spurious and keep waiting against the same deadline.
			continue
		default:
			return nil
		}
	}
}

// ISR is the interrupt entry point, invoked by the Hal binding whenever the
// peripheral raises a master event. It classifies the event for the
// direction currently in flight, publishes the outcome and wakes the waiting
// engine. It is the only writer of the status field while a command sequence
// is pending, and it never blocks.
func (c *Controller) ISR() {
	evt := EventNone

	switch c.loadStatus() {
	case StatusWrite:
		evt = c.hal.TxEvent()
	case StatusRead:
		evt = c.hal.RxEvent()
	}

	switch evt {
	case EventNACK:
		c.storeStatus(StatusAckError)
	case EventTimeout, EventArbitLost:
		c.storeStatus(StatusTimeout)
	case EventDone:
		c.storeStatus(StatusDone)
	}

	// Wake the waiter even on unrecognized events; it re-checks the status
	// and keeps waiting when nothing was classified.
	select {
	case c.cmdSem <- struct{}{}:
	default:
	}
}

func (c *Controller) loadStatus() Status {
	return Status(c.status.Load())
}

func (c *Controller) storeStatus(s Status) {
	c.status.Store(int32(s))
}
