// Package bridge implements the controller's hardware capability interfaces
// on top of a serial-attached register-access agent. Every register-level
// operation travels as one protocol frame; master-event interrupts arrive as
// unsolicited frames and are dispatched to the engine's interrupt entry
// point, so the transfer engine runs against remote hardware exactly as it
// would against memory-mapped registers.
package bridge

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"i2cmaster/core"
	"i2cmaster/host/serial"
	"i2cmaster/protocol"
)

// Request opcodes, first payload byte of a host frame. The agent answers
// every request with a frame echoing the request's sequence number and
// opcode, followed by any results.
const (
	opMasterInit byte = iota + 1
	opSetDataMode
	opSetFilter
	opGetFilter
	opSetBusTiming
	opSetTiming
	opGetTiming
	opUpdateConfig
	opIRQDisable
	opIRQClear
	opIRQEnableTx
	opIRQEnableRx
	opFIFODepth
	opTxFIFOReset
	opRxFIFOReset
	opTxFIFOWrite
	opRxFIFORead
	opWriteCommand
	opStartTrans
	opBusBusy
	opRoutePins
	opPinConfigure
	opPinSet
	opPinGet
	opClockOn
	opClockOff
)

// opEvent marks an unsolicited agent frame carrying a master-event code.
const opEvent byte = 0x40

// Timing register groups addressed by opSetTiming/opGetTiming.
const (
	timingSCL byte = iota
	timingStart
	timingStop
	timingSDA
	timingTimeout
)

const (
	callTimeout = time.Second

	// Consecutive port read errors tolerated before the reader declares
	// the port gone. A routine read timeout reports no error at all.
	readErrorLimit   = 5
	readErrorBackoff = 10 * time.Millisecond
)

var (
	// ErrClosed reports use of a bridge after Close.
	ErrClosed = errors.New("bridge: closed")

	// ErrAgent reports a malformed or missing agent response.
	ErrAgent = errors.New("bridge: bad agent response")
)

// Bridge speaks the register protocol over a serial port. It implements
// core.Hal, core.PinDriver and core.ClockDriver, so one bridge provides
// every capability binding a controller needs.
type Bridge struct {
	port serial.Port
	log  *zap.Logger

	mu      sync.Mutex
	seq     uint8
	pending chan response
	closed  bool
	err     error

	fifoDepth int

	handlerMu sync.Mutex
	handler   func()
	lastEvent core.Event

	done chan struct{}
}

type response struct {
	seq     uint8
	payload []byte
}

var (
	_ core.Hal         = (*Bridge)(nil)
	_ core.PinDriver   = (*Bridge)(nil)
	_ core.ClockDriver = (*Bridge)(nil)
)

// New starts the reader loop and queries the agent's FIFO depth.
func New(port serial.Port, log *zap.Logger) (*Bridge, error) {
	if log == nil {
		log = zap.NewNop()
	}

	b := &Bridge{
		port:    port,
		log:     log,
		pending: make(chan response, 1),
		done:    make(chan struct{}),
	}

	go b.readLoop()

	resp, err := b.call(opFIFODepth, nil)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("bridge: query fifo depth: %w", err)
	}
	depth, err := protocol.DecodeUint(&resp)
	if err != nil || depth == 0 {
		b.Close()
		return nil, ErrAgent
	}
	b.fifoDepth = int(depth)

	return b, nil
}

// Close stops the reader and closes the port.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	return b.port.Close()
}

// Err returns the first transport error observed on a register operation
// whose Hal signature cannot surface it.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Bridge) readLoop() {
	dec := protocol.NewDecoder()
	buf := make([]byte, 256)
	errs := 0

	for {
		select {
		case <-b.done:
			return
		default:
		}

		n, err := b.port.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				f, ok := dec.Next()
				if !ok {
					break
				}
				b.dispatch(f)
			}
		}
		if err == nil || n > 0 {
			errs = 0
			continue
		}

		// A timed-out serial read delivers zero bytes without an error;
		// an error that keeps repeating means the port is gone. Latch the
		// cause for Err and stop instead of spinning.
		errs++
		if errs >= readErrorLimit {
			readErr := fmt.Errorf("bridge: port read: %w", err)
			b.mu.Lock()
			if b.err == nil {
				b.err = readErr
			}
			b.mu.Unlock()
			b.log.Warn("bridge: reader stopped on persistent port error", zap.Error(err))
			return
		}
		time.Sleep(readErrorBackoff)
	}
}

func (b *Bridge) dispatch(f protocol.Frame) {
	if len(f.Payload) == 0 {
		return
	}

	if f.Payload[0] == opEvent {
		if len(f.Payload) < 2 {
			return
		}
		b.handlerMu.Lock()
		b.lastEvent = core.Event(f.Payload[1])
		handler := b.handler
		b.handlerMu.Unlock()
		if handler != nil {
			handler()
		}
		return
	}

	select {
	case b.pending <- response{seq: f.Seq, payload: f.Payload}:
	default:
		b.log.Warn("bridge: unexpected response frame", zap.Uint8("op", f.Payload[0]))
	}
}

// call sends one request frame and waits for the response carrying the same
// sequence number. Calls are serialized; the engine itself never issues them
// concurrently.
func (b *Bridge) call(op byte, args []byte) ([]byte, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.seq++
	seq := b.seq
	b.mu.Unlock()

	// A response stranded by an earlier timed-out call must not satisfy
	// this one.
	select {
	case <-b.pending:
	default:
	}

	payload := append([]byte{op}, args...)
	raw, err := protocol.EncodeFrame(nil, seq, payload)
	if err != nil {
		return nil, err
	}
	if _, err := b.port.Write(raw); err != nil {
		return nil, fmt.Errorf("bridge: write: %w", err)
	}

	timer := time.NewTimer(callTimeout)
	defer timer.Stop()

	for {
		select {
		case resp := <-b.pending:
			if resp.seq != seq {
				// Late answer to a call that already gave up.
				continue
			}
			if len(resp.payload) == 0 || resp.payload[0] != op {
				return nil, ErrAgent
			}
			return resp.payload[1:], nil
		case <-timer.C:
			return nil, fmt.Errorf("%w: timeout on op %#x", ErrAgent, op)
		case <-b.done:
			return nil, ErrClosed
		}
	}
}

// exec runs a request whose Hal signature cannot return an error: failures
// are logged and latched for Err.
func (b *Bridge) exec(op byte, args []byte) []byte {
	resp, err := b.call(op, args)
	if err != nil {
		b.mu.Lock()
		if b.err == nil {
			b.err = err
		}
		b.mu.Unlock()
		b.log.Warn("bridge: register op failed", zap.Uint8("op", op), zap.Error(err))
		return nil
	}
	return resp
}

// core.Hal

func (b *Bridge) MasterInit() { b.exec(opMasterInit, nil) }

func (b *Bridge) SetDataMode(txLSBFirst, rxLSBFirst bool) {
	b.exec(opSetDataMode, []byte{flag(txLSBFirst), flag(rxLSBFirst)})
}

func (b *Bridge) SetFilter(cycles uint8) { b.exec(opSetFilter, []byte{cycles}) }

func (b *Bridge) Filter() uint8 {
	resp := b.exec(opGetFilter, nil)
	if len(resp) < 1 {
		return 0
	}
	return resp[0]
}

func (b *Bridge) SetBusTiming(bitrate uint32, src core.ClockSource) {
	args := protocol.EncodeUint(nil, bitrate)
	args = append(args, byte(src))
	b.exec(opSetBusTiming, args)
}

func (b *Bridge) setTiming(id byte, a, c int) {
	args := []byte{id}
	args = protocol.EncodeInt(args, int32(a))
	args = protocol.EncodeInt(args, int32(c))
	b.exec(opSetTiming, args)
}

func (b *Bridge) getTiming(id byte) (int, int) {
	resp := b.exec(opGetTiming, []byte{id})
	a, err := protocol.DecodeInt(&resp)
	if err != nil {
		return 0, 0
	}
	c, err := protocol.DecodeInt(&resp)
	if err != nil {
		return int(a), 0
	}
	return int(a), int(c)
}

func (b *Bridge) SCLTiming() (int, int)   { return b.getTiming(timingSCL) }
func (b *Bridge) SetSCLTiming(h, l int)   { b.setTiming(timingSCL, h, l) }
func (b *Bridge) StartTiming() (int, int) { return b.getTiming(timingStart) }
func (b *Bridge) SetStartTiming(s, h int) { b.setTiming(timingStart, s, h) }
func (b *Bridge) StopTiming() (int, int)  { return b.getTiming(timingStop) }
func (b *Bridge) SetStopTiming(s, h int)  { b.setTiming(timingStop, s, h) }
func (b *Bridge) SDATiming() (int, int)   { return b.getTiming(timingSDA) }
func (b *Bridge) SetSDATiming(s, h int)   { b.setTiming(timingSDA, s, h) }

func (b *Bridge) SetTimeout(cycles int) { b.setTiming(timingTimeout, cycles, 0) }

func (b *Bridge) Timeout() int {
	t, _ := b.getTiming(timingTimeout)
	return t
}

func (b *Bridge) UpdateConfig()       { b.exec(opUpdateConfig, nil) }
func (b *Bridge) DisableInterrupts()  { b.exec(opIRQDisable, nil) }
func (b *Bridge) ClearInterrupts()    { b.exec(opIRQClear, nil) }
func (b *Bridge) EnableTxInterrupts() { b.exec(opIRQEnableTx, nil) }
func (b *Bridge) EnableRxInterrupts() { b.exec(opIRQEnableRx, nil) }

func (b *Bridge) TxEvent() core.Event { return b.event() }
func (b *Bridge) RxEvent() core.Event { return b.event() }

func (b *Bridge) event() core.Event {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	return b.lastEvent
}

func (b *Bridge) FIFODepth() int { return b.fifoDepth }

func (b *Bridge) ResetTxFIFO() { b.exec(opTxFIFOReset, nil) }
func (b *Bridge) ResetRxFIFO() { b.exec(opRxFIFOReset, nil) }

func (b *Bridge) WriteTxFIFO(data []byte) {
	b.exec(opTxFIFOWrite, protocol.EncodeBytes(nil, data))
}

func (b *Bridge) ReadRxFIFO(data []byte) {
	resp := b.exec(opRxFIFORead, protocol.EncodeUint(nil, uint32(len(data))))
	got, err := protocol.DecodeBytes(&resp)
	if err != nil || len(got) != len(data) {
		b.log.Warn("bridge: short rx fifo read",
			zap.Int("want", len(data)), zap.Int("got", len(got)))
	}
	copy(data, got)
}

func (b *Bridge) WriteCommand(cmd core.Command, idx int) {
	args := []byte{byte(cmd.Op), flag(cmd.AckEn), cmd.AckVal, cmd.Num}
	args = protocol.EncodeUint(args, uint32(idx))
	b.exec(opWriteCommand, args)
}

func (b *Bridge) StartTrans() { b.exec(opStartTrans, nil) }

func (b *Bridge) BusBusy() bool {
	resp := b.exec(opBusBusy, nil)
	return len(resp) > 0 && resp[0] != 0
}

func (b *Bridge) RoutePins(scl, sda core.Pin) error {
	_, err := b.call(opRoutePins, []byte{byte(scl), byte(sda)})
	return err
}

func (b *Bridge) AttachInterrupt(handler func()) error {
	b.handlerMu.Lock()
	b.handler = handler
	b.handlerMu.Unlock()
	return nil
}

// core.PinDriver

func (b *Bridge) Configure(pin core.Pin, mode core.PinMode) error {
	_, err := b.call(opPinConfigure, []byte{byte(pin), byte(mode)})
	return err
}

func (b *Bridge) Set(pin core.Pin, level bool) error {
	_, err := b.call(opPinSet, []byte{byte(pin), flag(level)})
	return err
}

func (b *Bridge) Get(pin core.Pin) (bool, error) {
	resp, err := b.call(opPinGet, []byte{byte(pin)})
	if err != nil {
		return false, err
	}
	if len(resp) < 1 {
		return false, ErrAgent
	}
	return resp[0] != 0, nil
}

// core.ClockDriver

func (b *Bridge) On(subsys core.ClockSubsys) error {
	_, err := b.call(opClockOn, protocol.EncodeUint(nil, uint32(subsys)))
	return err
}

func (b *Bridge) Off(subsys core.ClockSubsys) error {
	_, err := b.call(opClockOff, protocol.EncodeUint(nil, uint32(subsys)))
	return err
}

func flag(v bool) byte {
	if v {
		return 1
	}
	return 0
}
