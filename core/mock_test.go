package core

import (
	"fmt"
	"sync"
)

// mockHal is a software stand-in for the peripheral: it records every
// register-level call in order and simulates interrupt delivery when the
// state machine is started. Event outcomes are scripted per StartTrans;
// with no script each start completes with EventDone.
type mockHal struct {
	mu sync.Mutex

	fifoDepth int
	handler   func()

	// script holds the interrupt events to deliver per StartTrans. Each
	// inner slice is fired as one interrupt sequence; an exhausted script
	// falls back to a single EventDone.
	script [][]Event

	// silent suppresses interrupt delivery entirely, modelling a dead
	// peripheral.
	silent bool

	busy bool

	pending Event

	// Recording.
	ops      []string
	cmds     []recordedCmd
	txWrites [][]byte
	rxServed int
	starts   int

	masterInits int
	disables    int
	clears      int
	txFifoRsts  int
	rxFifoRsts  int
	txIRQArms   int
	rxIRQArms   int

	// Timing registers.
	sclHigh, sclLow         int
	restartSetup, startHold int
	stopSetup, stopHold     int
	sdaSample, sdaHold      int
	timeoutReg              int
	filter                  uint8
	bitrate                 uint32
	clockSrc                ClockSource
}

type recordedCmd struct {
	cmd  Command
	slot int
}

func newMockHal() *mockHal {
	return &mockHal{
		fifoDepth: 32,
		// Non-zero timing defaults so snapshot/restore is observable.
		sclHigh: 40, sclLow: 40,
		restartSetup: 10, startHold: 10,
		stopSetup: 10, stopHold: 10,
		sdaSample: 20, sdaHold: 20,
		timeoutReg: 1000,
	}
}

func (m *mockHal) record(op string) {
	m.mu.Lock()
	m.ops = append(m.ops, op)
	m.mu.Unlock()
}

func (m *mockHal) MasterInit() {
	m.mu.Lock()
	m.masterInits++
	m.ops = append(m.ops, "master_init")
	m.mu.Unlock()
}

func (m *mockHal) SetDataMode(txLSBFirst, rxLSBFirst bool) { m.record("set_data_mode") }

func (m *mockHal) SetFilter(cycles uint8) {
	m.mu.Lock()
	m.filter = cycles
	m.ops = append(m.ops, "set_filter")
	m.mu.Unlock()
}

func (m *mockHal) Filter() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter
}

func (m *mockHal) SetBusTiming(bitrate uint32, src ClockSource) {
	m.mu.Lock()
	m.bitrate = bitrate
	m.clockSrc = src
	m.ops = append(m.ops, "set_bus_timing")
	m.mu.Unlock()
}

func (m *mockHal) SCLTiming() (int, int) { return m.sclHigh, m.sclLow }
func (m *mockHal) SetSCLTiming(high, low int) {
	m.sclHigh, m.sclLow = high, low
}

func (m *mockHal) StartTiming() (int, int) { return m.restartSetup, m.startHold }
func (m *mockHal) SetStartTiming(restartSetup, startHold int) {
	m.restartSetup, m.startHold = restartSetup, startHold
}

func (m *mockHal) StopTiming() (int, int) { return m.stopSetup, m.stopHold }
func (m *mockHal) SetStopTiming(stopSetup, stopHold int) {
	m.stopSetup, m.stopHold = stopSetup, stopHold
}

func (m *mockHal) SDATiming() (int, int) { return m.sdaSample, m.sdaHold }
func (m *mockHal) SetSDATiming(sample, hold int) {
	m.sdaSample, m.sdaHold = sample, hold
}

func (m *mockHal) SetTimeout(cycles int) { m.timeoutReg = cycles }
func (m *mockHal) Timeout() int          { return m.timeoutReg }

func (m *mockHal) UpdateConfig() { m.record("update_config") }

func (m *mockHal) DisableInterrupts() {
	m.mu.Lock()
	m.disables++
	m.ops = append(m.ops, "disable_irq")
	m.mu.Unlock()
}

func (m *mockHal) ClearInterrupts() {
	m.mu.Lock()
	m.clears++
	m.ops = append(m.ops, "clear_irq")
	m.mu.Unlock()
}

func (m *mockHal) EnableTxInterrupts() {
	m.mu.Lock()
	m.txIRQArms++
	m.ops = append(m.ops, "enable_tx_irq")
	m.mu.Unlock()
}

func (m *mockHal) EnableRxInterrupts() {
	m.mu.Lock()
	m.rxIRQArms++
	m.ops = append(m.ops, "enable_rx_irq")
	m.mu.Unlock()
}

func (m *mockHal) TxEvent() Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

func (m *mockHal) RxEvent() Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

func (m *mockHal) FIFODepth() int { return m.fifoDepth }

func (m *mockHal) ResetTxFIFO() {
	m.mu.Lock()
	m.txFifoRsts++
	m.ops = append(m.ops, "tx_fifo_rst")
	m.mu.Unlock()
}

func (m *mockHal) ResetRxFIFO() {
	m.mu.Lock()
	m.rxFifoRsts++
	m.ops = append(m.ops, "rx_fifo_rst")
	m.mu.Unlock()
}

func (m *mockHal) WriteTxFIFO(data []byte) {
	cp := append([]byte(nil), data...)
	m.mu.Lock()
	m.txWrites = append(m.txWrites, cp)
	m.ops = append(m.ops, fmt.Sprintf("tx_fifo %x", cp))
	m.mu.Unlock()
}

// ReadRxFIFO serves a deterministic byte pattern so tests can verify cursor
// placement across chunk boundaries.
func (m *mockHal) ReadRxFIFO(data []byte) {
	m.mu.Lock()
	for i := range data {
		data[i] = byte(m.rxServed + i)
	}
	m.rxServed += len(data)
	m.ops = append(m.ops, fmt.Sprintf("rx_fifo %d", len(data)))
	m.mu.Unlock()
}

func (m *mockHal) WriteCommand(cmd Command, idx int) {
	m.mu.Lock()
	m.cmds = append(m.cmds, recordedCmd{cmd: cmd, slot: idx})
	m.ops = append(m.ops, fmt.Sprintf("cmd op=%d n=%d slot=%d", cmd.Op, cmd.Num, idx))
	m.mu.Unlock()
}

func (m *mockHal) StartTrans() {
	m.mu.Lock()
	m.starts++
	m.ops = append(m.ops, "start")

	if m.silent {
		m.mu.Unlock()
		return
	}

	events := []Event{EventDone}
	if len(m.script) > 0 {
		events = m.script[0]
		m.script = m.script[1:]
	}
	handler := m.handler
	m.mu.Unlock()

	if handler == nil {
		return
	}

	// Deliver the interrupt(s) off the caller's goroutine, the way a real
	// interrupt context is decoupled from the blocked engine.
	go func() {
		for _, evt := range events {
			m.mu.Lock()
			m.pending = evt
			m.mu.Unlock()
			handler()
		}
	}()
}

func (m *mockHal) BusBusy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

func (m *mockHal) RoutePins(scl, sda Pin) error {
	m.record("route_pins")
	return nil
}

func (m *mockHal) AttachInterrupt(handler func()) error {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	return nil
}

// snapshot helpers for assertions

func (m *mockHal) commandOps() []Opcode {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make([]Opcode, len(m.cmds))
	for i, c := range m.cmds {
		ops[i] = c.cmd.Op
	}
	return ops
}

func (m *mockHal) txBytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []byte
	for _, w := range m.txWrites {
		all = append(all, w...)
	}
	return all
}

func (m *mockHal) counters() (masterInits, starts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.masterInits, m.starts
}

// mockPins records GPIO activity for the bus-clear sequence. SDA reads the
// scripted level sequence, defaulting to released (high).
type mockPins struct {
	mu        sync.Mutex
	ops       []string
	sdaLevels []bool
}

func (p *mockPins) Configure(pin Pin, mode PinMode) error {
	p.mu.Lock()
	p.ops = append(p.ops, fmt.Sprintf("cfg %d %04b", pin, mode))
	p.mu.Unlock()
	return nil
}

func (p *mockPins) Set(pin Pin, level bool) error {
	p.mu.Lock()
	p.ops = append(p.ops, fmt.Sprintf("set %d %v", pin, level))
	p.mu.Unlock()
	return nil
}

func (p *mockPins) Get(pin Pin) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sdaLevels) == 0 {
		return true, nil
	}
	level := p.sdaLevels[0]
	p.sdaLevels = p.sdaLevels[1:]
	return level, nil
}

// mockClock counts gate transitions of the external clock-control service.
type mockClock struct {
	mu   sync.Mutex
	ons  int
	offs int
}

func (c *mockClock) On(subsys ClockSubsys) error {
	c.mu.Lock()
	c.ons++
	c.mu.Unlock()
	return nil
}

func (c *mockClock) Off(subsys ClockSubsys) error {
	c.mu.Lock()
	c.offs++
	c.mu.Unlock()
	return nil
}
