package core

// Pin identifies a GPIO pin by its package number.
type Pin uint8

// PinMode is a bitmask of pin configuration flags.
type PinMode uint8

const (
	PinInput PinMode = 1 << iota
	PinOutput
	PinOpenDrain
	PinPullUp
)

// PinDriver is the abstract GPIO interface the engine uses for the manual
// bus-clear sequence. Production code binds it to the SoC GPIO block; tests
// supply a mock.
type PinDriver interface {
	// Configure sets the electrical mode of a pin.
	Configure(pin Pin, mode PinMode) error

	// Set drives a pin high (true) or low (false).
	Set(pin Pin, level bool) error

	// Get samples the current level of a pin.
	Get(pin Pin) (bool, error)
}

// ClockSubsys identifies the controller's gate in the clock subsystem.
type ClockSubsys uint32

// ClockDriver is the external clock-control service. The engine only gates
// the peripheral clock; rate bookkeeping lives in the clock subsystem itself.
type ClockDriver interface {
	On(subsys ClockSubsys) error
	Off(subsys ClockSubsys) error
}

// Opcode selects the operation of one hardware command-queue entry.
type Opcode uint8

const (
	OpRestart Opcode = iota // START or repeated START condition
	OpWrite                 // transmit Num bytes from the TX FIFO
	OpRead                  // receive Num bytes into the RX FIFO
	OpStop                  // STOP condition, releases the bus
	OpEnd                   // pause the state machine, chain to the next fill
)

// Command is one entry of the peripheral's command queue.
//
// AckEn means "require slave ACK" on writes and "drive the ACK level" on
// reads. AckVal is the level the master answers with while reading
// (0 = ACK, 1 = NACK); it is only meaningful when the opcode is OpRead.
type Command struct {
	Op     Opcode
	AckEn  bool
	AckVal uint8
	Num    uint8
}

// Event classifies the hardware condition behind a master-mode interrupt.
type Event uint8

const (
	EventNone Event = iota // spurious or unrecognized interrupt
	EventDone              // current command sequence completed
	EventNACK              // slave failed to acknowledge
	EventTimeout           // SCL held beyond the hardware bus timeout
	EventArbitLost         // lost arbitration to another master
)

// Hal is the register-level capability interface of the I2C peripheral.
// The engine never touches registers directly; production binds this to the
// memory-mapped block (or a remote register agent), tests bind it to a mock.
type Hal interface {
	// MasterInit resets the protocol state machine into master mode.
	MasterInit()

	// SetDataMode selects the wire bit order for each direction.
	SetDataMode(txLSBFirst, rxLSBFirst bool)

	// SetFilter programs the analog glitch filter (in clock cycles).
	SetFilter(cycles uint8)
	Filter() uint8

	// SetBusTiming derives SCL/SDA timing for the bitrate from the given
	// clock source.
	SetBusTiming(bitrate uint32, src ClockSource)

	// SCL high/low period, START/STOP setup and hold, and SDA sample/hold
	// timings, in source clock cycles. Read before a hardware reset and
	// written back afterwards so recovery preserves the bus speed.
	SCLTiming() (high, low int)
	SetSCLTiming(high, low int)
	StartTiming() (restartSetup, startHold int)
	SetStartTiming(restartSetup, startHold int)
	StopTiming() (stopSetup, stopHold int)
	SetStopTiming(stopSetup, stopHold int)
	SDATiming() (sample, hold int)
	SetSDATiming(sample, hold int)
	SetTimeout(cycles int)
	Timeout() int

	// UpdateConfig latches staged register writes into the peripheral.
	UpdateConfig()

	// Interrupt control. Disable/Clear act on the full master-event mask;
	// the enable calls arm the direction-specific completion events.
	DisableInterrupts()
	ClearInterrupts()
	EnableTxInterrupts()
	EnableRxInterrupts()

	// TxEvent and RxEvent read and classify the pending interrupt cause for
	// the respective direction. Called from interrupt context only.
	TxEvent() Event
	RxEvent() Event

	// FIFO access. FIFODepth reports the capacity bounding one command.
	FIFODepth() int
	ResetTxFIFO()
	ResetRxFIFO()
	WriteTxFIFO(data []byte)
	ReadRxFIFO(data []byte)

	// WriteCommand stores a descriptor at the given command-queue slot.
	WriteCommand(cmd Command, idx int)

	// StartTrans kicks the state machine on the queued commands.
	StartTrans()

	// BusBusy reports whether the peripheral observes the bus as held.
	BusBusy() bool

	// RoutePins connects the SCL/SDA signals back to the peripheral after
	// the bus-clear sequence borrowed them as plain GPIOs.
	RoutePins(scl, sda Pin) error

	// AttachInterrupt installs the controller's interrupt entry point.
	AttachInterrupt(handler func()) error
}
