package core

import "errors"

var (
	// ErrInvalidSequence reports a malformed message list: a STOP before the
	// last message, or a direction change without a repeated START. Returned
	// before any hardware access.
	ErrInvalidSequence = errors.New("i2c: invalid message sequence")

	// ErrNotSupported reports a configuration the controller cannot provide,
	// such as anything other than master mode.
	ErrNotSupported = errors.New("i2c: mode not supported")

	// ErrAckFailure reports that the slave did not acknowledge. The hardware
	// is left intact; the caller may retry.
	ErrAckFailure = errors.New("i2c: no acknowledge from device")

	// ErrTimeout reports an unresponsive peripheral, a hardware bus timeout,
	// or arbitration loss. The controller is reset before this surfaces, so
	// the next transaction starts from a sane state machine.
	ErrTimeout = errors.New("i2c: transfer timed out")

	// ErrConfig reports an unusable bus configuration, e.g. a zero bitrate
	// or one no clock source can cover.
	ErrConfig = errors.New("i2c: invalid bus configuration")

	// ErrPin reports a failed GPIO binding at initialization time.
	ErrPin = errors.New("i2c: pin binding failed")
)
