package core

import (
	"time"

	"go.uber.org/zap"
)

const (
	// clearBusSCLPulses bounds the manual clocking used to make a stuck
	// slave release SDA.
	clearBusSCLPulses = 9

	// clearBusHalfPeriod is half an SCL period at standard-mode 100 kHz.
	clearBusHalfPeriod = 5 * time.Microsecond
)

// timingSnapshot captures the bus timing configuration across a hardware
// reset so recovery is transparent to the configured speed.
type timingSnapshot struct {
	sclHigh, sclLow         int
	restartSetup, startHold int
	stopSetup, stopHold     int
	sdaSample, sdaHold      int
	timeout                 int
	filter                  uint8
}

func (c *Controller) snapshotTiming() timingSnapshot {
	var s timingSnapshot
	s.sclHigh, s.sclLow = c.hal.SCLTiming()
	s.restartSetup, s.startHold = c.hal.StartTiming()
	s.stopSetup, s.stopHold = c.hal.StopTiming()
	s.sdaSample, s.sdaHold = c.hal.SDATiming()
	s.timeout = c.hal.Timeout()
	s.filter = c.hal.Filter()
	return s
}

func (c *Controller) restoreTiming(s timingSnapshot) {
	c.hal.SetSCLTiming(s.sclHigh, s.sclLow)
	c.hal.SetStartTiming(s.restartSetup, s.startHold)
	c.hal.SetStopTiming(s.stopSetup, s.stopHold)
	c.hal.SetSDATiming(s.sdaSample, s.sdaHold)
	c.hal.SetTimeout(s.timeout)
	c.hal.SetFilter(s.filter)
}

// clearBus frees a bus held low by a confused slave. A slave interrupted
// mid-read controls SDA and only releases it during an ACK bit or while
// shifting out a 1, so SCL is pulsed until SDA reads high, then a manual
// STOP (SDA low to high while SCL is high) puts every device back to idle.
func (c *Controller) clearBus() {
	scl, sda := c.cfg.SCL, c.cfg.SDA

	c.pins.Configure(scl, PinOutput|PinOpenDrain)
	c.pins.Configure(sda, PinOutput|PinOpenDrain|PinInput)

	c.pins.Set(scl, false)
	c.pins.Set(sda, true)
	time.Sleep(clearBusHalfPeriod)

	for i := 0; i < clearBusSCLPulses; i++ {
		if level, err := c.pins.Get(sda); err == nil && level {
			break
		}
		c.pins.Set(scl, true)
		time.Sleep(clearBusHalfPeriod)
		c.pins.Set(scl, false)
		time.Sleep(clearBusHalfPeriod)
	}

	// Manual STOP condition.
	c.pins.Set(sda, false)
	c.pins.Set(scl, true)
	time.Sleep(clearBusHalfPeriod)
	c.pins.Set(sda, true)

	if err := c.configPins(); err != nil {
		c.log.Warn("i2c bus clear: pin rebind failed",
			zap.Int("index", c.cfg.Index), zap.Error(err))
	}
	c.hal.UpdateConfig()
}

// fsmReset performs a full hardware reset of the protocol state machine:
// timing is snapshotted, the peripheral clock is cycled around a bus-clear
// sequence, the master block is reinitialized with all interrupts dropped,
// and the timing snapshot is written back. Best effort; a bus that stays
// stuck shows up as a timeout on the next transaction.
//
// Must not run concurrently with an in-flight command sequence. All callers
// hold the transaction lock or are on the transmit path inside it.
func (c *Controller) fsmReset() {
	snap := c.snapshotTiming()

	if err := c.clock.Off(c.cfg.ClockSubsys); err != nil {
		c.log.Warn("i2c reset: clock gate off failed",
			zap.Int("index", c.cfg.Index), zap.Error(err))
	}
	c.clearBus()
	if err := c.clock.On(c.cfg.ClockSubsys); err != nil {
		c.log.Warn("i2c reset: clock gate on failed",
			zap.Int("index", c.cfg.Index), zap.Error(err))
	}

	c.hal.MasterInit()
	c.hal.DisableInterrupts()
	c.hal.ClearInterrupts()
	c.restoreTiming(snap)
	c.hal.UpdateConfig()
}

// Recover forces the bus free and resets the controller state machine. It
// serializes against in-flight transfers through the transaction lock and is
// safe to call at any time.
func (c *Controller) Recover() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fsmReset()

	return nil
}
