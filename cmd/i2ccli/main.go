// i2ccli drives an I2C master controller attached through a serial
// register-access agent: bus scanning, register reads and writes, and
// manual bus recovery.
package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"i2cmaster/core"
	"i2cmaster/host/bridge"
	"i2cmaster/host/serial"
)

var (
	flagDevice  string
	flagBaud    int
	flagBitrate uint32
	flagSCL     uint8
	flagSDA     uint8
	flagTimeout time.Duration
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "i2ccli",
	Short: "Operate an I2C master controller over a serial register agent.",
	Long: `i2ccli speaks the register-bridge protocol to a serial-attached agent ` +
		`and drives the I2C master transfer engine through it: scan the bus, ` +
		`read and write devices, and recover a stuck bus.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&flagDevice, "port", "p", "/dev/ttyUSB0", "serial device of the register agent")
	rootCmd.PersistentFlags().IntVar(&flagBaud, "baud", 115200, "serial baud rate")
	rootCmd.PersistentFlags().Uint32Var(&flagBitrate, "bitrate", 100_000, "SCL frequency in Hz")
	rootCmd.PersistentFlags().Uint8Var(&flagSCL, "scl", 5, "SCL pin number")
	rootCmd.PersistentFlags().Uint8Var(&flagSDA, "sda", 4, "SDA pin number")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 0, "per-segment transfer timeout (0 = default)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(scanCmd, readCmd, writeCmd, recoverCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type session struct {
	ctrl   *core.Controller
	bridge *bridge.Bridge
	log    *zap.Logger
}

func openSession() (*session, error) {
	log := zap.NewNop()
	if flagVerbose {
		var err error
		log, err = zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
	}

	cfg := serial.DefaultConfig(flagDevice)
	cfg.Baud = flagBaud

	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}

	br, err := bridge.New(port, log)
	if err != nil {
		port.Close()
		return nil, err
	}

	ctrl, err := core.New(core.Config{
		Hal:     br,
		Pins:    br,
		Clock:   br,
		SCL:     core.Pin(flagSCL),
		SDA:     core.Pin(flagSDA),
		Bitrate: flagBitrate,
		Timeout: flagTimeout,
		Log:     log,
	})
	if err != nil {
		br.Close()
		return nil, err
	}

	return &session{ctrl: ctrl, bridge: br, log: log}, nil
}

func (s *session) close() {
	s.bridge.Close()
	_ = s.log.Sync()
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Probe every 7-bit address and list responding devices.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		bus := core.NewBus(s.ctrl)
		found := 0
		for addr := uint16(0x03); addr <= 0x77; addr++ {
			err := bus.Tx(addr, nil, nil)
			switch {
			case err == nil:
				fmt.Printf("0x%02X\n", addr)
				found++
			case errors.Is(err, core.ErrAckFailure):
				// nobody home
			default:
				return fmt.Errorf("scan aborted at 0x%02X: %w", addr, err)
			}
		}
		fmt.Printf("%d device(s) found\n", found)
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <addr> <reg> [count]",
	Short: "Read count bytes (default 1) starting at a register.",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseByteArg(args[0], 0x7F)
		if err != nil {
			return err
		}
		reg, err := parseByteArg(args[1], 0xFF)
		if err != nil {
			return err
		}
		count := 1
		if len(args) == 3 {
			count, err = strconv.Atoi(args[2])
			if err != nil || count < 1 {
				return fmt.Errorf("invalid count %q", args[2])
			}
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		buf := make([]byte, count)
		if err := core.NewBus(s.ctrl).Tx(uint16(addr), []byte{byte(reg)}, buf); err != nil {
			return err
		}
		fmt.Printf("% X\n", buf)
		return nil
	},
}

var writeCmd = &cobra.Command{
	Use:   "write <addr> <byte>...",
	Short: "Write bytes to a device.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseByteArg(args[0], 0x7F)
		if err != nil {
			return err
		}
		data := make([]byte, 0, len(args)-1)
		for _, arg := range args[1:] {
			b, err := parseByteArg(arg, 0xFF)
			if err != nil {
				return err
			}
			data = append(data, byte(b))
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		return s.ctrl.Transfer([]core.Msg{{Buf: data}}, uint16(addr))
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Force the bus free and reset the controller state machine.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.ctrl.Recover(); err != nil {
			return err
		}
		fmt.Println("bus recovered")
		return nil
	},
}

func parseByteArg(arg string, max uint64) (uint64, error) {
	v, err := strconv.ParseUint(arg, 0, 16)
	if err != nil || v > max {
		return 0, fmt.Errorf("invalid value %q (max %#x)", arg, max)
	}
	return v, nil
}
