package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/picoimu/internal/console"
	"github.com/srg/picoimu/internal/groutine"
	"github.com/srg/picoimu/internal/imu"
	"github.com/srg/picoimu/internal/indicator"
	"github.com/srg/picoimu/internal/peripheral"
	"github.com/srg/picoimu/internal/stack/goble"
	"github.com/srg/picoimu/internal/stream"
	"github.com/srg/picoimu/pkg/config"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Advertise as PICO-IMU and stream sensor packets",
	Long: `Opens the HCI controller, registers the Nordic UART Service, advertises as
PICO-IMU and streams one packet per tick to a subscribed central until
interrupted. The advertising restarts after every disconnect.`,
	Example: `  picoimu run
  picoimu run --sensor still --console pty
  picoimu run --sensor script --script wave.lua --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var runCfg = config.DefaultConfig()

func init() {
	f := runCmd.Flags()
	f.DurationVar(&runCfg.TickInterval, "tick", runCfg.TickInterval, "Interval between packets")
	f.DurationVar(&runCfg.AdvertiseInterval, "adv-interval", runCfg.AdvertiseInterval, "Advertising interval")
	f.IntVar(&runCfg.HCIDevice, "hci", runCfg.HCIDevice, "HCI device index (hciN)")
	f.StringVar(&runCfg.Sensor, "sensor", runCfg.Sensor, "Sensor source (mpu6050, script, still)")
	f.StringVar(&runCfg.I2CBus, "i2c-bus", runCfg.I2CBus, "I2C bus device for the MPU6050")
	f.Uint16Var(&runCfg.I2CAddress, "i2c-addr", runCfg.I2CAddress, "I2C address of the MPU6050")
	f.StringVar(&runCfg.ScriptPath, "script", runCfg.ScriptPath, "Lua sensor script (with --sensor script)")
	f.StringVar(&runCfg.Console, "console", runCfg.Console, "Reading mirror (stdout, pty, off)")
	f.StringVar(&runCfg.LED, "led", runCfg.LED, "Status LED name under /sys/class/leds")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg := *runCfg

	logger, err := configureLogger(cmd, &cfg)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runPeripheral(ctx, &cfg, logger)
}

// runPeripheral brings the device up and streams until ctx is done.
func runPeripheral(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	sensor, closeSensor, err := openSensor(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSensor()

	adapter, err := goble.New(goble.Options{
		Name:     peripheral.DeviceName,
		DeviceID: cfg.HCIDevice,
		Interval: cfg.AdvertiseInterval,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close adapter")
		}
	}()

	handles, err := peripheral.Setup(adapter)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"service": handles.Service,
		"tx":      handles.TX,
		"rx":      handles.RX,
		"cccd":    handles.CCCD,
	}).Info("GATT service registered")

	bc := peripheral.NewBroadcaster(adapter, peripheral.DeviceName, cfg.AdvertiseInterval, logger)
	session := peripheral.NewSession(adapter, handles, bc, logger)
	if err := startSession(session, logger); err != nil {
		return err
	}

	led, err := indicator.Open(cfg.LED)
	if err != nil {
		return err
	}
	defer func() { _ = led.Close() }()
	if err := led.Set(true); err != nil {
		logger.WithError(err).Warn("Failed to switch status LED on")
	}

	mirror, closeMirror, err := openMirror(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeMirror()

	streamer := stream.New(stream.Options{
		Sensor:   sensor,
		Gate:     session,
		Notifier: adapter,
		TX:       handles.TX,
		Interval: cfg.TickInterval,
		Mirror:   mirror,
		Logger:   logger,
	})

	err = streamer.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startSession starts the session. A transient advertising failure is left
// pending for the streaming loop to retry.
func startSession(session *peripheral.Session, logger *logrus.Logger) error {
	err := session.Start()
	if err == nil || !peripheral.IsTransient(err) {
		return err
	}
	logger.WithError(err).Warn("Advertising deferred, will retry")
	return nil
}

// openSensor returns the configured sensor and its release function.
func openSensor(cfg *config.Config, logger *logrus.Logger) (imu.Sensor, func(), error) {
	switch cfg.Sensor {
	case config.SensorStill:
		return &imu.Still{}, func() {}, nil

	case config.SensorScript:
		s, err := imu.LoadScriptFile(cfg.ScriptPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.SensorMPU6050:
		bus, err := imu.OpenI2C(cfg.I2CBus, cfg.I2CAddress)
		if err != nil {
			return nil, nil, err
		}
		m, err := imu.NewMPU6050(bus)
		if err != nil {
			_ = bus.Close()
			return nil, nil, err
		}
		logger.WithFields(logrus.Fields{
			"bus":     cfg.I2CBus,
			"address": fmt.Sprintf("0x%02X", cfg.I2CAddress),
		}).Info("MPU6050 ready")
		return m, func() { _ = m.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown sensor %q", cfg.Sensor)
	}
}

// openMirror starts the reading mirror. It returns a nil Mirror when the
// console is off.
func openMirror(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (stream.Mirror, func(), error) {
	var opts console.Options
	closeOut := func() {}

	switch cfg.Console {
	case config.ConsoleOff:
		return nil, func() {}, nil
	case config.ConsolePTY:
		p, err := console.OpenPTY(console.DefaultPTYBuffer, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("tty", p.Name()).Info("Readings mirrored to PTY")
		opts.Out = p
		closeOut = func() { _ = p.Close() }
	default:
		opts.Out = os.Stdout
	}

	opts.Logger = logger
	c := console.New(opts)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	groutine.GoRecover(runCtx, "console", logger, func(ctx context.Context) {
		defer close(done)
		_ = c.Run(ctx)
	})

	return c, func() {
		cancel()
		<-done
		closeOut()
	}, nil
}
