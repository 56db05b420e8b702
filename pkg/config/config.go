package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
)

// Sensor sources.
const (
	SensorMPU6050 = "mpu6050"
	SensorScript  = "script"
	SensorStill   = "still"
)

// Console mirror targets.
const (
	ConsoleStdout = "stdout"
	ConsolePTY    = "pty"
	ConsoleOff    = "off"
)

// Config holds application configuration
type Config struct {
	LogLevel          string        `json:"log_level" yaml:"log_level" default:"info"`
	TickInterval      time.Duration `json:"tick_interval" yaml:"tick_interval" default:"20ms"`
	AdvertiseInterval time.Duration `json:"advertise_interval" yaml:"advertise_interval" default:"100ms"`
	HCIDevice         int           `json:"hci_device" yaml:"hci_device" default:"0"`
	Sensor            string        `json:"sensor" yaml:"sensor" default:"mpu6050"`
	I2CBus            string        `json:"i2c_bus" yaml:"i2c_bus" default:"/dev/i2c-1"`
	I2CAddress        uint16        `json:"i2c_address" yaml:"i2c_address" default:"104"`
	ScriptPath        string        `json:"script_path,omitempty" yaml:"script_path,omitempty"`
	Console           string        `json:"console" yaml:"console" default:"stdout"`
	LED               string        `json:"led,omitempty" yaml:"led,omitempty"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	switch c.LogLevel {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.PanicLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
}

// Validate checks field values and combinations.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick interval must be positive, got %s", c.TickInterval))
	}
	if c.AdvertiseInterval < 20*time.Millisecond || c.AdvertiseInterval > 10240*time.Millisecond {
		errs = append(errs, fmt.Errorf("advertise interval must be within 20ms..10.24s, got %s", c.AdvertiseInterval))
	}
	if c.HCIDevice < 0 {
		errs = append(errs, fmt.Errorf("invalid HCI device index %d", c.HCIDevice))
	}

	switch c.Sensor {
	case SensorMPU6050:
		if c.I2CBus == "" {
			errs = append(errs, errors.New("sensor mpu6050 requires an I2C bus"))
		}
		if c.I2CAddress == 0 || c.I2CAddress > 0x7F {
			errs = append(errs, fmt.Errorf("invalid I2C address 0x%02X", c.I2CAddress))
		}
	case SensorScript:
		if c.ScriptPath == "" {
			errs = append(errs, errors.New("sensor script requires a script path"))
		}
	case SensorStill:
	default:
		errs = append(errs, fmt.Errorf("unknown sensor %q (must be %s, %s, or %s)", c.Sensor, SensorMPU6050, SensorScript, SensorStill))
	}

	switch c.Console {
	case ConsoleStdout, ConsolePTY, ConsoleOff:
	default:
		errs = append(errs, fmt.Errorf("unknown console %q (must be %s, %s, or %s)", c.Console, ConsoleStdout, ConsolePTY, ConsoleOff))
	}

	return errors.Join(errs...)
}

// NewLogger creates a configured logger instance. An invalid LogLevel falls
// back to info.
func (c *Config) NewLogger() *logrus.Logger {
	level, err := c.Level()
	if err != nil {
		level = logrus.InfoLevel
	}

	logger := logrus.New()
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
