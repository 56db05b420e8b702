// Package indicator drives the board status LED.
package indicator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultRoot is where the kernel exposes LED class devices.
const DefaultRoot = "/sys/class/leds"

// Indicator is an on/off status signal.
type Indicator interface {
	Set(on bool) error
	Close() error
}

// Nop is an indicator for boards without a usable LED.
type Nop struct{}

func (Nop) Set(bool) error { return nil }
func (Nop) Close() error   { return nil }

// LED is a sysfs LED class device, e.g. /sys/class/leds/ACT.
type LED struct {
	dir string
	full int
	on  bool
}

// Open returns the LED name under DefaultRoot. An empty name returns Nop.
func Open(name string) (Indicator, error) {
	if name == "" {
		return Nop{}, nil
	}
	return OpenAt(DefaultRoot, name)
}

// OpenAt opens the LED name under root and detaches any kernel trigger so
// the brightness stays where it is set.
func OpenAt(root, name string) (*LED, error) {
	dir := filepath.Join(root, name)

	full := 1
	if b, err := os.ReadFile(filepath.Join(dir, "max_brightness")); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(string(b))); err == nil && v > 0 {
			full = v
		}
	} else {
		return nil, fmt.Errorf("led %s: %w", name, err)
	}

	if _, err := os.Stat(filepath.Join(dir, "trigger")); err == nil {
		if err := os.WriteFile(filepath.Join(dir, "trigger"), []byte("none"), 0); err != nil {
			return nil, fmt.Errorf("led %s: clear trigger: %w", name, err)
		}
	}

	return &LED{dir: dir, full: full}, nil
}

func (l *LED) Set(on bool) error {
	v := 0
	if on {
		v = l.full
	}
	if err := os.WriteFile(filepath.Join(l.dir, "brightness"), []byte(strconv.Itoa(v)), 0); err != nil {
		return fmt.Errorf("led %s: %w", filepath.Base(l.dir), err)
	}
	l.on = on
	return nil
}

// On reports the last state set.
func (l *LED) On() bool { return l.on }

// Close switches the LED off.
func (l *LED) Close() error {
	return l.Set(false)
}
