package imu

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
)

// ReadFunction is the global a sensor script must define. It returns six
// numbers: ax, ay, az in g and gx, gy, gz in deg/s.
const ReadFunction = "read"

// ErrScriptClosed is returned by Read after Close.
var ErrScriptClosed = errors.New("script sensor closed")

// ScriptError describes a failure inside a sensor script.
type ScriptError struct {
	Type    string // "syntax", "runtime", "api"
	Source  string
	Line    int
	Message string
}

func (e *ScriptError) Error() string {
	where := e.Source
	if e.Line > 0 {
		where = fmt.Sprintf("%s:%d", e.Source, e.Line)
	}
	if where == "" {
		return fmt.Sprintf("lua %s error: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("lua %s error (%s): %s", e.Type, where, e.Message)
}

func (e *ScriptError) Is(target error) bool {
	var se *ScriptError
	if errors.As(target, &se) {
		return e.Type == se.Type
	}
	return false
}

// Script is a sensor whose readings come from a Lua function. It is used to
// replay recorded motion or synthesize test patterns on a bench.
//
//	t = 0
//	function read()
//	  t = t + 1
//	  return 0, 0, 1, math.sin(t / 10) * 90, 0, 0
//	end
type Script struct {
	mu     sync.Mutex
	state  *lua.State
	source string
	logger *logrus.Logger
}

// LoadScriptFile reads filename and loads it as a sensor script.
func LoadScriptFile(filename string, logger *logrus.Logger) (*Script, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", filename, err)
	}
	return LoadScript(string(content), filename, logger)
}

// LoadScript runs code once and checks that it defines ReadFunction.
func LoadScript(code, source string, logger *logrus.Logger) (*Script, error) {
	if strings.TrimSpace(code) == "" {
		return nil, &ScriptError{Type: "api", Source: source, Message: "empty script"}
	}

	s := &Script{
		state:  lua.NewState(),
		source: source,
		logger: logger,
	}
	s.state.OpenLibs()
	s.registerPrint()

	if status := s.state.LoadString(code); status != 0 {
		err := s.popError("syntax")
		s.state.Close()
		return nil, err
	}
	if err := s.state.Call(0, 0); err != nil {
		s.state.Close()
		return nil, &ScriptError{Type: "runtime", Source: source, Message: err.Error()}
	}

	s.state.GetGlobal(ReadFunction)
	isFunc := s.state.IsFunction(-1)
	s.state.Pop(1)
	if !isFunc {
		s.state.Close()
		return nil, &ScriptError{Type: "api", Source: source, Message: fmt.Sprintf("function %s() not defined", ReadFunction)}
	}

	return s, nil
}

// Read calls the script's read() and converts its six results.
func (s *Script) Read() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return Reading{}, ErrScriptClosed
	}

	L := s.state
	L.GetGlobal(ReadFunction)
	if err := L.Call(0, 6); err != nil {
		return Reading{}, &ScriptError{Type: "runtime", Source: s.source, Message: err.Error()}
	}
	defer L.Pop(6)

	var v [6]float64
	for i := range v {
		idx := i - 6
		if !L.IsNumber(idx) {
			return Reading{}, &ScriptError{
				Type:    "api",
				Source:  s.source,
				Message: fmt.Sprintf("%s() result %d is %s, want number", ReadFunction, i+1, L.Typename(int(L.Type(idx)))),
			}
		}
		v[i] = L.ToNumber(idx)
	}

	return Reading{AX: v[0], AY: v[1], AZ: v[2], GX: v[3], GY: v[4], GZ: v[5]}, nil
}

// Close releases the Lua state.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != nil {
		s.state.Close()
		s.state = nil
	}
}

// registerPrint routes Lua print() to the logger at debug level.
func (s *Script) registerPrint() {
	s.state.PushGoFunction(func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			switch {
			case L.IsNil(i):
				parts = append(parts, "nil")
			case L.IsBoolean(i):
				parts = append(parts, fmt.Sprintf("%t", L.ToBoolean(i)))
			case L.IsNumber(i):
				parts = append(parts, fmt.Sprintf("%v", L.ToNumber(i)))
			case L.IsString(i):
				parts = append(parts, L.ToString(i))
			default:
				parts = append(parts, L.Typename(int(L.Type(i))))
			}
		}
		if s.logger != nil {
			s.logger.WithField("script", s.source).Debug(strings.Join(parts, "\t"))
		}
		return 0
	})
	s.state.SetGlobal("print")
}

// popError converts the error message on top of the stack into a ScriptError.
func (s *Script) popError(errType string) *ScriptError {
	msg := "unknown Lua error"
	if s.state.GetTop() > 0 {
		if s.state.IsString(-1) {
			msg = s.state.ToString(-1)
		}
		s.state.Pop(1)
	}

	line := 0
	parts := strings.SplitN(msg, ":", 3)
	if len(parts) == 3 {
		if n, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &line); err == nil && n == 1 {
			msg = strings.TrimSpace(parts[2])
		}
	}

	return &ScriptError{Type: errType, Source: s.source, Line: line, Message: msg}
}
