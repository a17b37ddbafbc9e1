package chart

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Sandbox runs generated plotting code. The code sees only data and must
// bind the chart to the name fig; Execute returns fig serialized as JSON.
type Sandbox interface {
	Execute(ctx context.Context, code string, data []map[string]any) (json.RawMessage, error)
}

var (
	// ErrNoFigure is returned when the code ran but never bound fig.
	ErrNoFigure = errors.New("generated code did not produce fig")

	// ErrImportDenied is returned when the code imports a module outside
	// AllowedModules.
	ErrImportDenied = errors.New("generated code imported a module that is not allowed")

	// ErrOutputTooLarge is returned when the chart exceeds the output cap.
	ErrOutputTooLarge = errors.New("chart output too large")
)

// DefaultTimeout bounds one sandbox run.
const DefaultTimeout = 30 * time.Second

// DefaultMaxOutput caps the serialized chart size.
const DefaultMaxOutput = 8 << 20

// Exit codes of the harness.
const (
	exitNoFigure     = 3
	exitImportDenied = 4
)

// AllowedModules are the top-level modules generated code may import.
var AllowedModules = []string{
	"plotly", "pandas", "numpy", "math", "statistics",
	"datetime", "json", "collections", "itertools", "re",
}

// harness reads {"code", "data", "allowed"} from stdin and runs code with
// only data in scope and a reduced set of builtins. Imports outside allowed
// end the process with exitImportDenied. fig is written to stdout as JSON;
// anything the code prints goes to stderr.
const harness = `import builtins, json, os, sys
req = json.load(sys.stdin)
allowed = set(req["allowed"])
def _import(name, globals=None, locals=None, fromlist=(), level=0):
    if level != 0 or name.split(".")[0] not in allowed:
        sys.stderr.write("import denied: " + name + "\n")
        sys.stderr.flush()
        os._exit(4)
    return __import__(name, globals, locals, fromlist, level)
denied = {"open", "exec", "eval", "compile", "input", "breakpoint", "exit", "quit", "help", "__import__"}
safe = {k: getattr(builtins, k) for k in dir(builtins) if k not in denied}
safe["__import__"] = _import
scope = {"__builtins__": safe, "data": req["data"]}
out = sys.stdout
sys.stdout = sys.stderr
exec(req["code"], scope, scope)
sys.stdout = out
fig = scope.get("fig")
if fig is None:
    sys.exit(3)
out.write(fig.to_json() if hasattr(fig, "to_json") else json.dumps(fig, default=str))
`

type harnessInput struct {
	Code    string           `json:"code"`
	Data    []map[string]any `json:"data"`
	Allowed []string         `json:"allowed"`
}

func encodeInput(code string, data []map[string]any) ([]byte, error) {
	if data == nil {
		data = []map[string]any{}
	}
	return json.Marshal(harnessInput{Code: code, Data: data, Allowed: AllowedModules})
}

// decodeOutput checks the harness exit code and output.
func decodeOutput(exitCode int, stdout, stderr []byte, maxOutput int) (json.RawMessage, error) {
	switch exitCode {
	case 0:
	case exitNoFigure:
		return nil, ErrNoFigure
	case exitImportDenied:
		return nil, fmt.Errorf("%w: %s", ErrImportDenied, tail(stderr))
	default:
		return nil, fmt.Errorf("chart code exited with status %d: %s", exitCode, tail(stderr))
	}
	if maxOutput > 0 && len(stdout) > maxOutput {
		return nil, ErrOutputTooLarge
	}
	out := bytes.TrimSpace(stdout)
	if !json.Valid(out) {
		return nil, fmt.Errorf("chart output is not JSON: %.80q", out)
	}
	return json.RawMessage(out), nil
}

// tail returns the last line of a traceback, which names the error.
func tail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}

// ProcessSandbox runs the code in a local interpreter process with a clean
// environment, a scratch working directory and a deadline. It has no
// network or filesystem isolation beyond that; use DockerSandbox where the
// host must be protected.
type ProcessSandbox struct {
	// Interpreter is the Python executable. Defaults to "python3".
	Interpreter string
	Timeout     time.Duration
	MaxOutput   int
}

// NewProcessSandbox returns a ProcessSandbox with defaults applied.
func NewProcessSandbox(interpreter string, timeout time.Duration) *ProcessSandbox {
	return &ProcessSandbox{Interpreter: interpreter, Timeout: timeout}
}

// Execute implements Sandbox.
func (s *ProcessSandbox) Execute(ctx context.Context, code string, data []map[string]any) (json.RawMessage, error) {
	input, err := encodeInput(code, data)
	if err != nil {
		return nil, fmt.Errorf("encode chart input: %w", err)
	}

	interp := s.Interpreter
	if interp == "" {
		interp = "python3"
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxOut := s.MaxOutput
	if maxOut <= 0 {
		maxOut = DefaultMaxOutput
	}

	dir, err := os.MkdirTemp("", "chart-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, interp, "-I", "-c", harness)
	cmd.Dir = dir
	cmd.Env = []string{"PATH=" + os.Getenv("PATH"), "HOME=" + dir, "MPLCONFIGDIR=" + dir}
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, n: maxOut + 1}
	cmd.Stderr = &limitedWriter{w: &stderr, n: 64 << 10}
	cmd.WaitDelay = time.Second

	err = cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("chart code: %w", ctx.Err())
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return decodeOutput(0, stdout.Bytes(), stderr.Bytes(), maxOut)
	case errors.As(err, &exitErr):
		return decodeOutput(exitErr.ExitCode(), stdout.Bytes(), stderr.Bytes(), maxOut)
	default:
		return nil, fmt.Errorf("run %s: %w", interp, err)
	}
}

// limitedWriter drops writes past n bytes while reporting success so the
// child is not killed by a broken pipe.
type limitedWriter struct {
	w io.Writer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n <= 0 {
		return len(p), nil
	}
	k := min(len(p), l.n)
	l.n -= k
	if _, err := l.w.Write(p[:k]); err != nil {
		return 0, err
	}
	return len(p), nil
}
