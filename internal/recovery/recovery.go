// Package recovery implements the process-wide fault policy: an unrecoverable
// I/O failure anywhere in the publish loop restarts the whole process.
package recovery

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
)

// Fault marks an error the control loop must not retry locally.
type Fault struct {
	Op  string
	Err error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault in %s: %v", f.Op, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// NewFault wraps err as a Fault raised by op. A nil err yields nil.
func NewFault(op string, err error) error {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return err
	}
	return &Fault{Op: op, Err: err}
}

// IsFault reports whether err carries a Fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

// OpOf returns the operation that raised the fault in err, or "unknown".
func OpOf(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Op
	}
	return "unknown"
}

// Restarter performs the full-process restart. Implementations backed by a
// real process do not return.
type Restarter interface {
	Restart(reason error)
}

// Func adapts a function to Restarter.
type Func func(reason error)

func (f Func) Restart(reason error) { f(reason) }

// ExitRestarter exits with Code and relies on the supervisor (systemd
// Restart=always, a container restart policy) to bring the process back.
type ExitRestarter struct {
	Code int
	exit func(int)
}

func NewExitRestarter(code int) *ExitRestarter {
	return &ExitRestarter{Code: code, exit: os.Exit}
}

func (r *ExitRestarter) Restart(reason error) {
	slog.Error("restarting process", "mode", "exit", "op", OpOf(reason), "error", reason, "exit_code", r.Code)
	r.exit(r.Code)
}

// ExecRestarter replaces the running image with a fresh copy of itself,
// keeping argv and environment.
type ExecRestarter struct {
	exec     func(argv0 string, argv []string, envv []string) error
	fallback func(int)
}

func NewExecRestarter() *ExecRestarter {
	return &ExecRestarter{exec: syscall.Exec, fallback: os.Exit}
}

func (r *ExecRestarter) Restart(reason error) {
	slog.Error("restarting process", "mode", "exec", "op", OpOf(reason), "error", reason)
	self, err := os.Executable()
	if err == nil {
		err = r.exec(self, os.Args, os.Environ())
	}
	// exec only returns on failure; exit so the supervisor can take over.
	slog.Error("re-exec failed", "error", err)
	r.fallback(1)
}

// New returns the restarter for mode ("exit" or "exec").
func New(mode string, exitCode int) (Restarter, error) {
	switch mode {
	case "exit":
		return NewExitRestarter(exitCode), nil
	case "exec":
		return NewExecRestarter(), nil
	default:
		return nil, fmt.Errorf("unknown restart mode %q (allowed: exit, exec)", mode)
	}
}
