// Package catool runs the external CA toolchain (openssl or libressl).
package catool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBinary is used when no binary path is configured.
const DefaultBinary = "openssl"

// DefaultWaitDelay is how long a cancelled invocation waits for the tool's
// output pipes to close before closing them itself.
const DefaultWaitDelay = 2 * time.Second

// Runner invokes the CA tool and returns its standard output.
type Runner interface {
	Run(ctx context.Context, args ...Arg) (string, error)
}

// ExecRunner implements Runner by spawning one process per call. It holds no
// mutable state, so concurrent calls are independent.
type ExecRunner struct {
	bin     string
	tempDir string
	timeout time.Duration
	// waitDelay is applied to every process so cancellation always returns.
	waitDelay time.Duration
	logger    zerolog.Logger
}

var _ Runner = (*ExecRunner)(nil)

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithTimeout bounds how long a single tool invocation may run. Zero disables
// the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *ExecRunner) { r.timeout = d }
}

// WithTempDir sets the directory binary arguments are written to. The default
// is os.TempDir.
func WithTempDir(dir string) Option {
	return func(r *ExecRunner) { r.tempDir = dir }
}

// NewExecRunner creates a Runner for the tool at bin.
func NewExecRunner(bin string, logger zerolog.Logger, opts ...Option) *ExecRunner {
	if bin == "" {
		bin = DefaultBinary
	}
	r := &ExecRunner{
		bin:       bin,
		waitDelay: DefaultWaitDelay,
		logger:    logger.With().Str("component", "catool").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Binary returns the path of the tool being run.
func (r *ExecRunner) Binary() string {
	return r.bin
}

// Run resolves args, spawns the tool and waits for it to exit. Temporary files
// created for Binary arguments are removed before Run returns, on every path.
func (r *ExecRunner) Run(ctx context.Context, args ...Arg) (string, error) {
	argv, release, err := r.resolve(args)
	if err != nil {
		return "", err
	}
	defer release()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.logger.Debug().Str("bin", r.bin).Strs("args", argv).Msg("spawning CA tool")

	// exec drains both streams concurrently while the process runs, so a
	// chatty tool cannot block on a full pipe buffer. WaitDelay bounds how
	// long Wait keeps those pipes open after the context ends, in case a
	// child of the tool still holds them.
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.bin, argv...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.waitDelay

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("catool: start %s: %w", r.bin, err)
	}
	waitErr := cmd.Wait()

	r.logger.Debug().Int("exit_code", cmd.ProcessState.ExitCode()).Msg("CA tool exited")

	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("catool: %s %s: %w", r.bin, strings.Join(argv, " "), ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return "", &ToolError{
				Args:     argv,
				ExitCode: exitErr.ExitCode(),
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
			}
		}
		return "", fmt.Errorf("catool: wait %s: %w", r.bin, waitErr)
	}

	return stdout.String(), nil
}

// resolve materializes Binary arguments as temporary files. The returned
// release func removes every file created, and must always be called when err
// is nil.
func (r *ExecRunner) resolve(args []Arg) ([]string, func(), error) {
	var files []string
	release := func() {
		if len(files) == 0 {
			return
		}
		r.logger.Debug().Strs("files", files).Msg("removing temp files")
		for _, f := range files {
			if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn().Err(err).Str("file", f).Msg("failed to remove temp file")
			}
		}
	}

	argv := make([]string, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case Text:
			argv = append(argv, string(v))
		case Binary:
			path, err := writeTemp(r.tempDir, v)
			if path != "" {
				files = append(files, path)
			}
			if err != nil {
				release()
				return nil, nil, err
			}
			argv = append(argv, path)
		default:
			release()
			return nil, nil, fmt.Errorf("catool: unsupported argument type %T", a)
		}
	}
	return argv, release, nil
}

func writeTemp(dir string, content []byte) (string, error) {
	f, err := os.CreateTemp(dir, "catool-*")
	if err != nil {
		return "", fmt.Errorf("catool: create temp file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return f.Name(), fmt.Errorf("catool: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return f.Name(), fmt.Errorf("catool: close temp file: %w", err)
	}
	return f.Name(), nil
}
