package ca

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/edvin/deviceca/internal/catool"
)

// fakeCA stands in for the openssl binary. It keeps a real index.txt in a
// temporary CA directory and mutates it the way "openssl ca" would.
type fakeCA struct {
	t   *testing.T
	cfg Config

	version string
	subject string
	// failOn makes any invocation containing this argument exit non-zero.
	failOn string

	mu     sync.Mutex
	calls  [][]string
	csrs   [][]byte
	serial int
}

func newFakeCA(t *testing.T) *fakeCA {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "newcerts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.txt"), nil, 0o644))

	return &fakeCA{
		t: t,
		cfg: Config{
			ConfigFile:   filepath.Join(dir, "openssl.cnf"),
			PasswordFile: filepath.Join(dir, "password.txt"),
		},
		version: "OpenSSL 3.0.13 30 Jan 2024 (Library: OpenSSL 3.0.13 30 Jan 2024)\n",
		subject: "subject=CN = dev1, O = Acme, C = NL\n",
	}
}

func (f *fakeCA) engine() *Engine {
	return NewEngine(f, f.cfg, zerolog.Nop())
}

// seed appends a raw ledger line.
func (f *fakeCA) seed(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendLine(line)
}

func (f *fakeCA) appendLine(line string) {
	fh, err := os.OpenFile(f.cfg.DatabasePath(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(f.t, err)
	defer fh.Close()
	_, err = fh.WriteString(line + "\n")
	require.NoError(f.t, err)
}

func (f *fakeCA) Run(_ context.Context, args ...catool.Arg) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	argv := make([]string, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case catool.Text:
			argv = append(argv, string(v))
		case catool.Binary:
			f.csrs = append(f.csrs, v)
			argv = append(argv, "<binary>")
		}
	}
	f.calls = append(f.calls, argv)

	if f.failOn != "" && slices.Contains(argv, f.failOn) {
		return "", &catool.ToolError{Args: argv, ExitCode: 1, Stderr: "simulated failure on " + f.failOn}
	}

	switch {
	case argv[0] == "version":
		return f.version, nil
	case argv[0] == "req":
		return f.subject, nil
	case slices.Contains(argv, "-updatedb"):
		return "", nil
	case slices.Contains(argv, "-revoke"):
		f.revoke(argAfter(argv, "-revoke"))
		return "", nil
	case slices.Contains(argv, "-gencrl"):
		out := argAfter(argv, "-out")
		require.NoError(f.t, os.WriteFile(out, []byte(fmt.Sprintf("CRL after %d calls\n", len(f.calls))), 0o644))
		return "", nil
	case slices.Contains(argv, "-batch"):
		f.serial++
		serial := fmt.Sprintf("%02X", f.serial)
		cn, ok := ExtractCN(NormalizeSubject(f.subject, FlavorOpenSSL))
		require.True(f.t, ok)
		exp := time.Now().AddDate(1, 0, 0).UTC().Format("060102150405Z")
		f.appendLine(fmt.Sprintf("V\t%s\t\t%s\tunknown\t/CN=%s/O=Acme", exp, serial, cn))
		pem := "-----BEGIN CERTIFICATE-----\n" + serial + "\n-----END CERTIFICATE-----\n"
		require.NoError(f.t, os.WriteFile(argAfter(argv, "-out"), []byte(pem), 0o644))
		return "Signature ok\n", nil
	}
	return "", &catool.ToolError{Args: argv, ExitCode: 1, Stderr: "unexpected invocation"}
}

func (f *fakeCA) revoke(path string) {
	serial := strings.TrimSuffix(filepath.Base(path), ".pem")
	data, err := os.ReadFile(f.cfg.DatabasePath())
	require.NoError(f.t, err)

	lines := strings.Split(string(data), "\n")
	now := time.Now().UTC().Format("060102150405Z")
	for i, line := range lines {
		fields := strings.Split(line, "\t")
		if len(fields) == 6 && fields[3] == serial {
			fields[0] = "R"
			fields[2] = now
			lines[i] = strings.Join(fields, "\t")
		}
	}
	require.NoError(f.t, os.WriteFile(f.cfg.DatabasePath(), []byte(strings.Join(lines, "\n")), 0o644))
}

// ops returns a short name per call, in order.
func (f *fakeCA) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, argv := range f.calls {
		switch {
		case argv[0] != "ca":
			out = append(out, argv[0])
		case slices.Contains(argv, "-updatedb"):
			out = append(out, "updatedb")
		case slices.Contains(argv, "-revoke"):
			out = append(out, "revoke:"+strings.TrimSuffix(filepath.Base(argAfter(argv, "-revoke")), ".pem"))
		case slices.Contains(argv, "-gencrl"):
			out = append(out, "gencrl")
		case slices.Contains(argv, "-batch"):
			out = append(out, "sign")
		}
	}
	return out
}

func (f *fakeCA) lastCall() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func argAfter(argv []string, flag string) string {
	i := slices.Index(argv, flag)
	if i < 0 || i+1 >= len(argv) {
		return ""
	}
	return argv[i+1]
}
