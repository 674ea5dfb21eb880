package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOpenSSL writes "CRL" to the file following -out.
const fakeOpenSSL = `#!/bin/sh
while [ $# -gt 0 ]; do
  if [ "$1" = "-out" ]; then
    shift
    echo CRL > "$1"
  fi
  shift
done
`

func TestCRLCommand(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "openssl")
	require.NoError(t, os.WriteFile(bin, []byte(fakeOpenSSL), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "openssl.cnf"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "password"), []byte("pw"), 0o600))

	configPath = writeConfig(t, `
log_level: error
openssl:
  bin: `+bin+`
  config_file: `+filepath.Join(dir, "openssl.cnf")+`
  password_file: `+filepath.Join(dir, "password")+`
  temp_dir: `+dir+`
`)
	t.Cleanup(func() { configPath = "" })

	require.NoError(t, crlCmd.RunE(crlCmd, nil))

	data, err := os.ReadFile(filepath.Join(dir, "crl.pem"))
	require.NoError(t, err)
	assert.Equal(t, "CRL\n", string(data))
}

func TestCRLCommand_NoCAConfig(t *testing.T) {
	configPath = writeConfig(t, "log_level: error\n")
	t.Cleanup(func() { configPath = "" })

	err := crlCmd.RunE(crlCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file")
}
