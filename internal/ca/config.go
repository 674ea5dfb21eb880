package ca

import "path/filepath"

// Config locates the CA. The database, CRL and archived certificates live in
// the directory of ConfigFile.
type Config struct {
	ConfigFile   string
	PasswordFile string
}

// Check reports a missing config or password file.
func (c Config) Check() error {
	if c.ConfigFile == "" {
		return ErrConfigFileNotSet
	}
	if c.PasswordFile == "" {
		return ErrPasswordFileNotSet
	}
	return nil
}

// Dir is the CA working directory.
func (c Config) Dir() string {
	return filepath.Dir(c.ConfigFile)
}

// DatabasePath is the path of the ledger file.
func (c Config) DatabasePath() string {
	return filepath.Join(c.Dir(), "index.txt")
}

// CRLPath is where GenerateCRL writes the CRL.
func (c Config) CRLPath() string {
	return filepath.Join(c.Dir(), "crl.pem")
}

// ArchivedCertPath is the copy of an issued certificate the CA keeps by serial.
func (c Config) ArchivedCertPath(serial string) string {
	return filepath.Join(c.Dir(), "newcerts", serial+".pem")
}

func (c Config) passin() string {
	return "file:" + c.PasswordFile
}
