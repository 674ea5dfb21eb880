package ca

import (
	"context"
	"fmt"
	"strings"

	"github.com/edvin/deviceca/internal/catool"
)

// Flavor is the implementation family of the CA tool.
type Flavor string

const (
	FlavorOpenSSL  Flavor = "OpenSSL"
	FlavorLibreSSL Flavor = "LibreSSL"
)

// ParseFlavor reads the product name from the output of the tool's version
// command. Only OpenSSL and LibreSSL are recognized.
func ParseFlavor(versionOutput string) (Flavor, error) {
	fields := strings.Fields(versionOutput)
	name := ""
	if len(fields) > 0 {
		name = fields[0]
	}
	switch Flavor(name) {
	case FlavorOpenSSL, FlavorLibreSSL:
		return Flavor(name), nil
	}
	return "", fmt.Errorf("unknown flavour of OpenSSL: %q", name)
}

// DetectFlavor asks the tool which implementation it is.
func DetectFlavor(ctx context.Context, runner catool.Runner) (Flavor, error) {
	out, err := runner.Run(ctx, catool.Args("version")...)
	if err != nil {
		return "", fmt.Errorf("detect CA tool flavour: %w", err)
	}
	return ParseFlavor(out)
}

// NormalizeSubject rewrites a subject line printed by the given flavor into the
// slash-delimited form used by the ledger ("subject=/CN=x/O=y"). OpenSSL prints
// "subject=CN = x, O = y"; LibreSSL already prints the canonical form.
func NormalizeSubject(raw string, flavor Flavor) string {
	if flavor != FlavorOpenSSL {
		return raw
	}
	s := strings.Replace(raw, "subject=", "subject=/", 1)
	s = strings.ReplaceAll(s, " = ", "=")
	return strings.ReplaceAll(s, ", ", "/")
}

// ExtractCN returns the value of the first CN component of a slash-delimited
// subject.
func ExtractCN(subject string) (string, bool) {
	for _, part := range strings.Split(strings.TrimSpace(subject), "/") {
		if value, ok := strings.CutPrefix(part, "CN="); ok {
			return value, true
		}
	}
	return "", false
}
