package ca

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/edvin/deviceca/internal/model"
)

// Ledger column layout of the CA database (index.txt).
const (
	colStatus = iota
	colExpiration
	colRevocation
	colSerial
	colFilename
	colSubject
)

// The ledger stores ASN.1 UTCTime, and GeneralizedTime for dates past 2049.
var ledgerTimeLayouts = []string{"060102150405Z", "20060102150405Z"}

// ParseLedger reads every record of a CA database. Lines without a status
// field are skipped.
func ParseLedger(r io.Reader) ([]model.CertificateRecord, error) {
	var records []model.CertificateRecord

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		rec, ok := parseLedgerLine(scanner.Text())
		if ok {
			records = append(records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read CA database: %w", err)
	}
	return records, nil
}

func parseLedgerLine(line string) (model.CertificateRecord, bool) {
	fields := strings.Split(strings.TrimRight(line, "\r"), "\t")
	if fields[colStatus] == "" {
		return model.CertificateRecord{}, false
	}

	field := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	rec := model.CertificateRecord{
		Status:     model.CertificateStatusFromCode(fields[colStatus]),
		Expiration: parseLedgerTime(field(colExpiration)),
		Serial:     field(colSerial),
		Subject:    field(colSubject),
	}
	// The revocation column may carry ",reason" after the date.
	revocation, _, _ := strings.Cut(field(colRevocation), ",")
	rec.Revocation = parseLedgerTime(revocation)
	return rec, true
}

// parseLedgerTime returns the zero time for empty or unparseable values.
func parseLedgerTime(s string) time.Time {
	for _, layout := range ledgerTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FilterByCN returns the records whose subject CN equals cn.
func FilterByCN(records []model.CertificateRecord, cn string) []model.CertificateRecord {
	var out []model.CertificateRecord
	for _, rec := range records {
		if got, ok := ExtractCN(rec.Subject); ok && got == cn {
			out = append(out, rec)
		}
	}
	return out
}
