package model

import "time"

// CertificateStatus is the state of a certificate in the CA ledger.
type CertificateStatus string

const (
	CertificateValid   CertificateStatus = "valid"
	CertificateRevoked CertificateStatus = "revoked"
	CertificateExpired CertificateStatus = "expired"
)

// CertificateRecord is one row of the CA ledger. Records are read fresh from
// the ledger on every lookup and never cached.
type CertificateRecord struct {
	Status     CertificateStatus `json:"status"`
	Expiration time.Time         `json:"expiration"`
	// Revocation is zero unless Status is CertificateRevoked.
	Revocation time.Time `json:"revocation,omitzero"`
	Serial     string    `json:"serial"`
	Subject    string    `json:"subject"`
}
