package model

// CertificateStatusFromCode maps the single-character status column of the CA
// ledger. Anything other than V or E is treated as revoked.
func CertificateStatusFromCode(code string) CertificateStatus {
	switch code {
	case "V":
		return CertificateValid
	case "E":
		return CertificateExpired
	default:
		return CertificateRevoked
	}
}
