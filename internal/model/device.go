package model

// ExtensionProfile selects the extension section of the CA configuration used
// when signing a device certificate.
type ExtensionProfile string

const (
	ExtensionProfileDefault ExtensionProfile = "default"
	ExtensionProfileServer  ExtensionProfile = "server"
	ExtensionProfileUser    ExtensionProfile = "user"
)

// Section returns the name of the CA configuration section for the profile.
// An empty profile is the default profile.
func (p ExtensionProfile) Section() string {
	switch p {
	case ExtensionProfileServer:
		return "server_cert"
	case ExtensionProfileUser:
		return "user_cert"
	default:
		return "usr_cert"
	}
}

// CertificatePolicy is the per-device override of how its certificate is issued.
type CertificatePolicy struct {
	Extensions ExtensionProfile `json:"extensions,omitempty"`
	// Days overrides the CA's default validity when positive.
	Days int `json:"days,omitempty"`
}

// Device is a provisioned device. ID doubles as the CN of its certificate.
type Device struct {
	ID          string             `json:"id"`
	SecretKey   string             `json:"-"`
	Certificate *CertificatePolicy `json:"certificate,omitempty"`
}

// ExtensionSection returns the CA extension section for the device, falling
// back to the default profile when the device has no policy.
func (d Device) ExtensionSection() string {
	if d.Certificate == nil {
		return ExtensionProfileDefault.Section()
	}
	return d.Certificate.Extensions.Section()
}

// ValidityDays returns the validity override, or 0 when the CA default applies.
func (d Device) ValidityDays() int {
	if d.Certificate == nil || d.Certificate.Days < 1 {
		return 0
	}
	return d.Certificate.Days
}
