package core

type Services struct {
	Devices     *DeviceRegistry
	Certificate *CertificateService
}

func NewServices(devices *DeviceRegistry, signer Signer, certificateStore string) *Services {
	return &Services{
		Devices:     devices,
		Certificate: NewCertificateService(signer, certificateStore),
	}
}
