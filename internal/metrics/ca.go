package metrics

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

// RegisterCAMetrics exposes the size of the device registry and the age of
// the CRL as Prometheus gauges. An empty crlPath skips the CRL gauge.
func RegisterCAMetrics(reg prometheus.Registerer, devices func() int, crlPath string) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "deviceca_registered_devices",
			Help: "Number of devices in the device registry",
		}, func() float64 {
			return float64(devices())
		}),
	)

	if crlPath == "" {
		return
	}
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "deviceca_crl_last_generated_timestamp_seconds",
			Help: "Modification time of the CRL file, 0 if it does not exist",
		}, func() float64 {
			info, err := os.Stat(crlPath)
			if err != nil {
				return 0
			}
			return float64(info.ModTime().Unix())
		}),
	)
}
