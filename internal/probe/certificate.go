/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"net"
	"strconv"
	"time"

	"github.com/sentryguard/sentryguard/internal/monitor"
)

const (
	defaultCertWarningDays = 30
	defaultCertAlarmDays   = 7
)

// CertificateProbe opens a TLS handshake and reports days until the leaf
// certificate expires.
type CertificateProbe struct{}

func (p *CertificateProbe) Check(ctx context.Context, m *monitor.Monitor) monitor.Sample {
	sample := monitor.Sample{MonitorID: m.ID, Timestamp: time.Now()}

	if m.Certificate == nil || m.Certificate.Hostname == "" {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = "monitor has no certificate hostname configured"
		return sample
	}
	cfg := m.Certificate

	warningDays := cfg.WarningThresholdDays
	if warningDays <= 0 {
		warningDays = defaultCertWarningDays
	}
	alarmDays := cfg.AlarmThresholdDays
	if alarmDays <= 0 {
		alarmDays = defaultCertAlarmDays
	}

	dialer := &net.Dialer{}
	addr := net.JoinHostPort(cfg.Hostname, strconv.Itoa(cfg.Port))

	start := time.Now()
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: cfg.Hostname})
	sample.ResponseTimeMS = time.Since(start).Milliseconds()
	if err != nil {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = fmt.Sprintf("tls handshake to %s: %v", addr, err)
		return sample
	}
	defer conn.Close()

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = "no peer certificates presented"
		return sample
	}
	cert := state.PeerCertificates[0]

	daysRemaining := int(math.Floor(time.Until(cert.NotAfter).Hours() / 24))
	sample.Metadata.DaysRemaining = &daysRemaining
	sample.Metadata.CertIssuer = cert.Issuer.String()
	sample.Metadata.CertSerial = cert.SerialNumber.String()
	sample.Metadata.CertCommonName = cert.Subject.CommonName
	sample.Metadata.CertSANs = cert.DNSNames

	value := float64(daysRemaining)
	sample.Value = &value

	switch {
	case daysRemaining <= alarmDays:
		sample.Status = monitor.StatusAlarm
	case daysRemaining <= warningDays:
		sample.Status = monitor.StatusWarning
	default:
		sample.Status = monitor.StatusOK
	}
	return sample
}

// CertificateMessage renders the specialised alert message for
// certificate-expiry alerts (spec.md's certificate scenario: message
// must contain "<N> day").
func CertificateMessage(monitorName string, daysRemaining int, issuer string) string {
	return fmt.Sprintf("%s certificate expires in %d day(s), issued by %s", monitorName, daysRemaining, issuer)
}
