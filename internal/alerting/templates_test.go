package alerting

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentryguard/sentryguard/internal/monitor"
)

func TestRenderDefaultTemplate(t *testing.T) {
	m := &monitor.Monitor{Name: "checkout-api"}
	a := &monitor.Alert{Message: "value=550 threshold=500", ConsecutiveFailures: 3}
	msg, err := render(renderContext{Monitor: m, Alert: a, Event: monitor.EventTriggered, Severity: monitor.AlertSeverityAlarm})
	require.NoError(t, err)
	require.Contains(t, msg.Subject, "ALARM")
	require.Contains(t, msg.PlainBody, "checkout-api")
	require.Contains(t, msg.PlainBody, "value=550 threshold=500")
	require.Contains(t, msg.HTMLBody, "<html>")
}

func TestRenderCertificateTemplate(t *testing.T) {
	days := 5
	m := &monitor.Monitor{Name: "www-cert"}
	a := &monitor.Alert{
		Message: "expires soon",
		Metadata: monitor.SampleMetadata{
			DaysRemaining:  &days,
			CertIssuer:     "Let's Encrypt",
			CertCommonName: "www.example.com",
			CertSANs:       []string{"www.example.com", "example.com"},
		},
	}
	msg, err := render(renderContext{Monitor: m, Alert: a, Event: monitor.EventTriggered, Severity: monitor.AlertSeverityWarning})
	require.NoError(t, err)
	require.Contains(t, msg.PlainBody, "certificate expiry")
	require.Contains(t, msg.PlainBody, "Let's Encrypt")
	require.Contains(t, msg.PlainBody, "example.com")
}
