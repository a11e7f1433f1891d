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

package alerting

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

var templateFuncs = template.FuncMap{
	"formatTime": func(t time.Time) string { return t.Format(time.RFC3339) },
	"humanizeDuration": func(d time.Duration) string {
		switch {
		case d < time.Minute:
			return fmt.Sprintf("%ds", int(d.Seconds()))
		case d < time.Hour:
			return fmt.Sprintf("%dm", int(d.Minutes()))
		case d < 24*time.Hour:
			return fmt.Sprintf("%dh", int(d.Hours()))
		default:
			return fmt.Sprintf("%dd", int(d.Hours()/24))
		}
	},
	"truncate": func(s string, n int) string {
		if len(s) <= n {
			return s
		}
		return s[:n] + "..."
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

var plainSubjectTemplate = mustParse("subject", `[{{ .Severity | upper }}] {{ .Monitor.Name }}`)

var plainBodyTemplate = mustParse("plain", `{{ .Monitor.Name }} — {{ .Event }}

Severity: {{ .Severity }}
Status:   {{ .Alert.Status }}
Message:  {{ .Alert.Message }}
Since:    {{ formatTime .Alert.TriggeredAt }}
Failures: {{ .Alert.ConsecutiveFailures }}

--
sentryguard
`)

var htmlBodyTemplate = mustParse("html", `<html><body>
<h2>{{ .Monitor.Name }} &mdash; {{ .Event }}</h2>
<p><b>Severity:</b> {{ .Severity }}<br/>
<b>Status:</b> {{ .Alert.Status }}<br/>
<b>Message:</b> {{ .Alert.Message }}<br/>
<b>Since:</b> {{ formatTime .Alert.TriggeredAt }}<br/>
<b>Consecutive failures:</b> {{ .Alert.ConsecutiveFailures }}</p>
<hr/><p><small>sentryguard</small></p>
</body></html>
`)

// certificatePlainBodyTemplate is the specialised rendering for
// certificate-expiry alerts: days-remaining, issuer, SANs and a
// remediation hint instead of the generic threshold/value message.
var certificatePlainBodyTemplate = mustParse("cert-plain", `{{ .Monitor.Name }} — certificate expiry — {{ .Event }}

Severity:       {{ .Severity }}
Days remaining: {{ .Alert.Metadata.DaysRemaining }}
Issuer:         {{ .Alert.Metadata.CertIssuer }}
Common name:    {{ .Alert.Metadata.CertCommonName }}
SANs:           {{ range $i, $s := .Alert.Metadata.CertSANs }}{{ if $i }}, {{ end }}{{ $s }}{{ end }}

{{ .Alert.Message }}

--
sentryguard
`)

func mustParse(name, body string) *template.Template {
	return template.Must(template.New(name).Funcs(templateFuncs).Parse(body))
}

// render produces subject, plain and HTML bodies for one dispatch. When
// the alert carries certificate metadata the plain body uses the
// certificate template; the subject and HTML body are the generic ones.
func render(rc renderContext) (RenderedMessage, error) {
	var subjectBuf, plainBuf, htmlBuf bytes.Buffer
	if err := plainSubjectTemplate.Execute(&subjectBuf, rc); err != nil {
		return RenderedMessage{}, fmt.Errorf("render subject: %w", err)
	}

	plainTmpl := plainBodyTemplate
	if rc.Alert.Metadata.DaysRemaining != nil {
		plainTmpl = certificatePlainBodyTemplate
	}
	if err := plainTmpl.Execute(&plainBuf, rc); err != nil {
		return RenderedMessage{}, fmt.Errorf("render plain body: %w", err)
	}
	if err := htmlBodyTemplate.Execute(&htmlBuf, rc); err != nil {
		return RenderedMessage{}, fmt.Errorf("render html body: %w", err)
	}

	return RenderedMessage{
		Subject:   subjectBuf.String(),
		PlainBody: plainBuf.String(),
		HTMLBody:  htmlBuf.String(),
	}, nil
}
