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
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sentryguard/sentryguard/internal/monitor"
)

// SSHProbe runs a configured command over SSH and optionally parses a
// numeric value from its stdout.
type SSHProbe struct{}

func (p *SSHProbe) Check(ctx context.Context, m *monitor.Monitor) monitor.Sample {
	sample := monitor.Sample{MonitorID: m.ID, Timestamp: time.Now()}

	if m.SSH == nil || m.SSH.Host == "" || m.SSH.Command == "" {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = "monitor has no ssh host/command configured"
		return sample
	}

	out, err := runSSHCommand(ctx, m.SSH)
	if err != nil {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = err.Error()
		return sample
	}

	var value *float64
	if trimmed := strings.TrimSpace(firstLine(out)); trimmed != "" {
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			value = &f
		}
	}
	sample.Value = value
	sample.Status = classifyThreshold(m, value, false, false)
	return sample
}

// runSSHCommand dials, authenticates and runs one command, honoring the
// context deadline via a timer since golang.org/x/crypto/ssh has no
// native per-session context support.
func runSSHCommand(ctx context.Context, cfg *monitor.SSHConfig) (string, error) {
	auth, err := sshAuthMethod(cfg)
	if err != nil {
		return "", err
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return "", fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	done := make(chan struct{})
	var out []byte
	var runErr error
	go func() {
		out, runErr = session.CombinedOutput(cfg.Command)
		close(done)
	}()

	select {
	case <-done:
		if runErr != nil {
			return string(out), fmt.Errorf("command failed: %w", runErr)
		}
		return string(out), nil
	case <-ctx.Done():
		_ = session.Close()
		_ = client.Close()
		return "", fmt.Errorf("ssh command timed out: %w", ctx.Err())
	}
}

func sshAuthMethod(cfg *monitor.SSHConfig) (ssh.AuthMethod, error) {
	if cfg.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	}
	return ssh.Password(cfg.Password), nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
