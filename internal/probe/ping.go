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
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/sentryguard/sentryguard/internal/monitor"
)

// PingProbe issues ICMP echo requests using the unprivileged "udp"
// network, which lets it run without CAP_NET_RAW on Linux.
type PingProbe struct{}

func (p *PingProbe) Check(ctx context.Context, m *monitor.Monitor) monitor.Sample {
	sample := monitor.Sample{MonitorID: m.ID, Timestamp: time.Now()}

	if m.Ping == nil || m.Ping.Host == "" {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = "monitor has no ping host configured"
		return sample
	}

	count := m.Ping.Count
	if count <= 0 {
		count = 4
	}

	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = fmt.Sprintf("icmp listen: %v", err)
		return sample
	}
	defer conn.Close()

	dst, err := net.ResolveIPAddr("ip4", m.Ping.Host)
	if err != nil {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = fmt.Sprintf("resolve %s: %v", m.Ping.Host, err)
		return sample
	}

	var totalRTT time.Duration
	received := 0
	for seq := 1; seq <= count; seq++ {
		rtt, err := pingOnce(ctx, conn, dst, seq)
		if err != nil {
			continue
		}
		received++
		totalRTT += rtt
	}

	if received == 0 {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = fmt.Sprintf("no reply from %s after %d attempts", m.Ping.Host, count)
		return sample
	}

	meanRTT := float64(totalRTT.Milliseconds()) / float64(received)
	sample.Value = &meanRTT
	sample.ResponseTimeMS = int64(meanRTT)
	sample.Status = classifyThreshold(m, &meanRTT, false, false)
	return sample
}

func pingOnce(ctx context.Context, conn *icmp.PacketConn, dst *net.IPAddr, seq int) (time.Duration, error) {
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   seq | 0x4000,
			Seq:  seq,
			Data: []byte("sentryguard"),
		},
	}
	b, err := msg.Marshal(nil)
	if err != nil {
		return 0, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := conn.WriteTo(b, &net.UDPAddr{IP: dst.IP}); err != nil {
		return 0, err
	}

	reply := make([]byte, 1500)
	n, _, err := conn.ReadFrom(reply)
	if err != nil {
		return 0, err
	}
	rtt := time.Since(start)

	parsed, err := icmp.ParseMessage(1, reply[:n])
	if err != nil {
		return 0, err
	}
	if parsed.Type != ipv4.ICMPTypeEchoReply {
		return 0, fmt.Errorf("unexpected icmp type %v", parsed.Type)
	}
	return rtt, nil
}
