package classify

import (
	"errors"
	"testing"
	"time"

	"netwarden/internal/model"
)

func raw(payload string) model.RawInput {
	return model.RawInput{
		Payload:    []byte(payload),
		Source:     "test",
		ReceivedAt: time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC),
	}
}

func TestClassifyFlowJSON(t *testing.T) {
	c := New()
	ev, err := c.Classify(raw(`{"type":"flow","timestamp":"2026-02-23T12:34:56Z","src_ip":"10.0.0.5","dst_ip":"10.0.0.1","src_port":51000,"dst_port":22,"protocol":"tcp","size":120,"conn_count":40,"packet_rate":75.5,"byte_rate":1200}`))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.Kind != model.KindFlow || ev.Flow == nil {
		t.Fatalf("expected flow, got %s", ev.Kind)
	}
	if ev.SrcIP != "10.0.0.5" || ev.DstPort != 22 || ev.Protocol != 6 || ev.Size != 120 {
		t.Fatalf("flow fields mismatch: %+v", ev)
	}
	if ev.Flow.ConnCount != 40 || ev.Flow.PacketRate != 75.5 {
		t.Fatalf("flow stats mismatch: %+v", ev.Flow)
	}
	want := time.Date(2026, 2, 23, 12, 34, 56, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Fatalf("timestamp: %s", ev.Timestamp)
	}
}

func TestClassifyKeyValueInfersFlow(t *testing.T) {
	c := New()
	ev, err := c.Classify(raw("2026-02-23 12:34:56 src=192.168.1.9 sport=4444 dport=80 proto=udp"))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.Kind != model.KindFlow || ev.Protocol != 17 || ev.SrcPort != 4444 {
		t.Fatalf("kv flow mismatch: %+v", ev)
	}
	if ev.Timestamp.Hour() != 12 || ev.Timestamp.Minute() != 34 {
		t.Fatalf("leading timestamp not used: %s", ev.Timestamp)
	}
}

func TestClassifyAuthFrame(t *testing.T) {
	c := New()
	ev, err := c.Classify(raw(`{"subtype":"association","addr2":"aa-bb-cc-dd-ee-ff","addr1":"00:11:22:33:44:55","ssid":"lab"}`))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.Kind != model.KindAuthFrame {
		t.Fatalf("expected auth frame, got %s", ev.Kind)
	}
	if ev.SrcMAC != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("mac not normalized: %s", ev.SrcMAC)
	}
	if ev.Auth.Subtype != "assoc_req" || !ev.Auth.Qualifying() {
		t.Fatalf("subtype: %s", ev.Auth.Subtype)
	}
	if ev.Auth.BSSID != "00:11:22:33:44:55" {
		t.Fatalf("bssid: %s", ev.Auth.BSSID)
	}
	if !ev.Timestamp.Equal(raw("").ReceivedAt) {
		t.Fatalf("missing timestamp should fall back to receive time")
	}
}

func TestClassifyTLSHandshake(t *testing.T) {
	c := New()
	ev, err := c.Classify(raw(`{"type":"tls","src_ip":"10.1.1.1","sni":"Example.COM.","tls_version":"TLS1.0","payload_hex":"160301"}`))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.TLS == nil || ev.TLS.ServerName != "example.com" {
		t.Fatalf("tls mismatch: %+v", ev.TLS)
	}
	if len(ev.TLS.Record) != 3 || ev.TLS.Record[0] != 0x16 {
		t.Fatalf("record not decoded: %v", ev.TLS.Record)
	}
	if ev.DstPort != 443 {
		t.Fatalf("default port: %d", ev.DstPort)
	}
}

func TestClassifyDeviceSighting(t *testing.T) {
	c := New()
	ev, err := c.Classify(raw(`{"type":"device","mac":"b0:c5:54:01:02:03","ports":[554,80,80,8000],"service":"RTSP","user_agent":"Hikvision-Webs"}`))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.Device == nil {
		t.Fatalf("expected device info")
	}
	if len(ev.Device.Ports) != 3 || ev.Device.Ports[0] != 80 || ev.Device.Ports[2] != 8000 {
		t.Fatalf("ports: %v", ev.Device.Ports)
	}
	if ev.Device.Service != "rtsp" {
		t.Fatalf("service: %s", ev.Device.Service)
	}
}

func TestClassifyUnrecognized(t *testing.T) {
	c := New()
	inputs := []string{
		"",
		"not a structured line",
		`{"hello":"world"}`,
		`{"type":"flow","src_ip":"not-an-ip","dst_port":80}`,
		`{"type":"auth","addr2":"zz"}`,
		`{"type":"flow","src_ip":"10.0.0.1","timestamp":"yesterday"}`,
	}
	for _, in := range inputs {
		_, err := c.Classify(raw(in))
		if !errors.Is(err, model.ErrUnrecognized) {
			t.Fatalf("input %q: expected ErrUnrecognized, got %v", in, err)
		}
	}
	stats := c.Stats()
	if stats.Unrecognized != uint64(len(inputs)) || stats.Recognized != 0 {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := New()
	in := raw(`{"type":"flow","src_ip":"::ffff:10.0.0.7","dst_port":443,"ts":1771849200}`)
	a, errA := c.Classify(in)
	b, errB := c.Classify(in)
	if errA != nil || errB != nil {
		t.Fatalf("classify: %v %v", errA, errB)
	}
	if a.SrcIP != "10.0.0.7" || a.SrcIP != b.SrcIP || !a.Timestamp.Equal(b.Timestamp) {
		t.Fatalf("non-deterministic: %+v vs %+v", a, b)
	}
	if a.Timestamp.Unix() != 1771849200 {
		t.Fatalf("unix timestamp: %s", a.Timestamp)
	}
}

func TestParseTimestampSyslogUsesReceiveYear(t *testing.T) {
	ref := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	ts, err := parseTimestamp("Feb  3 04:05:06", ref)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ts.Year() != 2025 || ts.Month() != time.February || ts.Day() != 3 {
		t.Fatalf("syslog stamp: %s", ts)
	}
	ms, err := parseTimestamp("1771849200123", ref)
	if err != nil || ms.UnixMilli() != 1771849200123 {
		t.Fatalf("millis: %s %v", ms, err)
	}
}

func TestClassifyOutOfRangeNumbersDefaultToZero(t *testing.T) {
	c := New()
	ev, err := c.Classify(raw(`{"type":"flow","src_ip":"10.0.0.5","src_port":"1e30","dst_port":70000,"size":"Infinity","conn_count":-4,"packet_rate":"inf","byte_rate":"-Inf","bytes_sent":"NaN"}`))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.SrcPort != 0 || ev.DstPort != 0 || ev.Size != 0 {
		t.Fatalf("out-of-range integers not zeroed: src_port=%d dst_port=%d size=%d", ev.SrcPort, ev.DstPort, ev.Size)
	}
	f := ev.Flow
	if f.ConnCount != 0 || f.PacketRate != 0 || f.ByteRate != 0 || f.BytesSent != 0 {
		t.Fatalf("invalid quantities not zeroed: %+v", f)
	}
}

func TestClassifyKeyValuePortBounds(t *testing.T) {
	c := New()
	ev, err := c.Classify(raw("src=10.0.0.7 sport=65535 dport=65536 len=9999999999"))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.SrcPort != 65535 || ev.DstPort != 0 || ev.Size != 0 {
		t.Fatalf("port bounds mismatch: %+v", ev)
	}
}
