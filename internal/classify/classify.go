// Package classify turns opaque capture payloads into typed network events.
// Classification is pure: the same RawInput always yields the same event.
package classify

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"netwarden/internal/model"
)

type Stats struct {
	Recognized   uint64 `json:"recognized"`
	Unrecognized uint64 `json:"unrecognized"`
}

type Classifier struct {
	recognized   atomic.Uint64
	unrecognized atomic.Uint64
}

func New() *Classifier {
	return &Classifier{}
}

// Classify decodes raw into one of the four event kinds. Inputs that match
// no kind, or lack the identity a kind needs, fail with model.ErrUnrecognized.
func (c *Classifier) Classify(raw model.RawInput) (model.NetworkEvent, error) {
	ev, err := classify(raw)
	if err != nil {
		c.unrecognized.Add(1)
		return model.NetworkEvent{}, err
	}
	c.recognized.Add(1)
	return ev, nil
}

func (c *Classifier) Stats() Stats {
	return Stats{Recognized: c.recognized.Load(), Unrecognized: c.unrecognized.Load()}
}

func unrecognized(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", model.ErrUnrecognized, fmt.Sprintf(format, args...))
}

func classify(raw model.RawInput) (model.NetworkEvent, error) {
	f, err := parsePayload(raw.Payload)
	if err != nil {
		return model.NetworkEvent{}, unrecognized("%v", err)
	}
	kind, ok := detectKind(f)
	if !ok {
		return model.NetworkEvent{}, unrecognized("no event kind matches fields %s", fieldNames(f))
	}

	ev := model.NetworkEvent{
		Kind:      kind,
		Timestamp: raw.ReceivedAt.UTC(),
		Source:    raw.Source,
		SrcIP:     model.NormalizeIP(f.first("src_ip", "src", "source_ip", "ip")),
		DstIP:     model.NormalizeIP(f.first("dst_ip", "dst", "dest_ip", "destination_ip")),
		SrcMAC:    model.NormalizeMAC(f.first("src_mac", "mac", "addr2", "sa")),
		DstMAC:    model.NormalizeMAC(f.first("dst_mac", "addr1", "da")),
		SrcPort:   f.port("src_port", "sport", "spt"),
		DstPort:   f.port("dst_port", "dport", "dpt"),
		Protocol:  parseProtocol(f.first("protocol", "proto")),
		Size:      f.count("size", "packet_size", "len", "length"),
	}
	if ts := f.first("timestamp", "time", "ts", "@timestamp"); ts != "" {
		parsed, err := parseTimestamp(ts, raw.ReceivedAt)
		if err != nil {
			return model.NetworkEvent{}, unrecognized("%v", err)
		}
		ev.Timestamp = parsed
	}

	switch kind {
	case model.KindFlow:
		if ev.SrcIP == "" {
			return model.NetworkEvent{}, unrecognized("flow without a valid source address")
		}
		ev.Flow = &model.FlowInfo{
			ConnCount:     f.number("conn_count", "connection_count", "connections"),
			BytesSent:     f.number("bytes_sent", "bytes_out", "tx_bytes"),
			BytesReceived: f.number("bytes_received", "bytes_in", "rx_bytes"),
			PacketRate:    f.number("packet_rate", "pps"),
			ByteRate:      f.number("byte_rate", "bps"),
		}
	case model.KindAuthFrame:
		if ev.SrcMAC == "" {
			return model.NetworkEvent{}, unrecognized("auth frame without a valid transmitter address")
		}
		ev.Auth = &model.AuthInfo{
			Subtype: normalizeSubtype(f.first("subtype", "frame", "frame_subtype")),
			BSSID:   model.NormalizeMAC(f.first("bssid", "addr3")),
			SSID:    f.first("ssid"),
		}
		if ev.Auth.BSSID == "" {
			ev.Auth.BSSID = ev.DstMAC
		}
	case model.KindTLSHandshake:
		info := &model.TLSInfo{
			Version:     f.first("tls_version", "version"),
			ServerName:  model.NormalizeDomain(f.first("sni", "server_name", "domain", "host")),
			CipherSuite: f.first("cipher", "cipher_suite"),
		}
		if h := f.first("payload_hex", "record_hex", "record"); h != "" {
			if b, err := hex.DecodeString(strings.TrimPrefix(h, "0x")); err == nil {
				info.Record = b
			}
		}
		if ev.SrcIP == "" && info.ServerName == "" {
			return model.NetworkEvent{}, unrecognized("tls handshake without client address or server name")
		}
		if ev.DstPort == 0 {
			ev.DstPort = 443
		}
		ev.TLS = info
	case model.KindDeviceSighting:
		if ev.SrcMAC == "" && ev.SrcIP == "" {
			return model.NetworkEvent{}, unrecognized("device sighting without mac or address")
		}
		ev.Device = &model.DeviceInfo{
			Ports:     parsePorts(f.first("ports", "open_ports")),
			UserAgent: f.first("user_agent", "ua"),
			Service:   strings.ToLower(f.first("service", "services")),
			Hostname:  f.first("hostname", "host_name", "name"),
		}
	}
	return ev, nil
}

func detectKind(f fields) (model.EventKind, bool) {
	if k, ok := kindFromName(f.first("type", "kind", "event_type", "event")); ok {
		return k, true
	}
	if f.first("subtype", "frame", "frame_subtype") != "" {
		return model.KindAuthFrame, true
	}
	if f.first("tls_version", "sni", "server_name", "payload_hex", "record_hex", "cipher") != "" {
		return model.KindTLSHandshake, true
	}
	hasIP := f.first("src_ip", "src", "source_ip") != ""
	hasPorts := f.first("src_port", "sport", "spt", "dst_port", "dport", "dpt") != ""
	if hasIP && hasPorts {
		return model.KindFlow, true
	}
	if f.first("ports", "open_ports", "user_agent", "ua", "service") != "" &&
		f.first("mac", "src_mac", "ip", "src_ip") != "" {
		return model.KindDeviceSighting, true
	}
	return "", false
}

func kindFromName(name string) (model.EventKind, bool) {
	switch strings.ToLower(name) {
	case "flow", "packet", "conn", "connection", "netflow":
		return model.KindFlow, true
	case "auth", "auth_frame", "wifi_auth", "dot11", "dot11_auth", "mgmt":
		return model.KindAuthFrame, true
	case "tls", "tls_handshake", "handshake", "ssl":
		return model.KindTLSHandshake, true
	case "device", "device_sighting", "sighting", "iot", "discovery":
		return model.KindDeviceSighting, true
	}
	return "", false
}

func normalizeSubtype(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auth", "authentication", "dot11auth":
		return "auth"
	case "assoc", "assoc_req", "association", "association_request", "dot11assoreq":
		return "assoc_req"
	case "reassoc", "reassoc_req", "reassociation", "reassociation_request", "dot11reassoreq":
		return "reassoc_req"
	case "deauth", "deauthentication":
		return "deauth"
	case "disassoc", "disassociation":
		return "disassoc"
	case "probe", "probe_req":
		return "probe_req"
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func parseProtocol(s string) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return 0
	case "icmp":
		return 1
	case "tcp":
		return 6
	case "udp":
		return 17
	case "icmpv6", "ipv6-icmp":
		return 58
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 255 {
		return 0
	}
	return n
}

func parsePorts(s string) []int {
	if s == "" {
		return nil
	}
	seen := map[int]struct{}{}
	var ports []int
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' }) {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 || n > 65535 {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		ports = append(ports, n)
	}
	sort.Ints(ports)
	return ports
}

func fieldNames(f fields) string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return "[" + strings.Join(names, ",") + "]"
}
