package fingerprint

import (
	"strings"

	"golang.org/x/crypto/cryptobyte"
)

const (
	recordTypeHandshake  = 0x16
	handshakeClientHello = 0x01
	extServerName        = 0x0000
	extSupportedVersions = 0x002b
	sniHostName          = 0x00
	versionSSL30         = 0x0300
	versionTLS10         = 0x0301
	versionTLS11         = 0x0302
	versionTLS12         = 0x0303
	versionTLS13         = 0x0304
)

type HandshakeAnalysis struct {
	Version       string   `json:"tls_version,omitempty"`
	ServerName    string   `json:"server_name,omitempty"`
	CipherSuites  int      `json:"cipher_suites,omitempty"`
	SecurityScore int      `json:"security_score"`
	Findings      []string `json:"findings,omitempty"`
}

// Deprecated reports whether the negotiated ceiling is below TLS 1.2.
func (h HandshakeAnalysis) Deprecated() bool {
	switch h.Version {
	case "SSL 3.0", "TLS 1.0", "TLS 1.1":
		return true
	}
	return false
}

// AnalyzeHandshake inspects a captured TLS record. ok is false when the bytes
// are not a TLS handshake record. When the record holds a ClientHello, the
// highest version the client offers is reported; otherwise the record-layer
// version is used.
func AnalyzeHandshake(record []byte) (HandshakeAnalysis, bool) {
	s := cryptobyte.String(record)
	var (
		contentType uint8
		recVersion  uint16
	)
	if !s.ReadUint8(&contentType) || contentType != recordTypeHandshake || !s.ReadUint16(&recVersion) {
		return HandshakeAnalysis{}, false
	}
	if recVersion>>8 != 0x03 {
		return HandshakeAnalysis{}, false
	}
	rest := s
	var fragment cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&fragment) && len(rest) > 2 {
		// truncated capture: parse what is there
		fragment = rest[2:]
	}

	version := recVersion
	var out HandshakeAnalysis
	if hello, ok := parseClientHello(fragment); ok {
		if hello.maxVersion > version {
			version = hello.maxVersion
		}
		out.ServerName = hello.serverName
		out.CipherSuites = hello.cipherSuites
	}
	return scoreVersion(out, version), true
}

// AnalyzeVersion scores a version string reported by a sensor, such as
// "TLSv1.2", "TLS1.0" or "1.3".
func AnalyzeVersion(version string) (HandshakeAnalysis, bool) {
	v := strings.ToLower(strings.TrimSpace(version))
	v = strings.NewReplacer("tlsv", "", "tls", "", " ", "", "_", ".").Replace(v)
	v = strings.Trim(v, ".")
	var code uint16
	switch v {
	case "sslv3", "ssl3", "ssl3.0", "sslv3.0":
		code = versionSSL30
	case "1.0", "1", "10":
		code = versionTLS10
	case "1.1", "11":
		code = versionTLS11
	case "1.2", "12":
		code = versionTLS12
	case "1.3", "13":
		code = versionTLS13
	default:
		return HandshakeAnalysis{}, false
	}
	return scoreVersion(HandshakeAnalysis{}, code), true
}

func scoreVersion(h HandshakeAnalysis, version uint16) HandshakeAnalysis {
	switch version {
	case versionSSL30:
		h.Version = "SSL 3.0"
		h.Findings = append(h.Findings, "SSL 3.0 is insecure")
	case versionTLS10:
		h.Version = "TLS 1.0"
		h.Findings = append(h.Findings, "TLS 1.0 is deprecated")
	case versionTLS11:
		h.Version = "TLS 1.1"
		h.Findings = append(h.Findings, "TLS 1.1 is deprecated")
	case versionTLS12:
		h.Version = "TLS 1.2"
		h.SecurityScore = 60
	case versionTLS13:
		h.Version = "TLS 1.3"
		h.SecurityScore = 100
	}
	return h
}

type clientHello struct {
	maxVersion   uint16
	serverName   string
	cipherSuites int
}

func parseClientHello(fragment cryptobyte.String) (clientHello, bool) {
	var (
		msgType uint8
		body    cryptobyte.String
		hello   clientHello
	)
	if !fragment.ReadUint8(&msgType) || msgType != handshakeClientHello {
		return hello, false
	}
	if !fragment.ReadUint24LengthPrefixed(&body) {
		return hello, false
	}
	var (
		legacyVersion uint16
		sessionID     cryptobyte.String
		suites        cryptobyte.String
		compression   cryptobyte.String
	)
	if !body.ReadUint16(&legacyVersion) ||
		!body.Skip(32) ||
		!body.ReadUint8LengthPrefixed(&sessionID) ||
		!body.ReadUint16LengthPrefixed(&suites) ||
		!body.ReadUint8LengthPrefixed(&compression) {
		return hello, false
	}
	hello.maxVersion = legacyVersion
	hello.cipherSuites = len(suites) / 2
	if body.Empty() {
		return hello, true
	}

	var extensions cryptobyte.String
	if !body.ReadUint16LengthPrefixed(&extensions) {
		return hello, true
	}
	for !extensions.Empty() {
		var (
			extType uint16
			extData cryptobyte.String
		)
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extData) {
			break
		}
		switch extType {
		case extServerName:
			if name, ok := readServerName(extData); ok {
				hello.serverName = name
			}
		case extSupportedVersions:
			var versions cryptobyte.String
			if !extData.ReadUint8LengthPrefixed(&versions) {
				continue
			}
			for !versions.Empty() {
				var v uint16
				if !versions.ReadUint16(&v) {
					break
				}
				// GREASE values share the 0x?a?a pattern and are not versions.
				if v&0x0f0f == 0x0a0a {
					continue
				}
				if v > hello.maxVersion && v <= versionTLS13 {
					hello.maxVersion = v
				}
			}
		}
	}
	return hello, true
}

func readServerName(data cryptobyte.String) (string, bool) {
	var list cryptobyte.String
	if !data.ReadUint16LengthPrefixed(&list) {
		return "", false
	}
	for !list.Empty() {
		var (
			nameType uint8
			name     cryptobyte.String
		)
		if !list.ReadUint8(&nameType) || !list.ReadUint16LengthPrefixed(&name) {
			return "", false
		}
		if nameType == sniHostName && len(name) > 0 {
			return strings.ToLower(string(name)), true
		}
	}
	return "", false
}
