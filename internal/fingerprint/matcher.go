// Package fingerprint identifies device classes from observed attributes and
// inspects TLS handshakes and server certificates.
package fingerprint

import (
	"strings"

	"netwarden/internal/model"
)

// MatchThreshold is the minimum confidence, in percent, for a candidate.
const MatchThreshold = 50.0

// Observation holds what was seen of a device. Empty fields are not
// observed and do not count toward the criteria total.
type Observation struct {
	MAC       string
	Ports     []int
	UserAgent string
	Service   string
}

func ObservationFrom(ev model.NetworkEvent) Observation {
	obs := Observation{MAC: ev.SrcMAC}
	if ev.Device != nil {
		obs.Ports = ev.Device.Ports
		obs.UserAgent = ev.Device.UserAgent
		obs.Service = ev.Device.Service
	}
	return obs
}

func (o Observation) empty() bool {
	return o.MAC == "" && len(o.Ports) == 0 && o.UserAgent == "" && o.Service == ""
}

type Matcher struct {
	signatures []Signature
}

func NewMatcher(signatures []Signature) *Matcher {
	if signatures == nil {
		signatures = DefaultSignatures()
	}
	return &Matcher{signatures: signatures}
}

// Match walks the table in order and returns the first signature whose
// confidence reaches MatchThreshold. A later signature with a higher
// confidence is not considered.
func (m *Matcher) Match(obs Observation) (model.FingerprintMatch, bool) {
	if obs.empty() {
		return model.FingerprintMatch{}, false
	}
	mac := strings.ToUpper(strings.TrimSpace(obs.MAC))
	ua := strings.ToLower(obs.UserAgent)
	svc := strings.ToLower(obs.Service)

	for _, sig := range m.signatures {
		matched, total := 0, 0
		if mac != "" && len(sig.MACPrefixes) > 0 {
			total++
			if hasPrefix(mac, sig.MACPrefixes) {
				matched++
			}
		}
		if len(obs.Ports) > 0 && len(sig.Ports) > 0 {
			total++
			if sharesPort(obs.Ports, sig.Ports) {
				matched++
			}
		}
		if ua != "" && len(sig.UserAgents) > 0 {
			total++
			if containsAny(ua, sig.UserAgents) {
				matched++
			}
		}
		if svc != "" && len(sig.Services) > 0 {
			total++
			if containsAny(svc, sig.Services) {
				matched++
			}
		}
		if total == 0 {
			continue
		}
		confidence := float64(matched) / float64(total) * 100
		if confidence >= MatchThreshold {
			return model.FingerprintMatch{
				DeviceKey:  sig.Key,
				Vendor:     sig.Vendor,
				DeviceType: sig.DeviceType,
				RiskLevel:  sig.RiskLevel,
				Confidence: confidence,
				Matched:    matched,
				Total:      total,
			}, true
		}
	}
	return model.FingerprintMatch{}, false
}

func hasPrefix(mac string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(mac, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}

func sharesPort(observed, known []int) bool {
	for _, p := range observed {
		for _, k := range known {
			if p == k {
				return true
			}
		}
	}
	return false
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
