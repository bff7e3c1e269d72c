package fingerprint

import (
	"strings"

	"netwarden/internal/model"
)

type RiskAssessment struct {
	Score           int      `json:"risk_score"`
	Level           string   `json:"overall_risk"`
	ThreatLevel     string   `json:"threat_level"`
	Vulnerabilities []string `json:"vulnerabilities,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Elevated reports whether the device warrants an operator alert.
func (r RiskAssessment) Elevated() bool {
	return r.Level == "Critical" || r.Level == "High"
}

var deviceTypeRisk = map[string]int{
	"security camera":  8,
	"smart lock":       9,
	"security system":  9,
	"smart doorbell":   7,
	"smart thermostat": 6,
	"smart speaker":    4,
	"smart tv":         5,
	"smart plug":       5,
	"smart lighting":   3,
	"streaming device": 3,
	"smart home hub":   6,
	"weather station":  4,
	"universal remote": 2,
}

var vendorAdjustment = map[string]int{
	"hikvision": 2,
	"dahua":     2,
	"amazon":    -1,
	"google":    -1,
	"apple":     -1,
}

func AssessRisk(match model.FingerprintMatch) RiskAssessment {
	if match.DeviceKey == "" {
		return RiskAssessment{Level: "Unknown", ThreatLevel: "Low"}
	}
	deviceType := strings.ToLower(match.DeviceType)
	base, ok := deviceTypeRisk[deviceType]
	if !ok {
		base = 5
	}
	score := base + vendorAdjustment[strings.ToLower(match.Vendor)]
	if score > 10 {
		score = 10
	}
	if score < 1 {
		score = 1
	}

	r := RiskAssessment{Score: score}
	switch {
	case score >= 8:
		r.Level, r.ThreatLevel = "Critical", "High"
	case score >= 6:
		r.Level, r.ThreatLevel = "High", "Medium"
	case score >= 4:
		r.Level, r.ThreatLevel = "Medium", "Low"
	default:
		r.Level, r.ThreatLevel = "Low", "Very Low"
	}

	switch deviceType {
	case "security camera", "smart doorbell":
		r.Vulnerabilities = []string{
			"default credentials often unchanged",
			"remote viewing exposed",
			"video stream interception",
		}
		r.Recommendations = []string{
			"change default passwords",
			"enable two-factor authentication",
			"segment the device network",
			"disable remote access if unused",
		}
	case "smart lock":
		r.Vulnerabilities = []string{
			"wireless signal interception",
			"access code compromise",
			"battery depletion",
		}
		r.Recommendations = []string{
			"use unique access codes",
			"enable activity logging",
			"limit remote access",
		}
	case "smart thermostat", "smart plug":
		r.Vulnerabilities = []string{"command injection", "network-based control"}
		r.Recommendations = []string{"isolate on a separate network", "apply firmware updates"}
	}
	return r
}
