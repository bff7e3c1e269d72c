package model

import (
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

type KeyKind string

const (
	KeyIP     KeyKind = "ip"
	KeyMAC    KeyKind = "mac"
	KeyDomain KeyKind = "domain"
)

// EntityKey partitions all stateful tracking. Values are normalized by the
// constructors below; build keys through them, not by hand.
type EntityKey struct {
	Kind  KeyKind
	Value string
}

func (k EntityKey) String() string {
	if k.Value == "" {
		return ""
	}
	return string(k.Kind) + ":" + k.Value
}

func (k EntityKey) IsZero() bool {
	return k.Value == ""
}

func (k EntityKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *EntityKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*k = EntityKey{}
		return nil
	}
	parsed, err := ParseEntityKey(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func IPKey(raw string) (EntityKey, bool) {
	ip := NormalizeIP(raw)
	if ip == "" {
		return EntityKey{}, false
	}
	return EntityKey{Kind: KeyIP, Value: ip}, true
}

func MACKey(raw string) (EntityKey, bool) {
	mac := NormalizeMAC(raw)
	if mac == "" {
		return EntityKey{}, false
	}
	return EntityKey{Kind: KeyMAC, Value: mac}, true
}

func DomainKey(raw string) (EntityKey, bool) {
	d := NormalizeDomain(raw)
	if d == "" {
		return EntityKey{}, false
	}
	return EntityKey{Kind: KeyDomain, Value: d}, true
}

// ParseEntityKey accepts "kind:value" as well as a bare IP, MAC or domain.
func ParseEntityKey(s string) (EntityKey, error) {
	s = strings.TrimSpace(s)
	if kind, value, ok := strings.Cut(s, ":"); ok {
		switch KeyKind(strings.ToLower(kind)) {
		case KeyIP:
			if k, ok := IPKey(value); ok {
				return k, nil
			}
			return EntityKey{}, fmt.Errorf("invalid ip key %q", s)
		case KeyMAC:
			if k, ok := MACKey(value); ok {
				return k, nil
			}
			return EntityKey{}, fmt.Errorf("invalid mac key %q", s)
		case KeyDomain:
			if k, ok := DomainKey(value); ok {
				return k, nil
			}
			return EntityKey{}, fmt.Errorf("invalid domain key %q", s)
		}
	}
	if k, ok := IPKey(s); ok {
		return k, nil
	}
	if k, ok := MACKey(s); ok {
		return k, nil
	}
	if k, ok := DomainKey(s); ok {
		return k, nil
	}
	return EntityKey{}, fmt.Errorf("unrecognized entity key %q", s)
}

func NormalizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}

// NormalizeMAC returns the upper-case colon form, or "" for anything that is
// not a 48-bit hardware address.
func NormalizeMAC(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	hw, err := net.ParseMAC(raw)
	if err != nil || len(hw) != 6 {
		return ""
	}
	return strings.ToUpper(hw.String())
}

func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimSuffix(d, ".")
	if d == "" || strings.ContainsAny(d, " /:\\@") || !strings.Contains(d, ".") {
		return ""
	}
	return d
}
