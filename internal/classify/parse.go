package classify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+\-Z]+)`)
	reKV        = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_]*)=("[^"]*"|[^\s]+)`)
	reSyslogTS  = regexp.MustCompile(`^\s*([A-Za-z]{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})`)
)

// fields is the flat, lower-cased key space every payload shape is reduced to.
type fields map[string]string

func (f fields) first(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(f[k]); v != "" {
			return v
		}
	}
	return ""
}

// number parses the first present key as a non-negative finite quantity.
// Unparsable, non-finite and negative values default to zero.
func (f fields) number(keys ...string) float64 {
	v := f.first(keys...)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
		return 0
	}
	return n
}

// count is number truncated to an int; values past math.MaxInt32 default
// to zero.
func (f fields) count(keys ...string) int {
	n := f.number(keys...)
	if n > math.MaxInt32 {
		return 0
	}
	return int(n)
}

// port is count limited to 0..65535.
func (f fields) port(keys ...string) int {
	n := f.count(keys...)
	if n > 65535 {
		return 0
	}
	return n
}

func parsePayload(payload []byte) (fields, error) {
	trim := bytes.TrimSpace(payload)
	if len(trim) == 0 {
		return nil, errors.New("empty payload")
	}
	if trim[0] == '{' {
		return parseJSON(trim)
	}
	return parseKV(string(trim))
}

func parseJSON(data []byte) (fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	out := make(fields, len(obj))
	for key, val := range obj {
		out[strings.ToLower(key)] = flatten(val)
	}
	return out, nil
}

func flatten(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := flatten(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}

func parseKV(line string) (fields, error) {
	out := fields{}
	ts, rest := extractTimestamp(line)
	for _, match := range reKV.FindAllStringSubmatch(rest, -1) {
		out[strings.ToLower(match[1])] = strings.Trim(match[2], `"`)
	}
	if len(out) == 0 {
		return nil, errors.New("no key=value pairs")
	}
	if ts != "" && out.first("timestamp", "time", "ts") == "" {
		out["timestamp"] = ts
	}
	return out, nil
}

func extractTimestamp(line string) (string, string) {
	for _, re := range []*regexp.Regexp{reTimestamp, reSyslogTS} {
		m := re.FindStringSubmatchIndex(line)
		if len(m) >= 4 {
			return strings.TrimSpace(line[m[2]:m[3]]), strings.TrimSpace(line[m[3]:])
		}
	}
	return "", line
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

var syslogLayouts = []string{"Jan _2 15:04:05"}

// parseTimestamp resolves absolute, unix and syslog stamps. Syslog stamps
// carry no year, so the year of ref (the receive time) is used to keep the
// result a function of the input alone.
func parseTimestamp(value string, ref time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil && isNumeric(value) {
		return parseUnix(value, n), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range syslogLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			year := ref.UTC().Year()
			if ref.IsZero() {
				year = 1970
			}
			return time.Date(year, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	dot := false
	for _, ch := range value {
		switch {
		case ch >= '0' && ch <= '9':
		case ch == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string, n float64) time.Time {
	whole, _, _ := strings.Cut(value, ".")
	if len(whole) >= 13 {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec := int64(n)
	nsec := int64((n - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
