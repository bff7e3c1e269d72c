package model

import "time"

type EventKind string

const (
	KindFlow           EventKind = "flow"
	KindAuthFrame      EventKind = "auth_frame"
	KindTLSHandshake   EventKind = "tls_handshake"
	KindDeviceSighting EventKind = "device_sighting"
)

// RawInput is an opaque payload handed over by a capture source.
type RawInput struct {
	Payload    []byte    `json:"payload"`
	Source     string    `json:"source"`
	Remote     string    `json:"remote,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// NetworkEvent is a tagged variant: Kind selects which of Flow, Auth, TLS or
// Device is populated. Events are treated as immutable once classified.
type NetworkEvent struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	SrcIP     string    `json:"src_ip,omitempty"`
	DstIP     string    `json:"dst_ip,omitempty"`
	SrcMAC    string    `json:"src_mac,omitempty"`
	DstMAC    string    `json:"dst_mac,omitempty"`
	SrcPort   int       `json:"src_port,omitempty"`
	DstPort   int       `json:"dst_port,omitempty"`
	Protocol  int       `json:"protocol,omitempty"`
	Size      int       `json:"size,omitempty"`

	Flow   *FlowInfo   `json:"flow,omitempty"`
	Auth   *AuthInfo   `json:"auth,omitempty"`
	TLS    *TLSInfo    `json:"tls,omitempty"`
	Device *DeviceInfo `json:"device,omitempty"`
}

type FlowInfo struct {
	ConnCount     float64 `json:"conn_count"`
	BytesSent     float64 `json:"bytes_sent"`
	BytesReceived float64 `json:"bytes_received"`
	PacketRate    float64 `json:"packet_rate"`
	ByteRate      float64 `json:"byte_rate"`
}

type AuthInfo struct {
	Subtype string `json:"subtype"`
	BSSID   string `json:"bssid,omitempty"`
	SSID    string `json:"ssid,omitempty"`
}

// Qualifying reports whether the frame counts as a brute-force attempt.
func (a *AuthInfo) Qualifying() bool {
	if a == nil {
		return false
	}
	switch a.Subtype {
	case "auth", "assoc_req", "reassoc_req":
		return true
	}
	return false
}

type TLSInfo struct {
	Version     string `json:"version,omitempty"`
	ServerName  string `json:"server_name,omitempty"`
	CipherSuite string `json:"cipher_suite,omitempty"`
	Record      []byte `json:"record,omitempty"`
}

type DeviceInfo struct {
	Ports     []int  `json:"ports,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Service   string `json:"service,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
}

const (
	FeatSize = iota
	FeatSrcPort
	FeatDstPort
	FeatProtocol
	FeatConnCount
	FeatBytesSent
	FeatBytesReceived
	FeatPacketRate
	FeatByteRate
	FeatVariant
	FeatureCount
)

type FeatureVector [FeatureCount]float64

type ScoreMethod string

const (
	MethodEnsemble  ScoreMethod = "ensemble"
	MethodUntrained ScoreMethod = "untrained"
	MethodError     ScoreMethod = "error"
)

type ScoreResult struct {
	Score      float64            `json:"score"`
	Confidence float64            `json:"confidence"`
	IsThreat   bool               `json:"is_threat"`
	SubScores  map[string]float64 `json:"sub_scores,omitempty"`
	Method     ScoreMethod        `json:"method"`
	Error      string             `json:"error,omitempty"`
}

type ScoreSample struct {
	At         time.Time `json:"at"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	Threat     bool      `json:"threat"`
}

// ThreatRecord is a point-in-time copy of an entity's posture.
type ThreatRecord struct {
	Key          EntityKey     `json:"key"`
	HitCount     int           `json:"hit_count"`
	ThreatHits   int           `json:"threat_hits"`
	Score        float64       `json:"score"`
	RecentScores []ScoreSample `json:"recent_scores,omitempty"`
	Blacklisted  bool          `json:"blacklisted"`
	FirstSeen    time.Time     `json:"first_seen"`
	LastSeen     time.Time     `json:"last_seen"`
}

type TrackerSummary struct {
	MAC       string     `json:"mac"`
	State     string     `json:"state"`
	Attempts  int        `json:"attempts"`
	LastAlert *time.Time `json:"last_alert,omitempty"`
}

type FingerprintMatch struct {
	DeviceKey  string  `json:"device_key"`
	Vendor     string  `json:"vendor"`
	DeviceType string  `json:"device_type"`
	RiskLevel  string  `json:"risk_level"`
	Confidence float64 `json:"confidence"`
	Matched    int     `json:"matched_criteria"`
	Total      int     `json:"total_criteria"`
}

type Alert struct {
	Timestamp time.Time         `json:"timestamp"`
	EntityKey string            `json:"entity_key"`
	Severity  string            `json:"severity"`
	AlertType string            `json:"alert_type"`
	Score     float64           `json:"score"`
	Rules     []string          `json:"rules"`
	Context   map[string]string `json:"context,omitempty"`
}

type ActionType string

const (
	ActionBlock   ActionType = "block"
	ActionUnblock ActionType = "unblock"
	ActionAlert   ActionType = "alert"
)

type ActionStatus string

const (
	StatusPending      ActionStatus = "pending"
	StatusPendingRetry ActionStatus = "pending-retry"
	StatusSucceeded    ActionStatus = "succeeded"
	StatusFailed       ActionStatus = "failed"
	StatusDeduplicated ActionStatus = "deduplicated"
)

// Terminal reports whether no further dispatch will happen for the status.
func (s ActionStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusDeduplicated
}

type Action struct {
	ID             string       `json:"id"`
	Type           ActionType   `json:"type"`
	Target         EntityKey    `json:"target"`
	Reason         string       `json:"reason"`
	Message        string       `json:"message,omitempty"`
	IdempotencyKey string       `json:"idempotency_key"`
	Status         ActionStatus `json:"status"`
	Attempts       int          `json:"attempts"`
	LastError      string       `json:"last_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
