package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Run statuses. Pending is the only creation state; completed, failed and
// cancelled are terminal and absorbing.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusStopping  = "stopping"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

func IsTerminalStatus(s string) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func IsValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusRunning, StatusStopping, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Run modes
const (
	ModeContinuous = "continuous"
	ModeFixed      = "fixed"
)

// Proxy protocols
const (
	ProtocolHTTP   = "http"
	ProtocolHTTPS  = "https"
	ProtocolSOCKS5 = "socks5"
)

func IsValidProtocol(p string) bool {
	return p == ProtocolHTTP || p == ProtocolHTTPS || p == ProtocolSOCKS5
}

// Provider is a proxy vendor. Deleting a provider takes its proxies (and
// transitively their runs) with it.
type Provider struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	Website   string    `json:"website"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Proxies []ProxyEndpoint `gorm:"foreignKey:ProviderID;constraint:OnDelete:CASCADE" json:"-"`
}

func (p *Provider) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

func (p Provider) PageKey() (string, time.Time) {
	return p.ID, p.CreatedAt
}

// ProxyEndpoint is one network endpoint under a provider. The password is
// stored only as a vault token; read paths expose has_password instead.
type ProxyEndpoint struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	ProviderID      string    `gorm:"index;not null" json:"provider_id"`
	Label           string    `gorm:"not null" json:"label"`
	Host            string    `gorm:"not null" json:"host"`
	Port            int       `gorm:"not null" json:"port"`
	Protocol        string    `gorm:"default:http" json:"protocol"`
	AuthUser        string    `json:"auth_user"`
	AuthPassEnc     string    `json:"-"`
	ExpectedCountry string    `json:"expected_country"`
	ExpectedCity    string    `json:"expected_city"`
	IsDedicated     bool      `json:"is_dedicated"`
	IsActive        bool      `gorm:"default:true" json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Runs []TestRun `gorm:"foreignKey:ProxyID;constraint:OnDelete:CASCADE" json:"-"`
}

func (p *ProxyEndpoint) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

func (p ProxyEndpoint) PageKey() (string, time.Time) {
	return p.ID, p.CreatedAt
}

// RunConfig is the configuration snapshot captured when a run is created.
// Immutable afterwards; later config changes never alter an existing run.
type RunConfig struct {
	HTTPRPM             int `gorm:"column:http_rpm" json:"http_rpm"`
	HTTPSRPM            int `gorm:"column:https_rpm" json:"https_rpm"`
	WSMessagesPerMinute int `gorm:"column:ws_messages_per_minute" json:"ws_messages_per_minute"`
	RequestTimeoutMs    int `gorm:"column:request_timeout_ms" json:"request_timeout_ms"`
	WarmupRequests      int `gorm:"column:warmup_requests" json:"warmup_requests"`
	SummaryIntervalSec  int `gorm:"column:summary_interval_sec" json:"summary_interval_sec"`
}

// TestRun is one measurement session against one proxy endpoint.
type TestRun struct {
	ID      string    `gorm:"primaryKey;size:36" json:"id"`
	ProxyID string    `gorm:"index;not null" json:"proxy_id"`
	RunMode string    `gorm:"default:continuous" json:"run_mode"`
	Config  RunConfig `gorm:"embedded" json:"config_snapshot"`
	Status  string    `gorm:"default:pending;index" json:"status"`

	TotalHTTPSamples  int `gorm:"column:total_http_samples" json:"total_http_samples"`
	TotalHTTPSSamples int `gorm:"column:total_https_samples" json:"total_https_samples"`
	TotalWSSamples    int `gorm:"column:total_ws_samples" json:"total_ws_samples"`

	StartedAt    *time.Time `json:"started_at"`
	StoppedAt    *time.Time `json:"stopped_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	ErrorMessage string     `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`

	Samples []HttpSample `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"-"`
	Summary *RunSummary  `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"-"`
}

func (r *TestRun) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

func (r TestRun) PageKey() (string, time.Time) {
	return r.ID, r.CreatedAt
}

// HttpSample is one probe result. Append-only: rows are never updated and only
// disappear when their run is deleted. Seq comes from the worker verbatim;
// display ordering is by measured_at, not seq.
type HttpSample struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	RunID          string     `gorm:"index;not null" json:"run_id"`
	Seq            int64      `json:"seq"`
	IsWarmup       bool       `json:"is_warmup"`
	TargetURL      string     `gorm:"not null" json:"target_url"`
	Method         string     `gorm:"default:GET" json:"method"`
	IsHTTPS        bool       `json:"is_https"`
	StatusCode     *int       `json:"status_code"`
	ErrorType      *string    `json:"error_type"`
	ErrorMessage   *string    `json:"error_message"`
	TCPConnectMs   *float64   `json:"tcp_connect_ms"`
	TLSHandshakeMs *float64   `json:"tls_handshake_ms"`
	TTFBMs         *float64   `json:"ttfb_ms"`
	TotalMs        *float64   `json:"total_ms"`
	TLSVersion     *string    `json:"tls_version"`
	TLSCipher      *string    `json:"tls_cipher"`
	BytesSent      int64      `json:"bytes_sent"`
	BytesReceived  int64      `json:"bytes_received"`
	MeasuredAt     time.Time  `gorm:"index" json:"measured_at"`
}

func (s *HttpSample) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.MeasuredAt.IsZero() {
		s.MeasuredAt = time.Now().UTC()
	}
	return nil
}

func (s HttpSample) PageKey() (string, time.Time) {
	return s.ID, s.MeasuredAt
}

// RunSummary holds the pre-aggregated metrics for a run, exactly one row per
// run. The worker replaces it wholesale on every report; fields are never
// merged individually.
type RunSummary struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	RunID   string `gorm:"uniqueIndex;not null" json:"run_id"`
	ProxyID string `gorm:"index;not null" json:"proxy_id"`

	HTTPSampleCount  int `gorm:"column:http_sample_count" json:"http_sample_count"`
	HTTPSSampleCount int `gorm:"column:https_sample_count" json:"https_sample_count"`
	WSSampleCount    int `gorm:"column:ws_sample_count" json:"ws_sample_count"`
	HTTPSuccessCount int `gorm:"column:http_success_count" json:"http_success_count"`
	HTTPErrorCount   int `gorm:"column:http_error_count" json:"http_error_count"`

	UptimeRatio *float64 `json:"uptime_ratio"`

	TTFBAvgMs *float64 `gorm:"column:ttfb_avg_ms" json:"ttfb_avg_ms"`
	TTFBP50Ms *float64 `gorm:"column:ttfb_p50_ms" json:"ttfb_p50_ms"`
	TTFBP95Ms *float64 `gorm:"column:ttfb_p95_ms" json:"ttfb_p95_ms"`
	TTFBP99Ms *float64 `gorm:"column:ttfb_p99_ms" json:"ttfb_p99_ms"`
	TTFBMaxMs *float64 `gorm:"column:ttfb_max_ms" json:"ttfb_max_ms"`

	TotalAvgMs *float64 `gorm:"column:total_avg_ms" json:"total_avg_ms"`
	TotalP50Ms *float64 `gorm:"column:total_p50_ms" json:"total_p50_ms"`
	TotalP95Ms *float64 `gorm:"column:total_p95_ms" json:"total_p95_ms"`
	TotalP99Ms *float64 `gorm:"column:total_p99_ms" json:"total_p99_ms"`

	JitterMs *float64 `json:"jitter_ms"`

	TLSP50Ms *float64 `gorm:"column:tls_p50_ms" json:"tls_p50_ms"`
	TLSP95Ms *float64 `gorm:"column:tls_p95_ms" json:"tls_p95_ms"`
	TLSP99Ms *float64 `gorm:"column:tls_p99_ms" json:"tls_p99_ms"`

	TCPConnectP50Ms *float64 `gorm:"column:tcp_connect_p50_ms" json:"tcp_connect_p50_ms"`
	TCPConnectP95Ms *float64 `gorm:"column:tcp_connect_p95_ms" json:"tcp_connect_p95_ms"`
	TCPConnectP99Ms *float64 `gorm:"column:tcp_connect_p99_ms" json:"tcp_connect_p99_ms"`

	WSSuccessCount int      `gorm:"column:ws_success_count" json:"ws_success_count"`
	WSErrorCount   int      `gorm:"column:ws_error_count" json:"ws_error_count"`
	WSRTTAvgMs     *float64 `gorm:"column:ws_rtt_avg_ms" json:"ws_rtt_avg_ms"`
	WSRTTP95Ms     *float64 `gorm:"column:ws_rtt_p95_ms" json:"ws_rtt_p95_ms"`
	WSDropRate     *float64 `gorm:"column:ws_drop_rate" json:"ws_drop_rate"`
	WSAvgHoldMs    *float64 `gorm:"column:ws_avg_hold_ms" json:"ws_avg_hold_ms"`

	TotalBytesSent     int64    `json:"total_bytes_sent"`
	TotalBytesReceived int64    `json:"total_bytes_received"`
	AvgThroughputBps   *float64 `json:"avg_throughput_bps"`

	IPClean    *bool `json:"ip_clean"`
	IPGeoMatch *bool `json:"ip_geo_match"`
	IPStable   *bool `json:"ip_stable"`

	ScoreUptime   *float64 `json:"score_uptime"`
	ScoreLatency  *float64 `json:"score_latency"`
	ScoreJitter   *float64 `json:"score_jitter"`
	ScoreWS       *float64 `json:"score_ws"`
	ScoreSecurity *float64 `json:"score_security"`
	ScoreTotal    *float64 `json:"score_total"`

	ComputedAt time.Time `json:"computed_at"`
}

func (s *RunSummary) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

func (s RunSummary) PageKey() (string, time.Time) {
	return s.ID, s.ComputedAt
}
