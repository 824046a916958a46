// Package config loads the switchboard process configuration from
// environment variables; it defines no command-line flags.
package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// DialEntry is one `DIAL_<name>=<e164 prefix>:<sip uri>` dial-plan rule for
// outbound B2BUA routing.
type DialEntry struct {
	Name   string
	Prefix string
	URI    string
}

// VAD holds the energy-based voice activity detection tuning knobs consumed
// by the session coordinator's capture path (spec.md §4.5 "Capture and VAD").
type VAD struct {
	RMSThreshold  int
	StartSilence  time.Duration
	EndSilence    time.Duration
	MinSpeech     time.Duration
	MaxSpeech     time.Duration
}

// Config is the fully resolved process configuration.
type Config struct {
	// SIP transport
	SIPBindIP         string
	SIPPort           int
	SIPTLSPort        int
	RTPPort           int
	LocalIP           string
	AdvertisedIP      string
	AdvertisedRTPPort int
	SIPTCPIdleTimeout time.Duration

	LogLevel string

	// MetricsAddr serves the prometheus /metrics handler, empty disables it.
	MetricsAddr string

	// Recording / HTTP sync (external — consumed only to hand to RecordingPort)
	RecordingDir       string
	RecordingHTTPAddr  string
	RecordingBaseURL   string
	RecordingIOTimeout time.Duration

	// Call handling
	RingDuration     time.Duration
	IVRTimeout       time.Duration
	IVRMaxRetries    int
	TransferTargetURI string
	TransferTimeout  time.Duration
	SessionTimeout   time.Duration
	SessionMinSE     time.Duration

	// REGISTER client
	RegistrarHost         string
	RegistrarPort          int
	RegistrarTransport     string
	RegisterUser           string
	RegisterDomain         string
	RegisterExpires        int
	RegisterAuthUser       string
	RegisterAuthPassword   string
	RegisterContactHost    string
	RegisterContactPort    int

	// B2BUA outbound mode
	OutboundEnabled       bool
	OutboundDomain        string
	OutboundDefaultNumber string
	DialPlan              []DialEntry

	// Media
	VAD                VAD
	JitterMaxReorder   int
	RTCPInterval       time.Duration

	// External port timeouts
	AIHTTPTimeout     time.Duration
	IngestHTTPTimeout time.Duration

	PhoneLookupEnabled bool

	TLSCertPath string
	TLSKeyPath  string
	TLSCAPath   string
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envMS(key string, defMS int) time.Duration {
	return time.Duration(envInt(key, defMS)) * time.Millisecond
}

func envSec(key string, defSec int) time.Duration {
	return time.Duration(envInt(key, defSec)) * time.Second
}

// Load resolves configuration from the environment, applying spec.md §6's
// documented defaults. ADVERTISED_IP falls back to primary-interface
// autodetection when unset or unresolvable, mirroring the teacher's
// getPrimaryInterfaceIP behavior.
func Load() *Config {
	c := &Config{
		SIPBindIP:         envStr("SIP_BIND_IP", "0.0.0.0"),
		SIPPort:           envInt("SIP_PORT", 5060),
		SIPTLSPort:        envInt("SIP_TLS_PORT", 5061),
		RTPPort:           envInt("RTP_PORT", 10000),
		LocalIP:           envStr("LOCAL_IP", ""),
		AdvertisedIP:      envStr("ADVERTISED_IP", ""),
		AdvertisedRTPPort: envInt("ADVERTISED_RTP_PORT", 0),
		SIPTCPIdleTimeout: envMS("SIP_TCP_IDLE_TIMEOUT_MS", 30000),

		LogLevel: envStr("LOGLEVEL", "debug"),

		MetricsAddr: envStr("METRICS_ADDR", ""),

		RecordingDir:       envStr("RECORDING_DIR", "./recordings"),
		RecordingHTTPAddr:  envStr("RECORDING_HTTP_ADDR", ""),
		RecordingBaseURL:   envStr("RECORDING_BASE_URL", ""),
		RecordingIOTimeout: envMS("RECORDING_IO_TIMEOUT_MS", 5000),

		RingDuration:      clampMS(envInt("RING_DURATION_MS", 3000), 10000),
		IVRTimeout:        envSec("IVR_TIMEOUT_SEC", 10),
		IVRMaxRetries:     envInt("IVR_MAX_RETRIES", 2),
		TransferTargetURI: envStr("TRANSFER_TARGET_SIP_URI", ""),
		TransferTimeout:   envSec("TRANSFER_TIMEOUT_SEC", 30),
		SessionTimeout:    envSec("SESSION_TIMEOUT_SEC", 1800),
		SessionMinSE:      envSec("SESSION_MIN_SE", 90),

		RegistrarHost:       envStr("REGISTRAR_HOST", ""),
		RegistrarPort:       envInt("REGISTRAR_PORT", 5060),
		RegistrarTransport:  envStr("REGISTRAR_TRANSPORT", "udp"),
		RegisterUser:        envStr("REGISTER_USER", ""),
		RegisterDomain:      envStr("REGISTER_DOMAIN", ""),
		RegisterExpires:     envInt("REGISTER_EXPIRES", 3600),
		RegisterAuthUser:    envStr("REGISTER_AUTH_USER", ""),
		RegisterAuthPassword: envStr("REGISTER_AUTH_PASSWORD", ""),
		RegisterContactHost: envStr("REGISTER_CONTACT_HOST", ""),
		RegisterContactPort: envInt("REGISTER_CONTACT_PORT", 5060),

		OutboundEnabled:       envBool("OUTBOUND_ENABLED", false),
		OutboundDomain:        envStr("OUTBOUND_DOMAIN", ""),
		OutboundDefaultNumber: envStr("OUTBOUND_DEFAULT_NUMBER", ""),

		VAD: VAD{
			RMSThreshold: envInt("VAD_RMS_THRESHOLD", 400),
			StartSilence: envMS("VAD_START_SILENCE_MS", 200),
			EndSilence:   envMS("VAD_END_SILENCE_MS", 700),
			MinSpeech:    envMS("VAD_MIN_SPEECH_MS", 300),
			MaxSpeech:    envMS("VAD_MAX_SPEECH_MS", 15000),
		},
		JitterMaxReorder: envInt("RTP_JITTER_MAX_REORDER", 30),
		RTCPInterval:     envMS("RTCP_INTERVAL_MS", 5000),

		AIHTTPTimeout:     envMS("AI_HTTP_TIMEOUT_MS", 20000),
		IngestHTTPTimeout: envMS("INGEST_HTTP_TIMEOUT_MS", 5000),

		PhoneLookupEnabled: envBool("PHONE_LOOKUP_ENABLED", false),

		TLSCertPath: envStr("TLS_CERT_PATH", ""),
		TLSKeyPath:  envStr("TLS_KEY_PATH", ""),
		TLSCAPath:   envStr("TLS_CA_PATH", ""),
	}

	if c.AdvertisedIP == "" || !isValidAddress(c.AdvertisedIP) {
		c.AdvertisedIP = getPrimaryInterfaceIP()
	}
	if c.LocalIP == "" {
		c.LocalIP = c.AdvertisedIP
	}
	if c.AdvertisedRTPPort == 0 {
		c.AdvertisedRTPPort = c.RTPPort
	}
	if c.RegisterContactHost == "" {
		c.RegisterContactHost = c.AdvertisedIP
	}

	c.DialPlan = parseDialPlan()

	return c
}

func clampMS(ms, capMS int) time.Duration {
	if ms > capMS {
		ms = capMS
	}
	return time.Duration(ms) * time.Millisecond
}

// parseDialPlan scans the environment for DIAL_<name>=<prefix>:<uri> entries,
// the same prefixed-group-of-env-vars idiom the teacher uses for
// RTPMANAGER_ADDRS node=addr parsing, generalized to an arbitrary name key.
func parseDialPlan() []DialEntry {
	var entries []DialEntry
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], "DIAL_") {
			continue
		}
		name := strings.TrimPrefix(parts[0], "DIAL_")
		fields := strings.SplitN(parts[1], ":", 2)
		if len(fields) != 2 {
			continue
		}
		entries = append(entries, DialEntry{Name: name, Prefix: fields[0], URI: fields[1]})
	}
	return entries
}

func isValidAddress(addr string) bool {
	if ip := net.ParseIP(addr); ip != nil {
		return true
	}
	if ips, err := net.LookupIP(addr); err == nil && len(ips) > 0 {
		return true
	}
	return false
}

func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}
