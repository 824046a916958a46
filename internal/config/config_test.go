package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearSwitchboardEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		for _, prefix := range []string{
			"SIP_", "RTP_", "LOCAL_IP", "ADVERTISED_", "LOGLEVEL",
			"METRICS_ADDR", "RECORDING_", "RING_", "IVR_", "TRANSFER_",
			"SESSION_", "REGISTRAR_", "REGISTER_", "OUTBOUND_", "VAD_",
			"AI_HTTP", "INGEST_HTTP", "PHONE_LOOKUP", "TLS_", "DIAL_",
			"RTCP_INTERVAL_MS",
		} {
			if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
				name, _, _ := splitEnv(kv)
				os.Unsetenv(name)
			}
		}
	}
}

func splitEnv(kv string) (name, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return kv, "", false
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearSwitchboardEnv(t)

	c := Load()

	assert.Equal(t, 5060, c.SIPPort)
	assert.Equal(t, 10000, c.RTPPort)
	assert.Equal(t, 3*time.Second, c.RingDuration)
	assert.Equal(t, 10*time.Second, c.IVRTimeout)
	assert.Equal(t, 2, c.IVRMaxRetries)
	assert.Equal(t, 30, c.JitterMaxReorder)
	assert.Equal(t, 5*time.Second, c.RTCPInterval)
	assert.Equal(t, 400, c.VAD.RMSThreshold)
	assert.NotEmpty(t, c.AdvertisedIP, "falls back to primary-interface autodetection")
}

func TestRingDurationClampedTo10Seconds(t *testing.T) {
	clearSwitchboardEnv(t)
	os.Setenv("RING_DURATION_MS", "60000")
	defer os.Unsetenv("RING_DURATION_MS")

	c := Load()
	assert.Equal(t, 10*time.Second, c.RingDuration)
}

func TestParseDialPlan(t *testing.T) {
	clearSwitchboardEnv(t)
	os.Setenv("DIAL_pstn", "1:sip:gw@203.0.113.1")
	defer os.Unsetenv("DIAL_pstn")

	c := Load()
	require.Len(t, c.DialPlan, 1)
	assert.Equal(t, "pstn", c.DialPlan[0].Name)
	assert.Equal(t, "1", c.DialPlan[0].Prefix)
	assert.Equal(t, "sip:gw@203.0.113.1", c.DialPlan[0].URI)
}

func TestAdvertisedRTPPortDefaultsToRTPPort(t *testing.T) {
	clearSwitchboardEnv(t)
	os.Setenv("RTP_PORT", "20000")
	defer os.Unsetenv("RTP_PORT")

	c := Load()
	assert.Equal(t, 20000, c.AdvertisedRTPPort)
}
