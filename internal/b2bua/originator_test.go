package b2bua

import (
	"log/slog"
	"testing"
	"time"

	"github.com/icholy/digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOriginator() *Originator {
	return NewOriginator(slog.Default(), nil, nil, OriginatorConfig{
		AdvertisedIP: "203.0.113.5",
		ContactUser:  "switchboard",
		ContactPort:  5060,
		Transport:    "udp",
	})
}

func TestNewOriginatorDefaultsInviteTimeout(t *testing.T) {
	o := NewOriginator(slog.Default(), nil, nil, OriginatorConfig{})
	assert.Equal(t, 30*time.Second, o.cfg.InviteTimeout)
}

func TestBuildINVITESetsCoreHeaders(t *testing.T) {
	o := newTestOriginator()
	leg := NewOutboundLeg("rtp-key")
	defer leg.Destroy()
	leg.setCallID("call-abc")

	req := OriginateRequest{
		TargetURI:    "sip:+15551234567@198.51.100.1:5060",
		CallerID:     "switchboard",
		CallerName:   "Front Desk",
		LocalRTPHost: "203.0.113.5",
		LocalRTPPort: 20000,
	}

	invite, err := o.buildINVITE(leg, req, 1)
	require.NoError(t, err)

	assert.Equal(t, "sip:+15551234567@198.51.100.1:5060", invite.Recipient.String())
	require.NotNil(t, invite.CallID())
	assert.Equal(t, "call-abc", string(*invite.CallID()))

	from := invite.From()
	require.NotNil(t, from)
	assert.Equal(t, "switchboard", from.Address.User)
	tag, ok := from.Params.Get("tag")
	require.True(t, ok)
	assert.NotEmpty(t, tag)

	cseq := invite.CSeq()
	require.NotNil(t, cseq)
	assert.Equal(t, uint32(1), cseq.SeqNo)

	assert.Contains(t, string(invite.Body()), "m=audio 20000 RTP/AVP 0")
}

func TestBuildINVITEReusesLocalTagAcrossRetries(t *testing.T) {
	o := newTestOriginator()
	leg := NewOutboundLeg("rtp-key")
	defer leg.Destroy()
	leg.setCallID("call-retry")

	req := OriginateRequest{TargetURI: "sip:bob@198.51.100.1", LocalRTPHost: "203.0.113.5", LocalRTPPort: 20000}

	first, err := o.buildINVITE(leg, req, 1)
	require.NoError(t, err)
	firstTag, _ := first.From().Params.Get("tag")

	second, err := o.buildINVITE(leg, req, 2)
	require.NoError(t, err)
	secondTag, _ := second.From().Params.Get("tag")

	assert.Equal(t, firstTag, secondTag, "retried INVITE within the same dialog attempt must keep the From tag stable")
}

func TestBuildINVITERejectsInvalidTargetURI(t *testing.T) {
	o := newTestOriginator()
	leg := NewOutboundLeg("rtp-key")
	defer leg.Destroy()

	_, err := o.buildINVITE(leg, OriginateRequest{TargetURI: "not a uri"}, 1)
	assert.Error(t, err)
}

func TestChallengeCacheRoundTrip(t *testing.T) {
	o := newTestOriginator()

	_, ok := o.cachedChallenge("www")
	assert.False(t, ok)

	chal := &digest.Challenge{Realm: "switchboard", Nonce: "abc123"}
	o.cacheChallenge("www", chal)

	entry, ok := o.cachedChallenge("www")
	require.True(t, ok)
	assert.Same(t, chal, entry.challenge)
}

func TestLegTrackingAddGetForget(t *testing.T) {
	o := newTestOriginator()
	leg := NewOutboundLeg("rtp-key")
	defer leg.Destroy()
	leg.setCallID("call-track")

	o.mu.Lock()
	o.legs[leg.id] = leg
	o.mu.Unlock()

	got, ok := o.GetLeg(leg.id)
	require.True(t, ok)
	assert.Same(t, leg, got)

	byCallID, ok := o.GetLegByCallID("call-track")
	require.True(t, ok)
	assert.Same(t, leg, byCallID)

	_, ok = o.GetLegByCallID("no-such-call")
	assert.False(t, ok)

	o.Forget(leg.id)
	_, ok = o.GetLeg(leg.id)
	assert.False(t, ok)
}

func TestBuildSDPOfferIsPCMUOnly(t *testing.T) {
	body := buildSDPOffer("203.0.113.5", 20000)
	assert.Contains(t, body, "c=IN IP4 203.0.113.5")
	assert.Contains(t, body, "m=audio 20000 RTP/AVP 0")
	assert.Contains(t, body, "a=rtpmap:0 PCMU/8000")
}
