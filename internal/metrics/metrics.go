// Package metrics registers the process-wide prometheus collectors,
// grouped the same way arzzra-soft_phone's pkg/dialog/metrics.go groups
// one collector struct per subsystem instead of one flat registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Calls collects active-call and outcome counters.
var Calls = struct {
	Active     prometheus.Gauge
	Started    prometheus.Counter
	Ended      *prometheus.CounterVec
	RouteCalls *prometheus.CounterVec
}{
	Active: prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "switchboard",
		Subsystem: "calls",
		Name:      "active",
		Help:      "Number of calls currently in progress.",
	}),
	Started: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "switchboard",
		Subsystem: "calls",
		Name:      "started_total",
		Help:      "Total number of INVITEs accepted as new calls.",
	}),
	Ended: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Subsystem: "calls",
		Name:      "ended_total",
		Help:      "Total number of calls ended, labeled by end reason.",
	}, []string{"reason"}),
	RouteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Subsystem: "calls",
		Name:      "route_action_total",
		Help:      "Total number of calls dispatched per routing action code.",
	}, []string{"action_code"}),
}

// RTP collects packet/byte/loss counters for the media path.
var RTP = struct {
	PacketsIn     *prometheus.CounterVec
	BytesIn       *prometheus.CounterVec
	PacketsOut    *prometheus.CounterVec
	JitterDropped *prometheus.CounterVec
	JitterReorder *prometheus.CounterVec
	JitterMS      *prometheus.GaugeVec
}{
	PacketsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Subsystem: "rtp",
		Name:      "packets_in_total",
		Help:      "RTP packets received, labeled by leg (a/b).",
	}, []string{"leg"}),
	BytesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Subsystem: "rtp",
		Name:      "bytes_in_total",
		Help:      "RTP payload bytes received, labeled by leg (a/b).",
	}, []string{"leg"}),
	PacketsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Subsystem: "rtp",
		Name:      "packets_out_total",
		Help:      "RTP packets sent, labeled by leg (a/b).",
	}, []string{"leg"}),
	JitterDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Subsystem: "rtp",
		Name:      "jitter_buffer_dropped_total",
		Help:      "Frames dropped by the jitter buffer (stale/duplicate/overflow).",
	}, []string{"reason"}),
	JitterReorder: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Subsystem: "rtp",
		Name:      "jitter_buffer_reordered_total",
		Help:      "Frames delivered out of arrival order via the jitter buffer.",
	}, []string{"leg"}),
	JitterMS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "switchboard",
		Subsystem: "rtp",
		Name:      "interarrival_jitter_ms",
		Help:      "RFC 3550 interarrival jitter estimate per call, in milliseconds.",
	}, []string{"call_id"}),
}

// Register collects REGISTER-client state counters.
var Register = struct {
	State   prometheus.Gauge
	Success prometheus.Counter
	Failure prometheus.Counter
}{
	State: prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "switchboard",
		Subsystem: "register",
		Name:      "registered",
		Help:      "1 if the REGISTER client currently holds a valid registration.",
	}),
	Success: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "switchboard",
		Subsystem: "register",
		Name:      "success_total",
		Help:      "Successful REGISTER refresh cycles.",
	}),
	Failure: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "switchboard",
		Subsystem: "register",
		Name:      "failure_total",
		Help:      "Failed REGISTER attempts (transport error or non-2xx after auth retry).",
	}),
}

// B2BUA collects outbound-leg outcome counters.
var B2BUA = struct {
	Attempts prometheus.Counter
	Answered prometheus.Counter
	Failed   *prometheus.CounterVec
}{
	Attempts: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "switchboard",
		Subsystem: "b2bua",
		Name:      "attempts_total",
		Help:      "B-leg INVITE attempts (transfer or outbound mode).",
	}),
	Answered: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "switchboard",
		Subsystem: "b2bua",
		Name:      "answered_total",
		Help:      "B-legs that reached the bridged state.",
	}),
	Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Subsystem: "b2bua",
		Name:      "failed_total",
		Help:      "B-legs that failed, labeled by cause.",
	}, []string{"cause"}),
}

func init() {
	prometheus.MustRegister(
		Calls.Active, Calls.Started, Calls.Ended, Calls.RouteCalls,
		RTP.PacketsIn, RTP.BytesIn, RTP.PacketsOut, RTP.JitterDropped, RTP.JitterReorder, RTP.JitterMS,
		Register.State, Register.Success, Register.Failure,
		B2BUA.Attempts, B2BUA.Answered, B2BUA.Failed,
	)
}
