// Command switchboard runs the SIP B2BUA, media engine, and IVR/voicebot
// call handler of spec.md: one process, one shared SIP transport, one
// shared RTP/RTCP socket, one actor goroutine per call. Grounded on
// cmd/signaling/main.go's config->logger->server->signal-wait shape.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sebacius/switchboard/internal/ai"
	"github.com/sebacius/switchboard/internal/b2bua"
	"github.com/sebacius/switchboard/internal/banner"
	"github.com/sebacius/switchboard/internal/calllog"
	"github.com/sebacius/switchboard/internal/config"
	"github.com/sebacius/switchboard/internal/logger"
	"github.com/sebacius/switchboard/internal/metrics"
	"github.com/sebacius/switchboard/internal/routing"
	"github.com/sebacius/switchboard/internal/rtp"
	"github.com/sebacius/switchboard/internal/session"
	sipcore "github.com/sebacius/switchboard/internal/sip"
	"github.com/sebacius/switchboard/internal/sip/register"
)

const contactUser = "switchboard"

func main() {
	cfg := config.Load()

	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)
	log := slog.Default()

	banner.Print("Switchboard", []banner.ConfigLine{
		{Label: "SIP", Value: fmt.Sprintf("%s:%d", cfg.SIPBindIP, cfg.SIPPort)},
		{Label: "RTP", Value: fmt.Sprintf("%s:%d", cfg.AdvertisedIP, cfg.AdvertisedRTPPort)},
		{Label: "Advertised IP", Value: cfg.AdvertisedIP},
		{Label: "Recording dir", Value: cfg.RecordingDir},
		{Label: "Outbound enabled", Value: fmt.Sprintf("%v", cfg.OutboundEnabled)},
	})

	if err := run(cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var bindIP net.IP
	if cfg.SIPBindIP != "" && cfg.SIPBindIP != "0.0.0.0" {
		bindIP = net.ParseIP(cfg.SIPBindIP)
	}

	rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: bindIP, Port: cfg.RTPPort})
	if err != nil {
		return fmt.Errorf("switchboard: bind rtp socket: %w", err)
	}
	defer rtpConn.Close()

	rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: bindIP, Port: cfg.RTPPort + 1})
	if err != nil {
		return fmt.Errorf("switchboard: bind rtcp socket: %w", err)
	}
	defer rtcpConn.Close()

	registry := session.NewRegistry()
	rtpTable := rtp.NewTable(rtpConn)
	demux := rtp.NewDemux(log.With("component", "rtp"), rtpConn, rtcpConn, registry, cfg.JitterMaxReorder)

	go func() {
		if err := demux.ServeRTP(); err != nil {
			log.Error("rtp demux stopped", "error", err)
		}
	}()
	go func() {
		if err := demux.ServeRTCP(); err != nil {
			log.Error("rtcp demux stopped", "error", err)
		}
	}()

	transport, err := sipcore.NewTransport(log.With("component", "sip"), sipcore.Config{
		BindAddr:     cfg.SIPBindIP,
		Port:         cfg.SIPPort,
		AdvertisedIP: cfg.AdvertisedIP,
		ContactUser:  contactUser,
	})
	if err != nil {
		return fmt.Errorf("switchboard: create sip transport: %w", err)
	}
	defer transport.Close()

	originator := b2bua.NewOriginator(log.With("component", "b2bua"), transport.UA, transport.Client, b2bua.OriginatorConfig{
		AdvertisedIP:  cfg.AdvertisedIP,
		ContactUser:   contactUser,
		ContactPort:   cfg.SIPPort,
		Transport:     "udp",
		InviteTimeout: cfg.TransferTimeout,
	})

	routingPort := routing.NewFake()
	callLogPort := calllog.NewFake()
	aiPort := ai.NewFake()

	newSessionConfig := func(d *sipcore.Dialog, caller string) session.Config {
		return session.Config{
			Dialog:         d,
			SipMgr:         transport.Dialogs,
			RTPTable:       rtpTable,
			Demux:          demux,
			Registry:       registry,
			RTPHost:        cfg.AdvertisedIP,
			RTPPort:        cfg.AdvertisedRTPPort,
			CallerNumber:   caller,
			RecordingDir:   cfg.RecordingDir,
			RoutingPort:    routingPort,
			CallLogPort:    callLogPort,
			AI:             aiPort,
			BLegOriginator: originator,

			PlaybackTick:    20 * time.Millisecond,
			RingMaxDuration: cfg.RingDuration,
			IVRTimeout:      cfg.IVRTimeout,
			IVRMaxRetries:   cfg.IVRMaxRetries,
			RTCPInterval:    cfg.RTCPInterval,

			VAD: session.VADConfig{
				RMSThreshold:   float64(cfg.VAD.RMSThreshold),
				StartSilenceMS: int(cfg.VAD.StartSilence / time.Millisecond),
				EndSilenceMS:   int(cfg.VAD.EndSilence / time.Millisecond),
				MinSpeechMS:    int(cfg.VAD.MinSpeech / time.Millisecond),
				MaxSpeechMS:    int(cfg.VAD.MaxSpeech / time.Millisecond),
			},

			Log: log,
		}
	}

	transport.OnInvite(func(callCtx context.Context, d *sipcore.Dialog, req *sip.Request, tx sip.ServerTransaction) {
		caller := "anonymous"
		if from := req.From(); from != nil && from.Address.User != "" {
			caller = from.Address.User
		}

		sess := session.New(newSessionConfig(d, caller))
		registry.Add(d.CallID, sess)

		metrics.Calls.Active.Inc()
		metrics.Calls.Started.Inc()

		go func() {
			sess.Run(callCtx)
			registry.Remove(d.CallID)
			metrics.Calls.Active.Dec()
		}()
	})

	transport.Dialogs.SetOnTerminated(func(d *sipcore.Dialog) {
		sess, ok := registry.Get(d.CallID)
		if !ok {
			return
		}
		switch d.TerminateReason {
		case sipcore.ReasonCancel:
			sess.Post("cancel", nil)
		case sipcore.ReasonRemoteBYE, sipcore.ReasonLocalBYE:
			sess.Post("dialog_bye", nil)
		default:
			sess.Post("app_hangup", nil)
		}
	})

	if cfg.RegistrarHost != "" {
		regClient := register.New(log.With("component", "register"), transport.UA, transport.Client, register.Config{
			RegistrarHost: cfg.RegistrarHost,
			RegistrarPort: cfg.RegistrarPort,
			Transport:     cfg.RegistrarTransport,
			User:          cfg.RegisterUser,
			Domain:        cfg.RegisterDomain,
			Expires:       cfg.RegisterExpires,
			AuthUser:      cfg.RegisterAuthUser,
			AuthPassword:  cfg.RegisterAuthPassword,
			ContactHost:   cfg.RegisterContactHost,
			ContactPort:   cfg.RegisterContactPort,
		})
		regClient.OnStateChange(func(st register.State) {
			if st.Status == register.StatusRegistered {
				metrics.Register.State.Set(1)
				metrics.Register.Success.Inc()
			} else {
				metrics.Register.State.Set(0)
				if st.Status == register.StatusFailed {
					metrics.Register.Failure.Inc()
				}
			}
		})
		go regClient.Run(ctx)
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- transport.ListenAndServe(ctx, "udp", fmt.Sprintf("%s:%d", cfg.SIPBindIP, cfg.SIPPort))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			log.Error("sip transport error", "error", err)
		}
	}

	cancel()
	time.Sleep(1 * time.Second)
	return nil
}
