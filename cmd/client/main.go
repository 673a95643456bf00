package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/karyven/peerchat/internal/adapters/http"
	"github.com/karyven/peerchat/internal/app"
	"github.com/karyven/peerchat/internal/config"
	"github.com/karyven/peerchat/internal/core"
	"github.com/karyven/peerchat/internal/domain"
	"github.com/karyven/peerchat/internal/media"
	"github.com/karyven/peerchat/internal/rtc"
	"github.com/karyven/peerchat/internal/session"
	sigclient "github.com/karyven/peerchat/internal/signal"
)

// logSink writes state snapshots to the log; a real renderer replaces
// it through the same interface.
type logSink struct{}

func (logSink) Publish(s core.Snapshot) {
	log.Debug().
		Str("module", "sink").
		Str("state", string(s.State)).
		Str("role", string(s.Role)).
		Str("partner", string(s.Partner)).
		Bool("loading", s.Loading).
		Msg("state")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	acquirer, err := media.NewAcquirer(media.Options{ReleaseGrace: cfg.ReleaseGrace})
	if err != nil {
		log.Fatal().Err(err).Msg("media engine init")
	}

	rtcConfig := rtc.DefaultConfig(cfg.STUNServers)
	newLink := func(partner domain.TransportID, tracks []webrtc.TrackLocal) (core.PeerTransport, error) {
		return rtc.NewLink(acquirer.API(), rtcConfig, partner, tracks)
	}

	selfID := domain.TransportID(uuid.NewString())

	// The read pump can deliver before the manager exists; drop those
	// early frames instead of dereferencing nil.
	var mgrRef atomic.Pointer[app.Manager]
	handler := func(t domain.EventType, data []byte) {
		if m := mgrRef.Load(); m != nil {
			m.HandleEnvelope(t, data)
		}
	}
	bus, err := sigclient.Dial(ctx, cfg.SignalURL, handler, sigclient.Options{
		WriteTimeout: cfg.WriteTimeout,
		PingPeriod:   cfg.PingPeriod,
	})
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.SignalURL).Msg("signaling dial")
	}

	mgr := app.NewManager(app.Deps{
		SelfID:  selfID,
		Bus:     bus,
		Sink:    logSink{},
		Media:   acquirer,
		NewLink: newLink,
		SessionCfg: session.Config{
			Facing:          domain.Facing(cfg.Facing),
			RestartCooldown: cfg.RestartCooldown,
			MaxRestarts:     cfg.MaxRestarts,
			NextDebounce:    cfg.NextDebounce,
			MeterInterval:   cfg.MeterInterval,
		},
	})
	mgrRef.Store(mgr)
	mgr.OnIncoming(func(ic *app.IncomingCall) {
		// Headless build: log invitations, let tooling decide via the
		// status adapter.
		log.Info().Str("module", "main").
			Str("call_id", string(ic.CallID)).
			Str("from", string(ic.From)).
			Str("nick", ic.FromNick).
			Msg("incoming call")
	})

	r := router.SetupRouter(cfg, mgr)
	addr := fmt.Sprintf(":%d", cfg.StatusPort)
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		log.Info().Str("addr", addr).Msg("status server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("status server error")
		}
	}()

	mgr.StartRandom(ctx)

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	mgr.Stop(shutdownCtx)
	bus.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status server forced to shutdown")
	}
	log.Info().Msg("Exited gracefully")
}
