package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/VoiceClient/internal/adapters/http"
	"github.com/dkeye/VoiceClient/internal/adapters/rtc"
	sigclient "github.com/dkeye/VoiceClient/internal/adapters/signal"
	"github.com/dkeye/VoiceClient/internal/app/engine"
	"github.com/dkeye/VoiceClient/internal/app/room"
	"github.com/dkeye/VoiceClient/internal/config"
	"github.com/dkeye/VoiceClient/internal/core"
)

var errSessionEnded = errors.New("session ended")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("bad flags")
	}
	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("voiceclient stopped")
		os.Exit(1)
	}
	log.Info().Msg("voiceclient exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	rt, err := rtc.AcquireRuntime()
	if err != nil {
		return err
	}
	defer rt.Release()

	sc := sigclient.NewClient(cfg.Signal, sigclient.NewWSDialer(cfg.Signal.JoinTimeout))
	eng := engine.New(cfg.Engine, cfg.ICEServers, sc, rtc.NewFactory(rt))
	defer eng.Close()
	rm := room.New(cfg.Room, eng)
	defer rm.Close()

	events := rm.Events()
	defer events.Close()

	join, err := rm.Connect(ctx, core.JoinParams{URL: cfg.URL, Token: cfg.Token})
	if err != nil {
		return err
	}
	log.Info().Str("room", string(join.Room.ID)).Str("participant", string(join.Participant.SID)).Msg("joined")
	if cfg.Name != "" {
		if err := rm.SetMetadata(cfg.Name, join.Participant.Metadata, join.Participant.Attributes); err != nil {
			log.Warn().Err(err).Msg("failed to set name")
		}
	}

	srv := &http.Server{
		Addr:    cfg.StatusAddr,
		Handler: router.SetupRouter(cfg, rm),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.StatusAddr).Msg("status api started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return logEvents(gctx, events.C())
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		rm.Leave("client shutdown")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, errSessionEnded) {
		return err
	}
	return nil
}

// logEvents writes every public room event to the log until ctx ends or
// the session reaches a terminal state.
func logEvents(ctx context.Context, events <-chan room.Event) error {
	logger := log.With().Str("module", "cmd.voiceclient").Logger()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e := logger.Info().Str("event", ev.Name())
			switch ev := ev.(type) {
			case room.ConnectionStateChanged:
				e = e.Stringer("state", ev.State).AnErr("cause", ev.Err).Str("reason", ev.Reason)
				e.Send()
				if ev.State.Terminal() {
					if ev.Err != nil {
						return ev.Err
					}
					return errSessionEnded
				}
				continue
			case room.ParticipantConnected:
				e = e.Str("participant", string(ev.Participant.SID)).Str("identity", string(ev.Participant.Identity))
			case room.ParticipantDisconnected:
				e = e.Str("participant", string(ev.Participant.SID))
			case room.TrackPublished:
				e = e.Str("participant", string(ev.Publication.Participant)).Str("track", string(ev.Publication.Track.SID))
			case room.TrackUnpublished:
				e = e.Str("participant", string(ev.Publication.Participant)).Str("track", string(ev.Publication.Track.SID))
			case room.TrackSubscribed:
				e = e.Str("track", string(ev.Publication.Track.SID))
			case room.TrackMuted:
				e = e.Str("participant", string(ev.Participant)).Str("track", string(ev.Publication.Info().SID))
			case room.TrackUnmuted:
				e = e.Str("participant", string(ev.Participant)).Str("track", string(ev.Publication.Info().SID))
			case room.DataReceived:
				e = e.Str("participant", string(ev.Participant)).Str("topic", ev.Topic).Int("bytes", len(ev.Payload))
			}
			e.Send()
		}
	}
}
