// Command tutor runs a language-tutoring conversation session with the
// LinguaKit backend and serves a local dashboard for driving it.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/linguakit/go-linguakit/internal/config"
	"github.com/linguakit/go-linguakit/internal/log"
	"github.com/linguakit/go-linguakit/pkg/audioio"
	"github.com/linguakit/go-linguakit/pkg/auth"
	"github.com/linguakit/go-linguakit/pkg/completion"
	"github.com/linguakit/go-linguakit/pkg/session"
	"github.com/linguakit/go-linguakit/pkg/web"
)

func main() {
	language := flag.String("language", "", "Target language (overrides LINGUAKIT_LANGUAGE)")
	level := flag.String("level", "", "Proficiency level (overrides LINGUAKIT_LEVEL)")
	resume := flag.String("resume", "", "Conversation ID to resume")
	record := flag.Bool("record", false, "Start recording as soon as the session is ready")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Init("info")
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}
	log.Init(cfg.LogLevel)
	logger := log.L()

	if *language != "" {
		cfg.Language = *language
	}
	if *level != "" {
		cfg.Level = *level
	}
	if *resume != "" {
		cfg.ConversationID = *resume
	}

	audioCfg := audioio.DefaultConfig()
	if cfg.SampleRate > 0 {
		audioCfg.SampleRate = cfg.SampleRate
	}

	api := completion.New(cfg.APIBaseURL, auth.StaticToken(cfg.Token),
		completion.WithLogger(logger))

	sess, err := session.New(
		session.WithServerURL(cfg.ServerURL),
		session.WithLanguage(cfg.Language),
		session.WithLevel(cfg.Level),
		session.WithContext(cfg.Context),
		session.WithCurriculumID(cfg.CurriculumID),
		session.WithConversationID(cfg.ConversationID),
		session.WithVAD(session.VADSettings{
			Type:      cfg.VADType,
			Eagerness: cfg.VADEagerness,
		}),
		session.WithAudioConfig(audioCfg),
		session.WithLogger(logger),
		session.WithCompleteFunc(completeFunc(api)),
	)
	if err != nil {
		log.Error("session setup failed", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(cfg.WebPort, sess, logger)
	sess.OnStateChange(func(session.State) {
		server.PublishState(sess.Snapshot())
	})
	sess.OnNotify(server.PublishNotification)
	server.StartAsync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sess.Start(ctx); err != nil {
		if errors.Is(err, session.ErrDeviceUnavailable) {
			log.Error("audio device unavailable", "error", err)
			os.Exit(1)
		}
		// Connection failures are not fatal: the dashboard can trigger a
		// reconnect while the session waits with its devices held.
		log.Warn("backend not reachable yet", "error", err)
	}

	if *record && sess.State() == session.StateReadyIdle {
		if err := sess.StartRecording(); err != nil {
			log.Warn("could not start recording", "error", err)
		}
	}

	log.Info("tutor running",
		"dashboard", "http://localhost:"+cfg.WebPort,
		"language", cfg.Language,
		"level", cfg.Level)

	<-ctx.Done()

	log.Info("shutting down")
	sess.End()
	if err := server.Shutdown(); err != nil {
		log.Warn("web shutdown failed", "error", err)
	}
}

// completeFunc adapts the REST client to the session's completion hook:
// lesson sessions complete through the progress record, free conversations
// through the conversation itself.
func completeFunc(api *completion.Client) session.CompleteFunc {
	return func(ctx context.Context, conversationID string, progress *session.LessonProgress) error {
		if progress != nil && progress.ProgressID != "" {
			summary, err := api.CompleteLesson(ctx, progress.ProgressID)
			if err != nil {
				return err
			}
			log.Info("lesson completed", "turns", summary.Turns, "mistakes", summary.MistakeCount)
			return nil
		}
		summary, err := api.CompleteConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		log.Info("conversation completed", "turns", summary.Turns, "mistakes", summary.MistakeCount)
		return nil
	}
}
