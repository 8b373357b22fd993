package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxa-ai/voxa/pkg/adapters/tts"
	"github.com/voxa-ai/voxa/pkg/llm"
	"github.com/voxa-ai/voxa/pkg/logging"
	"github.com/voxa-ai/voxa/pkg/session"
	"github.com/voxa-ai/voxa/pkg/transports"
)

// Engine owns the room-facing control surface: one session per subscribed
// participant, torn down on disconnect or engine stop. Sessions are isolated;
// one failing never touches another.
type Engine struct {
	cfg      Config
	sttFn    session.STTFactory
	synth    tts.Synthesizer
	adapter  llm.StreamAdapter
	sessions *session.Registry
	logger   *slog.Logger
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	logging.SetDefault(cfg.LogLevel)

	providers := opts.Providers
	if providers == nil {
		providers = DefaultRegistry()
	}
	sttFn, err := providers.BuildSTTFactory(cfg)
	if err != nil {
		return nil, err
	}
	synth, err := providers.BuildTTS(cfg)
	if err != nil {
		return nil, err
	}
	adapter, err := providers.BuildLLM(cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("voxa_init",
		"environment", cfg.Environment,
		"stt_provider", cfg.Vendors.STT.Provider,
		"tts_provider", cfg.Vendors.TTS.Provider,
		"llm_provider", cfg.Vendors.LLM.Provider,
	)

	return &Engine{
		cfg:      cfg,
		sttFn:    sttFn,
		synth:    synth,
		adapter:  adapter,
		sessions: session.NewRegistry(),
		logger:   logging.NewComponentLogger(slog.Default(), "engine"),
	}, nil
}

// OnParticipantAudioTrackSubscribed starts a session for the participant's
// audio track. A second subscription for the same participant replaces the
// first session.
func (e *Engine) OnParticipantAudioTrackSubscribed(ctx context.Context, participant string, transport transports.Transport) error {
	s, err := session.NewSession(session.Config{
		Participant:  participant,
		InputRate:    e.cfg.Session.InputRate,
		TargetRate:   e.cfg.Session.TargetRate,
		Channels:     e.cfg.Session.Channels,
		Policy:       session.Policy(e.cfg.Session.Policy),
		Voice:        e.cfg.Session.Voice,
		SystemPrompt: e.cfg.SystemPrompt,
		DrainTimeout: time.Duration(e.cfg.Session.DrainTimeoutMS) * time.Millisecond,
	}, session.Deps{
		Transport: transport,
		STT:       e.sttFn,
		Synth:     e.synth,
		LLM:       e.adapter,
	})
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	e.sessions.Add(participant, s)
	e.logger.Info("participant subscribed",
		slog.String("participant", participant),
		slog.String("session_id", s.ID()))
	return nil
}

// OnParticipantDisconnected tears down the participant's session, if any.
func (e *Engine) OnParticipantDisconnected(participant string) error {
	e.logger.Info("participant disconnected", slog.String("participant", participant))
	return e.sessions.Remove(participant)
}

// SessionCount returns the number of live sessions.
func (e *Engine) SessionCount() int {
	return e.sessions.Len()
}

// Stop tears down every live session.
func (e *Engine) Stop() {
	e.logger.Info("engine stopping", slog.Int("sessions", e.sessions.Len()))
	e.sessions.CloseAll()
}
