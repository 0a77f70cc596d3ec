package client

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/courierd/internal/observability"
	"github.com/danmuck/courierd/internal/pipeline"
	"github.com/danmuck/courierd/internal/plugins"
	"github.com/danmuck/courierd/internal/protocol/wire"
	"github.com/danmuck/courierd/internal/ratelimit"
	"github.com/danmuck/courierd/internal/store"
)

var ErrServerAddressRequired = errors.New("client: server address required")

// ServiceConfig configures the courier runtime defaults.
type ServiceConfig struct {
	Version         string
	ServerAddress   string
	TLS             wire.TLSConfig
	AuthDir         string
	LedgerPath      string
	PluginDir       string
	InviteText      string
	SpamWarning     string
	MaxPayloadBytes int
	MaxBodyRunes    int
	AntiSpam        ratelimit.Config
	Backoff         BackoffConfig
	PairingEnabled  bool
	MetricsAddr     string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Version:        "courier/1.0",
		AuthDir:        "auth",
		LedgerPath:     filepath.Join("data", "contact-ledger.json"),
		PluginDir:      "plugins",
		AntiSpam:       ratelimit.Config{}.WithDefaults(),
		Backoff:        DefaultBackoffConfig(),
		PairingEnabled: true,
	}
}

// Service assembles stores, plugins, pipeline, and controller, and runs the
// whole client as a standalone process.
type Service struct {
	cfg        ServiceConfig
	controller *Controller
	registry   *plugins.Registry
	ledger     *store.Ledger
}

// NewService wires the runtime from config using the production
// collaborators: the wire transport, the yaegi plugin loader, and a terminal
// pairing prompt.
func NewService(cfg ServiceConfig) (*Service, error) {
	if strings.TrimSpace(cfg.ServerAddress) == "" {
		return nil, ErrServerAddressRequired
	}

	wireClient, err := wire.NewClient(wire.Config{Address: cfg.ServerAddress, TLS: cfg.TLS})
	if err != nil {
		return nil, err
	}
	credStore, err := store.OpenCredentialStore(cfg.AuthDir)
	if err != nil {
		return nil, err
	}
	ledger, err := store.OpenLedger(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}
	registry, err := plugins.DirLoader{}.Load(cfg.PluginDir)
	if err != nil {
		return nil, err
	}

	prompt := TerminalPrompt{In: os.Stdin, Out: os.Stdout}
	controller := NewController(ControllerConfig{
		Version:        cfg.Version,
		PairingEnabled: cfg.PairingEnabled,
		Backoff:        cfg.Backoff,
	}, wireClient, credStore, prompt)

	limiter := ratelimit.NewLimiter(cfg.AntiSpam)
	pipe := pipeline.New(pipeline.Config{
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		MaxBodyRunes:    cfg.MaxBodyRunes,
		SpamWarning:     cfg.SpamWarning,
	}, limiter, registry, controller)
	greeter := pipeline.NewGreeter(ledger, controller, cfg.InviteText)

	// The pipeline and the first-contact greeter are two subscribers to the
	// same inbound stream, in that order.
	controller.AddSink(pipe.Process)
	controller.AddSink(greeter.Observe)

	return &Service{
		cfg:        cfg,
		controller: controller,
		registry:   registry,
		ledger:     ledger,
	}, nil
}

// Run blocks until process signal shutdown or terminal logout.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if s.cfg.MetricsAddr != "" {
		go func() {
			if err := observability.ServeMetrics(ctx, s.cfg.MetricsAddr); err != nil {
				log.Warn().Str("addr", s.cfg.MetricsAddr).Err(err).Msg("client.Service metrics listener failed")
			}
		}()
	}

	log.Info().
		Str("server", s.cfg.ServerAddress).
		Strs("plugins", s.registry.Names()).
		Int("known_contacts", s.ledger.Len()).
		Msg("client.Service ready")
	return s.controller.Run(ctx)
}

// Controller exposes the lifecycle owner, mainly for tests.
func (s *Service) Controller() *Controller {
	return s.controller
}
