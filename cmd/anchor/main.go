package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/suspectuso/pay-anchor/internal/anchor"
	"github.com/suspectuso/pay-anchor/internal/config"
	"github.com/suspectuso/pay-anchor/internal/contentstore"
	"github.com/suspectuso/pay-anchor/internal/eligibility"
	"github.com/suspectuso/pay-anchor/internal/intent"
	"github.com/suspectuso/pay-anchor/internal/ledger"
	"github.com/suspectuso/pay-anchor/internal/metrics"
	"github.com/suspectuso/pay-anchor/internal/notifier"
	"github.com/suspectuso/pay-anchor/internal/pipeline"
	"github.com/suspectuso/pay-anchor/internal/reconciler"
	"github.com/suspectuso/pay-anchor/internal/server"
	"github.com/suspectuso/pay-anchor/internal/storage"
	"github.com/suspectuso/pay-anchor/internal/telegram"
)

func main() {
	// Load .env file before config so it can fill the environment
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(os.Stdout, cfg)
	slog.SetDefault(log)
	if envErr != nil {
		log.Debug("no .env file found")
	}

	if err := run(cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	log.Info("storage initialized", "driver", cfg.DBDriver)

	// Initialize metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Initialize content store
	content := contentstore.NewClient(cfg.LighthouseUploadURL, cfg.LighthouseGatewayURL, cfg.LighthouseAPIKey)
	if cfg.LighthouseAPIKey == "" {
		log.Warn("LIGHTHOUSE_API_KEY not set, receipts cannot be stored")
	}

	// Initialize ledger, or the demo anchorer without credentials
	var (
		anchorer    pipeline.Anchorer
		beneficiary pipeline.BeneficiaryFunc
		chain       *ledger.Client
	)
	ledgerCfg := ledger.Config{
		RPCURL:      cfg.AnchorRPC,
		PrivateKey:  cfg.AnchorPrivateKey,
		Contract:    cfg.AnchorContract,
		Beneficiary: cfg.AnchorBeneficiary,
	}
	if ledgerCfg.Enabled() {
		chain, err = ledger.Dial(ctx, ledgerCfg, log)
		if err != nil {
			return err
		}
		defer chain.Close()

		gate := eligibility.NewGate(chain, log)
		anchorer = anchor.NewSubmitter(chain, gate, chain.Relayer(), log,
			anchor.WithConfirmTimeout(cfg.AnchorConfirmTimeout))
		beneficiary = chain.ResolveBeneficiary
		log.Info("ledger client initialized", "chain_id", chain.ChainID(), "contract", chain.Contract(), "relayer", chain.Relayer())
	} else {
		anchorer = anchor.NewDemo(log)
		beneficiary = fallbackBeneficiary(cfg.AnchorBeneficiary)
		log.Warn("ledger not configured, anchoring in demo mode")
	}

	// Notifier delivers through the bot once it exists
	relay := &botSender{}
	var sender notifier.Sender
	if cfg.BotToken != "" {
		sender = relay
	}
	notify := notifier.New(sender, cfg.InboxChatID, m, log)

	svc := pipeline.New(store, content, anchorer, beneficiary, pipeline.Config{
		NamespaceID:       cfg.AnchorNamespace,
		ReprocessAnchored: cfg.ReprocessAnchored,
	}, log, pipeline.WithMetrics(m), pipeline.WithNotifier(notify))

	// Initialize reconciler
	recOpts := []reconciler.Option{reconciler.WithMetrics(m)}
	if cfg.ConfirmMode == config.ConfirmOnchain && chain != nil {
		recOpts = append(recOpts, reconciler.WithVerifier(chain))
	}
	rec := reconciler.New(store, notify, log, recOpts...)

	// Initialize telegram bot
	var tg *telegram.Bot
	if cfg.BotToken != "" {
		tg, err = telegram.New(cfg.BotToken, svc, store, log)
		if err != nil {
			return err
		}
		relay.bot = tg
		log.Info("telegram bot initialized")
	} else {
		log.Warn("BOT_TOKEN not set, telegram channel disabled")
	}

	srvOpts := []server.Option{
		server.WithAdminToken(cfg.AdminToken),
		server.WithGatherer(reg),
	}
	if chain != nil {
		srvOpts = append(srvOpts, server.WithDebugger(chain))
	}
	srv := server.New(svc, store, rec, log, srvOpts...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(ctx, cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		rec.Run(ctx, cfg.ReconcileInterval)
		return nil
	})
	if tg != nil {
		g.Go(func() error {
			log.Info("starting bot polling...")
			tg.Start(ctx)
			return nil
		})
	}

	err = g.Wait()
	log.Info("shut down")
	return err
}

// openStore returns the configured intent store and its closer.
func openStore(cfg *config.Config) (intent.Store, func(), error) {
	if cfg.DBDriver == config.DriverMemory {
		return storage.NewMemory(), func() {}, nil
	}
	s, err := storage.New(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { s.Close() }, nil
}

// fallbackBeneficiary keeps the intent's address or falls back to def.
func fallbackBeneficiary(def string) pipeline.BeneficiaryFunc {
	return func(candidate string) string {
		if c := strings.TrimSpace(candidate); c != "" {
			return c
		}
		return def
	}
}

// botSender forwards to the bot, which is built after the pipeline it serves.
type botSender struct {
	bot *telegram.Bot
}

func (s *botSender) Send(ctx context.Context, chatID int64, text string) error {
	if s.bot == nil {
		return errors.New("telegram bot not ready")
	}
	return s.bot.Send(ctx, chatID, text)
}
