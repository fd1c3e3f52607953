package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/relaycrew/chatrelay/internal/accounts"
	"github.com/relaycrew/chatrelay/internal/bus"
	"github.com/relaycrew/chatrelay/internal/config"
	"github.com/relaycrew/chatrelay/internal/cryptoutil"
	"github.com/relaycrew/chatrelay/internal/filter"
	"github.com/relaycrew/chatrelay/internal/gateway"
	"github.com/relaycrew/chatrelay/internal/gateway/methods"
	"github.com/relaycrew/chatrelay/internal/pool"
	"github.com/relaycrew/chatrelay/internal/ratelimit"
	"github.com/relaycrew/chatrelay/internal/store"
	"github.com/relaycrew/chatrelay/internal/store/file"
	dbsql "github.com/relaycrew/chatrelay/internal/store/sql"
	"github.com/relaycrew/chatrelay/internal/supervisor"
	"github.com/relaycrew/chatrelay/internal/telemetry"
	"github.com/relaycrew/chatrelay/internal/transport"
	"github.com/relaycrew/chatrelay/internal/transport/telegrambot"
	"github.com/relaycrew/chatrelay/internal/worker"
)

// defaultPerMinute is the Rate Governor's default per-account cap for
// jobs that don't set Rate.MaxPerMinutePerAccount.
const defaultPerMinute = 20

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the forwarding engine and its Control API",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.TracingEnabled {
		_, shutdown, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			slog.Error("init telemetry", "error", err)
			os.Exit(1)
		}
		defer shutdown(context.Background())
	}
	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	_ = metrics // consumed by worker/gateway instrumentation call-sites as they're wired in

	jobStore, progressStore, acctStore, err := openStores(cfg)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}

	eventBus := bus.New()

	sealer, err := newSealer(cfg.EncryptionKey)
	if err != nil {
		slog.Error("init sealer", "error", err)
		os.Exit(1)
	}

	registry := accounts.NewRegistry()
	authenticator := accounts.NewAuthenticator(acctStore, registry, sealer, busPublisher{eventBus})

	governor := ratelimit.NewGovernor(defaultPerMinute)
	acctPool := pool.NewPool(governor)

	connector := telegrambot.NewConnector()
	if err := reconnectAccounts(ctx, acctStore, sealer, connector, acctPool); err != nil {
		slog.Error("reconnect accounts", "error", err)
	}

	policies := map[string]filter.Policy{}
	factory := func(job store.Job, policy filter.Policy, anyHandle transport.Handle) *worker.Worker {
		return worker.New(job, policy, progressStore, acctPool, governor, eventBus, anyHandle)
	}
	sv := supervisor.New(jobStore, policies, acctPool, eventBus, factory, acctPool)
	if err := sv.RecoverOnStart(); err != nil {
		slog.Error("recover jobs", "error", err)
		os.Exit(1)
	}

	server := gateway.NewServer(&cfg, eventBus, sv)
	methods.NewJobsMethods(sv).Register(server.Router())
	// pairer is nil: telegrambot (the only Transport this binary wires)
	// has no out-of-band QR login, only bot-token auth via
	// `chatrelay accounts login`. accounts.pairing.start stays registered but
	// answers "no QR-pairing transport configured" until a Transport
	// implementing accounts.QRConnector exists to pass here.
	methods.NewAccountsMethods(acctStore, authenticator, nil).Register(server.Router())
	methods.NewSystemMethods().Register(server.Router())

	slog.Info("chatrelay starting", "listen_addr", cfg.Gateway.ListenAddr, "db_mode", cfg.Database.Mode)
	if err := server.Start(ctx); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// openStores builds the three store interfaces the engine needs,
// backed by the JSON-file store (cfg.Database.Mode == "file", the
// default) or the shared Postgres/SQLite database/sql store (Mode ==
// "sql", dialect chosen by cfg.Database.DSN's scheme).
func openStores(cfg config.Config) (store.JobStore, store.ProgressStore, accounts.Store, error) {
	if cfg.Database.Mode == "sql" {
		s, err := dbsql.NewStore(cfg.Database.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return s.Jobs(), s.Progress(), s.Accounts(), nil
	}
	s, err := file.NewStore(cfg.Database.FileDir)
	if err != nil {
		return nil, nil, nil, err
	}
	return s.Jobs(), s.Progress(), s.Accounts(), nil
}

// newSealer decodes the base64 CHATRELAY_ENCRYPTION_KEY env var into a
// cryptoutil.Sealer.
func newSealer(b64Key string) (*cryptoutil.Sealer, error) {
	if b64Key == "" {
		return nil, fmt.Errorf("CHATRELAY_ENCRYPTION_KEY is required (32 raw bytes, base64-encoded)")
	}
	key, err := base64.StdEncoding.DecodeString(b64Key)
	if err != nil {
		return nil, fmt.Errorf("decode CHATRELAY_ENCRYPTION_KEY: %w", err)
	}
	return cryptoutil.NewSealer(key)
}

// reconnectAccounts re-establishes a live Handle for every account
// already marked authenticated from a prior run, so a restart doesn't
// require the operator to re-pair every account before jobs can start.
func reconnectAccounts(ctx context.Context, acctStore accounts.Store, sealer *cryptoutil.Sealer, connector transport.Connector, p *pool.Pool) error {
	accts, err := acctStore.List()
	if err != nil {
		return err
	}
	for _, a := range accts {
		if a.Status != accounts.StatusAuthenticated || a.EncryptedBlob == "" {
			continue
		}
		plaintext, err := sealer.Open(a.EncryptedBlob)
		if err != nil {
			slog.Warn("reconnect account failed", "account_id", a.ID, "error", err)
			continue
		}
		handle, err := connector.Connect(ctx, a.ID, a.AppID, a.AppHash, string(plaintext))
		if err != nil {
			slog.Warn("reconnect account failed", "account_id", a.ID, "error", err)
			continue
		}
		p.Add(handle)
		slog.Info("reconnected account", "account_id", a.ID)
	}
	return nil
}

// busPublisher adapts *bus.Bus's typed Broadcast(bus.Event) to the
// untyped Broadcast(event string, payload any) shape accounts.Publisher
// needs, since the Observer Bus and the Account pairing flow were
// designed independently and happen to disagree on event shape.
type busPublisher struct {
	b *bus.Bus
}

func (p busPublisher) Broadcast(event string, payload any) {
	p.b.Broadcast(bus.Event{Name: event, Payload: payload})
}
