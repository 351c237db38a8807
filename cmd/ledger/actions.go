package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"voteledger"
	"voteledger/anonymizer"
	"voteledger/api"
	"voteledger/config"
	"voteledger/registry"
	"voteledger/service"
	"voteledger/storage"
)

// shutdownSignals returns the channel notified when the server must stop.
var shutdownSignals = func() <-chan os.Signal {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	return sigs
}

var registerMetrics sync.Once

// node holds the components built from the configuration.
type node struct {
	cfg    config.Config
	store  storage.ReplicaStore
	ledger *service.LedgerService
}

func setup(c *cli.Context) (*node, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	err = voteledger.SetLogger(cfg.Logger.Level, cfg.Logger.JSON)
	if err != nil {
		return nil, xerrors.Errorf("invalid log level: %v", err)
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	anon, err := anonymizer.New(cfg.Ledger.Salt)
	if err != nil {
		store.Close()
		return nil, err
	}

	opts := []service.Option{
		service.WithWriteRetries(cfg.Ledger.WriteRetries),
		service.WithLogger(voteledger.Logger),
	}

	if cfg.Ledger.StrictConsensus {
		opts = append(opts, service.WithStrictConsensus())
	}

	if len(cfg.Elections) > 0 {
		catalog, err := registry.NewStaticCatalog(cfg.Elections...)
		if err != nil {
			store.Close()
			return nil, xerrors.Errorf("invalid elections: %v", err)
		}
		opts = append(opts, service.WithCatalog(catalog))
	}

	return &node{
		cfg:    cfg,
		store:  store,
		ledger: service.NewLedgerService(store, anon, opts...),
	}, nil
}

func (n *node) close() {
	err := n.store.Close()
	if err != nil {
		voteledger.Logger.Warn().Err(err).Msg("failed to close store")
	}
}

func openStore(cfg config.StorageConfig) (storage.ReplicaStore, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemStore(), nil
	case config.BackendBolt:
		return storage.NewBoltStore(cfg.Path)
	case config.BackendJSON:
		return storage.NewJSONStore(cfg.Path)
	default:
		return nil, xerrors.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func serveAction(c *cli.Context) error {
	n, err := setup(c)
	if err != nil {
		return err
	}
	defer n.close()

	key, err := service.LoadOrGenerateAdminKey(n.cfg.Admin.KeyPath)
	if err != nil {
		return err
	}

	authorizer := service.NewAdminAuthorizer(key.PublicKey)

	port := n.cfg.Server.Port
	if c.IsSet("port") {
		port = c.Int("port")
	}

	registerMetrics.Do(func() {
		prometheus.MustRegister(voteledger.PromCollectors...)
	})

	scheduler := service.NewAuditScheduler(n.ledger, n.cfg.Audit.Interval, n.cfg.Audit.AutoRepair)
	if n.cfg.Audit.Interval > 0 {
		scheduler.Start()
		defer scheduler.Stop()
		go drainReports(scheduler.Reports())
	}

	srv := api.NewServer(n.ledger, authorizer, port, n.cfg.Server.ReadHeaderTimeout)
	srv.Start()

	voteledger.Logger.Info().
		Str("backend", n.cfg.Storage.Backend).
		Str("admin", authorizer.Address()).
		Int("elections", len(n.cfg.Elections)).
		Msg("ledger started")

	sig := <-shutdownSignals()

	voteledger.Logger.Info().Str("signal", sig.String()).Msg("shutting down")

	return srv.Stop()
}

func drainReports(reports <-chan service.AuditReport) {
	for report := range reports {
		if report.Health != service.HealthSafe {
			voteledger.Logger.Warn().
				Str("election", report.ElectionID).
				Float64("match", report.MatchPercentage).
				Msg("scheduled audit found divergent replicas")
		}
	}
}

func auditAction(c *cli.Context) error {
	n, err := setup(c)
	if err != nil {
		return err
	}
	defer n.close()

	report, err := n.ledger.Audit(context.Background(), c.String("election"))
	if err != nil {
		return err
	}

	return printJSON(c, report)
}

func repairAction(c *cli.Context) error {
	n, err := setup(c)
	if err != nil {
		return err
	}
	defer n.close()

	ctx := context.Background()
	electionID := c.String("election")

	if c.IsSet("replica") {
		result, err := n.ledger.Repair(ctx, c.String("replica"), electionID)
		if err != nil {
			return err
		}
		return printJSON(c, result)
	}

	results, err := n.ledger.RepairDivergent(ctx, electionID)
	if err != nil {
		return err
	}

	return printJSON(c, results)
}

func statsAction(c *cli.Context) error {
	n, err := setup(c)
	if err != nil {
		return err
	}
	defer n.close()

	stats, err := n.ledger.Statistics(context.Background(), c.String("election"))
	if err != nil {
		return err
	}

	return printJSON(c, stats)
}

func adminAddressAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	key, err := service.LoadOrGenerateAdminKey(cfg.Admin.KeyPath)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, crypto.PubkeyToAddress(key.PublicKey).Hex())
	return nil
}

func adminSignAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	key, err := service.LoadOrGenerateAdminKey(cfg.Admin.KeyPath)
	if err != nil {
		return err
	}

	sig, err := service.SignRepair(key, c.String("election"), c.String("replica"))
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, sig)
	return nil
}

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
