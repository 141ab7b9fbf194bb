// Command escrowd runs the escrow HTTP daemon: loads configuration, opens
// the Postgres connection, wires the escrow core (FactoryRegistry, its
// ledger and event bus) to the concrete FeeAdapter (the fee bank), and serves
// the HTTP API until a shutdown signal arrives. No AuctionAdapter is wired.
// Adapted from the teacher's cmd/relayer.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/1inch/fusion-escrow/internal/api"
	"github.com/1inch/fusion-escrow/internal/config"
	"github.com/1inch/fusion-escrow/internal/escrow"
	"github.com/1inch/fusion-escrow/internal/feebank"
	"github.com/1inch/fusion-escrow/internal/store"
)

var log = logrus.WithField("subsystem", "escrowd")

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	configureLogging(cfg.Log)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	factory, err := buildFactory(cfg.Factory)
	if err != nil {
		log.Fatalf("failed to initialize factory: %v", err)
	}

	escrowRepo := store.NewEscrowRepository(db)
	factoryRepo := store.NewFactoryRepository(db)
	merkleRepo := store.NewMerkleIndexRepository(db)

	if err := rehydrateFactory(factory, escrowRepo); err != nil {
		log.Fatalf("failed to rehydrate escrows from store: %v", err)
	}
	if err := persistFactoryIdentity(factoryRepo, factory, cfg.Factory); err != nil {
		log.Fatalf("failed to persist factory identity: %v", err)
	}

	server := api.NewServer(cfg.API, api.NewService(factory, escrowRepo, factoryRepo, merkleRepo))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx); err != nil {
			log.Errorf("API server error: %v", err)
		}
	}()

	log.Info("escrow daemon started successfully")
	<-ctx.Done()
	log.Info("shutdown signal received, stopping escrow daemon")

	wg.Wait()
	log.Info("escrow daemon stopped successfully")
}

func configureLogging(cfg config.Log) {
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logrus.SetLevel(level)
	}
	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

func openDatabase(cfg config.Database) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// buildFactory wires a single process-wide FactoryRegistry to an in-memory
// ledger, event bus, Merkle index, and the concrete FeeAdapter (the fee
// bank). A real chain-settlement Ledger is out of scope here (§1) — the
// in-memory one is both the test double and the daemon's current custody
// backend.
func buildFactory(cfg config.Factory) (*escrow.FactoryRegistry, error) {
	whitelist := make([]common.Address, 0, len(cfg.WhitelistAddresses))
	for _, addr := range cfg.WhitelistAddresses {
		whitelist = append(whitelist, common.HexToAddress(addr))
	}
	bank := feebank.New(whitelist)

	ledger := escrow.NewMemoryLedger()
	events := escrow.NewEventBus()
	merkle := escrow.NewMerkleIndex()

	factory := escrow.NewFactoryRegistry(ledger, events, merkle)
	owner := common.HexToAddress(cfg.OwnerAddress)
	if err := factory.Initialize(owner, cfg.SrcRescueDelay, cfg.DstRescueDelay, bank); err != nil {
		return nil, err
	}

	return factory, nil
}

// rehydrateFactory restores every still-Active escrow a previous process
// persisted, so a daemon restart doesn't lose track of funds in flight.
// MemoryLedger's balance maps start empty again on restart, but
// Withdraw/Cancel do not consult the escrow's own pre-funded balance (only
// FactoryRegistry.CreateSource does, at creation time), so a restored
// escrow can still settle normally. Rescue is capped at that tracked
// balance, so on a restored escrow it extracts nothing.
func rehydrateFactory(factory *escrow.FactoryRegistry, repo *store.EscrowRepository) error {
	records, err := repo.ListActive()
	if err != nil {
		return err
	}
	for _, rec := range records {
		im := escrow.Immutables{
			OrderHash:     rec.OrderHash,
			Hashlock:      rec.Hashlock,
			Maker:         rec.Maker,
			Taker:         rec.Taker,
			TokenID:       rec.TokenID,
			Amount:        rec.Amount,
			SafetyDeposit: rec.SafetyDeposit,
			Timelocks:     escrow.TimelocksFromEncoded(rec.Timelocks),
		}
		inst := escrow.RestoreEscrowInstance(rec.Address, rec.Role, im, rec.RescueDelay, rec.State, rec.Secret, factory.Ledger(), factory.Events())
		factory.Restore(inst)
		log.WithField("escrow_addr", rec.Address).Info("rehydrated escrow from store")
	}
	return nil
}

// persistFactoryIdentity ensures the single factory row exists, inserting
// it on first boot. A mismatch between the persisted and configured
// rescue delays is left for an operator to reconcile manually rather than
// silently overwritten, since changing it retroactively would change the
// rescue window of every already-created escrow.
func persistFactoryIdentity(repo *store.FactoryRepository, factory *escrow.FactoryRegistry, cfg config.Factory) error {
	_, found, err := repo.Get(factory.FactoryID())
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	return repo.Insert(&store.FactoryRecord{
		FactoryID:      factory.FactoryID(),
		Owner:          common.HexToAddress(cfg.OwnerAddress),
		SrcRescueDelay: cfg.SrcRescueDelay,
		DstRescueDelay: cfg.DstRescueDelay,
	})
}
