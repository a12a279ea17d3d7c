package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	sdkmath "cosmossdk.io/math"

	"github.com/openyield/vault/internal/config"
	"github.com/openyield/vault/internal/engine"
	"github.com/openyield/vault/internal/ledger"
	"github.com/openyield/vault/internal/logger"
	"github.com/openyield/vault/internal/source"
	"github.com/openyield/vault/internal/state"
	"github.com/openyield/vault/internal/types"
	"github.com/openyield/vault/internal/web"
)

// main is the entry point for the vault daemon.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Vault daemon starting...")

	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: config.DBPort,
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	params, err := config.LoadEngineParams()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load engine parameters")
	}

	// --- 2. Engine Construction (with Safety Switch) ---
	core, err := engine.New(engine.Config{
		Claims:          ledger.NewMemoryLedger(),
		UnderlyingAsset: config.UnderlyingAsset,
		FeeRecipient:    config.FeeRecipient,
		Params:          params,
		Now:             time.Now().UTC(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create vault engine")
	}

	// The web handlers and the scheduled jobs run on separate goroutines, so
	// every call goes through the serializing wrapper.
	eng := engine.NewSynced(core)

	if config.SimulationMode {
		log.Warn().Msg("Running in SIMULATION mode with in-memory yield sources.")
		registerSimulatedSources(eng)
	} else {
		log.Fatal().Msg("No live source adapters are configured. Set VAULT_SIMULATION_MODE=true to run against simulated sources.")
	}

	// --- 3. Web Server ---
	webServer := web.NewWebServer(config.ListenAddr, eng)
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Scheduled Jobs ---
	scheduler := cron.New()

	if _, err := scheduler.AddFunc(config.AssessCron, func() {
		now := time.Now().UTC()
		cycle, err := state.IncrementAssessmentNumber()
		if err != nil {
			log.Error().Err(err).Msg("Failed to increment assessment counter")
		}

		snapshot, err := eng.AssessRisk(simulatedMetrics(eng), now)
		if err != nil {
			log.Error().Err(err).Msg("Risk assessment failed")
			return
		}
		log.Info().
			Int("assessment", cycle).
			Int64("stressedLCRBps", snapshot.StressedLCRBps).
			Str("systemStatus", string(snapshot.SystemStatus)).
			Msg("Scheduled risk assessment completed")

		// Band actions may have rewritten per-source parameters; record the
		// sets now in force.
		for _, src := range eng.Snapshot(now).Sources {
			id := types.SourceID(src.SourceID)
			params := types.RiskParams{
				HaircutBps:          src.HaircutBps,
				StressOutflowBps:    src.StressOutflowBps,
				MaxConcentrationBps: src.MaxConcentrationBps,
				RiskTier:            src.RiskTier,
				UpdatedAt:           src.ParamsUpdatedAt,
			}
			if err := state.SaveRiskParams(id, params); err != nil {
				log.Error().Err(err).Uint64("sourceID", src.SourceID).Msg("Failed to persist risk parameters")
			}
		}

		if _, err := eng.Harvest(now); err != nil {
			log.Error().Err(err).Msg("Scheduled harvest failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule risk assessment job")
	}

	if _, err := scheduler.AddFunc(config.SnapshotCron, func() {
		now := time.Now().UTC()
		if _, err := state.SaveEngineSnapshot(eng.Snapshot(now)); err != nil {
			log.Error().Err(err).Msg("Failed to persist engine snapshot")
		}
		if err := state.SaveEpochHistory(eng.EpochHistory()); err != nil {
			log.Error().Err(err).Msg("Failed to persist epoch history")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule snapshot job")
	}

	scheduler.Start()
	defer scheduler.Stop()
	log.Info().
		Str("assessCron", config.AssessCron).
		Str("snapshotCron", config.SnapshotCron).
		Msg("Scheduled jobs started")

	// --- 5. Wait for shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down vault daemon")
}

// registerSimulatedSources seeds the engine with a small set of simulated
// yield sources for local development.
func registerSimulatedSources(eng *engine.Synced) {
	now := time.Now().UTC()
	seeds := []struct {
		id     types.SourceID
		params types.RiskParams
	}{
		{1, types.RiskParams{HaircutBps: 500, StressOutflowBps: 1000, MaxConcentrationBps: 5000, RiskTier: 0}},
		{2, types.RiskParams{HaircutBps: 1500, StressOutflowBps: 2000, MaxConcentrationBps: 4000, RiskTier: 1}},
		{3, types.RiskParams{HaircutBps: 3000, StressOutflowBps: 3500, MaxConcentrationBps: 2500, RiskTier: 2}},
	}
	for _, seed := range seeds {
		adapter := source.NewSimulated(eng.UnderlyingAsset())
		if err := eng.RegisterSource(seed.id, adapter, seed.params, now); err != nil {
			log.Fatal().Err(err).Uint64("sourceID", uint64(seed.id)).Msg("Failed to register simulated source")
		}
	}
	log.Info().Int("sources", len(seeds)).Msg("Simulated yield sources registered")
}

// simulatedMetrics fabricates benign protocol metrics for every registered
// source. Live deployments replace this with real protocol telemetry.
func simulatedMetrics(eng *engine.Synced) map[types.SourceID]types.ProtocolMetrics {
	metrics := make(map[types.SourceID]types.ProtocolMetrics)
	for _, id := range eng.SourceIDs() {
		metrics[id] = types.ProtocolMetrics{
			UtilizationBps:     5000,
			AvailableLiquidity: sdkmath.NewInt(1_000_000_000),
			OracleDeviationBps: 10,
		}
	}
	return metrics
}
