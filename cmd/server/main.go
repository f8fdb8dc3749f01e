/*
main.go - Application entry point

PURPOSE:
  Command-line entry point of the pawn engine. Wires the SQLite store,
  ConfigStore, transaction chain, calculation log and metrics together and
  either serves the HTTP API or runs a one-off command.

COMMANDS:
  serve   Run the HTTP API (graceful shutdown on SIGINT/SIGTERM)
  seed    Load a configuration preset into the database
  quote   Print penalty, service charge and total due for a principal

GLOBAL FLAGS:
  --config  YAML process config (see config/config.go)
  --db      SQLite database path, overrides the file
            Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Flush the calculation log queue
  4. Close database connection

EXAMPLES:
  ./server seed --db=./data/pawn.db --preset=standard
  ./server serve --db=./data/pawn.db --port=3000
  ./server quote --principal=1000 --maturity=2024-01-31 --as-of=2024-02-10

SEE ALSO:
  - api/server.go: Router configuration
  - factory/config.go: Presets
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/warp/pawn-engine/api"
	"github.com/warp/pawn-engine/config"
	"github.com/warp/pawn-engine/factory"
	"github.com/warp/pawn-engine/metrics"
	"github.com/warp/pawn-engine/pawn"
	"github.com/warp/pawn-engine/store/sqlite"
)

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Pawn ticket calculation engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML process config file")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides config file)")

	serveCmd.Flags().Int("port", 0, "HTTP server port (overrides config file)")

	seedCmd.Flags().String("preset", "standard", "Builtin preset: standard, compounding, percentage")
	seedCmd.Flags().StringP("file", "f", "", "Preset JSON file (takes precedence over --preset)")
	seedCmd.Flags().Bool("overwrite", false, "Replace values already stored instead of only filling gaps")
	seedCmd.Flags().String("actor", "seed", "Actor recorded on written rows")

	quoteCmd.Flags().String("principal", "", "Loan principal")
	quoteCmd.Flags().String("maturity", "", "Maturity date (YYYY-MM-DD)")
	quoteCmd.Flags().String("as-of", "", "Quote date (YYYY-MM-DD), default today")
	quoteCmd.MarkFlagRequired("principal")
	quoteCmd.MarkFlagRequired("maturity")

	rootCmd.AddCommand(serveCmd, seedCmd, quoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// =============================================================================
// WIRING
// =============================================================================

type app struct {
	cfg     *config.Config
	store   *sqlite.Store
	metrics *metrics.Metrics
	config  *pawn.ConfigStore
	logger  *pawn.CalculationLogger
	engine  *pawn.Engine
}

// loadConfig reads --config and applies --db.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.DBPath = db
	}
	return cfg, nil
}

// newApp opens the store and builds the engine. withLog enables the
// calculation log.
func newApp(cfg *config.Config, withLog bool) (*app, error) {
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &app{cfg: cfg, store: store, metrics: metrics.New()}
	a.config = pawn.NewConfigStore(store, pawn.NewCache[pawn.Config](cfg.ConfigCacheTTL, nil), a.metrics)
	if withLog {
		a.logger = pawn.NewCalculationLogger(store, cfg.CalculationLogQueue, a.metrics)
	}
	a.engine = pawn.NewEngine(a.config, pawn.NewChain(store, nil), a.logger, a.metrics)
	return a, nil
}

func (a *app) Close() {
	a.logger.Close()
	a.store.Close()
}

// =============================================================================
// SERVE
// =============================================================================

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	// An empty database still serves with compiled-in defaults; seed it so
	// administrators have rows to version.
	if err := a.config.Seed(cmd.Context(), pawn.DefaultParameters(), pawn.DefaultBrackets(), "system"); err != nil {
		log.Printf("[Server] Warning: failed to seed default configuration: %v", err)
	}

	handler := api.NewHandler(a.engine, a.store)
	handler.DB = a.store

	opts := api.RouterOptions{CORSOrigins: cfg.CORSOrigins}
	if cfg.Metrics {
		opts.Metrics = a.metrics.Handler()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler, opts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] Listening on http://localhost:%d (db=%s)", cfg.Port, cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Println("[Server] Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("[Server] Stopped")
	return nil
}

// =============================================================================
// SEED
// =============================================================================

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a configuration preset into the database",
	Long: `Load a configuration preset into the database.

Without --overwrite only missing parameters are inserted and the bracket
table is written only when none is active, so seeding twice is harmless.
With --overwrite every differing parameter gets a new version.`,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	presetName, _ := cmd.Flags().GetString("preset")
	file, _ := cmd.Flags().GetString("file")
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	actor, _ := cmd.Flags().GetString("actor")

	var presetJSON string
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read preset file: %w", err)
		}
		presetJSON = string(data)
	} else {
		presetJSON, err = factory.Builtin(presetName)
		if err != nil {
			return err
		}
	}

	preset, err := factory.NewConfigFactory().ParsePreset(presetJSON)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.config.Seed(ctx, preset.Parameters, preset.Brackets, actor); err != nil {
		return err
	}
	if overwrite {
		changed, err := factory.Apply(ctx, a.config, preset, actor)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Applied preset %q to %s: %d parameter(s) changed\n", preset.ID, cfg.DBPath, changed)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded preset %q into %s\n", preset.ID, cfg.DBPath)
	return nil
}

// =============================================================================
// QUOTE
// =============================================================================

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Print penalty, service charge and total due",
	RunE:  runQuote,
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	principalFlag, _ := cmd.Flags().GetString("principal")
	maturityFlag, _ := cmd.Flags().GetString("maturity")
	asOfFlag, _ := cmd.Flags().GetString("as-of")

	principal, err := decimal.NewFromString(principalFlag)
	if err != nil {
		return fmt.Errorf("invalid principal %q: %w", principalFlag, err)
	}
	maturity, err := pawn.ParseDate(maturityFlag)
	if err != nil {
		return err
	}
	asOf := pawn.Today(pawn.SystemClock{})
	if asOfFlag != "" {
		if asOf, err = pawn.ParseDate(asOfFlag); err != nil {
			return err
		}
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	q, err := a.engine.CalculateAll(cmd.Context(), principal, maturity, asOf, "cli")
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"principal":      q.Principal.StringFixed(pawn.MoneyPlaces),
		"penalty":        q.Penalty.Amount.StringFixed(pawn.MoneyPlaces),
		"penalty_method": q.Penalty.Method,
		"service_charge": q.ServiceCharge.Amount.StringFixed(pawn.MoneyPlaces),
		"total_charges":  q.TotalCharges.StringFixed(pawn.MoneyPlaces),
		"total_due":      q.TotalDue.StringFixed(pawn.MoneyPlaces),
		"as_of_date":     asOf.String(),
	})
}
