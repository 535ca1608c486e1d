package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/examhall/internal/engine"
	"github.com/pavelanni/examhall/internal/handler"
	appI18n "github.com/pavelanni/examhall/internal/i18n"
	"github.com/pavelanni/examhall/internal/llm"
	"github.com/pavelanni/examhall/internal/llm/prompts"
	"github.com/pavelanni/examhall/internal/model"
	"github.com/pavelanni/examhall/internal/store"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examhall",
		Short: "School exam execution and assessment engine",
	}

	serve := serveCmd()
	root.AddCommand(serve, seedCmd(), exportCmd(), reportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examhall --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// commonFlags registers the storage, logging and env-file flags every command shares.
func commonFlags(f *pflag.FlagSet) {
	f.String("db-driver", store.DriverSQLite, "Database driver (sqlite, pgx)")
	f.String("db", "examhall.db", "SQLite path or PostgreSQL connection URL")
	f.String("env-file", ".env", "Dotenv file loaded before reading the environment")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSliceP("fixtures", "f", nil, "Fixture JSON files to import on start (repeatable)")
	f.StringP("lang", "l", "en", "Default language for API messages (en, ru)")
	f.Int("token-length", 6, "Length of room entry tokens")
	f.String("llm-url", "", "OpenAI-compatible API base URL; empty disables essay suggestions")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Essay suggestion prompt variant (strict, standard, lenient)")
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import fixture files (tenant quota, students, questions, packages)",
		RunE:  runSeed,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.StringSliceP("fixtures", "f", nil, "Fixture JSON files (repeatable)")
	_ = cmd.MarkFlagRequired("fixtures")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export session results as JSON",
		RunE:  runExport,
	}
	sessionFlags(cmd)
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print item analysis and topic absorption for a session",
		RunE:  runReport,
	}
	sessionFlags(cmd)
	return cmd
}

func sessionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	commonFlags(f)
	f.String("tenant", "", "Tenant ID (required)")
	f.String("session", "", "Session ID (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("session")
}

// loadEnvFile reads the dotenv file if it exists. A missing default file is
// ignored; a missing file named explicitly is an error.
func loadEnvFile(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("env-file")
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !cmd.Flags().Changed("env-file") {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMHALL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examhall")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examhall")
	v.AddConfigPath("/etc/examhall")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// setup loads the env file, configures logging and opens the store.
func setup(cmd *cobra.Command) (*viper.Viper, *store.Store, error) {
	if err := loadEnvFile(cmd); err != nil {
		return nil, nil, err
	}
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db-driver"), v.GetString("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	slog.Debug("database opened", "driver", db.Driver())
	return v, db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.PromptStandard)
	}

	var suggester engine.Suggester
	if url := v.GetString("llm-url"); url != "" {
		client := llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"), promptVariant)
		if err := client.Ping(context.Background()); err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", url, "model", v.GetString("llm-model"))
		suggester = client
	}

	cfg := model.EngineConfig{
		TokenLength:   v.GetInt("token-length"),
		PromptVariant: promptVariant,
	}
	e := engine.New(db, suggester, cfg)

	if paths := v.GetStringSlice("fixtures"); len(paths) > 0 {
		n, err := e.ImportFixtures(context.Background(), paths)
		if err != nil {
			return fmt.Errorf("import fixtures: %w", err)
		}
		slog.Info("fixtures imported", "files", n)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	handler.New(e).Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"db_driver", db.Driver(),
			"lang", lang,
			"token_length", cfg.TokenLength,
			"suggestions", suggester != nil,
			"prompt_variant", promptVariant,
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Error("could not stop server gracefully", "error", err)
			return srv.Close()
		}
		return nil
	}
}

func runSeed(cmd *cobra.Command, _ []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	e := engine.New(db, nil, model.EngineConfig{})
	n, err := e.ImportFixtures(cmd.Context(), v.GetStringSlice("fixtures"))
	if err != nil {
		return fmt.Errorf("import fixtures: %w", err)
	}
	slog.Info("seed complete", "imported", n)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	e := engine.New(db, nil, model.EngineConfig{})
	out, err := e.Export(cmd.Context(), v.GetString("tenant"), v.GetString("session"))
	if err != nil {
		return fmt.Errorf("export session: %w", err)
	}
	return writeOutput(v.GetString("output"), out)
}

func runReport(cmd *cobra.Command, _ []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	e := engine.New(db, nil, model.EngineConfig{})
	rep, err := e.Report(cmd.Context(), v.GetString("tenant"), v.GetString("session"))
	if err != nil {
		return fmt.Errorf("report session: %w", err)
	}
	return writeOutput(v.GetString("output"), rep)
}

// writeOutput writes v as indented JSON to outPath, or stdout for "-".
func writeOutput(outPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}
