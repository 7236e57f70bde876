package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	backend "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/palaverhq/palaver"
	httpAdapter "github.com/palaverhq/palaver/pkg/adapters/http"
	"github.com/palaverhq/palaver/pkg/adapters/memory"
	"github.com/palaverhq/palaver/pkg/adapters/ollama"
	redisAdapter "github.com/palaverhq/palaver/pkg/adapters/redis"
	"github.com/palaverhq/palaver/pkg/adapters/sqlite"
	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/observability"
	"github.com/palaverhq/palaver/pkg/persistence/middleware"
	"github.com/palaverhq/palaver/pkg/ports"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts the engine as an HTTP server backed by a SQLite flow
repository. Session state lives in memory unless --redis is given, in
which case Redis also provides distributed session locking.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(cmd); err != nil {
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	serveCmd.Flags().String("db", "palaver.db", "SQLite database path for flow definitions")
	serveCmd.Flags().StringArray("flow", nil, "Flow file(s) to seed into the repository")
	serveCmd.Flags().String("redis", "", "Redis address for session state (e.g. localhost:6379)")
	serveCmd.Flags().String("encrypt-key", "", "Base64-encoded 32-byte key; encrypts session state at rest")
	serveCmd.Flags().String("ollama-url", "", "Ollama base URL for LLM-assisted decisions")
	serveCmd.Flags().String("model", "llama3.1", "Ollama model name")
}

// encryptedStore wraps store with AES-GCM encryption using the
// base64-encoded key from --encrypt-key. The key must decode to 32 bytes.
func encryptedStore(store ports.StateStore, encoded string) (ports.StateStore, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode --encrypt-key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("--encrypt-key must decode to 32 bytes, got %d", len(key))
	}
	return middleware.Chain(store, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})), nil
}

func runServe(cmd *cobra.Command) error {
	port, _ := cmd.Flags().GetString("port")
	dbPath, _ := cmd.Flags().GetString("db")
	flowFiles, _ := cmd.Flags().GetStringArray("flow")
	redisAddr, _ := cmd.Flags().GetString("redis")
	encryptKey, _ := cmd.Flags().GetString("encrypt-key")
	ollamaURL, _ := cmd.Flags().GetString("ollama-url")
	model, _ := cmd.Flags().GetString("model")

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	repo, err := sqlite.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer repo.Close()

	ctx := context.Background()
	for _, path := range flowFiles {
		f, err := flow.ParseFile(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := repo.Seed(ctx, f); err != nil {
			return fmt.Errorf("seed %s: %w", path, err)
		}
		logger.Info("flow seeded", "flow_id", f.ID, "file", path)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	opts := []palaver.Option{
		palaver.WithLogger(logger),
		palaver.WithHooks(metrics.Hooks()),
		palaver.WithTurnObserver(metrics.ObserveTurn),
		palaver.WithBatchObserver(metrics.ObserveBatch),
	}

	var store ports.StateStore = memory.NewStore()
	if redisAddr != "" {
		client := backend.NewClient(&backend.Options{Addr: redisAddr})
		store = redisAdapter.NewFromClient(client)
		opts = append(opts, palaver.WithLocker(redisAdapter.NewLocker(client, "palaver:lock:")))
	}
	if encryptKey != "" {
		store, err = encryptedStore(store, encryptKey)
		if err != nil {
			return err
		}
	}
	opts = append(opts, palaver.WithStateStore(store))
	if ollamaURL != "" {
		opts = append(opts, palaver.WithLLM(ollama.New(ollamaURL, model)))
	}

	eng, err := palaver.New(repo, opts...)
	if err != nil {
		return err
	}

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Mount("/", httpAdapter.NewHandler(eng, httpAdapter.WithLogger(logger)))

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "db", dbPath)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return err
	case sig := <-shutdown:
		logger.Info("shutdown started", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown did not complete", "error", err)
			if err := srv.Close(); err != nil {
				return err
			}
		}
		logger.Info("server stopped")
		return nil
	}
}
