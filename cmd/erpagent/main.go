// Command erpagent runs the assistant bridge: it accepts chat requests
// from the ERP frontend, orchestrates Gemini calls with function
// execution against ERP records, and persists conversation history.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"google.golang.org/genai"

	"github.com/cfreitas/erpagent/internal/config"
	"github.com/cfreitas/erpagent/internal/erp"
	"github.com/cfreitas/erpagent/internal/executor"
	"github.com/cfreitas/erpagent/internal/fileproc"
	"github.com/cfreitas/erpagent/internal/functions"
	"github.com/cfreitas/erpagent/internal/gateway"
	"github.com/cfreitas/erpagent/internal/orchestrator"
	"github.com/cfreitas/erpagent/internal/registry"
	"github.com/cfreitas/erpagent/internal/server"
	"github.com/cfreitas/erpagent/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath  string
		addr     string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:           "erpagent",
		Short:         "Bridge between an ERP frontend and the Gemini API with function calling",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath, addr, logLevel)
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}

func run(parent context.Context, cfgPath, addr, logLevel string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Gemini.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return err
	}

	var (
		st    store.Store
		audit store.AuditLogger
	)
	if cfg.Mongo.URI == "" {
		log.Warn("no mongodb uri configured, conversations will not survive restarts")
		mem := store.NewMemoryStore()
		st, audit = mem, mem
	} else {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return err
		}
		defer func() {
			if err := mongoClient.Disconnect(context.Background()); err != nil {
				log.WithError(err).Warn("mongodb disconnect")
			}
		}()

		ms := store.NewMongoStore(mongoClient.Database(cfg.Mongo.Database))
		if err := ms.EnsureIndexes(ctx); err != nil {
			return err
		}
		st, audit = ms, ms
	}

	var erpClient erp.Client
	if cfg.ERP.BaseURL != "" {
		erpClient = erp.NewHTTPClient(cfg.ERP.BaseURL, cfg.ERP.APIKey, cfg.ERP.APISecret, &http.Client{
			Timeout: cfg.ERP.Timeout,
		})
	}

	reg := registry.New()
	if erpClient != nil {
		decls := []*registry.Declaration{
			functions.CreateStockLevelsFunctionDeclaration(erpClient),
			functions.CreateSalesReportFunctionDeclaration(erpClient),
			functions.CreateOverdueInvoicesFunctionDeclaration(erpClient),
		}
		for _, d := range decls {
			if err := reg.Register(d); err != nil {
				return err
			}
		}
		for _, name := range cfg.Assistant.DisabledFunctions {
			if err := reg.SetEnabled(name, false); err != nil {
				log.WithError(err).Warn("disabling function")
			}
		}
	} else {
		log.Warn("no erp base url configured, bundled functions are unavailable")
	}

	var files *fileproc.Processor
	if erpClient != nil {
		files = fileproc.New(erpClient)
	}

	orch := orchestrator.New(
		cfg,
		st,
		audit,
		gateway.NewGemini(client, cfg),
		executor.New(reg, audit),
		reg,
		files,
		erpClient,
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(cfg, orch).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	return nil
}
