package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"docsum/internal/config"
	"docsum/internal/extract"
	"docsum/internal/fetch"
	"docsum/internal/metrics"
	"docsum/internal/queue"
	"docsum/internal/resolver"
	web "docsum/internal/server"
	"docsum/internal/store"
	"docsum/internal/summarize"
	"docsum/internal/worker"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	cfg        *config.Config
	v          *viper.Viper
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "docsum",
	Short: "docsum - fetch documents and summarize them with a language model",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, configFile)
		if err != nil {
			return err
		}
		logger, err = newLogger(cfg.Log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
	SilenceUsage: true,
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server and the worker pool",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := shutdownContext()
		defer cancel()

		// Setup Manual 'q' input handling
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				if scanner.Text() == "q" {
					fmt.Println(" 'q' pressed. Stopping...")
					cancel()
					return
				}
			}
		}()

		// Initialize Store (FULL MODE - Redis + Badger)
		st, err := store.NewHybridStore(cfg.Redis.Addr, cfg.Badger.Path)
		if err != nil {
			logger.Fatal("Failed to init store", zap.Error(err))
		}
		defer st.Close()
		metrics.RegisterCollectors(prometheus.DefaultRegisterer)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			st.RunGC(ctx, cfg.Badger.GCInterval)
		}()
		go func() {
			defer wg.Done()
			newPool(st).Start(ctx)
		}()

		go func() {
			defer wg.Done()
			serveUntil(ctx, newAPIServer(st))
		}()

		logger.Info("Server running.")
		fmt.Println("Press 'q' + Enter or Ctrl+C to stop.")

		// Block until shutdown
		<-ctx.Done()
		wg.Wait()
		logger.Info("Goodbye!")
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the worker pool",
	Long: `Run only the worker pool.

At startup the pool moves every job parked on the in-flight list back onto
the queue. Run a single worker process per Redis queue, and do not start one
next to "docsum server": its recovery would redeliver the other process's
in-flight jobs and they would be processed twice.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := shutdownContext()
		defer cancel()

		st, err := store.NewHybridStore(cfg.Redis.Addr, cfg.Badger.Path)
		if err != nil {
			logger.Fatal("Failed to init store", zap.Error(err))
		}
		defer st.Close()
		metrics.RegisterCollectors(prometheus.DefaultRegisterer)

		go st.RunGC(ctx, cfg.Badger.GCInterval)
		newPool(st).Start(ctx)
	},
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run only the API server (no text archive)",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := shutdownContext()
		defer cancel()

		// CLIENT MODE: the worker process holds the Badger lock
		st, err := store.NewHybridStore(cfg.Redis.Addr, "")
		if err != nil {
			logger.Fatal("Failed to init store", zap.Error(err))
		}
		defer st.Close()
		metrics.RegisterCollectors(prometheus.DefaultRegisterer)

		serveUntil(ctx, newAPIServer(st))
	},
}

var addCmd = &cobra.Command{
	Use:   "add [name] [url]",
	Short: "Submit a document for summarization",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		// Initialize Store (CLIENT MODE - Redis Only)
		st, err := store.NewHybridStore(cfg.Redis.Addr, "")
		if err != nil {
			logger.Fatal("Failed to init store", zap.Error(err))
		}
		defer st.Close()

		sub, err := newSubmitter(st).Submit(context.Background(), args[0], args[1])
		if err != nil {
			logger.Fatal("Failed to submit document", zap.Error(err))
		}
		printJSON(sub.Document)
	},
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show a document and its summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid document id: %w", err)
		}

		st, err := store.NewHybridStore(cfg.Redis.Addr, "")
		if err != nil {
			return err
		}
		defer st.Close()

		doc, err := st.Get(context.Background(), id)
		if err != nil {
			return err
		}
		printJSON(doc)
		return nil
	},
}

var (
	listLimit  int
	listOffset int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.NewHybridStore(cfg.Redis.Addr, "")
		if err != nil {
			return err
		}
		defer st.Close()

		docs, err := st.List(context.Background(), listLimit, listOffset)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			fmt.Printf("%s  %-10s  %s  %s\n", doc.ID, doc.Status, doc.Name, doc.URL)
		}
		return nil
	},
}

func newSubmitter(st *store.HybridStore) *resolver.Submitter {
	return resolver.NewSubmitter(resolver.NewResolver(st, logger), queue.NewRedisQueue(st.Client()), logger)
}

func newAPIServer(st *store.HybridStore) *web.Server {
	return web.NewServer(st, newSubmitter(st), st, cfg.HTTP, cfg.RateLimit, logger)
}

func newPool(st *store.HybridStore) *worker.Pool {
	summarizer, err := summarize.New(cfg.Summarizer)
	if err != nil {
		logger.Fatal("Failed to init summarizer", zap.Error(err))
	}

	processor := worker.NewProcessor(st,
		fetch.NewFetcher(cfg.Fetch.Timeout, cfg.Fetch.MaxBodyBytes),
		extract.NewExtractor(),
		summarizer,
		cfg.Summarizer.MaxChars,
		logger,
	)

	pool := worker.NewPool(queue.NewRedisQueue(st.Client()), cfg.Worker.Concurrency, cfg.Worker.PollTimeout, logger)
	pool.Register(queue.TaskProcessDocument, processor.Process)
	return pool
}

// serveUntil runs srv until ctx is cancelled, then shuts it down.
func serveUntil(ctx context.Context, srv *web.Server) {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("API server failed", zap.Error(err))
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Error("API server shutdown failed", zap.Error(err))
		}
	}
}

// shutdownContext is cancelled on SIGINT or SIGTERM.
func shutdownContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func newLogger(lc config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if lc.Format == "json" {
		zc = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log.level: %w", err)
	}
	zc.Level = level
	return zc.Build()
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func main() {
	v = config.New()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("redis", "localhost:6379", "Address of Redis server (host:port or redis:// URL)")
	rootCmd.PersistentFlags().String("badger", "./badger-data", "Path to BadgerDB data directory")
	v.BindPFlag("redis.addr", rootCmd.PersistentFlags().Lookup("redis"))
	v.BindPFlag("badger.path", rootCmd.PersistentFlags().Lookup("badger"))

	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of documents")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Number of documents to skip")

	rootCmd.AddCommand(serverCmd, workerCmd, apiCmd, addCmd, getCmd, listCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
