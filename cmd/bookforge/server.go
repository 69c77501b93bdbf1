package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/bookforge/internal/api"
	"github.com/kalambet/bookforge/internal/config"
	"github.com/kalambet/bookforge/internal/engine"
	"github.com/kalambet/bookforge/internal/generation"
	"github.com/kalambet/bookforge/internal/ingest"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bookforge server (foreground)",
	Long: `Start the bookforge HTTP API on 127.0.0.1:<server.port>.

With --mcp the MCP tool server is also served over stdin/stdout, so an MCP
client can launch bookforge as a subprocess.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running bookforge server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bookforge system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "bookforge.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// lockServer takes the per-data-dir server lock. It fails when another
// server holds it.
func lockServer(dataDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(dataDir, "bookforge.server.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", lock.Path(), err)
	}
	if !ok {
		if pid, err := readPIDFile(pidFilePath(dataDir)); err == nil {
			return nil, fmt.Errorf("server already running (PID %d)", pid)
		}
		return nil, errors.New("server already running")
	}
	return lock, nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "bookforge version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		printWarning("bookforge is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	lock, err := lockServer(cfg.Storage.DataDir)
	if err != nil {
		printWarning("%v", err)
		return err
	}
	defer lock.Unlock()

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Ollama serves embeddings and analysis. Generation only needs it for
	// the local provider.
	localModel := ""
	if cfg.Generation.Provider == config.ProviderOllama {
		localModel = cfg.Ollama.ChatModel
	}
	if err := engine.EnsureReady(ctx, a.engine, localModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		if localModel != "" {
			return err
		}
		slog.Warn("local inference unavailable; chapter search and indexing will fail until Ollama is up", "error", err)
	}

	handler := api.NewAppHandler(api.AppDeps{
		Pipeline: a.pipeline,
		Learner:  a.learner,
		Index:    a.index,
		Chapters: a.store,
		Speech:   a.speech,
		Token:    apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	worker := ingest.NewWorker(a.store, a.index, 500*time.Millisecond)
	go worker.Run(ctx)

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Pipeline: a.pipeline,
			Learner:  a.learner,
			Index:    a.index,
		}, version)
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "bookforge listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("bookforge is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop bookforge (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to bookforge (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			if pid, err := readPIDFile(pidFilePath(cfg.Storage.DataDir)); err == nil {
				printStatus("Server", "running on port %d (PID %d)", cfg.Server.Port, pid)
			} else {
				printStatus("Server", "running on port %d", cfg.Server.Port)
			}
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if v, err := engine.NewOllamaEngine(cfg.Ollama.BaseURL).Version(ctx); err == nil {
		printStatus("Ollama", "running at %s (v%s)", cfg.Ollama.BaseURL, v)
	} else {
		printStatus("Ollama", "not running")
	}

	printStatus("Provider", "%s", cfg.Generation.Provider)
	if cfg.Generation.Provider == config.ProviderOllama {
		printStatus("Model", "%s", cfg.Ollama.ChatModel)
	} else {
		printStatus("Model", "%s", cfg.Generation.Model)
		reportOpenRouter(ctx, generation.NewOpenRouter(cfg.Generation.OpenRouterAPIKey, cfg.Generation.Model, cfg.Generation.Timeout))
	}
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	if running {
		token, err := config.GetAPIToken(config.NewKeychain())
		if err == nil {
			c := &apiClient{baseURL: serverURL, token: token, httpClient: client}
			if st, err := c.ChapterStats(ctx); err == nil {
				printStatus("Chapters", "%d indexed", st.TotalCount)
			}
			if st, err := c.Stats(ctx); err == nil {
				printStatus("Feedback", "%d ratings, %s good", st.TotalFeedback, percent(st.SuccessRate))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

type keyValidator interface {
	Validate(ctx context.Context) error
}

// reportOpenRouter checks the API key and model against the live model list.
func reportOpenRouter(ctx context.Context, v keyValidator) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := v.Validate(ctx)
	switch generation.Classify(err) {
	case "":
		printStatus("OpenRouter", "key set, model available")
	case generation.KindConfiguration:
		printWarning("%v", err)
	default:
		printWarning("could not reach OpenRouter: %v", err)
	}
}
