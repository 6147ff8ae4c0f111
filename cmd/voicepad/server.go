package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/kalambet/voicepad/internal/api"
	"github.com/kalambet/voicepad/internal/config"
	"github.com/kalambet/voicepad/internal/logging"
	"github.com/kalambet/voicepad/internal/pipeline"
	"github.com/kalambet/voicepad/internal/prompt"
	"github.com/kalambet/voicepad/internal/proxy"
	"github.com/kalambet/voicepad/internal/storage"
	"github.com/kalambet/voicepad/internal/store"
	"github.com/kalambet/voicepad/internal/task"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the voicepad server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running voicepad server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show voicepad status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "voicepad.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "voicepad version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireGeneration(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	logger.Info("API bearer token available")

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("voicepad is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("voicepad is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logger.Warn("closing storage", zap.Error(err))
		}
	}()

	docs := store.New(kv, store.WithLogger(logger.Named("store")))
	docs.Init()

	ttl, err := cfg.PromptCacheTTL()
	if err != nil {
		return err
	}
	library := prompt.NewLibrary(cfg.Prompts.Dir)
	prompts := prompt.NewCachedSource(
		library,
		kv,
		prompt.WithCacheTTL(ttl),
		prompt.WithCacheLogger(logger.Named("prompt")),
	)

	text, models, err := newTextGenerator(ctx, cfg)
	if err != nil {
		return err
	}

	deps := pipeline.Deps{
		Store:     docs,
		Tasks:     task.NewRegistry(cfg.Generation.MaxConcurrent, logger.Named("task")),
		Assembler: prompt.NewAssembler(prompts, logger.Named("prompt")),
		Text:      text,
		Logger:    logger.Named("pipeline"),
	}
	if cfg.Images.FalAPIKey != "" {
		deps.Images = proxy.NewFalClient(cfg.Images.FalAPIKey, cfg.Images.Model)
	} else {
		logger.Info("image generation disabled: no fal.ai API key")
	}
	if cfg.Transcription.OpenAIAPIKey != "" {
		deps.Transcriber = proxy.NewWhisperClient(cfg.Transcription.OpenAIAPIKey, cfg.Transcription.Model)
	} else {
		logger.Info("transcription disabled: no OpenAI API key")
	}
	svc := pipeline.New(deps)

	var mcpHandler http.Handler
	if cfg.Server.MCPEnabled {
		mcpHandler = mcpserver.NewStreamableHTTPServer(api.NewMCPServer(svc, version))
		logger.Info("MCP server enabled (streamable HTTP at /mcp)")
	}

	apiDeps := api.Deps{
		Service: svc,
		Prompts: prompts,
		Catalog: library,
		Cache:   prompts,
		Token:   apiToken,
		MCP:     mcpHandler,
		Logger:  logger.Named("api"),
	}
	if models != nil {
		apiDeps.Models = models
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}

	srv := &http.Server{
		Handler:           api.NewHandler(apiDeps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("voicepad listening", zap.String("addr", addr))
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	svc.Shutdown()
	return err
}

// newTextGenerator builds the configured text backend. The model lister is
// nil for backends that cannot list models.
func newTextGenerator(ctx context.Context, cfg config.Config) (proxy.TextGenerator, api.ModelLister, error) {
	switch cfg.Generation.Backend {
	case config.BackendOpenRouter:
		c := proxy.NewClient(cfg.Proxy.OpenRouterAPIKey, cfg.Proxy.DefaultModel)
		return c, c, nil
	default:
		g, err := proxy.NewGeminiClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.TextModel)
		if err != nil {
			return nil, nil, fmt.Errorf("creating gemini client: %w", err)
		}
		return g, nil, nil
	}
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
		printError("voicepad is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop voicepad (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to voicepad (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
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
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Text backend", "%s", backendLabel(cfg))
	printStatus("Images", "%s", enabledLabel(cfg.Images.FalAPIKey != "", cfg.Images.Model))
	printStatus("Transcription", "%s", enabledLabel(cfg.Transcription.OpenAIAPIKey != "", cfg.Transcription.Model))
	printStatus("MCP", "%s", enabledLabel(cfg.Server.MCPEnabled, "/mcp"))

	apiToken, tokenErr := config.GetAPIToken(config.NewKeychain())
	if running && tokenErr == nil {
		stateResp, err := apiGet(client, serverURL+"/state", apiToken)
		if err == nil {
			var state struct {
				Transcripts []json.RawMessage `json:"transcripts"`
				Session     struct {
					FocusedID string `json:"focusedId"`
				} `json:"session"`
			}
			if json.NewDecoder(stateResp.Body).Decode(&state) == nil {
				printStatus("Documents", "%d", len(state.Transcripts))
				if state.Session.FocusedID != "" {
					printStatus("Focused", "%s", state.Session.FocusedID)
				}
			}
			stateResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func backendLabel(cfg config.Config) string {
	if cfg.Generation.Backend == config.BackendOpenRouter {
		return fmt.Sprintf("openrouter (%s)", cfg.Proxy.DefaultModel)
	}
	return fmt.Sprintf("gemini (%s)", cfg.Gemini.TextModel)
}

func enabledLabel(enabled bool, detail string) string {
	if !enabled {
		return "disabled"
	}
	return "enabled (" + detail + ")"
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
