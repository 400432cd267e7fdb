package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberhq/ember"
	"github.com/emberhq/ember/internal/config"
	"github.com/emberhq/ember/observer"
	"github.com/emberhq/ember/provider/openaicompat"
	"github.com/emberhq/ember/store"
	"github.com/emberhq/ember/store/badgerstore"
	"github.com/emberhq/ember/store/boltstore"
	"github.com/emberhq/ember/tools/fetch"
	"github.com/emberhq/ember/tools/imagebox"
	"github.com/emberhq/ember/tools/inspector"
	"github.com/emberhq/ember/tools/passthrough"
	"github.com/emberhq/ember/tools/script"
	"github.com/emberhq/ember/transport"
)

// flags holds the CLI surface spec.md §6 names, layered over
// internal/config's defaults-then-TOML-then-env resolution as the final
// override, except when --config names a file: then the file wins and the
// other flags are ignored.
type flags struct {
	configPath string

	providerBaseURL string
	apiKey          string
	bindAddr        string
	bindPort        int
	dataDir         string
	backend         string
	tools           string
	lang            string

	model                string
	temperature          float64
	stream               bool
	frequencyPenalty     float64
	presencePenalty      float64
	topP                 float64
	user                 string
	seed                 int64
	maxCompletionTokens  int
	parallelFunctionCall bool

	dumpConfig bool
}

func main() {
	var f flags

	root := &cobra.Command{
		Use:   "ember",
		Short: "ember — stateful, multimodal, tool-calling chat middleware",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f, cmd.Flags())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "path to a TOML config file; when given, it overrides all other flags")
	pf.StringVar(&f.providerBaseURL, "provider-base-url", "", "base URL of the OpenAI-compatible completion endpoint")
	pf.StringVar(&f.apiKey, "api-key", "", "API key for the completion endpoint")
	pf.StringVar(&f.bindAddr, "bind-addr", "", "address to bind the HTTP/WebSocket listener")
	pf.IntVar(&f.bindPort, "bind-port", 0, "port to bind the HTTP/WebSocket listener")
	pf.StringVar(&f.dataDir, "data-dir", "", "directory holding the session and blob store files")
	pf.StringVar(&f.backend, "backend", "", "storage backend kind: boltdb|badger")
	pf.StringVar(&f.tools, "tools", "", "comma-separated tool-kind list (default: all built-in tools)")
	pf.StringVar(&f.lang, "lang", "", "prompt language: auto|english|chinese|korean|japanese")

	pf.StringVar(&f.model, "model", "", "default model name")
	pf.Float64Var(&f.temperature, "temperature", 0, "default sampling temperature")
	pf.BoolVar(&f.stream, "stream", true, "default streaming mode")
	pf.Float64Var(&f.frequencyPenalty, "frequency-penalty", 0, "default frequency penalty")
	pf.Float64Var(&f.presencePenalty, "presence-penalty", 0, "default presence penalty")
	pf.Float64Var(&f.topP, "top-p", 0, "default nucleus sampling top-p")
	pf.StringVar(&f.user, "user", "", "default user tag sent to the provider")
	pf.Int64Var(&f.seed, "seed", 0, "default sampling seed")
	pf.IntVar(&f.maxCompletionTokens, "max-completion-tokens", 0, "default max completion tokens")
	pf.BoolVar(&f.parallelFunctionCall, "parallel-function-call", true, "default parallel tool-call mode")

	pf.BoolVar(&f.dumpConfig, "dump-config", false, "write the effective config as JSON to stdout and exit")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

// resolve layers the flag set over internal/config's default/TOML/env
// chain: a flag only overrides a field the user actually set on the
// command line, so an unset flag never clobbers an env value. When
// --config names a file, the flags are not applied at all.
func resolve(f flags, changed func(name string) bool) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if f.configPath != "" {
		return cfg, nil
	}

	if changed("provider-base-url") {
		cfg.ProviderBaseURL = f.providerBaseURL
	}
	if changed("api-key") {
		cfg.APIKey = f.apiKey
	}
	if changed("bind-addr") {
		cfg.BindAddr = f.bindAddr
	}
	if changed("bind-port") {
		cfg.BindPort = f.bindPort
	}
	if changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if changed("backend") {
		cfg.Backend = store.Backend(f.backend)
	}
	if changed("tools") {
		cfg.Tools = splitTools(f.tools)
	}
	if changed("lang") {
		cfg.Lang = f.lang
	}

	if changed("model") {
		cfg.Default.Model = f.model
	}
	if changed("temperature") {
		cfg.Default.Temperature = &f.temperature
	}
	if changed("stream") {
		cfg.Default.Stream = &f.stream
	}
	if changed("frequency-penalty") {
		cfg.Default.FrequencyPenalty = &f.frequencyPenalty
	}
	if changed("presence-penalty") {
		cfg.Default.PresencePenalty = &f.presencePenalty
	}
	if changed("top-p") {
		cfg.Default.TopP = &f.topP
	}
	if changed("user") {
		cfg.Default.User = &f.user
	}
	if changed("seed") {
		cfg.Default.Seed = &f.seed
	}
	if changed("max-completion-tokens") {
		cfg.Default.MaxCompletionTokens = &f.maxCompletionTokens
	}
	if changed("parallel-function-call") {
		cfg.Default.ParallelFunctionCall = &f.parallelFunctionCall
	}

	return cfg, nil
}

func splitTools(s string) []string {
	var out []string
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

func run(ctx context.Context, f flags, changed interface{ Changed(string) bool }) error {
	cfg, err := resolve(f, changed.Changed)
	if err != nil {
		return err
	}

	if f.dumpConfig {
		data, err := cfg.DumpJSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	blobs, sessions, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	baseProvider := openaicompat.New(cfg.APIKey, cfg.Default.Model, cfg.ProviderBaseURL)

	registry := ember.NewToolRegistry(logger)
	registerTools(registry, blobs, cfg.Tools)

	var tracer ember.Tracer
	var provider ember.Provider = baseProvider
	shutdownObserver := func(context.Context) error { return nil }

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		inst, shutdown, err := observer.Init(ctx, nil)
		if err != nil {
			logger.Warn("observer init failed, continuing without it", "error", err)
		} else {
			shutdownObserver = shutdown
			tracer = observer.NewTracer()
			provider = observer.WrapProvider(baseProvider, cfg.Default.Model, inst)
			wrapRegistryTools(registry, inst)
		}
	}
	defer shutdownObserver(context.Background())

	orch := ember.NewOrchestrator(provider, registry, sessions, blobs, tracer, cfg.Default, logger)

	api := &transport.API{
		Orch:     orch,
		Tools:    registry,
		Sessions: sessions,
		Blobs:    blobs,
		// Provider is always the unwrapped client here, not the tracing
		// decorator: GET /models proxies the upstream listing directly and
		// the observer wrapper doesn't forward that method.
		Provider: baseProvider,
		Log:      logger,
	}
	srv := &transport.Server{API: api, Log: logger}

	addr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.BindPort)
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	go func() {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("ember listening", "addr", addr, "backend", cfg.Backend)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func openStore(cfg config.Config) (store.BlobStore, store.SessionStore, func(), error) {
	switch cfg.Backend {
	case store.BackendBadger:
		db, err := badgerstore.Open(cfg.DataDir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening badger store: %w", err)
		}
		return db.Blobs(), db.Sessions(), func() { _ = db.Close() }, nil
	default:
		path := cfg.DataDir + "/ember.db"
		db, err := boltstore.Open(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening bolt store: %w", err)
		}
		return db.Blobs(), db.Sessions(), func() { _ = db.Close() }, nil
	}
}

// registerTools wires the requested tool-kind list onto the registry.
// Unrecognised names are skipped rather than rejected, so a
// typo in a comma-separated --tools list doesn't abort startup.
func registerTools(registry *ember.ToolRegistry, blobs store.BlobStore, wanted []string) {
	want := make(map[string]bool, len(wanted))
	for _, name := range wanted {
		want[name] = true
	}

	add := func(name string, t ember.Tool) {
		if want[name] {
			registry.Add(t)
		}
	}

	add("curl_url", fetch.New(blobs))
	add("image_zoom_in_tool", imagebox.NewZoomIn(blobs))
	add("image_draw_bbox_2d_tool", imagebox.NewBboxDraw(blobs))
	add("ResourceInspector", inspector.New(blobs))
	add("Image", passthrough.NewImage(blobs))
	add("Asset", passthrough.NewAsset(blobs))
	add("execute_code", script.New(blobs))
}

func wrapRegistryTools(registry *ember.ToolRegistry, inst *observer.Instruments) {
	for _, desc := range registry.ListToolsToHuman() {
		t, ok := registry.Get(desc.NameForModel)
		if !ok {
			continue
		}
		registry.Add(observer.WrapTool(t, inst))
	}
}
