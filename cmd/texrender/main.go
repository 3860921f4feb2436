package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/wudi/texkit/channel"
	"github.com/wudi/texkit/config"
	"github.com/wudi/texkit/engine"
	"github.com/wudi/texkit/observability"
	"github.com/wudi/texkit/render"
)

type options struct {
	expr    string
	output  string
	display bool
	color   string
	size    float64
	width   float64

	in         string
	outDir     string
	codec      string
	configPath string
	logLevel   string
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "texrender: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "texrender: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: texrender -expr <tex> [-o out.png] [flags]\n")
		fmt.Fprintf(flag.CommandLine.Output(), "       texrender [-in calls] [-codec json|msgpack] [-out dir] [flags]\n")
		flag.PrintDefaults()
	}
	flag.StringVar(&opts.expr, "expr", "", "Render a single TeX expression")
	flag.StringVar(&opts.output, "o", "", "Output PNG for -expr (default <digest>.png)")
	flag.BoolVar(&opts.display, "display", false, "Use display mode for -expr")
	flag.StringVar(&opts.color, "color", "#000000", "Text color for -expr")
	flag.Float64Var(&opts.size, "size", engine.DefaultFontSize, "Font size in CSS pixels for -expr")
	flag.Float64Var(&opts.width, "width", 0, "Wrapping width in CSS pixels for -expr (0 disables wrapping)")
	flag.StringVar(&opts.in, "in", "-", "Stream of method calls to serve (- for stdin)")
	flag.StringVar(&opts.outDir, "out", "", "Write rendered PNGs to this directory instead of inline results")
	flag.StringVar(&opts.codec, "codec", "", "Stream codec: json or msgpack")
	flag.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flag.Parse()

	if flag.NArg() != 0 {
		flag.Usage()
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(flag.Args(), " "))
	}
	if opts.expr == "" && opts.output != "" {
		return options{}, fmt.Errorf("-o requires -expr")
	}
	if opts.size <= 0 {
		return options{}, fmt.Errorf("-size must be > 0")
	}
	if opts.width < 0 {
		return options{}, fmt.Errorf("-width must be >= 0")
	}
	return opts, nil
}

func run(opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	session := uuid.NewString()
	logger := observability.NewSlogLogger(newSlog(cfg, os.Stderr).With("session", session))
	tracer := observability.NewOTelTracer(otel.Tracer("github.com/wudi/texkit/cmd/texrender"))

	surface := engine.NewSurface(cfg.EngineOptions(logger)...)
	r, err := render.New(surface, cfg.RendererOptions(logger, tracer)...)
	if err != nil {
		return fmt.Errorf("new renderer: %w", err)
	}
	defer func() {
		st := r.Stats()
		logger.Debug("renderer stats",
			observability.Uint64("submitted", st.Submitted),
			observability.Uint64("delivered", st.Delivered),
			observability.Uint64("failed", st.Failed),
			observability.Uint64("cancelled", st.Cancelled),
			observability.Uint64("superseded", st.Superseded),
			observability.Uint64(observability.MetricMemoHits, st.MemoHits),
			observability.Uint64("unstable", st.Unstable))
		r.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.expr != "" {
		return renderOne(ctx, r, opts, logger)
	}
	return serve(ctx, r, cfg, opts, logger)
}

func loadConfig(opts options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.codec != "" {
		cfg.Stream.Codec = opts.codec
	}
	if opts.outDir != "" {
		cfg.Stream.OutputDir = opts.outDir
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newSlog(cfg *config.Config, w io.Writer) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func renderOne(ctx context.Context, r *render.Renderer, opts options, logger observability.Logger) error {
	p := render.Params{
		Text:        opts.expr,
		DisplayMode: opts.display,
		Color:       opts.color,
		FontSize:    opts.size,
		MaxWidth:    math.Inf(1),
	}
	if opts.width > 0 {
		p.MaxWidth = opts.width
	}

	data, err := r.Render(ctx, "cli", p)
	if err != nil {
		return fmt.Errorf("render %q: %w", opts.expr, err)
	}

	out := opts.output
	if out == "" {
		out = p.Digest()[:16] + ".png"
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	logger.Info("wrote image", observability.String("path", out), observability.Int("bytes", len(data)))
	fmt.Println(out)
	return nil
}

func serve(ctx context.Context, r *render.Renderer, cfg *config.Config, opts options, logger observability.Logger) error {
	codec, err := cfg.Codec()
	if err != nil {
		return err
	}

	in := io.Reader(os.Stdin)
	if opts.in != "" && opts.in != "-" {
		f, err := os.Open(opts.in)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	outDir := cfg.Stream.OutputDir
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	enc := codec.NewEncoder(os.Stdout)
	emit := func(resp channel.Response) error {
		if outDir != "" && resp.Result != nil {
			path := filepath.Join(outDir, imageName(resp))
			if err := os.WriteFile(path, resp.Result, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			logger.Debug("wrote image", observability.String("path", path))
			resp.Result = nil
		}
		return enc.Encode(resp)
	}

	logger.Info("serving method calls", observability.String("codec", codec.Name()))
	h := channel.NewHandler(r, logger)
	if err := channel.Serve(ctx, codec.NewDecoder(in), h, emit); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// imageName derives a file name from the response's request id.
func imageName(resp channel.Response) string {
	name := resp.RequestID
	if name == "" {
		name = resp.ID
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, name)
	name = strings.Trim(name, ".")
	if name == "" {
		name = uuid.NewString()
	}
	return name + ".png"
}
