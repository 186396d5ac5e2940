package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	odbxuv "github.com/Theintercooler/OpenDBX-uv-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

const logLevelEnv = "ODBXUV_LOG_LEVEL"

func main() {
	var (
		inline      = flag.String("e", "", "Script chunk to run before the files")
		interactive = flag.Bool("i", false, "Interactive REPL after running the scripts")
		lang        = flag.String("lang", "", "Script language: lua or js (default from the file extension)")
		logLevel    = flag.String("log-level", os.Getenv(logLevelEnv), "Log level: debug, info, warn, error")
		timeout     = flag.Duration("timeout", 30*time.Second, "Maximum time to wait for pending work after the scripts ran")
	)
	flag.Parse()

	if *inline == "" && !*interactive && flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: odbxuv [-lang lua|js] [-e chunk] [-i] [script...]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	log, err := buildLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()
	odbxuv.SetLogger(log)

	opts := runOptions{
		inline:      *inline,
		files:       flag.Args(),
		interactive: *interactive,
		lang:        detectLang(*lang, flag.Args()),
		timeout:     *timeout,
	}
	if err := run(opts, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type runOptions struct {
	inline      string
	files       []string
	interactive bool
	lang        string
	timeout     time.Duration
}

func run(opts runOptions, log *zap.Logger) error {
	var failed []error
	report := func(err error) {
		failed = append(failed, err)
		log.Error("uncaught script error", zap.Error(err))
	}
	loop := odbxuv.NewLoop(
		odbxuv.WithLoopLogger(log),
		odbxuv.WithTaskErrorHandler(func(err error) { report(err) }),
	)
	eng, err := newEngine(opts.lang, loop, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	if opts.inline != "" {
		if err := eng.Exec("=(command line)", opts.inline); err != nil {
			return err
		}
	}
	for _, path := range opts.files {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		if err := eng.Exec(path, string(src)); err != nil {
			return err
		}
	}

	if opts.interactive {
		// the REPL shows script errors itself
		r := newREPL(eng, opts.lang)
		report = r.report
		if err := r.run(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()
	if err := eng.Bridge().Shutdown(ctx); err != nil {
		if errors.Is(err, odbxuv.ErrLeakedHandles) {
			eng.Bridge().DumpOpenHandles()
		}
		return err
	}
	if len(failed) > 0 && !opts.interactive {
		return fmt.Errorf("%d script error(s), first: %w", len(failed), failed[0])
	}
	return nil
}

func detectLang(flagValue string, files []string) string {
	if flagValue != "" {
		return strings.ToLower(flagValue)
	}
	for _, f := range files {
		if strings.HasSuffix(f, ".js") {
			return langJS
		}
	}
	return langLua
}

// buildLogger picks the console encoder on a terminal and JSON otherwise.
func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config
	if term.IsTerminal(int(os.Stderr.Fd())) {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	if level == "" {
		level = "warn"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
