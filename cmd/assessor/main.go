package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	cfgPkg "github.com/xhad/assessor/pkg/config"
	"github.com/xhad/assessor/pkg/extractor"
	"github.com/xhad/assessor/pkg/logger"
)

const usage = `Usage: assessor [global flags] <command> [flags] [files]

Commands:
  assess   assess one submission
  batch    assess many submissions against one prompt
  purge    delete stored submission embeddings older than a cutoff
  serve    run the HTTP and websocket server

Supported files:
  %s

Global flags:
`

type globalFlags struct {
	configPath string
	ollamaURL  string
	dbURL      string
	logLevel   string
}

func main() {
	var g globalFlags
	flag.StringVar(&g.configPath, "config", "", "Path to config file")
	flag.StringVar(&g.ollamaURL, "ollama-url", "", "Ollama server URL")
	flag.StringVar(&g.dbURL, "db-url", "", "PostgreSQL connection string")
	flag.StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), usage, strings.Join(extractor.SupportedExtensions(), " "))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(g)
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
	log := logger.NewWithConfig(cfg.Logging.Level, cfg.Logging.Pretty, cfg.Logging.NoColor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "assess":
		err = runAssess(ctx, cfg, log, args)
	case "batch":
		err = runBatch(ctx, cfg, log, args)
	case "purge":
		err = runPurge(ctx, cfg, log, args)
	case "serve":
		err = runServe(ctx, cfg, log, args)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		color.Red("Error: %v", err)
		stop()
		os.Exit(1)
	}
}

func loadConfig(g globalFlags) (*cfgPkg.Config, error) {
	cfg, err := cfgPkg.LoadConfig(g.configPath)
	if err != nil {
		return nil, err
	}

	// flags win over the file and the environment
	if g.ollamaURL != "" {
		cfg.LLM.BaseURL = g.ollamaURL
		cfg.Embedding.BaseURL = g.ollamaURL
	}
	if g.dbURL != "" {
		cfg.Store.URL = g.dbURL
		cfg.Store.Backend = "pgvector"
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %s", e.Error())
		}
		return nil, fmt.Errorf("invalid configuration (%d problems)", len(errs))
	}
	return cfg, nil
}
