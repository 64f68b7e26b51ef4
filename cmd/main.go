package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	cfgPkg "github.com/xhad/pubgraph/pkg/config"
	"github.com/xhad/pubgraph/pkg/logger"
)

type Options struct {
	ConfigPath string
	DataDir    string
	LogDir     string
	LogLevel   string
	Workers    int
	Policy     string
	Checkpoint string
	Neo4jURI   string
	Force      bool
}

const usage = `Usage: pubgraph [flags] <command> [args]

Commands:
  fetch <pmid|file>...    download annotated documents from PubTator3
  merge                   merge specialist tagger output into base documents
  relate                  attach relation tagger output to merged documents
  convert <in> <out>      convert between BioC XML and PubTator files
  extract [dir]...        write per-document concept and relation tables
  aggregate               fold tables into the corpus checkpoints
  load                    upsert the corpus checkpoints into neo4j
  ingest                  aggregate, then load

Flags:
`

func main() {
	opts, args := parseFlags()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	config, err := loadConfig(opts)
	if err != nil {
		color.Red("%v", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{
		Mode:  config.Log.Mode,
		Dir:   config.Log.Dir,
		Level: config.Log.Level,
	})
	if err != nil {
		color.Red("failed to initialize logger: %v", err)
		os.Exit(1)
	}
	log = log.With("run_id", uuid.NewString())
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp(config, log, opts.Force)
	if err := app.Run(ctx, args[0], args[1:]); err != nil {
		log.Error("command failed", "command", args[0], "error", err)
		color.Red("\n✗ %s failed: %v\n", args[0], err)
		os.Exit(1)
	}
}

func parseFlags() (Options, []string) {
	var opts Options

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&opts.DataDir, "data-dir", "", "Root directory for pipeline data")
	flag.StringVar(&opts.LogDir, "log-dir", "", "Directory for DEBUG log files")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Console log level")
	flag.IntVar(&opts.Workers, "workers", 0, "Worker pool size for per-file transforms")
	flag.StringVar(&opts.Policy, "policy", "", "Passage alignment policy (strict, truncate)")
	flag.StringVar(&opts.Checkpoint, "checkpoint", "", "Checkpoint backend (file, s3, postgres)")
	flag.StringVar(&opts.Neo4jURI, "neo4j-uri", "", "Neo4j connection URI")
	flag.BoolVar(&opts.Force, "force", false, "Overwrite outputs that already exist")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	return opts, flag.Args()
}

// loadConfig reads the config file and lets command line flags override it.
func loadConfig(opts Options) (*cfgPkg.Config, error) {
	cfg, err := cfgPkg.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	if opts.DataDir != "" {
		cfg.SetDataDir(opts.DataDir)
	}
	if opts.LogDir != "" {
		cfg.Log.Dir = opts.LogDir
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.Workers > 0 {
		cfg.Aggregate.Workers = opts.Workers
		cfg.Merge.Workers = opts.Workers
	}
	if opts.Policy != "" {
		cfg.Merge.Policy = opts.Policy
	}
	if opts.Checkpoint != "" {
		cfg.Checkpoint.Backend = opts.Checkpoint
	}
	if opts.Neo4jURI != "" {
		cfg.Neo4j.URI = opts.Neo4jURI
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		return nil, fmt.Errorf("invalid configuration (%d problems)", len(errs))
	}
	return cfg, nil
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetWriter(os.Stderr),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetWriter(os.Stderr),
	)
}
