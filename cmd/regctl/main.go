// Command regctl manages jurisdiction snapshots from the command line.
//
// Print parser sections of a regulation for the external extractor:
//
//	regctl extract ./docs/CELEX_32016R0679_EN_TXT.pdf > gdpr.sections.json
//
// Ingest an extractor batch (JSON or XLSX) into a jurisdiction:
//
//	regctl ingest -j eu ./batches/gdpr.json
//	regctl ingest -j eu -rebuild ./batches/gdpr.xlsx
//
// Inspect and query a jurisdiction:
//
//	regctl stats -j eu
//	regctl retrieve -j eu -seeds gdpr-5,gdpr-32 -top-k 5
//	regctl retrieve -j eu -seed gdpr-5 -seed gdpr-6 -damping 0.5
//
// Score retrieval against a labelled dataset:
//
//	regctl eval -j eu ./testdata/gdpr-cases.yaml
//
// Every command accepts -config and reads HIPPOREG_* variables and .env.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/brunobiangulo/hipporeg"
	"github.com/brunobiangulo/hipporeg/batch"
	"github.com/brunobiangulo/hipporeg/eval"
	"github.com/brunobiangulo/hipporeg/parser"
)

// stringSlice implements flag.Value for multi-value string flags.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ", ") }
func (s *stringSlice) Set(val string) error {
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			*s = append(*s, p)
		}
	}
	return nil
}

const usage = `usage: regctl <command> [flags] [args]

commands:
  extract   <file.pdf|file.txt>            print clause skeletons as JSON
  ingest    -j <jurisdiction> [-rebuild] <batch.json|batch.xlsx>
  stats     -j <jurisdiction>
  retrieve  -j <jurisdiction> -seeds a,b [-top-k N] [-damping a]
  eval      [-j <jurisdiction>] [-results] <cases.yaml|cases.json>
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("loading .env", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "regctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "extract":
		return runExtract(ctx, args, out)
	case "ingest":
		return runIngest(ctx, args, out)
	case "stats":
		return runStats(ctx, args, out)
	case "retrieve":
		return runRetrieve(ctx, args, out)
	case "eval":
		return runEval(ctx, args, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

// commonFlags registers the flags every service command shares.
type commonFlags struct {
	config       string
	jurisdiction string
	verbose      bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "Path to config file (YAML or JSON)")
	fs.StringVar(&c.jurisdiction, "j", "", "Jurisdiction key")
	fs.BoolVar(&c.verbose, "v", false, "Log at debug level")
}

// open builds a service for the selected jurisdiction only, so a corrupt
// snapshot elsewhere does not get in the way.
func (c *commonFlags) open() (*hipporeg.Service, error) {
	if c.jurisdiction == "" {
		return nil, errors.New("-j is required")
	}
	cfg := hipporeg.DefaultConfig()
	if c.config != "" {
		var err error
		if cfg, err = hipporeg.LoadConfig(c.config); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.Jurisdictions = []string{c.jurisdiction}

	level := cfg.SlogLevel()
	if c.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	return hipporeg.New(cfg)
}

func runExtract(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	sections := fs.Bool("sections", false, "Print raw parser sections instead of clause records")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("extract takes exactly one file")
	}
	path := fs.Arg(0)

	p, err := parser.NewRegistry().Get(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return err
	}
	res, err := p.Parse(ctx, path)
	if err != nil {
		return err
	}
	if *sections {
		return writeJSON(out, res)
	}
	return writeJSON(out, map[string]any{
		"source":  filepath.Base(path),
		"clauses": parser.Clauses(path, res),
	})
}

func runIngest(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	rebuild := fs.Bool("rebuild", false, "Discard the current graph and rebuild from this batch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("ingest takes exactly one batch file")
	}

	b, err := batch.NewRegistry().Read(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	svc, err := common.open()
	if err != nil {
		return err
	}
	defer svc.Close()

	var opts []hipporeg.IngestOption
	if *rebuild {
		opts = append(opts, hipporeg.WithRebuild())
	}
	res, err := svc.Ingest(ctx, common.jurisdiction, *b, opts...)
	if err != nil {
		return err
	}
	return writeJSON(out, res)
}

func runStats(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, err := common.open()
	if err != nil {
		return err
	}
	defer svc.Close()

	stats, err := svc.Stats(ctx, common.jurisdiction)
	if err != nil {
		return err
	}
	return writeJSON(out, stats)
}

func runRetrieve(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("retrieve", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	var seeds stringSlice
	fs.Var(&seeds, "seeds", "Comma-separated candidate seed ids")
	fs.Var(&seeds, "seed", "Candidate seed id (repeatable)")
	topK := fs.Int("top-k", 0, "Results to return (default from config)")
	damping := fs.Float64("damping", 0, "Damping factor in (0, 1) (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, err := common.open()
	if err != nil {
		return err
	}
	defer svc.Close()

	resp, err := svc.Retrieve(ctx, common.jurisdiction, hipporeg.RetrieveRequest{
		CandidateSeedIDs: seeds,
		TopK:             *topK,
		Damping:          *damping,
	})
	if err != nil {
		return err
	}
	return writeJSON(out, resp)
}

func runEval(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	results := fs.Bool("results", false, "Include per-case results in the report")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("eval takes exactly one dataset file")
	}

	ds, err := eval.LoadDataset(fs.Arg(0))
	if err != nil {
		return err
	}
	// -j overrides the dataset's own jurisdiction.
	if common.jurisdiction == "" {
		common.jurisdiction = ds.Jurisdiction
	}
	ds.Jurisdiction = common.jurisdiction

	svc, err := common.open()
	if err != nil {
		return err
	}
	defer svc.Close()

	report, err := eval.NewEvaluator(svc).Run(ctx, ds)
	if err != nil {
		return err
	}
	if !*results {
		report.Results = nil
	}
	return writeJSON(out, report)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
