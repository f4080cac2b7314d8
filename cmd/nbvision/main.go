package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/chriskillpack/nbvision"
	"github.com/chriskillpack/nbvision/internal/config"
	"github.com/chriskillpack/nbvision/notebook"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "./nbvision.yaml", "Path to optional YAML config")
	dbPath     = flag.String("db", "", "Path or file: URI of the state database holding API keys (default $HOME/.nbvision.db)")
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage:\n")
	fmt.Fprintf(out, "  %s [flags] explain [-cell N] notebook.ipynb...\n", os.Args[0])
	fmt.Fprintf(out, "  %s [flags] clear\n\nFlags:\n", os.Args[0])
	flag.PrintDefaults()
}

func statePath(cfg *config.Config) (string, error) {
	if *dbPath != "" {
		return *dbPath, nil
	}
	if p := cfg.GetString(config.KeyStateDB); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".nbvision.db"), nil
}

// loadNotebooks reads and parses every path, a few at a time.
func loadNotebooks(ctx context.Context, paths []string) ([]*notebook.Notebook, error) {
	nbs := make([]*notebook.Notebook, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			nb, err := notebook.Load(path)
			if err != nil {
				return err
			}
			nbs[i] = nb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return nbs, nil
}

// selectCells returns the indexes of the code cells to explain. cellIdx -1
// selects every code cell, anything else must name a code cell of nb.
func selectCells(nb *notebook.Notebook, cellIdx int) ([]int, error) {
	if cellIdx == -1 {
		var idxs []int
		for i, cell := range nb.Cells {
			if cell.Kind == "code" {
				idxs = append(idxs, i)
			}
		}
		return idxs, nil
	}

	if cellIdx < 0 || cellIdx >= len(nb.Cells) {
		return nil, fmt.Errorf("%s: cell %d out of range, notebook has %d cells", nb.Path(), cellIdx, len(nb.Cells))
	}
	if kind := nb.Cells[cellIdx].Kind; kind != "code" {
		return nil, fmt.Errorf("%s: cell %d is a %s cell, only code cells have outputs", nb.Path(), cellIdx, kind)
	}
	return []int{cellIdx}, nil
}

func runExplain(ctx context.Context, e *nbvision.Explainer, args []string) error {
	fs := flag.NewFlagSet("explain", flag.ExitOnError)
	cellIdx := fs.Int("cell", -1, "Index of the cell to explain, -1 explains every cell with an image output")
	fs.Parse(args)

	if *cellIdx < -1 {
		return fmt.Errorf("explain: invalid cell index %d", *cellIdx)
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("explain: no notebooks given")
	}

	nbs, err := loadNotebooks(ctx, fs.Args())
	if err != nil {
		return err
	}

	for _, nb := range nbs {
		idxs, err := selectCells(nb, *cellIdx)
		if err != nil {
			return err
		}

		for _, i := range idxs {
			// ApplyEdit reparses the notebook, always read the current cell.
			modified, err := e.ExplainOutputs(ctx, nb, nb.Cells[i])
			if err != nil {
				return fmt.Errorf("%s: cell %d: %w", nb.Path(), i, err)
			}
			if modified {
				fmt.Printf("%s: cell %d explained\n", nb.Path(), i)
			}
		}
	}

	return nil
}

func run(ctx context.Context, cfg *config.Config, args []string) error {
	path, err := statePath(cfg)
	if err != nil {
		return err
	}
	db, err := nbvision.NewDB(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()

	prompter, err := newTermPrompter()
	if err != nil {
		return err
	}
	defer prompter.Close()

	cm := nbvision.NewCredentialManager(db, db, prompter)

	switch args[0] {
	case "explain":
		nio := nbvision.InitOptions{
			OpenAIModel:    cfg.GetString(config.KeyOpenAIModel),
			OpenAIBaseURL:  cfg.GetString(config.KeyOpenAIBaseURL),
			GeminiModel:    cfg.GetString(config.KeyGeminiModel),
			GeminiEndpoint: cfg.GetString(config.KeyGeminiEndpoint),
			HttpClient: &http.Client{
				Timeout: cfg.GetDurationOrDefault(config.KeyHTTPTimeout, 0),
			},
		}
		e := nbvision.NewExplainer(cm, newBarProgress(os.Stderr), nio)
		return runExplain(ctx, e, args[1:])
	case "clear":
		return <-cm.Clear(ctx)
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func main() {
	flag.Usage = usage
	flag.Parse()

	switch flag.Arg(0) {
	case "explain", "clear":
	default:
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, cfg, flag.Args()); err != nil {
		log.Fatal(err)
	}
}
