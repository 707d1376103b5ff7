// Command annokitt walks a project's documents from the terminal: it opens
// a session, steps through the document stream and prints each document
// with its objects and concepts.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	osfs "github.com/hack-pad/hackpadfs/os"

	"github.com/kittclouds/annokitt/internal/api"
	"github.com/kittclouds/annokitt/internal/config"
	"github.com/kittclouds/annokitt/internal/diag"
	"github.com/kittclouds/annokitt/internal/session"
	"github.com/kittclouds/annokitt/internal/store"
	"github.com/kittclouds/annokitt/pkg/suggest"
	"github.com/kittclouds/annokitt/pkg/vector"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
	exitConfig = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Environ(), os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	config     string
	project    string
	doc        string
	steps      int
	back       bool
	mode       string
	dsn        string
	vectors    string
	propose    string
	dumpConfig bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("annokitt", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.config, "config", "", "config file (JSON); ./annokitt.json when present")
	fs.StringVar(&o.project, "project", "", "project to open")
	fs.StringVar(&o.doc, "doc", "", "document to start at (default: first in stream)")
	fs.IntVar(&o.steps, "steps", 0, "documents to step through after opening")
	fs.BoolVar(&o.back, "back", false, "step backward instead of forward")
	fs.StringVar(&o.mode, "mode", "", "sequential, prioritized or offline (overrides config)")
	fs.StringVar(&o.dsn, "dsn", "", "local store DSN (overrides config)")
	fs.StringVar(&o.vectors, "vectors", "", "feature index file (overrides config)")
	fs.StringVar(&o.propose, "propose", "", "print proposed concepts for this text and exit")
	fs.BoolVar(&o.dumpConfig, "dump-config", false, "print the effective config and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return o, nil
}

func run(ctx context.Context, args, env []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	if o.propose != "" {
		return printJSON(stdout, stderr, suggest.New(nil).Propose(o.propose))
	}

	cfg, err := loadConfig(o, env)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return exitConfig
	}
	if o.dumpConfig {
		cfg.API.Token = redact(cfg.API.Token)
		return printJSON(stdout, stderr, cfg)
	}
	if o.project == "" {
		fmt.Fprintln(stderr, "-project is required")
		return exitUsage
	}

	logger := diag.New(stderr, cfg.Logging)

	db, err := store.NewSQLiteStoreWithDSN(cfg.Store.DSN)
	if err != nil {
		logger.Error("open store", "dsn", cfg.Store.DSN, "err", err)
		return exitFailed
	}
	defer db.Close()
	if v, err := db.VecVersion(); err == nil {
		logger.Debug("store ready", "dsn", cfg.Store.DSN, "sqlite_vec", v)
	}

	var features session.FeatureIndex
	if cfg.Vectors.Backend == config.BackendSQLite {
		features = db.Features()
	} else {
		vectors, err := openVectors(cfg.Vectors.Path)
		if err != nil {
			logger.Error("open feature index", "path", cfg.Vectors.Path, "err", err)
			return exitFailed
		}
		features = vectors
	}

	var client *api.Client
	if cfg.Window.Mode != config.ModeOffline {
		client, err = api.New(api.Options{
			BaseURL:           cfg.API.BaseURL,
			Token:             cfg.API.Token,
			TimeoutSeconds:    cfg.API.TimeoutSeconds,
			RequestsPerSecond: cfg.API.RequestsPerSecond,
			Logger:            logger,
		})
		if err != nil {
			logger.Error("api client", "err", err)
			return exitConfig
		}
	}

	sess, err := session.New(session.Deps{API: client, Store: db, Vectors: features, Logger: logger}, cfg)
	if err != nil {
		logger.Error("session", "err", err)
		return exitFailed
	}
	defer sess.Close()

	doc, err := sess.Open(ctx, o.project, o.doc)
	if err != nil {
		logger.Error("open", "project", o.project, "err", err)
		return exitFailed
	}
	if doc == nil {
		fmt.Fprintf(stdout, "project %s has no documents\n", o.project)
		return exitOK
	}
	printDocument(stdout, *doc, sess.Objects())

	step := sess.Next
	if o.back {
		step = sess.Previous
	}
	for i := 0; i < o.steps; i++ {
		d, ok, err := step(ctx)
		if err != nil {
			logger.Error("step", "err", err)
			return exitFailed
		}
		if !ok {
			fmt.Fprintln(stdout, "-- end of stream --")
			break
		}
		printDocument(stdout, d, sess.Objects())
	}
	return exitOK
}

// loadConfig layers defaults, the config file, ANNOKITT_* variables and
// flags, then validates.
func loadConfig(o options, env []string) (config.Config, error) {
	path := o.config
	if path == "" {
		if _, err := os.Stat("annokitt.json"); err == nil {
			path = "annokitt.json"
		}
	}

	cfg := config.Defaults()
	if path != "" {
		file, err := config.LoadJSON(path, nil)
		if err != nil {
			return cfg, err
		}
		cfg = config.Merge(cfg, file)
	}
	over, err := config.FromEnv(env)
	if err != nil {
		return cfg, err
	}
	cfg = config.Merge(cfg, over)

	var cli config.Config
	cli.Window.Mode = config.Mode(strings.ToLower(o.mode))
	cli.Store.DSN = o.dsn
	cli.Vectors.Path = o.vectors
	cfg = config.Merge(cfg, cli)

	return cfg, config.Validate(cfg)
}

// openVectors loads the feature index from a host file through hackpadfs.
func openVectors(path string) (*vector.Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsys := osfs.NewFS()
	p, err := fsys.FromOSPath(abs)
	if err != nil {
		return nil, err
	}
	return vector.NewStore(fsys, p)
}

func printDocument(w io.Writer, doc store.Document, objects []store.Annotation) {
	fmt.Fprintf(w, "%s  %s  (%dx%d, %d objects)\n", doc.ID, doc.Name, doc.Width, doc.Height, len(objects))
	for _, a := range objects {
		fmt.Fprintf(w, "  [%s] %s: %q\n", a.ID, a.Label, a.Text)
		for _, c := range a.Concepts {
			mark := " "
			if !c.Visible {
				mark = "-"
			}
			fmt.Fprintf(w, "    %s %d..%d %s\n", mark, c.Range.Start, c.Range.End, c.Substring)
		}
	}
}

func printJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	return exitOK
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
