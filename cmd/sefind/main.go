package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"

	"github.com/mgomes/sefind/internal/api"
	"github.com/mgomes/sefind/internal/backend"
	"github.com/mgomes/sefind/internal/cohere"
	"github.com/mgomes/sefind/internal/config"
	"github.com/mgomes/sefind/internal/db"
	"github.com/mgomes/sefind/internal/dupes"
	"github.com/mgomes/sefind/internal/events"
	"github.com/mgomes/sefind/internal/indexer"
	"github.com/mgomes/sefind/internal/invoke"
	"github.com/mgomes/sefind/internal/logging"
	"github.com/mgomes/sefind/internal/pipeline"
	"github.com/mgomes/sefind/internal/transport"
	"github.com/mgomes/sefind/internal/tui"
)

func main() {
	query := flag.String("q", "", "search query")
	doIndex := flag.Bool("index", false, "scan the configured roots and index them")
	contentParse := flag.Bool("content", false, "parse text file contents (use with -index)")
	doDupes := flag.Bool("dupes", false, "list duplicate files under the scan roots")
	doDiag := flag.Bool("diag", false, "print a diagnostics report")
	doWatch := flag.Bool("watch", false, "watch the scan roots and re-index changed files")
	serveAddr := flag.String("serve", "", "serve the backend over websocket on addr")
	connectAddr := flag.String("connect", "", "use the backend served on addr")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	rt, err := config.LoadRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read environment: %v\n", err)
		os.Exit(1)
	}

	interactive := !*doIndex && *query == "" && !*doDupes && !*doDiag && !*doWatch && *serveAddr == ""
	mode := logging.ModeCLI
	if interactive {
		mode = logging.ModeTUI
	}
	logging.Init(mode, *verbose || rt.Verbose)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *doWatch {
		if err := runWatch(ctx, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Watch mode failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *serveAddr != "" {
		if err := runServe(ctx, cfg, rt, *serveAddr); err != nil {
			fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	tr, closeTransport, err := openTransport(ctx, cfg, rt, *connectAddr, interactive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reach backend: %v\n", err)
		os.Exit(1)
	}
	defer closeTransport()

	client := invoke.NewClient(invoke.New(tr,
		invoke.WithDefaults(rt.InvokeTimeout(), rt.InvokeRetries),
		invoke.WithAttemptHook(logging.Attempt),
	))

	switch {
	case *doIndex:
		err = runIndex(ctx, tr, client, cfg, *contentParse)
	case *query != "":
		err = runSearch(ctx, client, cfg, *query)
	case *doDupes:
		err = runDupes(ctx, client, cfg)
	case *doDiag:
		err = runDiag(ctx, client)
	default:
		err = tui.Run(tui.Deps{Client: client, Transport: tr})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openTransport connects to a remote backend when addr is set and starts an
// in-process one otherwise. Only the interactive interface triggers the
// daily auto scan of an in-process backend.
func openTransport(ctx context.Context, cfg *config.Config, rt config.Runtime, addr string, autoScan bool) (transport.Transport, func(), error) {
	if addr != "" {
		c, err := transport.Dial(ctx, "ws://"+addr+transport.Path)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	}

	b, err := backend.New(cfg, backend.Options{SampleEvery: rt.ScanLogSampleEvery})
	if err != nil {
		return nil, nil, err
	}
	if autoScan {
		b.MaybeAutoScan()
	}
	return transport.NewLocal(b), func() { b.Close() }, nil
}

func runServe(ctx context.Context, cfg *config.Config, rt config.Runtime, addr string) error {
	b, err := backend.New(cfg, backend.Options{SampleEvery: rt.ScanLogSampleEvery})
	if err != nil {
		return err
	}
	defer b.Close() //nolint:errcheck

	b.MaybeAutoScan()
	fmt.Printf("Serving on ws://%s%s\n", addr, transport.Path)
	return transport.NewServer(b).ListenAndServe(ctx, addr)
}

func runIndex(ctx context.Context, tr transport.Transport, client *invoke.Client, cfg *config.Config, contentParse bool) error {
	pipe := pipeline.New(client, func(p pipeline.Progress) {
		msg := p.LastItem
		if len(msg) > 50 {
			msg = "..." + msg[len(msg)-47:]
		}
		switch {
		case p.Total > 0:
			fmt.Printf("\r\033[K[%s %d/%d] %s", p.State, p.Current, p.Total, msg)
		case p.Running:
			fmt.Printf("\r\033[K[%s %d] %s", p.State, p.Current, msg)
		}
	})

	set := events.NewSet(ctx, tr, clockwork.NewRealClock(), func(err error, index int) {
		logging.Failure("subscribe:index", err, "index", index)
	})
	set.Attach(pipe.Subscriptions())
	defer set.Teardown()

	err := pipe.Start(ctx, pipeline.Options{
		Fused: true,
		Scan:  api.ScanOptions{Roots: cfg.ScanRoots, ExcludePatterns: cfg.ExcludePatterns},
		Index: api.IndexOptions{IndexDir: cfg.IndexDir, EnableContentParse: contentParse},
	})
	fmt.Println()
	if err != nil {
		return err
	}

	p := pipe.Progress()
	fmt.Printf("Index complete: %d files in %s\n", max(p.LastScanSize, p.Current), cfg.IndexDir)
	return nil
}

func runSearch(ctx context.Context, client *invoke.Client, cfg *config.Config, query string) error {
	results, err := client.Search(ctx, api.SearchRequest{Query: query, IndexDir: cfg.IndexDir})
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No results found")
		return nil
	}
	for _, r := range results {
		size := "-"
		if r.Size != nil {
			size = humanize.IBytes(uint64(*r.Size))
		}
		fmt.Printf("[%.2f] %9s  %s\n", r.Score, size, r.Path)
	}
	return nil
}

func runDupes(ctx context.Context, client *invoke.Client, cfg *config.Config) error {
	pipe := pipeline.New(client, nil)
	coord := dupes.New(client, pipe, nil)
	coord.Configure(api.ScanOptions{Roots: cfg.ScanRoots, ExcludePatterns: cfg.ExcludePatterns}, cfg.IndexDir)

	groups, err := coord.Detect(ctx)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Println("No duplicates found")
		return nil
	}
	for _, g := range groups {
		fmt.Printf("%s %s\n", g.Kind, g.Key)
		for _, f := range g.Files {
			fmt.Printf("  %s\n", f)
		}
	}
	return nil
}

func runDiag(ctx context.Context, client *invoke.Client) error {
	report, err := client.Diagnostics(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// runWatch keeps the index of the scan roots current until interrupted.
func runWatch(ctx context.Context, cfg *config.Config) error {
	idx, err := db.OpenIndex(cfg.IndexDir, cfg.EmbedDim, true)
	if err != nil {
		return err
	}
	defer idx.Close() //nolint:errcheck

	var emb indexer.Embedder
	if c := cohere.FromConfig(cfg); c != nil {
		emb = c
	}
	opts := api.ScanOptions{Roots: cfg.ScanRoots, ExcludePatterns: cfg.ExcludePatterns}
	watcher, err := indexer.NewWatcher(indexer.New(idx, emb), opts, false, clockwork.NewRealClock())
	if err != nil {
		return err
	}
	watcher.SetMessageHandler(func(msg string) { fmt.Println(msg) })

	fmt.Printf("Watching %d roots, index in %s\n", len(cfg.ScanRoots), cfg.IndexDir)
	return watcher.Start(ctx)
}
