// Command fbuild drives one build: it loads a persisted node graph,
// resolves the requested targets against it, and runs the Build Driver to
// completion.
//
// fbuild does not parse a project/BFF file itself — the node graph is
// produced by an external front-end and persisted in the NGD format
// internal/graph reads and writes; fbuild's job starts once that graph
// exists on disk.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	fbuild "github.com/nccbuild/fbuild"
	"github.com/nccbuild/fbuild/internal/bcfg"
	"github.com/nccbuild/fbuild/internal/blog"
	"github.com/nccbuild/fbuild/internal/cache"
	"github.com/nccbuild/fbuild/internal/driver"
	"github.com/nccbuild/fbuild/internal/graph"
	"github.com/nccbuild/fbuild/internal/monitor"
)

// colorizeReport wraps a report summary in an ANSI color (red on any
// failure, green otherwise) when stderr is an interactive terminal;
// redirected to a file or piped to another process, it is left plain.
func colorizeReport(s string, failed bool) string {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return s
	}
	const (
		red   = "\x1b[31m"
		green = "\x1b[32m"
		reset = "\x1b[0m"
	)
	color := green
	if failed {
		color = red
	}
	return color + s + reset
}

// Exit codes: 0 success, 1 build failed, 2
// nothing to do, 3 configuration error.
const (
	exitSuccess = 0
	exitFailed  = 1
	exitNothing = 2
	exitConfig  = 3
)

var (
	dbPath     = flag.String("db", "fbuild.ngd", "path to the persisted node graph database")
	configPath = flag.String("config", "", "path to a JSON configuration file (see internal/bcfg)")
	cacheRead  = flag.Bool("cacheread", true, "read previously cached build outputs")
	cacheWrite = flag.Bool("cachewrite", false, "write build outputs to the cache")
	clean      = flag.Bool("clean", false, "ignore the up-to-date check and rebuild every target")
	numJobs    = flag.Int("j", 0, "number of local worker threads (0 = config/CPU default)")
	useDist    = flag.Bool("dist", false, "distribute eligible jobs to remote workers")
	workers    = flag.String("workers", "", "comma-separated host:port list of remote workers (requires -dist)")
	verbose    = flag.Bool("verbose", false, "enable verbose/trace logging")
	monitorAddr = flag.String("monitor", "", "host:port to serve a machine-readable build-status page on")
)

// realHooks implements graph.Hooks against the actual filesystem: it is the
// one piece of graph.Hooks wiring fbuild needs, since everything else about
// the node graph's shape was decided when it was persisted.
type realHooks struct {
	g *graph.NodeGraph
}

func (h realHooks) IsWritable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().Perm()&0200 != 0
}

func (h realHooks) ListDirectory(dir string, patterns []string, recurse bool) ([]string, error) {
	var out []string
	walk := func(path string, isDir bool) error {
		if isDir {
			return nil
		}
		name := filepath.Base(path)
		for _, pat := range patterns {
			if ok, _ := filepath.Match(pat, name); ok {
				out = append(out, path)
				break
			}
		}
		return nil
	}
	if !recurse {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if err := walk(filepath.Join(dir, e.Name()), e.IsDir()); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	err := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return walk(path, fi.IsDir())
	})
	return out, err
}

func (h realHooks) ResolveSourceNode(path string) (*graph.Node, error) {
	if n := h.g.FindNode(path); n != nil {
		return n, nil
	}
	return h.g.CreateSourceNode(path, graph.SourceAttrs{Path: path})
}

func run() int {
	flag.Parse()
	targets := flag.Args()

	log := blog.New("fbuild")
	blog.SetVerbose(*verbose)

	cfg, err := bcfg.Load(*configPath)
	if err != nil {
		log.Errorf("loading configuration: %v", err)
		return exitConfig
	}
	if *numJobs > 0 {
		cfg.NumWorkers = *numJobs
	}
	cfg.CacheReadable = cfg.CacheReadable && *cacheRead
	cfg.CacheWritable = cfg.CacheWritable && *cacheWrite

	if len(targets) == 0 {
		log.Printf("no targets given, nothing to do")
		return exitNothing
	}

	statMtime := func(path string) (int64, bool) {
		fi, err := os.Stat(path)
		if err != nil {
			return 0, false
		}
		return fi.ModTime().UnixNano(), true
	}
	loaded, err := graph.LoadFromFile(*dbPath, statMtime)
	if err != nil {
		log.Errorf("loading node graph from %s: %v", *dbPath, err)
		return exitConfig
	}
	if loaded.NeedsReparse {
		log.Printf("warning: %s is stale relative to its recorded config files; results may not reflect the latest configuration", *dbPath)
	}
	g := loaded.Graph

	var c cache.Cache
	if cfg.CacheReadable || cfg.CacheWritable {
		dirCache, err := cache.NewDir(cfg.CachePath, cfg.CacheReadable, cfg.CacheWritable, func(level, msg string) {
			log.Printf("[cache:%s] %s", level, msg)
		})
		if err != nil {
			log.Errorf("opening cache at %s: %v", cfg.CachePath, err)
			return exitConfig
		}
		c = dirCache
		defer c.Shutdown()
	}

	var mon *monitor.Server
	if *monitorAddr != "" {
		mon = monitor.NewServer("")
		addr, _, err := monitor.ListenAndServe(*monitorAddr, mon)
		if err != nil {
			log.Errorf("starting monitor page: %v", err)
			return exitConfig
		}
		log.Printf("monitor page listening on %s", addr)
	}

	ctx, canc := fbuild.InterruptibleContext()
	defer canc()

	d := &driver.Driver{
		Graph:      g,
		Cache:      c,
		Hooks:      realHooks{g: g},
		Logger:     log,
		Monitor:    mon,
		NumWorkers: cfg.NumWorkers,
		ForceClean: *clean,
	}
	if *useDist && *workers != "" {
		d.RemoteWorkers = strings.Split(*workers, ",")
	}

	report, err := d.Build(ctx, targets)
	log.Printf("%s", colorizeReport(report.String(), err != nil))
	if err != nil {
		if err == driver.ErrBuildFailed {
			log.Errorf("build failed: %s", strings.Join(report.FailedNames, ", "))
			return exitFailed
		}
		log.Errorf("build: %v", err)
		return exitFailed
	}

	if err := g.SaveToFile(*dbPath); err != nil {
		log.Errorf("saving node graph to %s: %v", *dbPath, err)
		return exitConfig
	}

	return exitSuccess
}

func main() {
	code := run()
	if code != exitSuccess {
		fmt.Fprintf(os.Stderr, "fbuild: exit %d\n", code)
	}
	os.Exit(code)
}
