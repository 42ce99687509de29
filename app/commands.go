package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/tag-comb/app/api"
	"github.com/lysyi3m/tag-comb/app/canon"
	"github.com/lysyi3m/tag-comb/app/cfg"
	"github.com/lysyi3m/tag-comb/app/dom"
	"github.com/lysyi3m/tag-comb/app/engine"
	"github.com/lysyi3m/tag-comb/app/feed"
	"github.com/lysyi3m/tag-comb/app/profile"
	"github.com/lysyi3m/tag-comb/app/store"
	"github.com/lysyi3m/tag-comb/app/watch"
)

const shutdownTimeout = 30 * time.Second

// streams holds what commands read from and write to.
type streams struct {
	in  io.Reader
	out io.Writer
}

func newParser(in io.Reader, out io.Writer) *cfg.Parser {
	s := &streams{in: in, out: out}
	p := cfg.NewParser()

	p.AddCommand("serve", "Run the HTTP service",
		"Serves the filter endpoints, the blocklist API and, with --watch, keeps a page directory filtered.",
		&serveCommand{streams: s})
	p.AddCommand("filter", "Filter a page or feed",
		"Reads a listing page (or a feed with --feed) from a file or stdin and writes the filtered result to stdout.",
		&filterCommand{streams: s})
	p.AddCommand("watch", "Keep a page directory filtered",
		"Reconciles every *.html page in a directory and reprocesses pages as they change.",
		&watchCommand{streams: s})

	tags, _ := p.AddCommand("tags", "Manage hidden tags", "", &struct{}{})
	tags.AddCommand("list", "List hidden tags", "", &tagsListCommand{streams: s})
	tags.AddCommand("add", "Hide tags", "", &tagsAddCommand{streams: s})
	tags.AddCommand("remove", "Show tags again", "", &tagsRemoveCommand{streams: s})
	tags.AddCommand("export", "Export hidden tags as JSON", "", &exportCommand{streams: s, record: recordHidden})
	tags.AddCommand("import", "Union a JSON array of tags into the blocklist", "", &importCommand{streams: s, record: recordHidden})

	groups, _ := p.AddCommand("groups", "Manage tag groups", "", &struct{}{})
	groups.AddCommand("export", "Export tag groups as JSON", "", &exportCommand{streams: s, record: recordGroups})
	groups.AddCommand("import", "Merge a JSON object of tag groups", "", &importCommand{streams: s, record: recordGroups})

	return p
}

func setupLogging(c *cfg.Cfg) {
	level := slog.LevelInfo
	if c.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func openStore(c *cfg.Cfg) (*store.Store, error) {
	st, err := store.Open(store.Options{
		Backend:    c.StoreBackend,
		DBPath:     c.DBPath,
		BadgerDir:  c.BadgerDir,
		RedisURL:   c.RedisURL,
		Mirror:     c.Mirror,
		MirrorPath: c.MirrorPath,
		Namespace:  c.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

func loadProfiles(c *cfg.Cfg) (*profile.Cache, *profile.Profile, error) {
	profiles := profile.NewCache(c.ProfilesDir)
	if err := profiles.Run(); err != nil {
		return nil, nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	p, err := profiles.GetProfile(c.Profile)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Profiles loaded", "count", profiles.GetProfileCount(), "default", p.Name)
	return profiles, p, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

type serveCommand struct {
	*streams `no-flag:"true"`

	WatchDir string `long:"watch" env:"WATCH_DIR" description:"Directory of saved pages to keep filtered"`
	OutDir   string `long:"out" env:"WATCH_OUT_DIR" description:"Write filtered pages here instead of in place"`
}

func (cmd *serveCommand) Execute(_ []string) error {
	c := cfg.Get()
	setupLogging(c)

	slog.Info("Starting Tag Comb server", "version", c.Version)

	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	profiles, p, err := loadProfiles(c)
	if err != nil {
		return err
	}

	var watcher *watch.Watcher
	if cmd.WatchDir != "" {
		watcher, err = watch.New(st, watch.Options{
			Dir:      cmd.WatchDir,
			OutDir:   cmd.OutDir,
			Debounce: c.Debounce,
			Profile:  p,
		})
		if err != nil {
			return err
		}
	}

	onChange := func() {
		if watcher != nil {
			watcher.Refresh()
		}
	}

	broker := api.NewBroker(0)
	handler := api.NewHandler(st, profiles, p.Name, broker, onChange)

	httpServer := &http.Server{
		Addr:         ":" + c.Port,
		Handler:      api.NewServer(handler, c.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // event streams stay open
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signalContext()
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting HTTP server", "port", c.Port, "auth", c.APIAccessKey != "")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
			return err
		}
		slog.Info("HTTP server stopped")
		return nil
	})

	err = g.Wait()
	slog.Info("Tag Comb server shutdown complete")
	return err
}

type filterCommand struct {
	*streams `no-flag:"true"`

	Feed    bool   `long:"feed" description:"Treat the input as an Atom/RSS feed"`
	Profile string `long:"site" description:"Site profile to filter with (defaults to --profile)"`
	Args    struct {
		Input string `positional-arg-name:"file" description:"Input file, stdin when omitted or -"`
	} `positional-args:"yes"`
}

func (cmd *filterCommand) Execute(_ []string) error {
	c := cfg.Get()
	setupLogging(c)

	data, err := cmd.readInput(cmd.Args.Input)
	if err != nil {
		return err
	}

	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()

	if cmd.Feed {
		result, err := feed.NewProcessor().Run(data, st.HiddenSet(ctx))
		if err != nil {
			return err
		}
		slog.Info("Feed filtered", "total", result.Total, "filtered", result.Filtered)
		_, err = io.WriteString(cmd.out, result.RSS)
		return err
	}

	profiles, p, err := loadProfiles(c)
	if err != nil {
		return err
	}
	if cmd.Profile != "" {
		if p, err = profiles.GetProfile(cmd.Profile); err != nil {
			return err
		}
	}

	doc, err := dom.ParseString(string(data))
	if err != nil {
		return err
	}
	eng, err := engine.New(doc, st, engine.Options{Profile: p})
	if err != nil {
		return err
	}
	eng.EnsureInlineIcons(ctx)
	sum := eng.Run(ctx)

	out, err := eng.Render()
	if err != nil {
		return err
	}
	slog.Info("Page filtered", "profile", p.Name, "items", sum.Items, "wrapped", sum.Wrapped)
	_, err = io.WriteString(cmd.out, out)
	return err
}

func (s *streams) readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(bufio.NewReader(s.in))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return data, nil
}

type watchCommand struct {
	*streams `no-flag:"true"`

	OutDir string `long:"out" env:"WATCH_OUT_DIR" description:"Write filtered pages here instead of in place"`
	Args   struct {
		Dir string `positional-arg-name:"dir" required:"yes"`
	} `positional-args:"yes"`
}

func (cmd *watchCommand) Execute(_ []string) error {
	c := cfg.Get()
	setupLogging(c)

	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	_, p, err := loadProfiles(c)
	if err != nil {
		return err
	}

	watcher, err := watch.New(st, watch.Options{
		Dir:      cmd.Args.Dir,
		OutDir:   cmd.OutDir,
		Debounce: c.Debounce,
		Profile:  p,
	})
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	return watcher.Run(ctx)
}

type tagsListCommand struct {
	*streams `no-flag:"true"`
}

func (cmd *tagsListCommand) Execute(_ []string) error {
	c := cfg.Get()
	setupLogging(c)

	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	for _, tag := range st.GetHidden(context.Background()) {
		fmt.Fprintln(cmd.out, tag)
	}
	return nil
}

type tagsAddCommand struct {
	*streams `no-flag:"true"`

	Args struct {
		Tags []string `positional-arg-name:"tag" required:"1"`
	} `positional-args:"yes"`
}

func (cmd *tagsAddCommand) Execute(_ []string) error {
	c := cfg.Get()
	setupLogging(c)

	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	for _, raw := range cmd.Args.Tags {
		tag := canon.Clean(raw)
		if tag == "" {
			slog.Warn("Skipping empty tag", "tag", raw)
			continue
		}
		st.AddHiddenTag(ctx, tag)
		fmt.Fprintf(cmd.out, "Hidden tag: %s\n", tag)
	}
	return nil
}

type tagsRemoveCommand struct {
	*streams `no-flag:"true"`

	Args struct {
		Tags []string `positional-arg-name:"tag" required:"1"`
	} `positional-args:"yes"`
}

func (cmd *tagsRemoveCommand) Execute(_ []string) error {
	c := cfg.Get()
	setupLogging(c)

	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	for _, raw := range cmd.Args.Tags {
		st.RemoveHiddenTag(ctx, raw)
		fmt.Fprintf(cmd.out, "Shown tag: %s\n", canon.Clean(raw))
	}
	return nil
}

type record int

const (
	recordHidden record = iota
	recordGroups
)

type exportCommand struct {
	*streams `no-flag:"true"`
	record   record

	Args struct {
		Output string `positional-arg-name:"file" description:"Output file, stdout when omitted or -"`
	} `positional-args:"yes"`
}

func (cmd *exportCommand) Execute(_ []string) error {
	c := cfg.Get()
	setupLogging(c)

	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	var data []byte
	switch cmd.record {
	case recordGroups:
		data, err = st.ExportGroups(ctx)
	default:
		data, err = st.ExportHidden(ctx)
	}
	if err != nil {
		return err
	}

	if cmd.Args.Output == "" || cmd.Args.Output == "-" {
		_, err = fmt.Fprintln(cmd.out, string(data))
		return err
	}
	if err := os.WriteFile(cmd.Args.Output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

type importCommand struct {
	*streams `no-flag:"true"`
	record   record

	Args struct {
		Input string `positional-arg-name:"file" description:"Input file, stdin when omitted or -"`
	} `positional-args:"yes"`
}

func (cmd *importCommand) Execute(_ []string) error {
	c := cfg.Get()
	setupLogging(c)

	data, err := cmd.readInput(cmd.Args.Input)
	if err != nil {
		return err
	}

	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	switch cmd.record {
	case recordGroups:
		groups, err := st.ImportGroups(ctx, data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.out, "Imported groups: %d\n", len(groups))
	default:
		tags, err := st.ImportHidden(ctx, data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.out, "Hidden tags: %s\n", strings.Join(tags, ", "))
	}
	return nil
}
