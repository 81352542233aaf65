package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cgast/exemplar/internal/config"
	"github.com/cgast/exemplar/internal/inspector"
	"github.com/cgast/exemplar/internal/logging"
	"github.com/cgast/exemplar/internal/sandbox"
	"github.com/cgast/exemplar/pkg/content"
	"github.com/cgast/exemplar/pkg/events"
	"github.com/cgast/exemplar/pkg/guess"
	"github.com/cgast/exemplar/pkg/pattern"
	"github.com/cgast/exemplar/pkg/session"
	"github.com/cgast/exemplar/pkg/sink"
	"github.com/cgast/exemplar/pkg/store"
	"github.com/cgast/exemplar/pkg/trial"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		err = handleValidate(os.Args[2:])
	case "check":
		err = handleCheck(os.Args[2:])
	case "match":
		err = handleMatch(os.Args[2:])
	case "records":
		err = handleRecords(os.Args[2:])
	case "agent":
		err = handleAgent(os.Args[2:])
	case "play":
		err = handlePlay(os.Args[2:])
	case "version":
		fmt.Println("exemplar", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: exemplar <command> [flags] [args...]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  validate <study.yaml>            Check a study file")
	fmt.Fprintln(os.Stderr, "  check <pattern>...               Check patterns against the restricted grammar")
	fmt.Fprintln(os.Stderr, "  match <pattern> <candidate>...   Full-match candidates against a pattern")
	fmt.Fprintln(os.Stderr, "  records [session]                List stored sessions or one session's records")
	fmt.Fprintln(os.Stderr, "  agent                            Run a JSON-RPC session on stdin/stdout")
	fmt.Fprintln(os.Stderr, "  play [study.yaml]                Run a study interactively")
	fmt.Fprintln(os.Stderr, "  version                          Print the version")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Common flags:")
	fmt.Fprintln(os.Stderr, "  --config path          Runtime config (default exemplar.yaml, or $EXEMPLAR_CONFIG)")
	fmt.Fprintln(os.Stderr, "  --trace                Print events to stderr (agent, play)")
	fmt.Fprintln(os.Stderr, "  --inspector            Serve the session inspector (agent, play)")
	fmt.Fprintln(os.Stderr, "  --inspector-addr addr  Inspector listen address")
}

// commonFlags are accepted by the session commands.
type commonFlags struct {
	config        string
	trace         bool
	inspector     bool
	inspectorAddr string
}

func newFlagSet(name string, cf *commonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&cf.config, "config", configPath(), "runtime config file")
	fs.BoolVar(&cf.trace, "trace", false, "print events to stderr")
	fs.BoolVar(&cf.inspector, "inspector", false, "serve the session inspector")
	fs.StringVar(&cf.inspectorAddr, "inspector-addr", "", "inspector listen address (implies --inspector)")
	return fs
}

func configPath() string {
	if p := os.Getenv("EXEMPLAR_CONFIG"); p != "" {
		return p
	}
	return "exemplar.yaml"
}

// app holds the components shared by the session commands.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	bus        *events.MemoryBus
	store      *store.Store
	dispatcher *sink.Dispatcher
	inspector  *inspector.Server
	sandbox    *sandbox.Sandbox
	stopTrace  func()
}

func newApp(cf commonFlags) (*app, error) {
	cfg, err := config.LoadConfig(cf.config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	sb, err := sandbox.New(cfg.Sandbox)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		bus:       events.NewMemoryBus(),
		sandbox:   sb,
		stopTrace: func() {},
	}
	if cf.trace {
		a.stopTrace = traceEvents(a.bus)
	}
	if cf.inspectorAddr != "" {
		a.cfg.Inspector.Enabled = true
		a.cfg.Inspector.Addr = cf.inspectorAddr
	} else if cf.inspector {
		a.cfg.Inspector.Enabled = true
	}

	var sinks sink.Multi
	if cfg.Store.Enabled {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open record store: %w", err)
		}
		a.store = st
		sinks = append(sinks, st)
	}
	if cfg.Sink.Endpoint != "" {
		hs, err := sink.NewHTTPSink(cfg.Sink.Endpoint, cfg.Sink.AllowedDomains,
			sink.WithHeaders(cfg.Sink.Headers),
			sink.WithTimeout(cfg.Sink.Timeout()),
		)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("http sink: %w", err)
		}
		sinks = append(sinks, hs)
	}

	var target sink.Sink = sinks
	if len(sinks) == 0 {
		logger.Warn("no record store or sink configured; records are kept in memory only")
		target = sink.Discard
	}
	a.dispatcher = sink.NewDispatcher(target,
		sink.WithDispatcherLogger(logger),
		sink.WithDispatcherEvents(a.bus),
		sink.WithRetry(cfg.Sink.Retries+1, 200*time.Millisecond),
		sink.WithEmitTimeout(cfg.Sink.Timeout()),
	)
	return a, nil
}

func (a *app) patternOptions() []pattern.Option {
	return []pattern.Option{
		pattern.WithMatchTimeout(a.cfg.Match.Timeout()),
		pattern.WithLogger(a.logger),
	}
}

func (a *app) newRunner() *session.Runner {
	comparator := guess.NewComparator(
		guess.WithMaxSamples(a.cfg.Guess.MaxSamples),
		guess.WithManyRepeat(a.cfg.Guess.ManyRepeat),
		guess.WithMaxSampleLen(a.cfg.Guess.MaxSampleLen),
		guess.WithPatternOptions(a.patternOptions()...),
		guess.WithLogger(a.logger),
	)
	return session.NewRunner(trial.Session{
		ID:            a.cfg.Session.ID,
		ParticipantID: a.cfg.Session.ParticipantID,
		StudyID:       a.cfg.Session.StudyID,
	},
		session.WithEmitter(a.dispatcher),
		session.WithEventBus(a.bus),
		session.WithComparator(comparator),
		session.WithPatternOptions(a.patternOptions()...),
		session.WithLogger(a.logger),
	)
}

// startInspector serves runner's session when the inspector is enabled.
func (a *app) startInspector(runner *session.Runner) error {
	if !a.cfg.Inspector.Enabled {
		return nil
	}
	opts := []inspector.Option{inspector.WithLogger(a.logger)}
	if a.store != nil {
		opts = append(opts, inspector.WithRecords(a.store))
	}
	srv := inspector.New(a.bus, runner, opts...)
	addr, err := srv.Start(a.cfg.Inspector.Addr)
	if err != nil {
		return err
	}
	a.inspector = srv
	fmt.Fprintf(os.Stderr, "Inspector running at http://%s\n", addr)
	return nil
}

// loadStudy reads path, or the configured study, or the bundled one.
func (a *app) loadStudy(path string) (content.Study, error) {
	if path == "" {
		path = a.cfg.Content.Path
	}
	if path == "" {
		return content.DefaultStudy()
	}
	return content.LoadStudyWith(a.sandbox.ReadFile, path, a.cfg.Content.Params)
}

// close stops the inspector, flushes pending records and releases the
// store.
func (a *app) close() {
	if a.inspector != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.inspector.Shutdown(ctx); err != nil {
			a.logger.Warn("inspector shutdown", slog.Any("error", err))
		}
		cancel()
	}
	if a.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := a.dispatcher.Close(ctx); err != nil {
			a.logger.Error("records not flushed", slog.Any("error", err))
		}
		cancel()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("closing record store", slog.Any("error", err))
		}
	}
	a.stopTrace()
}

// traceEvents writes every published event to stderr as a JSON line until
// the returned function is called.
func traceEvents(bus *events.MemoryBus) func() {
	ch := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		enc := json.NewEncoder(os.Stderr)
		for ev := range ch {
			_ = enc.Encode(ev)
		}
	}()
	return func() {
		bus.Unsubscribe(ch)
		<-done
	}
}
