package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	persistlog "isocraft.ai/internal/persistence/log"
	"isocraft.ai/internal/persistence/snapshot"
	"isocraft.ai/internal/sim/catalogs"
	"isocraft.ai/internal/sim/play"
	"isocraft.ai/internal/sim/tuning"
	"isocraft.ai/internal/transport/observer"
)

func main() {
	var (
		addr        = flag.String("addr", "127.0.0.1:8080", "http listen address")
		configDir   = flag.String("config", "./configs", "config directory (tuning.yaml, blocks.json)")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (default: <config>/tuning.yaml)")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		slot        = flag.Int("slot", 0, "save slot to resume or create")
		generator   = flag.String("gen", "", "generator for a fresh slot: natural|flat|demo")
		seed        = flag.Int64("seed", 0, "seed for a fresh slot")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite slot/edit index")
		allowRemote = flag.Bool("allow_remote", false, "serve observer endpoints to non-loopback clients")
		autosave    = flag.Duration("autosave", 0, "periodic save interval (0 disables)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	// Registered first so it runs after every other deferred close.
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	// Explicit flags win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "slot":
			tune.Slot = *slot
		case "gen":
			tune.Generator = *generator
		case "seed":
			tune.Seed = *seed
		}
	})
	tune.Normalize()
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	cat, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	slots := snapshot.NewDir(*dataDir)
	boot, err := openWorld(slots, tune, cat, logger)
	if err != nil {
		logger.Fatalf("open world: %v", err)
	}

	idx, err := openIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	var journal multiJournal
	if tune.Journal.Enabled {
		editLog := persistlog.NewEditLogger(*dataDir)
		defer editLog.Close()
		journal = append(journal, editLog)
	}
	if idx != nil {
		journal = append(journal, idx)
	}

	sess := play.NewSession(play.Config{
		Slot:        tune.Slot,
		Seed:        boot.seed,
		Generator:   boot.generator,
		StartSeq:    boot.seq,
		QueueSize:   tune.EditQueue.Size,
		DeltaBuffer: tune.Observer.DeltaBuffer,
	}, boot.world, cat, boot.player, journal, log.New(os.Stdout, "[play] ", log.LstdFlags|log.Lmicroseconds))
	sess.SetScroll(boot.scroll[0], boot.scroll[1])

	saver := &slotSaver{
		dir:       slots,
		idx:       idx,
		cat:       cat,
		slot:      tune.Slot,
		seed:      boot.seed,
		generator: boot.generator,
		log:       logger,
	}

	ctx, cancel := signalContext()
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- sess.Run(ctx) }()

	if *autosave > 0 {
		go autosaveLoop(ctx, *autosave, saver, sess, logger)
	}

	mux := http.NewServeMux()
	obs := observer.NewServer(sess, saver.handler(sess), observer.Options{
		MaxConnections:  tune.Observer.MaxConnections,
		WriteTimeout:    time.Duration(tune.Observer.WriteTimeoutMs) * time.Millisecond,
		MaxMessageBytes: int64(tune.Observer.MaxMessageKB) * 1024,
		AllowRemote:     *allowRemote,
	}, log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds))
	obs.Routes(mux)

	if envBool("ISO_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (slot=%d resumed=%v)", *addr, tune.Slot, boot.resumed)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("ListenAndServe: %v", err)
		cancel()
	}

	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("session stopped: %v", err)
	}
	// Run has returned, so the world is ours again.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer saveCancel()
	if err := saver.save(saveCtx, sess.ExportNow()); err != nil {
		logger.Printf("final save: %v", err)
		exitCode = 1
	}
}

func autosaveLoop(ctx context.Context, every time.Duration, saver *slotSaver, sess *play.Session, logger *log.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	save := saver.handler(sess)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, _, err := save(ctx); err != nil && ctx.Err() == nil {
				logger.Printf("autosave: %v", err)
			}
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags]\n\nServes one isocraft slot over HTTP and WebSocket.\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}
