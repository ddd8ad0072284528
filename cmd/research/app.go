package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"researchshell/internal/config"
	"researchshell/internal/controller"
	"researchshell/internal/logger"
	"researchshell/internal/render"
	"researchshell/internal/shell"
	"researchshell/internal/store"
	"researchshell/internal/testutils"
	"researchshell/internal/trace"
	"researchshell/internal/transport"
	"researchshell/internal/version"
)

// app is the wired component graph shared by the shell and the subcommands.
type app struct {
	cfg       config.Config
	persister store.Persister
	json      *store.JSONPersister
	store     *store.Store
	ctrl      *controller.Controller
	renderer  *render.Renderer
	handler   *shell.Handler
	watcher   *store.Watcher
}

// newApp loads configuration and wires storage, transport, the controller and
// the command handler. Confirmations are read from in; output goes to out.
func newApp(v *viper.Viper, opts *cliOptions, in io.Reader, out io.Writer) (*app, error) {
	cfg, err := config.Load(v, config.LoadOptions{ConfigFile: opts.configFile, TestMode: opts.testMode})
	if err != nil {
		return nil, err
	}
	testMode := testutils.TestMode(opts.testMode)

	a := &app{cfg: cfg}
	switch cfg.Storage {
	case config.StorageSQLite:
		p, err := store.NewSQLitePersister(cfg.SQLitePath())
		if err != nil {
			return nil, err
		}
		a.persister = p
	default:
		p, err := store.NewJSONPersister(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		a.persister = p
		a.json = p
	}

	a.store, err = store.Open(a.persister, store.WithTestMode(testMode))
	if err != nil {
		_ = a.persister.Close()
		return nil, err
	}

	a.renderer = render.New(render.Options{Style: cfg.RenderStyle, WordWrap: cfg.WordWrap, Output: out})
	recorder := trace.NewRecorder(testMode)
	client := transport.NewClient(transport.Options{
		BaseURL:        cfg.BaseURL,
		Budget:         cfg.Budget,
		MaxBadAttempt:  cfg.MaxBadAttempt,
		RequestTimeout: cfg.RequestTimeout,
		UserAgent:      version.UserAgent(),
		Recorder:       recorder,
	})

	a.ctrl = controller.New(controller.Options{
		Store:    a.store,
		Client:   client,
		Recorder: recorder,
		Observer: shell.NewObserver(out, a.renderer),
		TestMode: testMode,
	})

	exportFormat, err := trace.ParseFormat(cfg.ExportFormat)
	if err != nil {
		a.close()
		return nil, err
	}
	a.handler = shell.NewHandler(shell.Options{
		Controller:   a.ctrl,
		Renderer:     a.renderer,
		Output:       out,
		ExportDir:    cfg.ExportDir,
		ExportFormat: exportFormat,
		Confirm:      confirmFrom(in, out),
	})

	logger.Debug("Application wired", "storage", cfg.Storage, "base_url", cfg.BaseURL)
	return a, nil
}

// watch reloads the store when another process rewrites the JSON files.
func (a *app) watch(ctx context.Context) {
	if a.json == nil || !a.cfg.WatchStorage {
		return
	}
	w, err := store.NewWatcher(a.store, a.json)
	if err != nil {
		logger.Warn("Storage watcher unavailable", "error", err)
		return
	}
	if err := w.Start(ctx); err != nil {
		logger.Warn("Storage watcher unavailable", "error", err)
		return
	}
	a.watcher = w
}

func (a *app) close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.ctrl != nil {
		_ = a.ctrl.Close()
	}
	if err := a.persister.Close(); err != nil {
		logger.Warn("Failed to close storage", "error", err)
	}
}

func runShell(cmd *cobra.Command, v *viper.Viper, opts *cliOptions) error {
	a, err := newApp(v, opts, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	a.watch(ctx)

	logger.Info("Starting research shell", "version", version.Version)

	sh := shell.New(ctx, a.handler)
	sh.Println(version.GetFormattedVersion())
	sh.Println("Type a question to research it, 'help' for commands or 'exit' to quit.")
	if err := a.handler.Show(""); err != nil {
		a.handler.Report(err)
	}
	sh.Run()
	return nil
}

func confirmFrom(in io.Reader, out io.Writer) func(string) bool {
	reader := bufio.NewReader(in)
	return func(prompt string) bool {
		fmt.Fprint(out, prompt)
		answer, err := reader.ReadString('\n')
		if err != nil && answer == "" {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true
		default:
			return false
		}
	}
}
