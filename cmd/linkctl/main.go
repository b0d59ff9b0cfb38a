package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/alexjbarnes/link-connect/api"
	"github.com/alexjbarnes/link-connect/internal/config"
	errs "github.com/alexjbarnes/link-connect/internal/errors"
	"github.com/alexjbarnes/link-connect/internal/logging"
	"github.com/alexjbarnes/link-connect/internal/metrics"
	"github.com/alexjbarnes/link-connect/internal/server"
	"github.com/alexjbarnes/link-connect/internal/state"
	"github.com/alexjbarnes/link-connect/link"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

// app carries what every command needs.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	state   *state.State
	doer    api.Doer
	metrics *metrics.Metrics
	prompt  *prompter
	out     io.Writer
}

func (a *app) link() *link.Client {
	return link.NewClient(a.doer, a.state, a.logger)
}

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"lookup":          {"lookup [email]", cmdLookup},
	"signup":          {"signup <email> <phone> <country> [legal name]", cmdSignUp},
	"verify":          {"verify [email]", cmdVerify},
	"logout":          {"logout [email]", cmdLogOut},
	"payment-details": {"payment-details list|delete <id>|share <id> [email]", cmdPaymentDetails},
	"connect":         {"connect [institution search]", cmdConnect},
	"sessions":        {"sessions", cmdSessions},
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Println(Version)
			return
		case "help", "-h", "--help":
			usage(os.Stdout)
			return
		}
	}

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)

		if errors.Is(err, errs.ErrUnknownCommand) || errors.Is(err, errs.ErrMissingArgument) {
			usage(os.Stderr)
			os.Exit(2)
		}

		os.Exit(1)
	}
}

func usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}

	sort.Strings(names)

	fmt.Fprintln(w, "usage: linkctl <command> [args]")
	fmt.Fprintln(w)

	for _, name := range names {
		fmt.Fprintf(w, "  linkctl %s\n", commands[name].usage)
	}
}

func lookupCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{}, fmt.Errorf("%w: command", errs.ErrMissingArgument)
	}

	cmd, ok := commands[args[0]]
	if !ok {
		return command{}, fmt.Errorf("%w: %q", errs.ErrUnknownCommand, args[0])
	}

	return cmd, nil
}

func run(args []string) error {
	cmd, err := lookupCommand(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level, _ := cfg.Level()
	logger := logging.NewLogger(cfg.Environment, level)
	logger.Debug("linkctl starting",
		slog.String("version", Version),
		slog.String("command", args[0]),
		slog.String("api", cfg.APIBaseURL),
	)

	appState, err := state.LoadAt(cfg.StatePath, cfg.StatePassphrase)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	m := metrics.New()

	client, err := api.NewClient(cfg.APIConfig(m))
	if err != nil {
		return fmt.Errorf("creating api client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{
		cfg:     cfg,
		logger:  logger,
		state:   appState,
		doer:    client,
		metrics: m,
		prompt:  newPrompter(ctx, os.Stdin, os.Stderr),
		out:     os.Stdout,
	}

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return server.ListenAndServe(serverCtx, cfg.MetricsAddr, server.NewMux(m.Handler()), logger)
		})
	}

	g.Go(func() error {
		defer stopServer()
		return cmd.run(gctx, a, args[1:])
	})

	return g.Wait()
}
