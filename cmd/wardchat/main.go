// wardchat is a terminal console for department chat, built on the
// wardline communication core.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ashureev/wardline/internal/config"
	"github.com/ashureev/wardline/internal/domain"
	"github.com/ashureev/wardline/internal/notify"
	"github.com/ashureev/wardline/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "wardchat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, logFile, department string

	flagSet := pflag.NewFlagSet("wardchat", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file (default: $WARDLINE_CONFIG)")
	flagSet.StringVar(&logFile, "log-file", "", "write JSON log records to this file (default: discard)")
	flagSet.StringVarP(&department, "department", "d", "", "department to open on start")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// The terminal belongs to the UI, so logs go to a file or nowhere.
	var logOut io.Writer = io.Discard
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer func() { _ = f.Close() }()
		logOut = f
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	events := make(chan tea.Msg, 64)
	notifier := notify.Fanout{
		notify.LogNotifier{Logger: logger},
		notify.Func(func(n notify.Notification) {
			select {
			case events <- noteMsg(n):
			default:
			}
		}),
	}

	sess, err := session.New(cfg.Client, session.Options{Notifier: notifier, Logger: logger})
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pump(ctx, sess, events)

	m := newModel(sess, events, domain.ID(department))
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// pump forwards session state into the UI event channel.
func pump(ctx context.Context, sess *session.Session, out chan<- tea.Msg) {
	states, cancelStates := sess.Channel.Subscribe()
	defer cancelStates()
	conn, cancelConn := sess.Monitor.Subscribe()
	defer cancelConn()

	for {
		var msg tea.Msg
		select {
		case <-ctx.Done():
			return
		case sc := <-states:
			msg = scopeMsg(sc)
		case ev := <-conn:
			msg = connMsg(ev)
		case <-sess.Store.Changes():
			msg = storeChangedMsg{}
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}
