// Package session wires the communication core for one console process:
// one request pipeline, one connectivity monitor, one chat channel and
// one message store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashureev/wardline/internal/backend"
	"github.com/ashureev/wardline/internal/chat"
	"github.com/ashureev/wardline/internal/clock"
	"github.com/ashureev/wardline/internal/config"
	"github.com/ashureev/wardline/internal/connectivity"
	"github.com/ashureev/wardline/internal/domain"
	"github.com/ashureev/wardline/internal/notify"
	"github.com/ashureev/wardline/internal/pipeline"
	"github.com/ashureev/wardline/internal/presenter"
	"google.golang.org/grpc"
)

// Options overrides the pieces New would otherwise build from config.
type Options struct {
	HTTPClient *http.Client
	Dialer     chat.Dialer
	Prober     connectivity.Prober
	// Signals feeds raw online/offline flips to the monitor. When nil, an
	// InterfaceWatcher polls the host interfaces.
	Signals  <-chan bool
	Notifier notify.Notifier
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Session is the console's communication core.
type Session struct {
	Pipeline *pipeline.Pipeline
	Backend  *backend.Client
	Monitor  *connectivity.Monitor
	Channel  *chat.Channel
	Store    *presenter.Store

	logger   *slog.Logger
	grpcConn *grpc.ClientConn
	cancel   context.CancelFunc
}

// New builds and starts a Session. The monitor and channel run until
// Close.
func New(cfg config.ClientConfig, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{Logger: logger}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	var tokens pipeline.TokenSource
	if cfg.Token != "" {
		tokens = pipeline.StaticToken(cfg.Token)
	}
	pl, err := pipeline.New(pipeline.Config{
		BaseURL:    cfg.APIBaseURL,
		HTTPClient: httpClient,
		Tokens:     tokens,
		Policy: pipeline.RetryPolicy{
			MaxRetries:          cfg.MaxRetries,
			BaseDelay:           cfg.RetryBaseDelay,
			BackoffFactor:       cfg.RetryBackoffFactor,
			ExcludedPathPattern: cfg.RetryExcludedPath,
		},
		Timeout:     cfg.RequestTimeout,
		Coordinator: pipeline.NewRetryCoordinator(clk, cfg.NotificationWindow),
		Notifier:    notifier,
		Clock:       clk,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create request pipeline: %w", err)
	}

	s := &Session{
		Pipeline: pl,
		Backend:  backend.NewClient(pl),
		Store:    presenter.NewStore(nil),
		logger:   logger,
	}

	prober := opts.Prober
	if prober == nil {
		prober, err = s.buildProber(cfg, httpClient)
		if err != nil {
			return nil, err
		}
	}
	s.Monitor = connectivity.NewMonitor(connectivity.Config{
		Prober:       prober,
		Debounce:     cfg.Debounce,
		ProbeTimeout: cfg.ProbeTimeout,
		Notifier:     notifier,
		Clock:        clk,
		Logger:       logger,
	})

	var sink chat.Sink = chat.RepostSink{Poster: s.Backend}
	if cfg.AppendInbound {
		sink = chat.StoreSink{Store: s.Store}
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = chat.WebSocketDialer{URL: cfg.SocketURL}
	}
	s.Channel, err = chat.NewChannel(chat.Config{
		Dialer: dialer,
		Sink:   sink,
		Identity: chat.Identity{
			SenderID:           domain.ID(cfg.Identity.SenderID),
			SenderDepartmentID: domain.ID(cfg.Identity.SenderDepartmentID),
			AdminID:            domain.ID(cfg.Identity.AdminID),
			InstitutionID:      domain.ID(cfg.Identity.InstitutionID),
		},
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		s.Monitor.Close()
		s.closeGRPC()
		return nil, fmt.Errorf("create chat channel: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	signals := opts.Signals
	if signals == nil {
		signals = connectivity.NewInterfaceWatcher(clk, cfg.WatchInterval, logger).Watch(ctx)
	}
	s.Monitor.Start(ctx, signals)

	logger.Info("Session started",
		"api_base_url", cfg.APIBaseURL,
		"socket_url", cfg.SocketURL,
		"append_inbound", cfg.AppendInbound,
	)
	return s, nil
}

func (s *Session) buildProber(cfg config.ClientConfig, client *http.Client) (connectivity.Prober, error) {
	httpProber := connectivity.NewHTTPProber(client, cfg.APIBaseURL, cfg.HealthPath)
	if cfg.GRPCHealthAddr == "" {
		return httpProber, nil
	}
	conn, err := connectivity.DialGRPCHealth(cfg.GRPCHealthAddr)
	if err != nil {
		return nil, err
	}
	s.grpcConn = conn
	return connectivity.AllOf{httpProber, connectivity.NewGRPCProber(conn, cfg.GRPCHealthService)}, nil
}

// SelectDepartment makes departmentID the active scope: the old socket is
// closed, a new one is opened and the history is fetched into the store.
func (s *Session) SelectDepartment(ctx context.Context, departmentID domain.ID) error {
	if departmentID == "" {
		return errors.New("department id is required")
	}
	s.Store.Reset(departmentID)
	s.Channel.SetScope(departmentID)
	return s.load(ctx, departmentID)
}

// Refresh refetches the history of the active department. A socket the
// server closed, or that failed to dial, is reopened first.
func (s *Session) Refresh(ctx context.Context) error {
	dept := s.Store.DepartmentID()
	if dept == "" {
		return nil
	}
	if scope := s.Channel.Scope(); scope.DepartmentID == dept && scope.SocketState == domain.SocketDisconnected {
		s.logger.Info("Reopening chat socket", "department_id", dept.String())
		s.Channel.SetScope(dept)
	}
	return s.load(ctx, dept)
}

func (s *Session) load(ctx context.Context, departmentID domain.ID) error {
	msgs, err := s.Backend.FetchMessages(ctx, departmentID)
	if err != nil {
		return err
	}
	if !s.Store.Replace(departmentID, msgs) {
		s.logger.Debug("Discarding history for inactive department", "department_id", departmentID.String())
	}
	return nil
}

// Send writes text to the active department's socket. It is a no-op
// while the socket is not open.
func (s *Session) Send(ctx context.Context, text string) error {
	return s.Channel.Send(ctx, text)
}

// Departments lists the selectable departments.
func (s *Session) Departments(ctx context.Context) ([]domain.Department, error) {
	return s.Backend.ListDepartments(ctx)
}

// Close stops the channel, the monitor and the raw signal source.
func (s *Session) Close() {
	s.Channel.Close()
	s.Monitor.Close()
	if s.cancel != nil {
		s.cancel()
	}
	s.closeGRPC()
}

func (s *Session) closeGRPC() {
	if s.grpcConn != nil {
		if err := s.grpcConn.Close(); err != nil {
			s.logger.Debug("Failed to close grpc health connection", "error", err)
		}
		s.grpcConn = nil
	}
}
