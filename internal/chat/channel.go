// Package chat implements the department-scoped chat socket as a finite
// state machine: Disconnected, Connecting, Open, Closed, and back to
// Disconnected. All state lives on one goroutine fed by an event queue.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/wardline/internal/clock"
	"github.com/ashureev/wardline/internal/domain"
)

const (
	defaultWriteTimeout = 10 * time.Second
	subscriberBuffer    = 64
)

// Identity is stamped on every outbound message.
type Identity struct {
	SenderID           domain.ID
	SenderDepartmentID domain.ID
	AdminID            domain.ID
	InstitutionID      domain.ID
}

// StateChange is published on every socket state transition.
type StateChange struct {
	DepartmentID domain.ID
	State        domain.SocketState
	At           time.Time
}

// Config holds Channel dependencies.
type Config struct {
	Dialer       Dialer
	Sink         Sink
	Identity     Identity
	WriteTimeout time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Channel owns at most one chat socket, scoped to the selected department.
type Channel struct {
	dialer       Dialer
	identity     Identity
	writeTimeout time.Duration
	clock        clock.Clock
	logger       *slog.Logger
	delivery     *deliveryQueue

	events    chan event
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	scope      domain.ChatScope
	gen        uint64
	conn       Conn
	cancelConn context.CancelFunc

	mu       sync.RWMutex
	snapshot domain.ChatScope
	subs     map[int]chan StateChange
	nextSub  int
}

type event any

type (
	setScopeEvent struct{ departmentID domain.ID }
	leaveEvent    struct{}
	openedEvent   struct {
		gen  uint64
		conn Conn
		ctx  context.Context
	}
	dialFailedEvent struct {
		gen uint64
		err error
	}
	inboundEvent struct {
		gen  uint64
		data []byte
	}
	remoteClosedEvent struct {
		gen uint64
		err error
	}
	sendEvent struct {
		ctx   context.Context
		text  string
		reply chan error
	}
	closeEvent struct{}
)

// NewChannel creates a Channel in the Disconnected state and starts its
// event loop.
func NewChannel(cfg Config) (*Channel, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("chat: dialer is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("chat: sink is required")
	}
	c := &Channel{
		dialer:       cfg.Dialer,
		identity:     cfg.Identity,
		writeTimeout: cfg.WriteTimeout,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		events:       make(chan event, 32),
		done:         make(chan struct{}),
		subs:         make(map[int]chan StateChange),
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = defaultWriteTimeout
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.delivery = newDeliveryQueue(cfg.Sink, c.logger)

	go c.loop()
	return c, nil
}

// SetScope closes the current connection, if any, and opens one for
// departmentID. Re-selecting the active department reconnects. An empty
// departmentID behaves like Leave.
func (c *Channel) SetScope(departmentID domain.ID) {
	c.post(setScopeEvent{departmentID: departmentID})
}

// Leave closes the connection and clears the department.
func (c *Channel) Leave() {
	c.post(leaveEvent{})
}

// Send writes text to the socket. It does nothing, and returns nil, unless
// the socket is Open with a department selected; there is no outbound
// queue.
func (c *Channel) Send(ctx context.Context, text string) error {
	reply := make(chan error, 1)
	if !c.post(sendEvent{ctx: ctx, text: text, reply: reply}) {
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return nil
	}
}

// Scope returns the current department and socket state.
func (c *Channel) Scope() domain.ChatScope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Subscribe returns a channel of state transitions, in order, and a
// function that removes the subscription.
func (c *Channel) Subscribe() (<-chan StateChange, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan StateChange, subscriberBuffer)
	c.subs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Close leaves the current scope and stops the event loop. Inbound
// messages not yet delivered are discarded.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.events <- closeEvent{}
		<-c.done
		c.delivery.close()
	})
}

func (c *Channel) post(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Channel) loop() {
	defer close(c.done)
	for ev := range c.events {
		switch ev := ev.(type) {
		case setScopeEvent:
			c.handleSetScope(ev.departmentID)
		case leaveEvent:
			c.teardown("left department")
			c.scope.DepartmentID = ""
			c.publishSnapshot()
		case openedEvent:
			c.handleOpened(ev)
		case dialFailedEvent:
			c.handleDialFailed(ev)
		case inboundEvent:
			c.handleInbound(ev)
		case remoteClosedEvent:
			c.handleRemoteClosed(ev)
		case sendEvent:
			ev.reply <- c.handleSend(ev)
		case closeEvent:
			c.teardown("channel closed")
			return
		}
	}
}

func (c *Channel) handleSetScope(departmentID domain.ID) {
	c.teardown("scope changed")
	c.scope.DepartmentID = departmentID
	if departmentID == "" {
		c.publishSnapshot()
		return
	}

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelConn = cancel
	c.transition(domain.SocketConnecting)

	c.logger.Info("Opening chat socket", "department_id", departmentID.String())
	go func() {
		conn, err := c.dialer.Dial(ctx)
		if err != nil {
			c.post(dialFailedEvent{gen: gen, err: err})
			return
		}
		if !c.post(openedEvent{gen: gen, conn: conn, ctx: ctx}) {
			_ = conn.Close()
		}
	}()
}

func (c *Channel) handleOpened(ev openedEvent) {
	if ev.gen != c.gen || c.scope.SocketState != domain.SocketConnecting {
		_ = ev.conn.Close()
		return
	}
	c.conn = ev.conn
	c.transition(domain.SocketOpen)
	c.logger.Info("Chat socket open", "department_id", c.scope.DepartmentID.String())

	go c.readLoop(ev.ctx, ev.gen, ev.conn)
}

func (c *Channel) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.post(remoteClosedEvent{gen: gen, err: err})
			return
		}
		if !c.post(inboundEvent{gen: gen, data: data}) {
			return
		}
	}
}

func (c *Channel) handleDialFailed(ev dialFailedEvent) {
	if ev.gen != c.gen || c.scope.SocketState != domain.SocketConnecting {
		return
	}
	c.logger.Warn("Chat socket dial failed", "department_id", c.scope.DepartmentID.String(), "error", ev.err)
	c.cancelConn()
	c.cancelConn = nil
	c.transition(domain.SocketClosed)
	c.transition(domain.SocketDisconnected)
}

func (c *Channel) handleInbound(ev inboundEvent) {
	if ev.gen != c.gen || c.scope.SocketState != domain.SocketOpen {
		return
	}
	var m domain.Message
	if err := json.Unmarshal(ev.data, &m); err != nil {
		c.logger.Debug("Discarding undecodable chat frame", "error", err, "data_len", len(ev.data))
		return
	}
	if m.ReceiverDepartmentID != c.scope.DepartmentID {
		c.logger.Debug("Discarding message for another department",
			"department_id", c.scope.DepartmentID.String(),
			"receiver_department_id", m.ReceiverDepartmentID.String(),
		)
		return
	}
	c.delivery.enqueue(&m)
}

func (c *Channel) handleRemoteClosed(ev remoteClosedEvent) {
	if ev.gen != c.gen || c.conn == nil {
		return
	}
	if RemoteClosed(ev.err) {
		c.logger.Info("Chat socket closed by server", "department_id", c.scope.DepartmentID.String(), "error", ev.err)
	} else {
		c.logger.Warn("Chat socket read failed", "department_id", c.scope.DepartmentID.String(), "error", ev.err)
	}
	c.teardown("connection lost")
}

func (c *Channel) handleSend(ev sendEvent) error {
	if c.scope.SocketState != domain.SocketOpen || c.scope.DepartmentID == "" || c.conn == nil {
		c.logger.Debug("Dropping send, socket not open", "state", c.scope.SocketState.String())
		return nil
	}
	m := domain.Message{
		SenderID:             c.identity.SenderID,
		SenderDepartmentID:   c.identity.SenderDepartmentID,
		AdminID:              c.identity.AdminID,
		ReceiverDepartmentID: c.scope.DepartmentID,
		Text:                 ev.text,
		InstitutionID:        c.identity.InstitutionID,
		CreatedAt:            domain.At(c.clock.Now()),
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode chat message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ev.ctx, c.writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, data); err != nil {
		return fmt.Errorf("write chat message: %w", err)
	}
	return nil
}

// teardown closes any live or pending connection, walking Closed and then
// Disconnected. The department is kept.
func (c *Channel) teardown(reason string) {
	state := c.scope.SocketState
	if state != domain.SocketConnecting && state != domain.SocketOpen {
		return
	}
	c.gen++
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("Failed to close chat socket", "error", err)
		}
		c.conn = nil
	}
	if c.cancelConn != nil {
		c.cancelConn()
		c.cancelConn = nil
	}
	c.logger.Info("Chat socket closed", "department_id", c.scope.DepartmentID.String(), "reason", reason)
	c.transition(domain.SocketClosed)
	c.transition(domain.SocketDisconnected)
}

func (c *Channel) transition(state domain.SocketState) {
	c.scope.SocketState = state
	change := StateChange{DepartmentID: c.scope.DepartmentID, State: state, At: c.clock.Now()}

	c.mu.Lock()
	c.snapshot = c.scope
	subs := make([]chan StateChange, 0, len(c.subs))
	for _, ch := range c.subs {
		subs = append(subs, ch)
	}
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- change:
		default:
			c.logger.Warn("Chat state subscriber is full, dropping transition", "state", state.String())
		}
	}
}

func (c *Channel) publishSnapshot() {
	c.mu.Lock()
	c.snapshot = c.scope
	c.mu.Unlock()
}
