package channel

import (
	"log/slog"
	"time"

	"github.com/example/driver-session/internal/eventloop"
	"github.com/example/driver-session/internal/observability"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReconnectDelay    = 5 * time.Second
)

type Status int

const (
	StatusClosed Status = iota
	StatusConnecting
	StatusOpen
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	default:
		return "closed"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type State struct {
	Status             Status `json:"status"`
	ReconnectScheduled bool   `json:"reconnect_scheduled"`
}

// Conn is one underlying connection. A Channel never reuses a Conn after
// it has closed.
type Conn interface {
	Send(v any) error
	Close() error
}

// Events receives the lifecycle of a single dial attempt. Dialers must
// deliver these on the session loop. OnClose is also used for a failed dial.
type Events struct {
	OnOpen    func(Conn)
	OnMessage func([]byte)
	OnClose   func(error)
}

type Dialer interface {
	Dial(endpoint string, ev Events)
}

type Options struct {
	Name      string
	Dialer    Dialer
	Scheduler eventloop.Scheduler
	Logger    *slog.Logger

	// ShouldConnect is consulted when a scheduled reconnection fires.
	ShouldConnect func() bool
	// Heartbeat builds the keepalive payload. Nil disables heartbeats.
	Heartbeat func() any

	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
}

// Channel is a reconnecting, heartbeat-monitored message stream. All
// methods must be called from the session loop.
type Channel struct {
	opts Options
	log  *slog.Logger

	endpoint  string
	onMessage func([]byte)
	onStatus  func(State)

	status     Status
	conn       Conn
	gen        uint64
	deliberate bool
	reconnect  eventloop.Timer
	heartbeat  eventloop.Timer
	last       State
}

func New(opts Options) *Channel {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.ShouldConnect == nil {
		opts.ShouldConnect = func() bool { return true }
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Channel{opts: opts, log: log.With("channel", opts.Name), deliberate: true}
}

func (c *Channel) Name() string     { return c.opts.Name }
func (c *Channel) Endpoint() string { return c.endpoint }

func (c *Channel) State() State {
	return State{Status: c.status, ReconnectScheduled: c.reconnect != nil}
}

// Open connects to endpoint. Calling Open again for the same endpoint while
// connecting or open only replaces the handlers.
func (c *Channel) Open(endpoint string, onMessage func([]byte), onStatus func(State)) {
	c.onMessage = onMessage
	c.onStatus = onStatus
	if c.status != StatusClosed && endpoint == c.endpoint {
		return
	}
	if c.status != StatusClosed {
		c.teardown()
	}
	c.endpoint = endpoint
	c.deliberate = false
	c.cancelReconnect()
	c.dial()
}

// Send delivers v if the channel is open. Failures are logged, not returned.
func (c *Channel) Send(v any) bool {
	if c.status != StatusOpen || c.conn == nil {
		c.log.Warn("send dropped, channel not open", "status", c.status.String())
		observability.ChannelSendFailures.WithLabelValues(c.opts.Name).Inc()
		return false
	}
	if err := c.conn.Send(v); err != nil {
		c.log.Warn("send failed", "error", err)
		observability.ChannelSendFailures.WithLabelValues(c.opts.Name).Inc()
		return false
	}
	return true
}

// Close shuts the channel down and cancels any pending reconnection. It is
// safe to call repeatedly.
func (c *Channel) Close() {
	c.deliberate = true
	c.cancelReconnect()
	c.teardown()
	c.emit()
}

func (c *Channel) dial() {
	c.gen++
	gen := c.gen
	c.status = StatusConnecting
	c.emit()
	c.log.Debug("dialing", "endpoint", c.endpoint)
	c.opts.Dialer.Dial(c.endpoint, Events{
		OnOpen:    func(conn Conn) { c.handleOpen(gen, conn) },
		OnMessage: func(data []byte) { c.handleMessage(gen, data) },
		OnClose:   func(err error) { c.handleClose(gen, err) },
	})
}

func (c *Channel) handleOpen(gen uint64, conn Conn) {
	if gen != c.gen {
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.status = StatusOpen
	c.log.Info("channel open", "endpoint", c.endpoint)
	c.armHeartbeat()
	c.emit()
}

func (c *Channel) handleMessage(gen uint64, data []byte) {
	if gen != c.gen || c.onMessage == nil {
		return
	}
	c.onMessage(data)
}

func (c *Channel) handleClose(gen uint64, err error) {
	if gen != c.gen {
		return
	}
	c.gen++
	c.conn = nil
	c.stopHeartbeat()
	c.status = StatusClosed
	c.log.Warn("channel closed unexpectedly, reconnect scheduled", "error", err, "delay", c.opts.ReconnectDelay)
	c.scheduleReconnect()
	c.emit()
}

// scheduleReconnect arms at most one reconnection.
func (c *Channel) scheduleReconnect() {
	if c.reconnect != nil || c.deliberate {
		return
	}
	c.reconnect = c.opts.Scheduler.AfterFunc(c.opts.ReconnectDelay, c.fireReconnect)
}

func (c *Channel) fireReconnect() {
	c.reconnect = nil
	if c.deliberate || c.status != StatusClosed {
		c.emit()
		return
	}
	if !c.opts.ShouldConnect() {
		c.log.Info("reconnect skipped, channel no longer wanted")
		c.emit()
		return
	}
	observability.ChannelReconnects.WithLabelValues(c.opts.Name).Inc()
	c.dial()
}

func (c *Channel) cancelReconnect() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Channel) teardown() {
	c.gen++
	c.stopHeartbeat()
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.log.Debug("close connection", "error", err)
		}
		c.conn = nil
	}
	c.status = StatusClosed
}

func (c *Channel) armHeartbeat() {
	if c.opts.Heartbeat == nil {
		return
	}
	c.heartbeat = c.opts.Scheduler.AfterFunc(c.opts.HeartbeatInterval, func() {
		c.heartbeat = nil
		if c.status != StatusOpen {
			return
		}
		c.Send(c.opts.Heartbeat())
		c.armHeartbeat()
	})
}

func (c *Channel) stopHeartbeat() {
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
}

func (c *Channel) emit() {
	st := c.State()
	if st == c.last {
		return
	}
	c.last = st
	observability.ChannelStatus.WithLabelValues(c.opts.Name).Set(float64(st.Status))
	if c.onStatus != nil {
		c.onStatus(st)
	}
}
