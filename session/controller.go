// Package session implements the device session controller: a single owner
// goroutine that drives port enumeration and connection lifecycle for two
// input slots, drains device callbacks into a coalesced message log, and
// publishes read-only snapshots to the presentation layer.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"midimon/driver"
	"midimon/midi"
	"midimon/output"
)

// Defaults for Config. The poll interval bounds request latency; batch
// limits cap the time spent holding the log lock in one iteration so a
// burst of device messages cannot starve request processing.
const (
	DefaultClientName        = "midimon"
	DefaultPollInterval      = 20 * time.Millisecond
	DefaultBatchSize         = 5
	DefaultMaxBatchesPerPoll = 6
	DefaultMessageBuffer     = 512

	requestBuffer = 32
	errorBuffer   = 64
)

// Config tunes a Controller.
type Config struct {
	ClientName        string
	PollInterval      time.Duration
	BatchSize         int
	MaxBatchesPerPoll int
	MessageBuffer     int
	AutoConnect       bool
}

func (c *Config) withDefaults() {
	if c.ClientName == "" {
		c.ClientName = DefaultClientName
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxBatchesPerPoll <= 0 {
		c.MaxBatchesPerPoll = DefaultMaxBatchesPerPoll
	}
	if c.MessageBuffer <= 0 {
		c.MessageBuffer = DefaultMessageBuffer
	}
}

type requestKind uint8

const (
	reqConnect requestKind = iota
	reqDisconnect
	reqRefresh
	reqShutdown
)

type request struct {
	kind requestKind
	slot midi.Slot
	port string
}

// Stats are the controller's message counters.
type Stats struct {
	Received  int64 `json:"received"`
	Dropped   int64 `json:"dropped"`
	Malformed int64 `json:"malformed"`
	Entries   int   `json:"entries"`
}

// Controller owns the port catalog, the slot connections and the message
// log. All mutation happens on its goroutine; other goroutines interact
// through the request methods and snapshot accessors, which are safe for
// concurrent use.
type Controller struct {
	cfg    Config
	drv    driver.Driver
	logger *slog.Logger

	catalog *Catalog
	conns   *Connections
	log     *Log
	view    portsView

	reqCh chan request
	msgCh chan midi.Event
	errCh chan error

	repaint func()
	eventCb output.EventCallback

	received  atomic.Int64
	dropped   atomic.Int64
	malformed atomic.Int64

	batch []midi.Event

	mu      sync.Mutex
	running bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Controller over the given driver backend.
func New(cfg Config, drv driver.Driver, logger *slog.Logger) (*Controller, error) {
	if drv == nil {
		return nil, fmt.Errorf("driver backend is required")
	}
	cfg.withDefaults()

	return &Controller{
		cfg:     cfg,
		drv:     drv,
		logger:  logger,
		catalog: NewCatalog(cfg.ClientName),
		conns:   NewConnections(cfg.ClientName, logger),
		log:     NewLog(),
		reqCh:   make(chan request, requestBuffer),
		msgCh:   make(chan midi.Event, cfg.MessageBuffer),
		errCh:   make(chan error, errorBuffer),
		batch:   make([]midi.Event, 0, cfg.BatchSize),
	}, nil
}

// SetRepaintFunc installs the presentation layer's redraw signal. Must be
// called before Start.
func (c *Controller) SetRepaintFunc(fn func()) {
	c.repaint = fn
}

// SetEventCallback installs a hook for discrete session events (connects,
// disconnects, errors). Must be called before Start.
func (c *Controller) SetEventCallback(cb output.EventCallback) {
	c.eventCb = cb
}

// Start launches the controller goroutine. The initial catalog refresh
// happens on that goroutine; its failure is reported on the error channel
// but does not prevent the loop from starting.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("controller already running")
	}
	if c.stopped {
		return fmt.Errorf("controller already shut down")
	}
	c.running = true

	c.wg.Add(1)
	go c.run()

	c.logger.Info("Controller started", "backend", c.drv.String(), "client_name", c.cfg.ClientName)
	return nil
}

// Shutdown queues a shutdown request and waits for the controller goroutine
// to exit. Queued requests ahead of it are still served in FIFO order. Safe
// to call more than once.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if !c.running || c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	// Unlike ordinary requests, shutdown must not be droppable when the
	// queue is full. The loop always drains the queue, so a blocking send
	// is bounded.
	c.reqCh <- request{kind: reqShutdown}
	c.wg.Wait()
	c.logger.Info("Controller stopped")
}

// Connect asks the controller to bind slot to the named port.
// Fire-and-forget: the outcome is observed via snapshots and PopError.
func (c *Controller) Connect(slot midi.Slot, portName string) {
	c.send(request{kind: reqConnect, slot: slot, port: portName})
}

// Disconnect asks the controller to close the slot's connection.
func (c *Controller) Disconnect(slot midi.Slot) {
	c.send(request{kind: reqDisconnect, slot: slot})
}

// RefreshPorts asks the controller to re-enumerate the catalog.
func (c *Controller) RefreshPorts() {
	c.send(request{kind: reqRefresh})
}

func (c *Controller) send(req request) {
	select {
	case c.reqCh <- req:
	default:
		c.logger.Warn("Request queue full, dropping request", "kind", req.kind)
	}
}

// PopError returns the next queued operation error, or nil when there is
// none. The consumer decides display and lifetime.
func (c *Controller) PopError() error {
	select {
	case err := <-c.errCh:
		return err
	default:
		return nil
	}
}

// Log returns the shared message log.
func (c *Controller) Log() *Log {
	return c.log
}

// Ports returns the last published catalog snapshot.
func (c *Controller) Ports() PortsSnapshot {
	return c.view.snapshot()
}

// Stats returns the controller's message counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Received:  c.received.Load(),
		Dropped:   c.dropped.Load(),
		Malformed: c.malformed.Load(),
		Entries:   c.log.Len(),
	}
}

func (c *Controller) run() {
	defer c.wg.Done()
	defer func() {
		c.conns.CloseAll(c.catalog)
		c.view.publish(c.catalog, c.conns)
		c.logger.Debug("Controller loop exited")
	}()

	if err := c.catalog.Refresh(c.drv); err != nil {
		// Non-fatal: the loop starts with an empty catalog.
		c.reportError(err)
	}
	c.view.publish(c.catalog, c.conns)

	if c.cfg.AutoConnect {
		c.autoConnect()
	}

	for {
		var (
			req     request
			haveReq bool
		)

		select {
		case r, ok := <-c.reqCh:
			if !ok {
				c.logger.Error("Request channel closed, stopping controller")
				return
			}
			req, haveReq = r, true
		case <-time.After(c.cfg.PollInterval):
		}

		repaint := c.drainMessages()

		if haveReq && !c.handle(req) {
			return
		}

		if repaint {
			c.signalRepaint()
		}
	}
}

// handle dispatches one request; false means shutdown. Connect and
// disconnect refresh and republish the catalog whether or not they
// succeeded, so the presentation layer always sees current truth.
func (c *Controller) handle(req request) bool {
	switch req.kind {
	case reqConnect:
		if err := c.connect(req.slot, req.port); err != nil {
			c.reportError(err)
		}
		c.refreshAndPublish()

	case reqDisconnect:
		if err := c.disconnect(req.slot); err != nil {
			c.reportError(err)
		}
		c.refreshAndPublish()

	case reqRefresh:
		c.refreshAndPublish()

	case reqShutdown:
		c.logger.Info("Shutdown requested")
		return false
	}

	return true
}

// connect opens a live stream on slot. The installed callback runs on the
// driver's goroutine: it copies and decodes the bytes there, then hands the
// finished event to the controller with a non-blocking send so a slow
// consumer can never stall the device thread.
func (c *Controller) connect(slot midi.Slot, name string) error {
	msgCh := c.msgCh
	cb := func(ts uint64, data []byte) {
		ev := midi.NewEvent(ts, slot, data)
		if ev.Malformed {
			c.malformed.Add(1)
		}
		select {
		case msgCh <- ev:
		default:
			c.dropped.Add(1)
		}
	}

	if err := c.conns.Connect(c.catalog, slot, name, cb); err != nil {
		return err
	}

	c.notify(output.Event{
		Type: output.EventConnected,
		Slot: slot.String(),
		Port: name,
	})
	return nil
}

func (c *Controller) disconnect(slot midi.Slot) error {
	wasConnected := c.conns.Connected(slot)
	if err := c.conns.Disconnect(c.catalog, slot); err != nil {
		return err
	}

	if wasConnected {
		c.notify(output.Event{
			Type: output.EventDisconnected,
			Slot: slot.String(),
		})
	}
	return nil
}

func (c *Controller) refreshAndPublish() {
	if err := c.catalog.Refresh(c.drv); err != nil {
		// Previous snapshot stays in place; publish it anyway.
		c.reportError(err)
	}
	c.view.publish(c.catalog, c.conns)
}

// drainMessages moves buffered events into the log in bounded batches and
// reports whether the log visibly changed. Each batch is one lock hold;
// draining stops at the per-iteration cap or as soon as a batch comes back
// empty.
func (c *Controller) drainMessages() bool {
	updated := false

	for b := 0; b < c.cfg.MaxBatchesPerPoll; b++ {
		c.batch = c.batch[:0]

	fill:
		for len(c.batch) < c.cfg.BatchSize {
			select {
			case ev := <-c.msgCh:
				c.batch = append(c.batch, ev)
			default:
				break fill
			}
		}

		if len(c.batch) == 0 {
			break
		}

		c.received.Add(int64(len(c.batch)))
		if c.log.PushBatch(c.batch) {
			updated = true
		}
	}

	return updated
}

// autoConnect binds slot one to the first catalog port that opens.
func (c *Controller) autoConnect() {
	for _, name := range c.catalog.List() {
		if err := c.connect(midi.SlotOne, name); err != nil {
			c.logger.Debug("Auto-connect attempt failed", "port", name, "error", err)
			continue
		}
		c.view.publish(c.catalog, c.conns)
		return
	}
}

func (c *Controller) signalRepaint() {
	if c.repaint != nil {
		c.repaint()
	}
}

func (c *Controller) reportError(err error) {
	c.logger.Error("Session operation failed", "error", err)

	select {
	case c.errCh <- err:
	default:
		c.logger.Warn("Error queue full, dropping error", "error", err)
	}

	c.notify(output.Event{
		Type:    output.EventError,
		Message: err.Error(),
	})
}

func (c *Controller) notify(ev output.Event) {
	if c.eventCb != nil {
		c.eventCb(ev)
	}
}
