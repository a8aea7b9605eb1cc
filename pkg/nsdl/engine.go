package nsdl

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/coap"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/log"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/reporting"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/timer"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/transport"
)

// Protocol timing defaults (RFC 7252 transmission parameters).
const (
	// DefaultAckTimeout is the initial retransmission timeout.
	DefaultAckTimeout = 2 * time.Second

	// DefaultMaxRetransmit bounds retransmissions per exchange.
	DefaultMaxRetransmit = 4

	// DefaultExchangeLifetime is the dedup window for inbound message ids.
	DefaultExchangeLifetime = 247 * time.Second

	// executionInterval is the engine's periodic housekeeping tick.
	executionInterval = time.Second

	// defaultQueueSize bounds the engine event queue.
	defaultQueueSize = 128
)

// lifetimeRefreshFraction is how far into the lifetime the refresh fires.
const lifetimeRefreshFraction = 0.75

// Observer receives the engine's callbacks. All methods are invoked from
// the engine's event loop; implementations must not call back into the
// engine synchronously from them.
type Observer interface {
	// BootstrapDone reports a completed bootstrap with the provisioned
	// management-server security instance.
	BootstrapDone(security *model.Security)

	// ObjectRegistered reports a successful registration.
	ObjectRegistered()

	// RegistrationUpdated reports a successful registration refresh.
	RegistrationUpdated()

	// ObjectUnregistered reports a completed deregistration.
	ObjectUnregistered()

	// ValueUpdated reports a server- or application-side value change.
	ValueUpdated(path model.Path)

	// Error reports a failure, classified by kind.
	Error(kind ErrorKind, err error)
}

// Config configures an Engine.
type Config struct {
	// Endpoint holds the client parameters advertised at registration.
	Endpoint model.Endpoint

	// Transport carries datagrams; required.
	Transport transport.Transport

	// Clock drives timers; SystemClock when nil.
	Clock timer.Clock

	// Logger is the optional debug logger. If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger captures structured protocol events, optional.
	ProtocolLogger log.Logger

	// AckTimeout, MaxRetransmit and ExchangeLifetime override the RFC 7252
	// defaults when non-zero.
	AckTimeout       time.Duration
	MaxRetransmit    int
	ExchangeLifetime time.Duration

	// QueueSize bounds the event queue, defaultQueueSize when zero.
	QueueSize int
}

// Engine is the NSDL engine. All mutable state is owned by the event-loop
// goroutine; the exported methods only enqueue events.
type Engine struct {
	cfg       Config
	observer  Observer
	logger    *slog.Logger
	plog      log.Logger
	sessionID string

	tree   *model.Tree
	obs    *reporting.Table
	timers *timer.Service
	dir    *directory

	queue    chan event
	stopOnce sync.Once
	stopping chan struct{}
	done     chan struct{}

	// Loop-owned state below; never touched outside the loop goroutine.
	state     State
	mid       uint16
	security  *model.Security
	bootstrap *model.Security
	srvAddr   transport.Addr
	bsAddr    transport.Addr
	regHandle string
	lifetime  int64
	pending   map[uint16]*exchange
	byToken   map[string]*exchange
	dedup     map[dedupKey]*dedupEntry
	malformed uint64
}

// New creates an engine. The observer and the transport are required.
func New(observer Observer, cfg Config) (*Engine, error) {
	if err := cfg.Endpoint.Validate(); err != nil {
		return nil, err
	}
	if cfg.Transport == nil {
		return nil, ErrNoTransport
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.MaxRetransmit == 0 {
		cfg.MaxRetransmit = DefaultMaxRetransmit
	}
	if cfg.ExchangeLifetime == 0 {
		cfg.ExchangeLifetime = DefaultExchangeLifetime
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = defaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	plog := cfg.ProtocolLogger
	if plog == nil {
		plog = log.Discard
	}

	e := &Engine{
		cfg:       cfg,
		observer:  observer,
		logger:    logger,
		plog:      plog,
		sessionID: uuid.NewString(),
		tree:      model.NewTree(),
		obs:       reporting.NewTable(),
		dir:       newDirectory(),
		queue:     make(chan event, cfg.QueueSize),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
		state:     StateIdle,
		mid:       seedMessageID(),
		pending:   make(map[uint16]*exchange),
		byToken:   make(map[string]*exchange),
		dedup:     make(map[dedupKey]*dedupEntry),
	}
	e.timers = timer.NewService(cfg.Clock, func(te timer.Event) {
		e.enqueue(event{kind: evTimer, timer: te})
	})
	return e, nil
}

// seedMessageID draws a random starting message id, as RFC 7252 suggests.
func seedMessageID() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	return binary.BigEndian.Uint16(b[:])
}

// Start wires the transport and launches the event loop.
func (e *Engine) Start() error {
	e.cfg.Transport.OnDeliver(func(from transport.Addr, data []byte) {
		e.enqueue(event{kind: evDatagram, addr: from, data: data})
	})
	if err := e.cfg.Transport.Start(); err != nil {
		return err
	}
	e.timers.Start(timer.KindExecution, nil, executionInterval, true)
	go e.run()
	return nil
}

// Stop halts the event loop and all timers. It does not touch the
// transport; the owner closes it.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopping)
		e.timers.StopAll()
		<-e.done
	})
}

// Tree returns the engine's object tree.
func (e *Engine) Tree() *model.Tree { return e.tree }

// SessionID returns the engine's session identifier, stamped on protocol
// log events.
func (e *Engine) SessionID() string { return e.sessionID }

// Bootstrap starts the bootstrap flow against the given security instance.
// Results arrive via the observer.
func (e *Engine) Bootstrap(security *model.Security) {
	e.enqueue(event{kind: evBootstrap, security: security})
}

// Register starts the registration flow: the object list becomes the
// resource directory and a registration is sent to the server named by
// security.
func (e *Engine) Register(security *model.Security, objects []*model.Object) {
	e.enqueue(event{kind: evRegister, security: security, objects: objects})
}

// UpdateRegistration refreshes the registration. lifetime 0 keeps the
// current lifetime.
func (e *Engine) UpdateRegistration(lifetime int64) {
	e.enqueue(event{kind: evUpdate, lifetime: lifetime})
}

// Unregister tears the registration down.
func (e *Engine) Unregister() {
	e.enqueue(event{kind: evUnregister})
}

// ValueUpdated tells the engine a value changed at path, triggering
// notification evaluation and the observer's ValueUpdated callback.
func (e *Engine) ValueUpdated(path model.Path) {
	e.enqueue(event{kind: evValueChanged, path: path})
}

// enqueue adds ev unless the engine is stopping.
func (e *Engine) enqueue(ev event) {
	select {
	case <-e.stopping:
	case e.queue <- ev:
	}
}

// run is the event loop. Exactly one event is processed at a time.
func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stopping:
			return
		case ev := <-e.queue:
			e.handle(ev)
		}
	}
}

func (e *Engine) handle(ev event) {
	switch ev.kind {
	case evBootstrap:
		e.handleBootstrap(ev.security)
	case evRegister:
		e.handleRegister(ev.security, ev.objects)
	case evUpdate:
		e.handleUpdate(ev.lifetime)
	case evUnregister:
		e.handleUnregister()
	case evValueChanged:
		e.handleValueChanged(ev.path)
	case evDatagram:
		e.handleDatagram(ev.addr, ev.data)
	case evTimer:
		e.handleTimer(ev.timer)
	}
}

func (e *Engine) handleTimer(te timer.Event) {
	switch te.Kind {
	case timer.KindExecution:
		e.sweepDedup()
	case timer.KindRegistration:
		e.autoRefresh()
	case timer.KindRetransmit:
		mid, ok := te.Ref.(uint16)
		if !ok {
			return
		}
		e.retransmit(mid)
	case timer.KindMinPeriod:
		path, ok := te.Ref.(model.Path)
		if !ok {
			return
		}
		e.minPeriodElapsed(path)
	case timer.KindMaxPeriod:
		path, ok := te.Ref.(model.Path)
		if !ok {
			return
		}
		e.maxPeriodElapsed(path)
	}
}

// setState transitions the state machine and logs the change.
func (e *Engine) setState(next State) {
	if e.state == next {
		return
	}
	prev := e.state
	e.state = next
	e.logger.Debug("state transition", "from", prev.String(), "to", next.String())
	e.logEvent(log.Event{
		Direction: log.DirectionOut,
		Layer:     log.LayerEngine,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			From: prev.String(),
			To:   next.String(),
		},
	})
}

// fail surfaces an error, stops every timer except the execution tick and
// drops back to idle.
func (e *Engine) fail(kind ErrorKind, err error) {
	e.logEvent(log.Event{
		Direction: log.DirectionIn,
		Layer:     log.LayerEngine,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Message: err.Error(), Kind: kind.String()},
	})
	e.stopProtocolTimers()
	e.dropExchanges()
	e.setState(StateIdle)
	e.observer.Error(kind, err)
}

// stopProtocolTimers cancels everything except the execution tick.
func (e *Engine) stopProtocolTimers() {
	e.timers.StopKind(timer.KindRegistration)
	e.timers.StopKind(timer.KindRetransmit)
	e.timers.StopKind(timer.KindMinPeriod)
	e.timers.StopKind(timer.KindMaxPeriod)
}

func (e *Engine) now() time.Time {
	return e.timers.Clock().Now()
}

// logEvent stamps common fields and hands the event to the protocol logger.
func (e *Engine) logEvent(ev log.Event) {
	ev.Timestamp = e.now()
	ev.SessionID = e.sessionID
	ev.Endpoint = e.cfg.Endpoint.Name
	e.plog.Log(ev)
}

// logMessage records a decoded CoAP message.
func (e *Engine) logMessage(dir log.Direction, addr transport.Addr, m *coap.Message, retransmit bool) {
	me := &log.MessageEvent{
		Code:       m.Code.String(),
		MessageID:  m.MessageID,
		Retransmit: retransmit,
	}
	if len(m.Token) > 0 {
		me.Token = message.Token(m.Token).String()
	}
	if p := coap.Path(m); p != "" {
		me.Path = p
	}
	if obs, ok := coap.Observe(m); ok {
		me.Observe = &obs
	}
	e.logEvent(log.Event{
		Direction:  dir,
		Layer:      log.LayerCoap,
		Category:   log.CategoryMessage,
		RemoteAddr: addr.String(),
		Message:    me,
	})
}

// nextMID rotates the outbound message id.
func (e *Engine) nextMID() uint16 {
	e.mid++
	return e.mid
}

// send marshals and transmits m without retransmission tracking.
func (e *Engine) send(to transport.Addr, m *coap.Message) {
	data, err := coap.Marshal(m)
	if err != nil {
		e.logger.Warn("encode failed", "error", err)
		return
	}
	e.logMessage(log.DirectionOut, to, m, false)
	if err := e.cfg.Transport.Send(to, data); err != nil {
		e.logger.Warn("send failed", "error", err)
	}
}

// responseHandler consumes the response to a confirmable exchange. err is
// non-nil on retransmission exhaustion or peer reset.
type responseHandler func(resp *coap.Message, err error)

// exchange tracks one outstanding confirmable message.
type exchange struct {
	mid      uint16
	token    message.Token
	to       transport.Addr
	data     []byte
	msg      *coap.Message
	attempts int
	timeout  time.Duration
	handler  responseHandler
	acked    bool
}

// sendConfirmable transmits m as CON and tracks it for retransmission.
// handler runs in the event loop when the response, a reset or exhaustion
// arrives.
func (e *Engine) sendConfirmable(to transport.Addr, m *coap.Message, handler responseHandler) {
	m.Type = coap.Confirmable
	m.MessageID = e.nextMID()
	data, err := coap.Marshal(m)
	if err != nil {
		handler(nil, err)
		return
	}
	ex := &exchange{
		mid:     m.MessageID,
		token:   m.Token,
		to:      to,
		data:    data,
		msg:     m,
		timeout: e.cfg.AckTimeout,
		handler: handler,
	}
	e.pending[ex.mid] = ex
	if len(ex.token) > 0 {
		e.byToken[message.Token(ex.token).String()] = ex
	}
	e.logMessage(log.DirectionOut, to, m, false)
	if err := e.cfg.Transport.Send(to, data); err != nil {
		e.logger.Warn("send failed", "error", err)
	}
	e.timers.Start(timer.KindRetransmit, ex.mid, ex.timeout, false)
}

// retransmit resends an exchange with exponential backoff, giving up after
// MaxRetransmit attempts.
func (e *Engine) retransmit(mid uint16) {
	ex, ok := e.pending[mid]
	if !ok || ex.acked {
		return
	}
	if ex.attempts >= e.cfg.MaxRetransmit {
		e.removeExchange(ex)
		ex.handler(nil, errRetransmitExhausted)
		return
	}
	ex.attempts++
	ex.timeout *= 2
	e.logMessage(log.DirectionOut, ex.to, ex.msg, true)
	if err := e.cfg.Transport.Send(ex.to, ex.data); err != nil {
		e.logger.Warn("retransmit send failed", "error", err)
	}
	e.timers.Start(timer.KindRetransmit, mid, ex.timeout, false)
}

func (e *Engine) removeExchange(ex *exchange) {
	delete(e.pending, ex.mid)
	if len(ex.token) > 0 {
		delete(e.byToken, message.Token(ex.token).String())
	}
	e.timers.Stop(timer.KindRetransmit, ex.mid)
}

// dropExchanges abandons every outstanding confirmable message.
func (e *Engine) dropExchanges() {
	for _, ex := range e.pending {
		e.timers.Stop(timer.KindRetransmit, ex.mid)
	}
	e.pending = make(map[uint16]*exchange)
	e.byToken = make(map[string]*exchange)
}

// errRetransmitExhausted marks a confirmable exchange that ran out of
// retransmissions.
var errRetransmitExhausted = errTimeout{}

type errTimeout struct{}

func (errTimeout) Error() string { return "network timeout: retransmission exhausted" }

// handleDatagram parses and routes one inbound datagram.
func (e *Engine) handleDatagram(from transport.Addr, data []byte) {
	e.logEvent(log.Event{
		Direction:  log.DirectionIn,
		Layer:      log.LayerTransport,
		Category:   log.CategoryMessage,
		RemoteAddr: from.String(),
		Datagram:   &log.DatagramEvent{Size: len(data)},
	})
	m, err := coap.Unmarshal(data)
	if err != nil {
		// Malformed datagrams are dropped without response.
		e.malformed++
		e.logger.Debug("dropping malformed datagram", "error", err, "from", from.String())
		return
	}
	e.logMessage(log.DirectionIn, from, m, false)

	switch {
	case m.Type == coap.Reset:
		e.handleReset(m)
	case m.Type == coap.Confirmable && m.Code == codes.Empty:
		// CoAP ping: answer with a reset.
		e.send(from, coap.ResetMessage(m.MessageID))
	case m.Type == coap.Acknowledgement && m.Code == codes.Empty:
		// Separate-response ACK: stop retransmitting, keep the exchange
		// alive for the response matched by token.
		if ex, ok := e.pending[m.MessageID]; ok {
			ex.acked = true
			e.timers.Stop(timer.KindRetransmit, ex.mid)
		}
	case coap.IsRequest(m.Code):
		e.handleRequest(from, m)
	default:
		e.handleResponse(from, m)
	}
}

func (e *Engine) handleReset(m *coap.Message) {
	if ex, ok := e.pending[m.MessageID]; ok {
		e.removeExchange(ex)
		ex.handler(nil, ErrExchangeReset)
	}
}

// handleResponse matches a response to its exchange: piggybacked by
// message id, separate responses by token.
func (e *Engine) handleResponse(from transport.Addr, m *coap.Message) {
	var ex *exchange
	if m.Type == coap.Acknowledgement {
		ex = e.pending[m.MessageID]
	}
	if ex == nil && len(m.Token) > 0 {
		ex = e.byToken[message.Token(m.Token).String()]
	}
	if ex == nil {
		// Unmatched separate response: acknowledge it so the server stops
		// retransmitting, then drop it.
		if m.Type == coap.Confirmable {
			e.send(from, coap.Ack(m.MessageID))
		}
		return
	}
	if m.Type == coap.Confirmable {
		e.send(from, coap.Ack(m.MessageID))
	}
	e.removeExchange(ex)
	ex.handler(m, nil)
}

// MalformedCount returns how many undecodable datagrams were dropped.
// Diagnostics only; reads from outside the loop are best-effort.
func (e *Engine) MalformedCount() uint64 { return e.malformed }
