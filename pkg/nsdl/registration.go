package nsdl

import (
	"fmt"
	"strconv"
	"time"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/coap"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/timer"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/transport"
)

// reject surfaces a precondition violation without touching the state
// machine or the wire.
func (e *Engine) reject(kind ErrorKind, err error) {
	e.logEvent(logErrorEvent(err, kind))
	e.observer.Error(kind, err)
}

// handleRegister runs the REGISTER transition: publish the object set and
// POST the registration to the server named by security.
func (e *Engine) handleRegister(security *model.Security, objects []*model.Object) {
	if e.state != StateIdle && e.state != StateBootstrapped {
		e.reject(KindInvalidState, fmt.Errorf("%w: register in %s", ErrInvalidState, e.state))
		return
	}
	if security == nil || security.IsBootstrap() {
		e.reject(KindInvalidParameters, ErrIsBootstrap)
		return
	}
	addr, err := e.resolveServer(security)
	if err != nil {
		e.reject(KindInvalidParameters, err)
		return
	}

	for _, obj := range objects {
		if _, ok := e.tree.Object(obj.ID()); !ok {
			if err := e.tree.Add(obj); err != nil {
				e.reject(KindAlreadyExists, err)
				return
			}
		}
	}
	e.dir.rebuild(e.tree.Objects())

	e.security = security
	e.srvAddr = addr
	e.lifetime = e.cfg.Endpoint.Lifetime
	e.setState(StateRegistering)

	m := &coap.Message{Code: codes.POST, Token: coap.NewToken()}
	m.Options = coap.AppendPath(m.Options, message.URIPath, "/rd")
	m.Options = coap.AppendQuery(m.Options, "ep="+e.cfg.Endpoint.Name)
	m.Options = coap.AppendQuery(m.Options, "lt="+strconv.FormatInt(e.lifetime, 10))
	m.Options = coap.AppendQuery(m.Options, "b="+e.cfg.Endpoint.Binding.QueryValue())
	if e.cfg.Endpoint.Type != "" {
		m.Options = coap.AppendQuery(m.Options, "et="+e.cfg.Endpoint.Type)
	}
	if e.cfg.Endpoint.Domain != "" {
		m.Options = coap.AppendQuery(m.Options, "d="+e.cfg.Endpoint.Domain)
	}
	coap.SetContentFormat(m, message.AppLinkFormat)
	m.Payload = []byte(payload(e.tree.Objects()))

	e.sendConfirmable(addr, m, func(resp *coap.Message, err error) {
		if err != nil {
			e.fail(transportErrorKind(err), err)
			return
		}
		if resp.Code != codes.Created {
			e.fail(kindFromCode(resp.Code), fmt.Errorf("%w: register got %v", ErrResponseCode, resp.Code))
			return
		}
		handle := coap.LocationPath(resp)
		if handle == "" {
			e.fail(KindInvalidParameters, fmt.Errorf("%w: 2.01 without Location-Path", ErrResponseCode))
			return
		}
		e.regHandle = handle
		e.setState(StateRegistered)
		e.armLifetimeTimer()
		e.observer.ObjectRegistered()
	})
}

// handleUpdate runs the UPDATE transition. lifetime 0 keeps the current
// lifetime.
func (e *Engine) handleUpdate(lifetime int64) {
	if e.state != StateRegistered {
		e.reject(KindInvalidState, fmt.Errorf("%w: update in %s", ErrInvalidState, e.state))
		return
	}
	if lifetime > 0 {
		e.lifetime = lifetime
	}
	e.setState(StateUpdating)
	e.timers.Stop(timer.KindRegistration, nil)

	m := &coap.Message{Code: codes.POST, Token: coap.NewToken()}
	m.Options = coap.AppendPath(m.Options, message.URIPath, e.regHandle)
	m.Options = coap.AppendQuery(m.Options, "lt="+strconv.FormatInt(e.lifetime, 10))
	m.Options = coap.AppendQuery(m.Options, "b="+e.cfg.Endpoint.Binding.QueryValue())
	if e.dir.dirty {
		e.dir.rebuild(e.tree.Objects())
		coap.SetContentFormat(m, message.AppLinkFormat)
		m.Payload = []byte(payload(e.tree.Objects()))
	}

	e.sendConfirmable(e.srvAddr, m, func(resp *coap.Message, err error) {
		if err != nil {
			e.fail(transportErrorKind(err), err)
			return
		}
		if resp.Code != codes.Changed {
			e.fail(kindFromCode(resp.Code), fmt.Errorf("%w: update got %v", ErrResponseCode, resp.Code))
			return
		}
		e.setState(StateRegistered)
		e.armLifetimeTimer()
		e.observer.RegistrationUpdated()
	})
}

// handleUnregister runs the UNREGISTER transition. A pending update is
// superseded: its retransmissions stop and the DELETE goes out.
func (e *Engine) handleUnregister() {
	if e.state != StateRegistered && e.state != StateUpdating {
		e.reject(KindInvalidState, fmt.Errorf("%w: unregister in %s", ErrInvalidState, e.state))
		return
	}
	e.dropExchanges()
	e.timers.Stop(timer.KindRegistration, nil)
	e.setState(StateUnregistering)

	m := &coap.Message{Code: codes.DELETE, Token: coap.NewToken()}
	m.Options = coap.AppendPath(m.Options, message.URIPath, e.regHandle)

	e.sendConfirmable(e.srvAddr, m, func(resp *coap.Message, err error) {
		if err != nil {
			e.fail(transportErrorKind(err), err)
			return
		}
		if resp.Code != codes.Deleted {
			e.fail(kindFromCode(resp.Code), fmt.Errorf("%w: deregister got %v", ErrResponseCode, resp.Code))
			return
		}
		e.stopProtocolTimers()
		e.obs.Clear()
		e.regHandle = ""
		e.setState(StateIdle)
		e.observer.ObjectUnregistered()
	})
}

// autoRefresh fires from the registration timer at 75% of the lifetime.
func (e *Engine) autoRefresh() {
	if e.state != StateRegistered {
		return
	}
	e.handleUpdate(0)
}

// armLifetimeTimer schedules the automatic refresh. Armed iff REGISTERED.
func (e *Engine) armLifetimeTimer() {
	d := time.Duration(float64(e.lifetime)*lifetimeRefreshFraction) * time.Second
	e.timers.Start(timer.KindRegistration, nil, d, false)
}

// resolveServer parses and resolves the server URI of a security instance.
func (e *Engine) resolveServer(security *model.Security) (transport.Addr, error) {
	parsed, err := model.ParseServerURI(security.ServerURI())
	if err != nil {
		return transport.Addr{}, err
	}
	return transport.ResolveAddr(parsed.Host, parsed.Port)
}

// transportErrorKind classifies an exchange failure.
func transportErrorKind(err error) ErrorKind {
	if _, ok := err.(errTimeout); ok {
		return KindTimeout
	}
	if err == ErrExchangeReset {
		return KindNetworkError
	}
	return KindNetworkError
}
