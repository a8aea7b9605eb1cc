package nsdl

import (
	"fmt"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/coap"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/transport"
)

// bootstrapPath is the bootstrap request and finish path.
const bootstrapPath = "/bs"

// handleBootstrap runs the BOOTSTRAP transition: POST /bs?ep=<name> to the
// bootstrap server, then wait for the server to write the management
// security instance and post the finish.
func (e *Engine) handleBootstrap(security *model.Security) {
	if e.state != StateIdle {
		e.reject(KindInvalidState, fmt.Errorf("%w: bootstrap in %s", ErrInvalidState, e.state))
		return
	}
	if security == nil || !security.IsBootstrap() {
		e.reject(KindInvalidParameters, ErrNotBootstrap)
		return
	}
	addr, err := e.resolveServer(security)
	if err != nil {
		e.reject(KindInvalidParameters, err)
		return
	}
	if err := e.ensureManagementSecurity(); err != nil {
		e.reject(KindUnknown, err)
		return
	}

	e.bootstrap = security
	e.bsAddr = addr
	e.setState(StateBootstrapping)

	m := &coap.Message{Code: codes.POST, Token: coap.NewToken()}
	m.Options = coap.AppendPath(m.Options, message.URIPath, bootstrapPath)
	m.Options = coap.AppendQuery(m.Options, "ep="+e.cfg.Endpoint.Name)

	e.sendConfirmable(addr, m, func(resp *coap.Message, err error) {
		if err != nil {
			e.fail(transportErrorKind(err), err)
			return
		}
		if resp.Code != codes.Changed {
			e.fail(kindFromCode(resp.Code), fmt.Errorf("%w: bootstrap got %v", ErrResponseCode, resp.Code))
			return
		}
		// Provisioning continues server-initiated: WRITE to /0/1, then
		// the finish POST handled in handleBootstrapFinish.
	})
}

// ensureManagementSecurity guarantees the tree holds the Security object
// with a management instance (id 1) the bootstrap server can write.
func (e *Engine) ensureManagementSecurity() error {
	obj, ok := e.tree.Object(model.ObjectIDSecurity)
	if !ok {
		obj = model.NewSecurityObject()
		if err := e.tree.Add(obj); err != nil {
			return err
		}
	}
	if _, ok := obj.Instance(1); !ok {
		if _, err := model.NewSecurity(obj, model.ManagementServer); err != nil {
			return err
		}
	}
	return nil
}

// handleBootstrapFinish completes the bootstrap flow when the server posts
// /bs with an empty payload. Returns the response code for the inbound
// request.
func (e *Engine) handleBootstrapFinish(from transport.Addr) codes.Code {
	if e.state != StateBootstrapping {
		return codes.BadRequest
	}
	if !from.Equal(e.bsAddr) {
		return codes.Unauthorized
	}
	obj, ok := e.tree.Object(model.ObjectIDSecurity)
	if !ok {
		return codes.NotFound
	}
	inst, ok := obj.Instance(1)
	if !ok {
		return codes.NotFound
	}
	provisioned := model.SecurityFromInstance(inst)
	e.setState(StateBootstrapped)
	e.observer.BootstrapDone(provisioned)
	return codes.Changed
}
