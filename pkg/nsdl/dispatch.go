package nsdl

import (
	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/coap"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/log"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/reporting"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/timer"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/tlv"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/transport"
)

// Observe option values (RFC 7641).
const (
	observeRegister   = 0
	observeDeregister = 1
)

// handleRequest dispatches one inbound CoAP request and answers it.
// Duplicates within the exchange lifetime are replayed from the cache.
func (e *Engine) handleRequest(from transport.Addr, m *coap.Message) {
	if e.replay(from, m.MessageID) {
		return
	}
	resp := e.dispatch(from, m)
	data, err := coap.Marshal(resp)
	if err != nil {
		e.logger.Warn("response encode failed", "error", err)
		return
	}
	e.logMessage(log.DirectionOut, from, resp, false)
	if err := e.cfg.Transport.Send(from, data); err != nil {
		e.logger.Warn("response send failed", "error", err)
	}
	e.remember(from, m.MessageID, data)
}

// dispatch resolves the request to a node and runs the method handler.
func (e *Engine) dispatch(from transport.Addr, m *coap.Message) *coap.Message {
	uriPath := coap.Path(m)

	// Bootstrap finish arrives as POST /bs with an empty payload.
	if uriPath == bootstrapPath && m.Code == codes.POST {
		return coap.Response(m, e.handleBootstrapFinish(from))
	}

	path, err := model.ParsePath(uriPath)
	if err != nil {
		return coap.Response(m, codes.NotFound)
	}

	// The Security object is only reachable while the bootstrap server is
	// provisioning it; it stays hidden from the management interface.
	if path.Object == model.ObjectIDSecurity && e.state != StateBootstrapping {
		return coap.Response(m, codes.MethodNotAllowed)
	}

	switch m.Code {
	case codes.GET:
		return e.doGet(m, path)
	case codes.PUT:
		return e.doPut(m, path)
	case codes.POST:
		return e.doPost(m, path)
	case codes.DELETE:
		return e.doDelete(m, path)
	default:
		return coap.Response(m, codes.MethodNotAllowed)
	}
}

// doGet serves READ and OBSERVE.
func (e *Engine) doGet(m *coap.Message, path model.Path) *coap.Message {
	payload, mediaType, value, code := e.readNode(m, path)
	if code != codes.Content {
		return coap.Response(m, code)
	}

	resp := coap.Response(m, codes.Content)

	if obsVal, ok := coap.Observe(m); ok {
		switch obsVal {
		case observeRegister:
			obs, code := e.startObservation(m, path, value)
			if code != codes.Content {
				return coap.Response(m, code)
			}
			coap.SetObserve(resp, obs.NextCounter())
			obs.MarkSent(value, e.now())
			e.armMaxPeriod(obs)
		case observeDeregister:
			e.obs.Remove(path, m.Token)
		default:
			return coap.Response(m, codes.BadOption)
		}
	}
	// GET without Observe leaves any existing observation untouched:
	// observation is token-scoped, not request-scoped.

	coap.SetContentFormat(resp, mediaType)
	resp.Payload = payload
	return resp
}

// readNode serializes the node at path. value is the snapshot used for
// observation bookkeeping (nil for object/instance reads).
func (e *Engine) readNode(m *coap.Message, path model.Path) ([]byte, message.MediaType, any, codes.Code) {
	switch path.Depth {
	case model.DepthObject:
		obj, ok := e.tree.Object(path.Object)
		if !ok {
			return nil, 0, nil, codes.NotFound
		}
		data, err := marshalObject(obj)
		if err != nil {
			return nil, 0, nil, codes.InternalServerError
		}
		return data, coap.MediaTypeTLV, nil, codes.Content

	case model.DepthInstance:
		inst, err := e.tree.ResolveInstance(path)
		if err != nil {
			return nil, 0, nil, codes.NotFound
		}
		data, merr := marshalInstance(inst)
		if merr != nil {
			return nil, 0, nil, codes.InternalServerError
		}
		return data, coap.MediaTypeTLV, nil, codes.Content

	case model.DepthResource:
		r, err := e.tree.ResolveResource(path)
		if err != nil {
			return nil, 0, nil, codes.NotFound
		}
		if !r.Operations().AllowsRead() {
			return nil, 0, nil, codes.MethodNotAllowed
		}
		if r.Multiple() {
			data, merr := marshalResource(r)
			if merr != nil {
				return nil, 0, nil, codes.InternalServerError
			}
			return data, coap.MediaTypeTLV, nil, codes.Content
		}
		if accept, ok := coap.Accept(m); ok && accept == coap.MediaTypeTLV {
			data, merr := marshalResource(r)
			if merr != nil {
				return nil, 0, nil, codes.InternalServerError
			}
			return data, coap.MediaTypeTLV, r.Value(), codes.Content
		}
		v := r.Value()
		if r.Type() == model.TypeOpaque {
			return encodeValueText(r.Type(), v), message.AppOctets, v, codes.Content
		}
		return encodeValueText(r.Type(), v), message.TextPlain, v, codes.Content

	case model.DepthResourceInstance:
		r, err := e.tree.ResolveResource(path)
		if err != nil {
			return nil, 0, nil, codes.NotFound
		}
		if !r.Operations().AllowsRead() {
			return nil, 0, nil, codes.MethodNotAllowed
		}
		ri, ok := r.Instance(path.ResourceInstance)
		if !ok {
			return nil, 0, nil, codes.NotFound
		}
		v := ri.Value()
		if r.Type() == model.TypeOpaque {
			return encodeValueText(r.Type(), v), message.AppOctets, v, codes.Content
		}
		return encodeValueText(r.Type(), v), message.TextPlain, v, codes.Content
	}
	return nil, 0, nil, codes.NotFound
}

// startObservation allocates observation state for (path, token).
func (e *Engine) startObservation(m *coap.Message, path model.Path, value any) (*reporting.Observation, codes.Code) {
	if path.Depth >= model.DepthResource {
		r, err := e.tree.ResolveResource(path)
		if err != nil {
			return nil, codes.NotFound
		}
		if !r.Observable() {
			return nil, codes.MethodNotAllowed
		}
	}
	attrs, err := reporting.ParseAttributes(coap.Queries(m))
	if err != nil {
		return nil, codes.BadRequest
	}
	obs, err := reporting.NewObservation(path, m.Token, attrs)
	if err != nil {
		return nil, codes.BadRequest
	}
	e.obs.Put(obs)
	return obs, codes.Content
}

// doPut serves WRITE on a resource or resource instance, and TLV WRITE on
// an object instance (used by the bootstrap server to provision
// credentials).
func (e *Engine) doPut(m *coap.Message, path model.Path) *coap.Message {
	switch path.Depth {
	case model.DepthInstance:
		inst, err := e.tree.ResolveInstance(path)
		if err != nil {
			return coap.Response(m, codes.NotFound)
		}
		recs, err := tlv.Unmarshal(m.Payload)
		if err != nil {
			return coap.Response(m, codes.BadRequest)
		}
		// An instance write may arrive wrapped in an object-instance
		// record or as a bare resource list.
		if len(recs) == 1 && recs[0].Type == tlv.TypeObjectInstance {
			recs = recs[0].Children
		}
		written, err := applyRecordsToInstance(inst, recs)
		if err != nil {
			return coap.Response(m, codes.BadRequest)
		}
		for _, rid := range written {
			e.afterValueChange(model.ResourcePath(path.Object, path.Instance, rid))
		}
		return coap.Response(m, codes.Changed)

	case model.DepthResource:
		r, err := e.tree.ResolveResource(path)
		if err != nil {
			return coap.Response(m, codes.NotFound)
		}
		if !r.Operations().AllowsWrite() {
			return coap.Response(m, codes.MethodNotAllowed)
		}
		if cf, ok := coap.ContentFormat(m); ok && cf == coap.MediaTypeTLV {
			recs, err := tlv.Unmarshal(m.Payload)
			if err != nil || len(recs) != 1 || recs[0].ID != r.ID() {
				return coap.Response(m, codes.BadRequest)
			}
			if err := applyRecordToResource(r, recs[0]); err != nil {
				return coap.Response(m, codes.BadRequest)
			}
		} else {
			if r.Multiple() {
				return coap.Response(m, codes.BadRequest)
			}
			v, err := decodeValueText(r.Type(), m.Payload)
			if err != nil {
				return coap.Response(m, codes.BadRequest)
			}
			if err := r.SetValue(v); err != nil {
				return coap.Response(m, codes.BadRequest)
			}
		}
		e.afterValueChange(path)
		return coap.Response(m, codes.Changed)

	case model.DepthResourceInstance:
		r, err := e.tree.ResolveResource(path)
		if err != nil {
			return coap.Response(m, codes.NotFound)
		}
		if !r.Operations().AllowsWrite() {
			return coap.Response(m, codes.MethodNotAllowed)
		}
		ri, ok := r.Instance(path.ResourceInstance)
		if !ok {
			return coap.Response(m, codes.NotFound)
		}
		v, err := decodeValueText(r.Type(), m.Payload)
		if err != nil {
			return coap.Response(m, codes.BadRequest)
		}
		ri.SetValue(v)
		e.afterValueChange(path)
		return coap.Response(m, codes.Changed)

	default:
		return coap.Response(m, codes.MethodNotAllowed)
	}
}

// doPost serves CREATE on an object and EXECUTE on a resource.
func (e *Engine) doPost(m *coap.Message, path model.Path) *coap.Message {
	switch path.Depth {
	case model.DepthObject:
		return e.createInstance(m, path)

	case model.DepthResource:
		r, err := e.tree.ResolveResource(path)
		if err != nil {
			return coap.Response(m, codes.NotFound)
		}
		if !r.Operations().AllowsExecute() {
			return coap.Response(m, codes.MethodNotAllowed)
		}
		if err := r.Execute(m.Payload); err != nil {
			return coap.Response(m, codes.MethodNotAllowed)
		}
		return coap.Response(m, codes.Changed)

	default:
		return coap.Response(m, codes.MethodNotAllowed)
	}
}

// createInstance handles object-level POST: a new instance shaped after
// the object's lowest-id instance, populated from the TLV payload.
func (e *Engine) createInstance(m *coap.Message, path model.Path) *coap.Message {
	obj, ok := e.tree.Object(path.Object)
	if !ok {
		return coap.Response(m, codes.NotFound)
	}

	var recs []tlv.Record
	if len(m.Payload) > 0 {
		var err error
		recs, err = tlv.Unmarshal(m.Payload)
		if err != nil {
			return coap.Response(m, codes.BadRequest)
		}
	}

	id := obj.NextInstanceID()
	resourceRecs := recs
	if len(recs) == 1 && recs[0].Type == tlv.TypeObjectInstance {
		id = recs[0].ID
		resourceRecs = recs[0].Children
	}

	if _, ok := obj.Instance(id); ok {
		return coap.Response(m, coap.CodeConflict)
	}

	inst, err := obj.CreateInstance(id)
	if err != nil {
		return coap.Response(m, coap.CodeConflict)
	}

	// Clone resource metadata from the template instance when one exists.
	if tmpl := templateInstance(obj, id); tmpl != nil {
		for _, r := range tmpl.Resources() {
			if _, err := inst.AddResource(r.Metadata()); err != nil {
				break
			}
		}
	}
	if _, err := applyRecordsToInstance(inst, resourceRecs); err != nil {
		_ = obj.RemoveInstance(id)
		return coap.Response(m, codes.BadRequest)
	}

	e.dir.markDirty()

	resp := coap.Response(m, codes.Created)
	resp.Options = coap.AppendPath(resp.Options, message.LocationPath, model.InstancePath(path.Object, id).String())
	return resp
}

// templateInstance picks the lowest-id instance other than created.
func templateInstance(obj *model.Object, created uint16) *model.ObjectInstance {
	for _, inst := range obj.Instances() {
		if inst.ID() != created {
			return inst
		}
	}
	return nil
}

// doDelete serves DELETE on an object instance. Instances of the reserved
// objects are not deletable.
func (e *Engine) doDelete(m *coap.Message, path model.Path) *coap.Message {
	if path.Depth != model.DepthInstance {
		return coap.Response(m, codes.MethodNotAllowed)
	}
	if model.IsReservedObjectID(path.Object) {
		return coap.Response(m, codes.MethodNotAllowed)
	}
	obj, ok := e.tree.Object(path.Object)
	if !ok {
		return coap.Response(m, codes.NotFound)
	}
	if err := obj.RemoveInstance(path.Instance); err != nil {
		return coap.Response(m, codes.NotFound)
	}

	// Drop observations on the deleted subtree and unpublish its paths.
	for _, obs := range e.obs.All() {
		if underneath(obs.Path(), path) {
			e.obs.RemovePath(obs.Path())
			e.timers.Stop(timer.KindMinPeriod, obs.Path())
			e.timers.Stop(timer.KindMaxPeriod, obs.Path())
		}
	}
	e.dir.remove(path)

	return coap.Response(m, codes.Deleted)
}
