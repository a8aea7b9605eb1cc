package nsdl

import (
	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/coap"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/reporting"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/timer"
)

// handleValueChanged reacts to an application-side setter.
func (e *Engine) handleValueChanged(path model.Path) {
	e.afterValueChange(path)
}

// afterValueChange fires the observer callback and re-evaluates every
// observation covering path. Runs for server writes and application
// setters alike.
func (e *Engine) afterValueChange(path model.Path) {
	e.observer.ValueUpdated(path)
	now := e.now()
	for _, obs := range e.obs.Covering(path) {
		value := e.observedValue(obs.Path())
		switch obs.Evaluate(value, true, now) {
		case reporting.Send:
			e.sendNotification(obs)
		case reporting.Defer:
			remaining := obs.Attributes().MinPeriod - now.Sub(obs.LastSent())
			if remaining <= 0 {
				e.sendNotification(obs)
				continue
			}
			e.timers.Start(timer.KindMinPeriod, obs.Path(), remaining, false)
		case reporting.Skip:
		}
	}
}

// minPeriodElapsed flushes a change deferred by pmin.
func (e *Engine) minPeriodElapsed(path model.Path) {
	obs, ok := e.obs.Get(path)
	if !ok || !obs.Active() || !obs.Pending() {
		return
	}
	e.sendNotification(obs)
}

// maxPeriodElapsed forces a notification after pmax of silence.
func (e *Engine) maxPeriodElapsed(path model.Path) {
	obs, ok := e.obs.Get(path)
	if !ok || !obs.Active() {
		return
	}
	e.sendNotification(obs)
}

// armMaxPeriod schedules the pmax heartbeat when configured.
func (e *Engine) armMaxPeriod(obs *reporting.Observation) {
	if max := obs.Attributes().MaxPeriod; max > 0 {
		e.timers.Start(timer.KindMaxPeriod, obs.Path(), max, false)
	}
}

// observedValue snapshots the current value of an observed node; nil for
// container nodes.
func (e *Engine) observedValue(path model.Path) any {
	switch path.Depth {
	case model.DepthResource:
		r, err := e.tree.ResolveResource(path)
		if err != nil || r.Multiple() {
			return nil
		}
		return r.Value()
	case model.DepthResourceInstance:
		r, err := e.tree.ResolveResource(path)
		if err != nil {
			return nil
		}
		if ri, ok := r.Instance(path.ResourceInstance); ok {
			return ri.Value()
		}
	}
	return nil
}

// notificationPayload serializes the observed node for a notification.
func (e *Engine) notificationPayload(path model.Path) ([]byte, message.MediaType, error) {
	switch path.Depth {
	case model.DepthObject:
		obj, ok := e.tree.Object(path.Object)
		if !ok {
			return nil, 0, model.ErrNotFound
		}
		data, err := marshalObject(obj)
		return data, coap.MediaTypeTLV, err
	case model.DepthInstance:
		inst, err := e.tree.ResolveInstance(path)
		if err != nil {
			return nil, 0, err
		}
		data, merr := marshalInstance(inst)
		return data, coap.MediaTypeTLV, merr
	case model.DepthResource:
		r, err := e.tree.ResolveResource(path)
		if err != nil {
			return nil, 0, err
		}
		if r.Multiple() {
			data, merr := marshalResource(r)
			return data, coap.MediaTypeTLV, merr
		}
		if r.Type() == model.TypeOpaque {
			return encodeValueText(r.Type(), r.Value()), message.AppOctets, nil
		}
		return encodeValueText(r.Type(), r.Value()), message.TextPlain, nil
	case model.DepthResourceInstance:
		r, err := e.tree.ResolveResource(path)
		if err != nil {
			return nil, 0, err
		}
		ri, ok := r.Instance(path.ResourceInstance)
		if !ok {
			return nil, 0, model.ErrNotFound
		}
		if r.Type() == model.TypeOpaque {
			return encodeValueText(r.Type(), ri.Value()), message.AppOctets, nil
		}
		return encodeValueText(r.Type(), ri.Value()), message.TextPlain, nil
	}
	return nil, 0, model.ErrInvalidPath
}

// sendNotification emits one 2.05 notification for obs with the next
// Observe counter. Notifications are non-confirmable.
func (e *Engine) sendNotification(obs *reporting.Observation) {
	payload, mediaType, err := e.notificationPayload(obs.Path())
	if err != nil {
		e.logger.Warn("notification payload failed", "path", obs.Path().String(), "error", err)
		return
	}

	m := &coap.Message{
		Type:      coap.NonConfirmable,
		Code:      codes.Content,
		MessageID: e.nextMID(),
		Token:     message.Token(obs.Token()),
	}
	coap.SetObserve(m, obs.NextCounter())
	coap.SetContentFormat(m, mediaType)
	m.Payload = payload

	e.send(e.srvAddr, m)
	e.timers.Stop(timer.KindMinPeriod, obs.Path())
	obs.MarkSent(e.observedValue(obs.Path()), e.now())
	e.armMaxPeriod(obs)
}
