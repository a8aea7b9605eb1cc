package nsdl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/tlv"
)

// encodeValueTLV renders a resource value into TLV value bytes.
func encodeValueTLV(t model.ValueType, v any) []byte {
	switch t {
	case model.TypeString:
		s, _ := v.(string)
		return []byte(s)
	case model.TypeInteger, model.TypeTime:
		n, _ := v.(int64)
		return tlv.EncodeInteger(n)
	case model.TypeFloat:
		f, _ := v.(float64)
		return tlv.EncodeFloat(f)
	case model.TypeBoolean:
		b, _ := v.(bool)
		return tlv.EncodeBoolean(b)
	case model.TypeOpaque:
		b, _ := v.([]byte)
		return b
	case model.TypeObjlink:
		l, _ := v.(model.ObjectLink)
		return tlv.EncodeObjectLink(l.ObjectID, l.InstanceID)
	default:
		return nil
	}
}

// decodeValueTLV parses TLV value bytes into the Go value for t.
func decodeValueTLV(t model.ValueType, data []byte) (any, error) {
	switch t {
	case model.TypeString:
		return string(data), nil
	case model.TypeInteger, model.TypeTime:
		return tlv.DecodeInteger(data)
	case model.TypeFloat:
		return tlv.DecodeFloat(data)
	case model.TypeBoolean:
		return tlv.DecodeBoolean(data)
	case model.TypeOpaque:
		return append([]byte(nil), data...), nil
	case model.TypeObjlink:
		oid, iid, err := tlv.DecodeObjectLink(data)
		if err != nil {
			return nil, err
		}
		return model.ObjectLink{ObjectID: oid, InstanceID: iid}, nil
	default:
		return nil, fmt.Errorf("%w: unknown value type", tlv.ErrMalformed)
	}
}

// encodeValueText renders a resource value as plain text.
func encodeValueText(t model.ValueType, v any) []byte {
	switch t {
	case model.TypeString:
		s, _ := v.(string)
		return []byte(s)
	case model.TypeInteger, model.TypeTime:
		n, _ := v.(int64)
		return []byte(strconv.FormatInt(n, 10))
	case model.TypeFloat:
		f, _ := v.(float64)
		return []byte(strconv.FormatFloat(f, 'g', -1, 64))
	case model.TypeBoolean:
		b, _ := v.(bool)
		if b {
			return []byte("1")
		}
		return []byte("0")
	case model.TypeOpaque:
		b, _ := v.([]byte)
		return b
	case model.TypeObjlink:
		l, _ := v.(model.ObjectLink)
		return []byte(l.String())
	default:
		return nil
	}
}

// decodeValueText parses plain-text payload into the Go value for t.
func decodeValueText(t model.ValueType, data []byte) (any, error) {
	s := string(data)
	switch t {
	case model.TypeString:
		return s, nil
	case model.TypeInteger, model.TypeTime:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("plain text integer %q: %w", s, err)
		}
		return n, nil
	case model.TypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("plain text float %q: %w", s, err)
		}
		return f, nil
	case model.TypeBoolean:
		switch strings.TrimSpace(s) {
		case "0":
			return false, nil
		case "1":
			return true, nil
		default:
			return nil, fmt.Errorf("plain text boolean %q", s)
		}
	case model.TypeOpaque:
		return append([]byte(nil), data...), nil
	case model.TypeObjlink:
		oidStr, iidStr, found := strings.Cut(strings.TrimSpace(s), ":")
		if !found {
			return nil, fmt.Errorf("plain text objlink %q", s)
		}
		oid, err := strconv.ParseUint(oidStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("plain text objlink %q: %w", s, err)
		}
		iid, err := strconv.ParseUint(iidStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("plain text objlink %q: %w", s, err)
		}
		return model.ObjectLink{ObjectID: uint16(oid), InstanceID: uint16(iid)}, nil
	default:
		return nil, fmt.Errorf("unknown value type %d", t)
	}
}

// resourceRecord renders one resource as a TLV record: a value record for
// single-valued resources, a multiple-resource container otherwise.
func resourceRecord(r *model.Resource) tlv.Record {
	if !r.Multiple() {
		return tlv.Record{
			Type:  tlv.TypeResource,
			ID:    r.ID(),
			Value: encodeValueTLV(r.Type(), r.Value()),
		}
	}
	rec := tlv.Record{Type: tlv.TypeMultipleResource, ID: r.ID()}
	for _, ri := range r.Instances() {
		rec.Children = append(rec.Children, tlv.Record{
			Type:  tlv.TypeResourceInstance,
			ID:    ri.ID(),
			Value: encodeValueTLV(r.Type(), ri.Value()),
		})
	}
	return rec
}

// instanceRecords renders the readable resources of an instance.
func instanceRecords(inst *model.ObjectInstance) []tlv.Record {
	var recs []tlv.Record
	for _, r := range inst.Resources() {
		if !r.Operations().AllowsRead() {
			continue
		}
		recs = append(recs, resourceRecord(r))
	}
	return recs
}

// marshalInstance serializes one object instance as a bare resource list.
func marshalInstance(inst *model.ObjectInstance) ([]byte, error) {
	return tlv.Marshal(instanceRecords(inst))
}

// marshalObject serializes a whole object as nested instance records.
func marshalObject(obj *model.Object) ([]byte, error) {
	var recs []tlv.Record
	for _, inst := range obj.Instances() {
		recs = append(recs, tlv.Record{
			Type:     tlv.TypeObjectInstance,
			ID:       inst.ID(),
			Children: instanceRecords(inst),
		})
	}
	return tlv.Marshal(recs)
}

// marshalResource serializes one resource as TLV.
func marshalResource(r *model.Resource) ([]byte, error) {
	return tlv.Marshal([]tlv.Record{resourceRecord(r)})
}

// applyRecordToResource writes one TLV record into a resource.
func applyRecordToResource(r *model.Resource, rec tlv.Record) error {
	switch rec.Type {
	case tlv.TypeResource:
		v, err := decodeValueTLV(r.Type(), rec.Value)
		if err != nil {
			return err
		}
		return r.SetValue(v)
	case tlv.TypeMultipleResource:
		for _, child := range rec.Children {
			v, err := decodeValueTLV(r.Type(), child.Value)
			if err != nil {
				return err
			}
			if ri, ok := r.Instance(child.ID); ok {
				ri.SetValue(v)
				continue
			}
			if _, err := r.AddInstance(child.ID, v); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: record %s for resource %d", tlv.ErrMalformed, rec.Type, r.ID())
	}
}

// applyRecordsToInstance writes TLV resource records into an instance,
// skipping resources the instance does not define.
func applyRecordsToInstance(inst *model.ObjectInstance, recs []tlv.Record) ([]uint16, error) {
	var written []uint16
	for _, rec := range recs {
		r, ok := inst.Resource(rec.ID)
		if !ok {
			continue
		}
		if err := applyRecordToResource(r, rec); err != nil {
			return written, err
		}
		written = append(written, rec.ID)
	}
	return written, nil
}
