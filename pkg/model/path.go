package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NoID marks an absent instance id in a Path.
const NoID uint16 = 0xFFFF

// Path errors.
var (
	ErrInvalidPath = errors.New("invalid path")
)

// PathDepth indicates how many levels of a Path are populated.
type PathDepth uint8

const (
	// DepthObject addresses an object: /<oid>.
	DepthObject PathDepth = 1

	// DepthInstance addresses an object instance: /<oid>/<iid>.
	DepthInstance PathDepth = 2

	// DepthResource addresses a resource: /<oid>/<iid>/<rid>.
	DepthResource PathDepth = 3

	// DepthResourceInstance addresses a resource instance:
	// /<oid>/<iid>/<rid>/<riid>.
	DepthResourceInstance PathDepth = 4
)

// Path addresses a node in the object tree. Children never hold pointers to
// their parents; a Path is the canonical way to refer to any node.
type Path struct {
	Object           uint16
	Instance         uint16
	Resource         uint16
	ResourceInstance uint16
	Depth            PathDepth
}

// ObjectPath returns a path addressing an object.
func ObjectPath(oid uint16) Path {
	return Path{Object: oid, Instance: NoID, Resource: NoID, ResourceInstance: NoID, Depth: DepthObject}
}

// InstancePath returns a path addressing an object instance.
func InstancePath(oid, iid uint16) Path {
	return Path{Object: oid, Instance: iid, Resource: NoID, ResourceInstance: NoID, Depth: DepthInstance}
}

// ResourcePath returns a path addressing a resource.
func ResourcePath(oid, iid, rid uint16) Path {
	return Path{Object: oid, Instance: iid, Resource: rid, ResourceInstance: NoID, Depth: DepthResource}
}

// ResourceInstancePath returns a path addressing a resource instance.
func ResourceInstancePath(oid, iid, rid, riid uint16) Path {
	return Path{Object: oid, Instance: iid, Resource: rid, ResourceInstance: riid, Depth: DepthResourceInstance}
}

// ParsePath parses a URI path such as "/3/0/0" or "3/0/0" into a Path.
func ParsePath(s string) (Path, error) {
	s = strings.Trim(s, "/")
	if s == "" {
		return Path{}, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	parts := strings.Split(s, "/")
	if len(parts) > 4 {
		return Path{}, fmt.Errorf("%w: too many segments in %q", ErrInvalidPath, s)
	}
	ids := [4]uint16{NoID, NoID, NoID, NoID}
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 16)
		if err != nil {
			return Path{}, fmt.Errorf("%w: segment %q", ErrInvalidPath, part)
		}
		ids[i] = uint16(n)
	}
	return Path{
		Object:           ids[0],
		Instance:         ids[1],
		Resource:         ids[2],
		ResourceInstance: ids[3],
		Depth:            PathDepth(len(parts)),
	}, nil
}

// String renders the path in URI form, e.g. "/3/0/0".
func (p Path) String() string {
	var b strings.Builder
	ids := []uint16{p.Object, p.Instance, p.Resource, p.ResourceInstance}
	for i := PathDepth(0); i < p.Depth && i < 4; i++ {
		b.WriteByte('/')
		b.WriteString(strconv.FormatUint(uint64(ids[i]), 10))
	}
	return b.String()
}

// ObjectOnly reduces the path to its object level.
func (p Path) ObjectOnly() Path {
	return ObjectPath(p.Object)
}

// InstanceOnly reduces the path to its object-instance level.
func (p Path) InstanceOnly() Path {
	return InstancePath(p.Object, p.Instance)
}
