package model

import (
	"fmt"
	"sort"
	"sync"
)

// Reserved object ids defined by OMA. Application objects must use ids
// outside the reserved range.
const (
	ObjectIDSecurity uint16 = 0
	ObjectIDServer   uint16 = 1
	ObjectIDDevice   uint16 = 3
)

// reservedObjectIDs are the OMA-defined ids closed to application objects.
var reservedObjectIDs = map[uint16]struct{}{
	0: {}, 1: {}, 2: {}, 3: {}, 4: {}, 5: {}, 6: {}, 7: {},
}

// IsReservedObjectID reports whether id belongs to the OMA-reserved set.
func IsReservedObjectID(id uint16) bool {
	_, ok := reservedObjectIDs[id]
	return ok
}

// Object is the root of one branch of the tree: a numeric object id, a
// name, and instances keyed by instance id.
type Object struct {
	mu sync.RWMutex

	id        uint16
	name      string
	instances map[uint16]*ObjectInstance
}

// ObjectInstance owns resources keyed by resource id.
type ObjectInstance struct {
	mu sync.RWMutex

	id        uint16
	resources map[uint16]*Resource
}

// NewObject creates an empty object.
func NewObject(id uint16, name string) *Object {
	return &Object{
		id:        id,
		name:      name,
		instances: make(map[uint16]*ObjectInstance),
	}
}

// ID returns the object id.
func (o *Object) ID() uint16 { return o.id }

// Name returns the object name.
func (o *Object) Name() string { return o.name }

// CreateInstance adds an instance with the given id.
func (o *Object) CreateInstance(id uint16) (*ObjectInstance, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.instances[id]; ok {
		return nil, fmt.Errorf("object %d instance %d: %w", o.id, id, ErrAlreadyExists)
	}
	inst := &ObjectInstance{id: id, resources: make(map[uint16]*Resource)}
	o.instances[id] = inst
	return inst, nil
}

// NextInstanceID returns the lowest unused instance id.
func (o *Object) NextInstanceID() uint16 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var id uint16
	for {
		if _, ok := o.instances[id]; !ok {
			return id
		}
		id++
	}
}

// Instance returns the instance with the given id.
func (o *Object) Instance(id uint16) (*ObjectInstance, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	inst, ok := o.instances[id]
	return inst, ok
}

// RemoveInstance deletes an instance and all of its resources.
func (o *Object) RemoveInstance(id uint16) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.instances[id]; !ok {
		return fmt.Errorf("object %d instance %d: %w", o.id, id, ErrNotFound)
	}
	delete(o.instances, id)
	return nil
}

// Instances returns the object instances in ascending id order.
func (o *Object) Instances() []*ObjectInstance {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*ObjectInstance, 0, len(o.instances))
	for _, inst := range o.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// InstanceCount returns the number of instances.
func (o *Object) InstanceCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.instances)
}

// ID returns the instance id.
func (i *ObjectInstance) ID() uint16 { return i.id }

// AddResource attaches a resource built from meta.
func (i *ObjectInstance) AddResource(meta ResourceMetadata) (*Resource, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.resources[meta.ID]; ok {
		return nil, fmt.Errorf("resource %d: %w", meta.ID, ErrAlreadyExists)
	}
	r := NewResource(meta)
	i.resources[meta.ID] = r
	return r, nil
}

// Resource returns the resource with the given id.
func (i *ObjectInstance) Resource(id uint16) (*Resource, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	r, ok := i.resources[id]
	return r, ok
}

// RemoveResource deletes a resource.
func (i *ObjectInstance) RemoveResource(id uint16) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.resources[id]; !ok {
		return fmt.Errorf("resource %d: %w", id, ErrNotFound)
	}
	delete(i.resources, id)
	return nil
}

// Resources returns the resources in ascending id order.
func (i *ObjectInstance) Resources() []*Resource {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]*Resource, 0, len(i.resources))
	for _, r := range i.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].meta.ID < out[b].meta.ID })
	return out
}

// Tree is the set of objects registered with the engine, keyed by object id.
type Tree struct {
	mu      sync.RWMutex
	objects map[uint16]*Object
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{objects: make(map[uint16]*Object)}
}

// Add registers an object. Ids must be unique.
func (t *Tree) Add(obj *Object) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.objects[obj.id]; ok {
		return fmt.Errorf("object %d: %w", obj.id, ErrAlreadyExists)
	}
	t.objects[obj.id] = obj
	return nil
}

// Object returns the object with the given id.
func (t *Tree) Object(id uint16) (*Object, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	obj, ok := t.objects[id]
	return obj, ok
}

// Remove deletes an object and all of its descendants.
func (t *Tree) Remove(id uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.objects[id]; !ok {
		return fmt.Errorf("object %d: %w", id, ErrNotFound)
	}
	delete(t.objects, id)
	return nil
}

// Objects returns the registered objects in ascending id order.
func (t *Tree) Objects() []*Object {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Object, 0, len(t.objects))
	for _, obj := range t.objects {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// ResolveResource walks the tree to the resource addressed by p.
func (t *Tree) ResolveResource(p Path) (*Resource, error) {
	if p.Depth < DepthResource {
		return nil, fmt.Errorf("%s: %w", p, ErrInvalidPath)
	}
	obj, ok := t.Object(p.Object)
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	inst, ok := obj.Instance(p.Instance)
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	r, ok := inst.Resource(p.Resource)
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	return r, nil
}

// ResolveInstance walks the tree to the object instance addressed by p.
func (t *Tree) ResolveInstance(p Path) (*ObjectInstance, error) {
	if p.Depth < DepthInstance {
		return nil, fmt.Errorf("%s: %w", p, ErrInvalidPath)
	}
	obj, ok := t.Object(p.Object)
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	inst, ok := obj.Instance(p.Instance)
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	return inst, nil
}
