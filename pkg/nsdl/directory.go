package nsdl

import (
	"sort"
	"strconv"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/corelink"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
)

// rootResourceType is the rt attribute advertised on the root link.
const rootResourceType = "oma.lwm2m"

// directory is the CoAP resource directory: the set of paths the engine
// has registered for its objects, and the link-format payload published to
// the server. Object 0 (Security) never appears in the published set.
type directory struct {
	paths map[model.Path]struct{}
	dirty bool
}

func newDirectory() *directory {
	return &directory{paths: make(map[model.Path]struct{})}
}

// rebuild walks every object, instance and resource and registers each
// path. Called by the engine when the object set is (re)announced.
func (d *directory) rebuild(objects []*model.Object) {
	d.paths = make(map[model.Path]struct{})
	for _, obj := range objects {
		d.paths[model.ObjectPath(obj.ID())] = struct{}{}
		for _, inst := range obj.Instances() {
			d.paths[model.InstancePath(obj.ID(), inst.ID())] = struct{}{}
			for _, r := range inst.Resources() {
				d.paths[model.ResourcePath(obj.ID(), inst.ID(), r.ID())] = struct{}{}
				if r.Multiple() {
					for _, ri := range r.Instances() {
						d.paths[model.ResourceInstancePath(obj.ID(), inst.ID(), r.ID(), ri.ID())] = struct{}{}
					}
				}
			}
		}
	}
	d.dirty = false
}

// contains reports whether path was registered.
func (d *directory) contains(p model.Path) bool {
	_, ok := d.paths[p]
	return ok
}

// remove unregisters a path and everything below it. The next
// registration update re-publishes the directory.
func (d *directory) remove(p model.Path) {
	for existing := range d.paths {
		if underneath(existing, p) {
			delete(d.paths, existing)
		}
	}
	d.dirty = true
}

// markDirty forces a payload refresh on the next registration update.
func (d *directory) markDirty() { d.dirty = true }

// underneath reports whether node is p or a descendant of p.
func underneath(node, p model.Path) bool {
	if node.Depth < p.Depth {
		return false
	}
	if node.Object != p.Object {
		return false
	}
	if p.Depth >= model.DepthInstance && node.Instance != p.Instance {
		return false
	}
	if p.Depth >= model.DepthResource && node.Resource != p.Resource {
		return false
	}
	if p.Depth >= model.DepthResourceInstance && node.ResourceInstance != p.ResourceInstance {
		return false
	}
	return true
}

// payload renders the published link-format document: the root link with
// the LWM2M resource type, each object instance, and each observable
// resource flagged obs. The Security object is excluded.
func payload(objects []*model.Object) string {
	links := []corelink.Link{
		corelink.NewLink("/").SetAttribute("rt", rootResourceType),
	}
	for _, obj := range objects {
		if obj.ID() == model.ObjectIDSecurity {
			continue
		}
		if obj.InstanceCount() == 0 {
			links = append(links, corelink.NewLink("/"+strconv.FormatUint(uint64(obj.ID()), 10)))
			continue
		}
		for _, inst := range obj.Instances() {
			links = append(links, corelink.NewLink(model.InstancePath(obj.ID(), inst.ID()).String()))
			for _, r := range inst.Resources() {
				if !r.Observable() {
					continue
				}
				links = append(links,
					corelink.NewLink(model.ResourcePath(obj.ID(), inst.ID(), r.ID()).String()).SetAttribute("obs", ""))
			}
		}
	}
	return corelink.Encode(links)
}

// registeredPaths returns the registered paths in stable order, for tests
// and diagnostics.
func (d *directory) registeredPaths() []model.Path {
	out := make([]model.Path, 0, len(d.paths))
	for p := range d.paths {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
