package model

import (
	"errors"
	"testing"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  Path
		isErr bool
	}{
		{name: "object", in: "/3", want: ObjectPath(3)},
		{name: "instance", in: "/3/0", want: InstancePath(3, 0)},
		{name: "resource", in: "/3/0/0", want: ResourcePath(3, 0, 0)},
		{name: "resource instance", in: "/42/0/1/2", want: ResourceInstancePath(42, 0, 1, 2)},
		{name: "no leading slash", in: "3/0/0", want: ResourcePath(3, 0, 0)},
		{name: "empty", in: "", isErr: true},
		{name: "too deep", in: "/1/2/3/4/5", isErr: true},
		{name: "non numeric", in: "/a/b", isErr: true},
		{name: "out of range", in: "/65536", isErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePath(tt.in)
			if tt.isErr {
				if err == nil {
					t.Fatalf("ParsePath(%q) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePath(%q) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParsePath(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPathString(t *testing.T) {
	p := ResourcePath(3, 0, 13)
	if p.String() != "/3/0/13" {
		t.Errorf("String() = %q, want /3/0/13", p.String())
	}
	if p.ObjectOnly().String() != "/3" {
		t.Errorf("ObjectOnly() = %q, want /3", p.ObjectOnly().String())
	}
}

func TestResourceSingleValue(t *testing.T) {
	r := NewResource(ResourceMetadata{ID: 1, Name: "value", Type: TypeString, Operations: OpReadWrite})

	if err := r.SetValue("MyValue"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if r.Value() != "MyValue" {
		t.Errorf("Value() = %v, want MyValue", r.Value())
	}

	if err := r.SetValue(42); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("SetValue(int) = %v, want ErrTypeMismatch", err)
	}

	if _, err := r.AddInstance(0, "x"); !errors.Is(err, ErrSingleValued) {
		t.Errorf("AddInstance on single-valued resource = %v, want ErrSingleValued", err)
	}
}

func TestResourceIntegerWidening(t *testing.T) {
	r := NewResource(ResourceMetadata{ID: 1, Type: TypeInteger, Operations: OpReadWrite})
	if err := r.SetValue(7); err != nil {
		t.Fatalf("SetValue(int) failed: %v", err)
	}
	if r.Value() != int64(7) {
		t.Errorf("Value() = %#v, want int64(7)", r.Value())
	}
}

func TestResourceInstances(t *testing.T) {
	r := NewResource(ResourceMetadata{ID: 11, Type: TypeInteger, Operations: OpRead, Multiple: true})

	if _, err := r.AddInstance(2, int64(20)); err != nil {
		t.Fatalf("AddInstance(2) failed: %v", err)
	}
	if _, err := r.AddInstance(0, int64(0)); err != nil {
		t.Fatalf("AddInstance(0) failed: %v", err)
	}
	if _, err := r.AddInstance(2, int64(99)); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate AddInstance = %v, want ErrAlreadyExists", err)
	}

	ids := []uint16{}
	for _, ri := range r.Instances() {
		ids = append(ids, ri.ID())
	}
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 2 {
		t.Errorf("Instances() order = %v, want [0 2]", ids)
	}

	if err := r.RemoveInstance(2); err != nil {
		t.Fatalf("RemoveInstance failed: %v", err)
	}
	if err := r.RemoveInstance(2); !errors.Is(err, ErrNotFound) {
		t.Errorf("RemoveInstance twice = %v, want ErrNotFound", err)
	}
}

func TestResourceExecute(t *testing.T) {
	r := NewResource(ResourceMetadata{ID: 4, Type: TypeString, Operations: OpExecute})

	var got []byte
	r.SetExecuteFunc(func(args []byte) { got = args })

	if err := r.Execute([]byte("5")); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if string(got) != "5" {
		t.Errorf("execute args = %q, want 5", got)
	}

	ro := NewResource(ResourceMetadata{ID: 5, Type: TypeString, Operations: OpRead})
	if err := ro.Execute(nil); !errors.Is(err, ErrNotExecutable) {
		t.Errorf("Execute on R resource = %v, want ErrNotExecutable", err)
	}
}

func TestOperationsString(t *testing.T) {
	tests := []struct {
		ops  Operations
		want string
	}{
		{OpRead, "R"},
		{OpReadWrite, "RW"},
		{OpRead | OpWrite | OpExecute, "RWE"},
		{0, "-"},
	}
	for _, tt := range tests {
		if got := tt.ops.String(); got != tt.want {
			t.Errorf("Operations(%d).String() = %q, want %q", tt.ops, got, tt.want)
		}
	}
}

func TestTreeUniqueSiblings(t *testing.T) {
	tree := NewTree()
	obj := NewObject(42, "app")
	if err := tree.Add(obj); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := tree.Add(NewObject(42, "dup")); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate Add = %v, want ErrAlreadyExists", err)
	}

	inst, err := obj.CreateInstance(0)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	if _, err := obj.CreateInstance(0); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate CreateInstance = %v, want ErrAlreadyExists", err)
	}

	if _, err := inst.AddResource(ResourceMetadata{ID: 1, Type: TypeString, Operations: OpRead}); err != nil {
		t.Fatalf("AddResource failed: %v", err)
	}
	if _, err := inst.AddResource(ResourceMetadata{ID: 1, Type: TypeString, Operations: OpRead}); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate AddResource = %v, want ErrAlreadyExists", err)
	}
}

func TestTreeResolve(t *testing.T) {
	tree := NewTree()
	obj := NewObject(42, "app")
	_ = tree.Add(obj)
	inst, _ := obj.CreateInstance(0)
	_, _ = inst.AddResource(ResourceMetadata{ID: 1, Name: "value", Type: TypeString, Operations: OpRead, Observable: true})

	r, err := tree.ResolveResource(ResourcePath(42, 0, 1))
	if err != nil {
		t.Fatalf("ResolveResource failed: %v", err)
	}
	if r.Name() != "value" {
		t.Errorf("resolved resource name = %q, want value", r.Name())
	}

	if _, err := tree.ResolveResource(ResourcePath(99, 0, 0)); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResolveResource(/99/0/0) = %v, want ErrNotFound", err)
	}
	if _, err := tree.ResolveInstance(InstancePath(42, 7)); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResolveInstance(/42/7) = %v, want ErrNotFound", err)
	}
}

func TestNextInstanceID(t *testing.T) {
	obj := NewObject(42, "app")
	if got := obj.NextInstanceID(); got != 0 {
		t.Fatalf("NextInstanceID() = %d, want 0", got)
	}
	_, _ = obj.CreateInstance(0)
	_, _ = obj.CreateInstance(1)
	if got := obj.NextInstanceID(); got != 2 {
		t.Errorf("NextInstanceID() = %d, want 2", got)
	}
}

func TestEndpointValidate(t *testing.T) {
	tests := []struct {
		name string
		ep   Endpoint
		err  error
	}{
		{name: "valid", ep: Endpoint{Name: "lwm2m-endpoint", Type: "test", Lifetime: 3600}},
		{name: "empty name", ep: Endpoint{Lifetime: 60}, err: ErrEmptyEndpointName},
		{name: "zero lifetime", ep: Endpoint{Name: "e"}, err: ErrInvalidLifetime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ep.Validate()
			if tt.err == nil && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Fatalf("Validate() = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestBindingQueryValue(t *testing.T) {
	if BindingUDP.QueryValue() != "U" {
		t.Errorf("UDP query value = %q, want U", BindingUDP.QueryValue())
	}
	if BindingUDPQueue.QueryValue() != "UQ" {
		t.Errorf("UDP-Queue query value = %q, want UQ", BindingUDPQueue.QueryValue())
	}
}

func TestNumeric(t *testing.T) {
	if v, ok := Numeric(int64(5)); !ok || v != 5 {
		t.Errorf("Numeric(int64) = %v,%v", v, ok)
	}
	if v, ok := Numeric(2.5); !ok || v != 2.5 {
		t.Errorf("Numeric(float64) = %v,%v", v, ok)
	}
	if _, ok := Numeric("nope"); ok {
		t.Error("Numeric(string) reported ok")
	}
}
