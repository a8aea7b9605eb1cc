package model

import "time"

// Device object (3) resource ids.
const (
	DevResManufacturer    uint16 = 0
	DevResModelNumber     uint16 = 1
	DevResSerialNumber    uint16 = 2
	DevResFirmwareVersion uint16 = 3
	DevResReboot          uint16 = 4
	DevResFactoryReset    uint16 = 5
	DevResErrorCode       uint16 = 11
	DevResCurrentTime     uint16 = 13
)

// DeviceInfo seeds the standard Device object.
type DeviceInfo struct {
	Manufacturer    string
	ModelNumber     string
	SerialNumber    string
	FirmwareVersion string
}

// Device wraps instance 0 of the Device object (3).
type Device struct {
	object   *Object
	instance *ObjectInstance
}

// NewDeviceObject builds the standard Device object with a single instance
// populated from info.
func NewDeviceObject(info DeviceInfo) (*Device, error) {
	obj := NewObject(ObjectIDDevice, "device")
	inst, err := obj.CreateInstance(0)
	if err != nil {
		return nil, err
	}
	metas := []ResourceMetadata{
		{ID: DevResManufacturer, Name: "manufacturer", Type: TypeString, Operations: OpRead, Observable: true},
		{ID: DevResModelNumber, Name: "model_number", Type: TypeString, Operations: OpRead, Observable: true},
		{ID: DevResSerialNumber, Name: "serial_number", Type: TypeString, Operations: OpRead, Observable: true},
		{ID: DevResFirmwareVersion, Name: "firmware_version", Type: TypeString, Operations: OpRead, Observable: true},
		{ID: DevResReboot, Name: "reboot", Type: TypeString, Operations: OpExecute},
		{ID: DevResFactoryReset, Name: "factory_reset", Type: TypeString, Operations: OpExecute},
		{ID: DevResErrorCode, Name: "error_code", Type: TypeInteger, Operations: OpRead, Multiple: true, Observable: true},
		{ID: DevResCurrentTime, Name: "current_time", Type: TypeTime, Operations: OpReadWrite, Observable: true},
	}
	for _, m := range metas {
		if _, err := inst.AddResource(m); err != nil {
			return nil, err
		}
	}
	d := &Device{object: obj, instance: inst}
	set := func(rid uint16, v any) {
		if r, ok := inst.Resource(rid); ok {
			_ = r.SetValue(v)
		}
	}
	set(DevResManufacturer, info.Manufacturer)
	set(DevResModelNumber, info.ModelNumber)
	set(DevResSerialNumber, info.SerialNumber)
	set(DevResFirmwareVersion, info.FirmwareVersion)
	set(DevResCurrentTime, time.Now().Unix())
	if r, ok := inst.Resource(DevResErrorCode); ok {
		// Error code instance 0 = no error.
		_, _ = r.AddInstance(0, int64(0))
	}
	return d, nil
}

// Object returns the underlying object.
func (d *Device) Object() *Object { return d.object }

// Instance returns instance 0.
func (d *Device) Instance() *ObjectInstance { return d.instance }

// SetCurrentTime updates the current-time resource.
func (d *Device) SetCurrentTime(t time.Time) error {
	r, ok := d.instance.Resource(DevResCurrentTime)
	if !ok {
		return ErrNotFound
	}
	return r.SetValue(t.Unix())
}

// OnReboot registers the callback run when the server executes /3/0/4.
func (d *Device) OnReboot(fn ExecuteFunc) {
	if r, ok := d.instance.Resource(DevResReboot); ok {
		r.SetExecuteFunc(fn)
	}
}

// OnFactoryReset registers the callback run when the server executes /3/0/5.
func (d *Device) OnFactoryReset(fn ExecuteFunc) {
	if r, ok := d.instance.Resource(DevResFactoryReset); ok {
		r.SetExecuteFunc(fn)
	}
}
