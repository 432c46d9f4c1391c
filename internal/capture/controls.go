package capture

import (
	"fmt"

	"github.com/pkg/errors"
)

// Control describes one device control and its last known value.
type Control struct {
	Name    string
	ID      uint32
	Kind    ControlKind
	Value   int32
	Default int32
	Min     int32
	Max     int32
	Step    int32

	ReadOnly bool
}

// Registry is the set of controls a device exposes, keyed by name. The set
// is discovered at open time; only values change afterwards.
type Registry struct {
	drv    Driver
	order  []*Control
	byName map[string]*Control
}

func newRegistry(drv Driver) *Registry {
	return &Registry{
		drv:    drv,
		byName: make(map[string]*Control),
	}
}

// Enumerate queries the device for every supported control and returns them
// in the order the device reports them.
func (r *Registry) Enumerate() ([]Control, error) {
	if r.drv == nil {
		return nil, errors.Wrap(ErrDevice, "enumerate controls: device closed")
	}

	infos, err := r.drv.QueryControls()
	if err != nil {
		return nil, deviceError(err, "enumerate controls")
	}

	order := make([]*Control, 0, len(infos))
	byName := make(map[string]*Control, len(infos))
	for _, info := range infos {
		c := &Control{
			Name:     ControlName(info.ID, info.Name),
			ID:       info.ID,
			Kind:     info.Kind,
			Default:  info.Default,
			Min:      info.Min,
			Max:      info.Max,
			Step:     info.Step,
			ReadOnly: info.ReadOnly,
		}
		if c.Step <= 0 {
			c.Step = 1
		}
		if _, dup := byName[c.Name]; dup || c.Name == "" {
			c.Name = fmt.Sprintf("%s_%08x", c.Name, c.ID)
		}

		value, err := r.drv.GetControl(info.ID)
		if err != nil {
			log.Debug("control %s: read failed, assuming default: %v", c.Name, err)
			value = info.Default
		}
		c.Value = value

		order = append(order, c)
		byName[c.Name] = c
	}

	r.order = order
	r.byName = byName
	return r.Controls(), nil
}

// Controls returns the cached descriptors without touching the device.
func (r *Registry) Controls() []Control {
	out := make([]Control, len(r.order))
	for i, c := range r.order {
		out[i] = *c
	}
	return out
}

// Lookup returns the cached descriptor for name.
func (r *Registry) Lookup(name string) (Control, bool) {
	c, ok := r.byName[name]
	if !ok {
		return Control{}, false
	}
	return *c, true
}

// Get reads the current value of a control from the device.
func (r *Registry) Get(name string) (int32, error) {
	c, ok := r.byName[name]
	if !ok {
		return 0, errors.Wrapf(ErrNotFound, "control %q", name)
	}
	if r.drv == nil {
		return 0, errors.Wrapf(ErrDevice, "get %s: device closed", name)
	}
	value, err := r.drv.GetControl(c.ID)
	if err != nil {
		return 0, deviceError(err, "get %s", name)
	}
	c.Value = value
	return value, nil
}

// Set validates value against the control's range and step, writes it to
// the device and records the value the device confirms.
func (r *Registry) Set(name string, value int32) error {
	c, ok := r.byName[name]
	if !ok {
		return errors.Wrapf(ErrNotFound, "control %q", name)
	}
	if err := c.check(value); err != nil {
		return err
	}
	if r.drv == nil {
		return errors.Wrapf(ErrDevice, "set %s: device closed", name)
	}

	if err := r.drv.SetControl(c.ID, value); err != nil {
		return deviceError(err, "set %s=%d", name, value)
	}

	confirmed, err := r.drv.GetControl(c.ID)
	if err != nil {
		log.Debug("control %s: read-back failed: %v", name, err)
		confirmed = value
	}
	if confirmed != value {
		log.Info("control %s: requested %d, device applied %d", name, value, confirmed)
	}
	c.Value = confirmed
	return nil
}

func (c *Control) check(value int32) error {
	if c.ReadOnly {
		return errors.Wrapf(ErrRange, "control %s is read-only", c.Name)
	}
	if value < c.Min || value > c.Max {
		return errors.Wrapf(ErrRange, "%s=%d outside [%d, %d]", c.Name, value, c.Min, c.Max)
	}
	if (int64(value)-int64(c.Min))%int64(c.Step) != 0 {
		return errors.Wrapf(ErrRange, "%s=%d not a multiple of step %d from %d", c.Name, value, c.Step, c.Min)
	}
	return nil
}

func (r *Registry) detach() {
	r.drv = nil
}
