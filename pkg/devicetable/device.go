package devicetable

import "time"

// Role is a device's position in the logical star. The zero value means
// undefined — a device that has not yet been assigned a role by an
// election or a device:list.
type Role string

const (
	RoleUndefined Role = ""
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// Status is a device's reachability state.
type Status string

const (
	StatusOnline     Status = "online"
	StatusOffline    Status = "offline"
	StatusConnecting Status = "connecting"
)

// Device is one participant in the mesh, uniquely identified by ID. ID is
// immutable once created; Hostname is deterministic from
// {prefix, Type, ID} and never recomputed after discovery.
type Device struct {
	ID           string
	Type         string
	Name         string
	Hostname     string
	DNSName      string
	IP           string
	Role         Role
	Status       Status
	Capabilities []string
	Metadata     map[string]string
	LastSeen     time.Time
	StartedAt    time.Time
	OS           string
}

// Clone returns a deep-enough copy safe to hand to callers outside the
// table's lock.
func (d Device) Clone() Device {
	out := d
	if d.Capabilities != nil {
		out.Capabilities = append([]string(nil), d.Capabilities...)
	}
	if d.Metadata != nil {
		out.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
