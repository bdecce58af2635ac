// Package machine models the mesh/VPN inventory's device shape (spec §3).
package machine

import (
	"reflect"
	"strings"
)

// Machine is a single device reported by the inventory source.
type Machine struct {
	ID                 string
	Name               string
	Hostname           string
	Addresses          []string
	Tags               []string
	ClientConnectivity ClientConnectivity
}

// ClientConnectivity mirrors the inventory's endpoint list.
type ClientConnectivity struct {
	Endpoints []string
}

// MachineName returns the first dotted component of Name, falling back to
// Hostname when Name is empty (spec §3: "Machine name = first dotted
// component of name, or hostname").
func (m *Machine) MachineName() string {
	if m.Name != "" {
		if i := strings.IndexByte(m.Name, '.'); i >= 0 {
			return m.Name[:i]
		}
		return m.Name
	}
	return m.Hostname
}

// Field returns the machine's value(s) for the named selector field.
// "tag" yields the tag list, "name" the machine name, "hostname" the raw
// hostname, and any other name is looked up as a direct property
// (case-insensitive field name; string or []string fields only).
func (m *Machine) Field(name string) []string {
	switch name {
	case "tag":
		return m.Tags
	case "name":
		return []string{m.MachineName()}
	case "hostname":
		return []string{m.Hostname}
	case "id":
		return []string{m.ID}
	default:
		v := reflect.ValueOf(m).Elem().FieldByNameFunc(func(f string) bool {
			return strings.EqualFold(f, name)
		})
		switch {
		case v.Kind() == reflect.String:
			return []string{v.String()}
		case v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.String:
			return v.Interface().([]string)
		}
		return nil
	}
}
