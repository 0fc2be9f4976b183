package analysis

import (
	"sort"
	"strings"
)

// Role is a semantic field that may appear under several header spellings.
type Role string

const (
	RoleEquipmentID   Role = "equipment_id"
	RoleEquipmentType Role = "equipment_type"
	RoleFlowrate      Role = "flowrate"
	RolePressure      Role = "pressure"
	RoleTemperature   Role = "temperature"
	RoleTimestamp     Role = "timestamp"
	RoleLocation      Role = "location"
	RoleStatus        Role = "status"
	RoleOperator      Role = "operator"
)

// RoleSpec declares a role with its ordered aliases. Declaration order
// matters: when two roles match the same header the earlier one keeps it.
type RoleSpec struct {
	Role     Role
	Aliases  []string
	Required bool
}

// DefaultRoleSpecs returns the built-in equipment roles.
func DefaultRoleSpecs() []RoleSpec {
	return []RoleSpec{
		{Role: RoleEquipmentID, Aliases: []string{"equipment_id", "id", "equipment_number"}, Required: true},
		{Role: RoleEquipmentType, Aliases: []string{"equipment_type", "type", "category", "equipment_category"}, Required: true},
		{Role: RoleFlowrate, Aliases: []string{"flowrate", "flow_rate", "flow", "rate"}, Required: true},
		{Role: RolePressure, Aliases: []string{"pressure", "press", "psi", "bar"}, Required: true},
		{Role: RoleTemperature, Aliases: []string{"temperature", "temp", "celsius", "fahrenheit"}, Required: true},
		{Role: RoleTimestamp, Aliases: []string{"timestamp", "date", "datetime", "time"}},
		{Role: RoleLocation, Aliases: []string{"location", "site", "facility", "plant"}},
		{Role: RoleStatus, Aliases: []string{"status", "state", "condition"}},
		{Role: RoleOperator, Aliases: []string{"operator", "technician", "user"}},
	}
}

// RoleSpecsWithOverrides replaces the alias lists of known roles with the
// configured ones. Unknown role names are appended as optional roles in
// lexical order.
func RoleSpecsWithOverrides(overrides map[string][]string) []RoleSpec {
	specs := DefaultRoleSpecs()
	if len(overrides) == 0 {
		return specs
	}
	known := make(map[Role]int, len(specs))
	for i, spec := range specs {
		known[spec.Role] = i
	}
	var extra []string
	for name, aliases := range overrides {
		if len(aliases) == 0 {
			continue
		}
		if idx, ok := known[Role(name)]; ok {
			specs[idx].Aliases = append([]string(nil), aliases...)
			continue
		}
		extra = append(extra, name)
	}
	sort.Strings(extra)
	for _, name := range extra {
		specs = append(specs, RoleSpec{Role: Role(name), Aliases: append([]string(nil), overrides[name]...)})
	}
	return specs
}

// Resolver maps actual headers to roles by case-insensitive alias lookup.
type Resolver struct {
	specs []RoleSpec
}

func NewResolver(specs []RoleSpec) *Resolver {
	if len(specs) == 0 {
		specs = DefaultRoleSpecs()
	}
	return &Resolver{specs: specs}
}

// Specs returns the role declarations in order.
func (r *Resolver) Specs() []RoleSpec {
	return r.specs
}

// Resolution is the outcome of resolving one header row.
type Resolution struct {
	Mapping         map[Role]string
	Unresolved      []Role
	MissingRequired []MissingRole
}

// Header returns the header resolved for role.
func (res Resolution) Header(role Role) (string, bool) {
	h, ok := res.Mapping[role]
	return h, ok
}

// Err reports unresolved required roles as a ValidationError.
func (res Resolution) Err() error {
	if len(res.MissingRequired) == 0 {
		return nil
	}
	missing := make([]MissingRole, len(res.MissingRequired))
	copy(missing, res.MissingRequired)
	return &ValidationError{Reason: "required columns not found", Missing: missing}
}

// Resolve matches every declared role against headers. For each role the
// first alias present in headers wins; if that header was already claimed by
// an earlier role, the role stays unresolved.
func (r *Resolver) Resolve(headers []string) Resolution {
	index := make(map[string]string, len(headers))
	for _, h := range headers {
		key := strings.ToLower(strings.TrimSpace(h))
		if key == "" {
			continue
		}
		if _, ok := index[key]; !ok {
			index[key] = h
		}
	}

	res := Resolution{Mapping: make(map[Role]string)}
	claimed := make(map[string]bool)
	for _, spec := range r.specs {
		header, found := "", false
		for _, alias := range spec.Aliases {
			if h, ok := index[strings.ToLower(strings.TrimSpace(alias))]; ok {
				header, found = h, true
				break
			}
		}
		if found && !claimed[header] {
			claimed[header] = true
			res.Mapping[spec.Role] = header
			continue
		}
		res.Unresolved = append(res.Unresolved, spec.Role)
		if spec.Required {
			res.MissingRequired = append(res.MissingRequired, MissingRole{
				Role:    spec.Role,
				Aliases: append([]string(nil), spec.Aliases...),
			})
		}
	}
	return res
}

// StringMapping returns the mapping keyed by role name.
func (res Resolution) StringMapping() map[string]string {
	out := make(map[string]string, len(res.Mapping))
	for role, header := range res.Mapping {
		out[string(role)] = header
	}
	return out
}
