package hub

import "github.com/opsbridge/opsbridge/internal/event"

// RoutingTable is the static event-type to role-set mapping. It is immutable
// after construction; lookups are pure.
type RoutingTable struct {
	targets map[event.Type][]event.Role
}

// NewRoutingTable builds a table from an explicit mapping. The slice values
// are copied so callers cannot mutate the table afterwards.
func NewRoutingTable(targets map[event.Type][]event.Role) *RoutingTable {
	copied := make(map[event.Type][]event.Role, len(targets))
	for t, roles := range targets {
		copied[t] = append([]event.Role(nil), roles...)
	}
	return &RoutingTable{targets: copied}
}

// DefaultRoutingTable returns the production routing configuration.
func DefaultRoutingTable() *RoutingTable {
	return NewRoutingTable(map[event.Type][]event.Role{
		event.TypeStart:                  {event.RoleClinician, event.RoleExecutive},
		event.TypeAnesthesiaAdministered: {event.RoleClinician},
		event.TypeIncisionMade:           {event.RoleClinician},
		event.TypeImplantPlaced:          {event.RoleClinician, event.RoleLaboratory, event.RoleExecutive},
		event.TypeImplantFailed:          {event.RoleClinician, event.RoleLaboratory, event.RoleExecutive},
		event.TypeScanTaken:              {event.RoleLaboratory},
		event.TypeProsthesisTriedIn:      {event.RoleClinician, event.RoleLaboratory},
		event.TypeMaterialConfirmed:      {event.RoleLaboratory, event.RoleExecutive},
		event.TypeOsteotomyCompleted:     {event.RoleLaboratory},
		event.TypeLabAdjustmentRequested: {event.RoleLaboratory},
		event.TypeComplicationDetected:   {event.RoleClinician, event.RoleExecutive},
		event.TypeVitalsUpdate:           {event.RoleClinician},
		event.TypeEnd:                    {event.RoleClinician, event.RoleLaboratory, event.RoleExecutive, event.RolePatientNotification},
	})
}

// TargetsFor returns the roles that must receive events of type t. The
// returned slice must not be mutated.
func (rt *RoutingTable) TargetsFor(t event.Type) []event.Role {
	return rt.targets[t]
}
