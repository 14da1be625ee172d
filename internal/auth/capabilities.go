// Package auth authenticates dashboard requests and maps roles to the
// capabilities they grant.
package auth

// Role is an account's application role.
type Role string

const (
	RoleODSAdmin     Role = "ODSAdmin"
	RoleODSTech      Role = "ODSTech"
	RoleOwner        Role = "Owner"
	RoleManager      Role = "Manager"
	RoleViewer       Role = "Viewer"
	RoleIntegrations Role = "Integrations"
)

// Staff reports whether the role belongs to ODS internal staff.
func (r Role) Staff() bool {
	return r == RoleODSAdmin || r == RoleODSTech
}

// Capability is a single permission checked by request middleware.
type Capability string

const (
	CapDevicesView      Capability = "devices:view"
	CapDevicesPair      Capability = "devices:pair"
	CapDeploymentsIssue Capability = "deployments:issue"
	CapSettingsWrite    Capability = "settings:write"
	CapAuditView        Capability = "audit:view"
	CapImpersonate      Capability = "impersonate"
)

// Set is the capabilities of one role. The universal set contains every
// capability, including ones added later.
type Set struct {
	universal bool
	caps      map[Capability]struct{}
}

// Universal returns the set that satisfies every check.
func Universal() Set {
	return Set{universal: true}
}

// NewSet builds a set from explicit capabilities.
func NewSet(caps ...Capability) Set {
	s := Set{caps: make(map[Capability]struct{}, len(caps))}
	for _, c := range caps {
		s.caps[c] = struct{}{}
	}
	return s
}

// Has reports whether every required capability is in the set.
func (s Set) Has(required ...Capability) bool {
	if s.universal {
		return true
	}
	for _, c := range required {
		if _, ok := s.caps[c]; !ok {
			return false
		}
	}
	return true
}

var roleCapabilities = map[Role]Set{
	RoleODSAdmin:     Universal(),
	RoleODSTech:      NewSet(CapDevicesView, CapDevicesPair, CapDeploymentsIssue, CapAuditView, CapImpersonate),
	RoleOwner:        NewSet(CapDevicesView, CapDevicesPair, CapDeploymentsIssue, CapSettingsWrite, CapAuditView),
	RoleManager:      NewSet(CapDevicesView, CapDevicesPair, CapDeploymentsIssue, CapSettingsWrite),
	RoleViewer:       NewSet(CapDevicesView),
	RoleIntegrations: NewSet(CapDevicesView, CapDeploymentsIssue),
}

// CapabilitiesFor returns the role's set. Unknown roles get nothing.
func CapabilitiesFor(r Role) Set {
	if s, ok := roleCapabilities[r]; ok {
		return s
	}
	return NewSet()
}
