package identity

import "fmt"

// Role is a user's function in the workflow.
type Role string

const (
	RoleRequester     Role = "requester"
	RoleRadioOperator Role = "radio_operator"
	RoleInspector     Role = "inspector"
	RoleAuthorizer    Role = "authorizer"
)

// Roles lists every role in ascending permission order.
var Roles = []Role{RoleRequester, RoleRadioOperator, RoleInspector, RoleAuthorizer}

var levels = map[Role]int{
	RoleRequester:     1,
	RoleRadioOperator: 2,
	RoleInspector:     3,
	RoleAuthorizer:    4,
}

var labels = map[Role]string{
	RoleRequester:     "Requester",
	RoleRadioOperator: "Radio operator",
	RoleInspector:     "Inspector",
	RoleAuthorizer:    "Authorizer",
}

// Level returns the permission level, or 0 for an unknown role.
func (r Role) Level() int { return levels[r] }

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return levels[r] > 0 }

// Label returns a human-readable name.
func (r Role) Label() string {
	if l, ok := labels[r]; ok {
		return l
	}
	return string(r)
}

// HasPermission reports whether a holder of role actual may act where
// required is needed. Unknown roles never have permission.
func HasPermission(actual, required Role) bool {
	if !actual.Valid() || !required.Valid() {
		return false
	}
	return actual.Level() >= required.Level()
}

// ParseRole validates s as a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("identity: unknown role %q", s)
	}
	return r, nil
}
