package workflow

import (
	"strconv"
	"strings"
)

// Callback actions carried in button data as "action:arg:arg".
const (
	ActionClaim      = "claim"
	ActionVehicle    = "vehicle"
	ActionVehicles   = "vehicles"
	ActionAuthorize  = "authorize"
	ActionDeny       = "deny"
	ActionKeys       = "keys"
	ActionStartKM    = "startkm"
	ActionEndKM      = "endkm"
	ActionCancel     = "cancelreq"
	ActionTerms      = "terms"
	ActionToday      = "today"
	ActionRole       = "role"
	ActionNewStatus  = "newstatus"
	ActionPickStatus = "pickvehicle"
	ActionSetStatus  = "setstatus"
)

// CallbackData joins an action and its arguments.
func CallbackData(action string, args ...string) string {
	return strings.Join(append([]string{action}, args...), ":")
}

// ParseCallback splits button data into its action and arguments.
func ParseCallback(data string) (string, []string) {
	parts := strings.Split(data, ":")
	return parts[0], parts[1:]
}

// ParseID parses a numeric callback argument.
func ParseID(s string) (uint, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}
