package personality

import "fmt"

// Role identifies one of the six fixed council seats.
type Role string

const (
	RoleSelf       Role = "self"
	RoleOpposite   Role = "opposite"
	RoleIdeal      Role = "ideal"
	RoleUnfiltered Role = "unfiltered"
	RoleChildhood  Role = "childhood"
	RoleElder      Role = "elder"
)

type GroupSide string

const (
	SideLeft  GroupSide = "left"
	SideRight GroupSide = "right"
)

// RoleInfo is the static presentation data for a seat.
type RoleInfo struct {
	Role        Role
	DisplayName string
	Icon        string
	Side        GroupSide
	Voice       string
}

// Roles lists the seats in council order.
var Roles = []Role{RoleSelf, RoleOpposite, RoleIdeal, RoleUnfiltered, RoleChildhood, RoleElder}

var roleTable = map[Role]RoleInfo{
	RoleSelf: {
		Role: RoleSelf, DisplayName: "Present Self", Icon: "person", Side: SideLeft,
		Voice: "speaks exactly as the user does today",
	},
	RoleOpposite: {
		Role: RoleOpposite, DisplayName: "Opposite Self", Icon: "arrows-left-right", Side: SideRight,
		Voice: "sees every situation from the inverse temperament",
	},
	RoleIdeal: {
		Role: RoleIdeal, DisplayName: "Ideal Self", Icon: "sparkles", Side: SideLeft,
		Voice: "the steady, open, dependable version the user hopes to become",
	},
	RoleUnfiltered: {
		Role: RoleUnfiltered, DisplayName: "Unfiltered Self", Icon: "flame", Side: SideRight,
		Voice: "blunt and undiplomatic, says what the others will not",
	},
	RoleChildhood: {
		Role: RoleChildhood, DisplayName: "Childhood Self", Icon: "balloon", Side: SideLeft,
		Voice: "curious and playful, asks simple questions",
	},
	RoleElder: {
		Role: RoleElder, DisplayName: "Elder Self", Icon: "tree", Side: SideRight,
		Voice: "calm and warm, looks back on the situation from decades later",
	},
}

// Info returns the static table entry for r.
func (r Role) Info() (RoleInfo, bool) {
	info, ok := roleTable[r]
	return info, ok
}

func (r Role) Valid() bool {
	_, ok := roleTable[r]
	return ok
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown personality role %q", s)
	}
	return r, nil
}
