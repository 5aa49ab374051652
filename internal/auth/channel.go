package auth

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/goevery/hotelsync/internal/ierr"
)

type ChannelKind string

const (
	ChannelKindDepartment ChannelKind = "department"
	ChannelKindRoom       ChannelKind = "room"
	ChannelKindTable      ChannelKind = "table"
	ChannelKindStaff      ChannelKind = "staff"
)

// Department channels carry one team's traffic.
const (
	ChannelKitchen      = "kitchen"
	ChannelBar          = "bar"
	ChannelWaiters      = "waiters"
	ChannelFloor        = "floor"
	ChannelFrontDesk    = "front-desk"
	ChannelHousekeeping = "housekeeping"
	ChannelManagement   = "management"
)

const (
	RoleChef         = "chef"
	RoleWaiter       = "waiter"
	RoleBartender    = "bartender"
	RoleReceptionist = "receptionist"
	RoleHousekeeper  = "housekeeper"
	RoleManager      = "manager"
)

var departments = []string{
	ChannelKitchen,
	ChannelBar,
	ChannelWaiters,
	ChannelFloor,
	ChannelFrontDesk,
	ChannelHousekeeping,
	ChannelManagement,
}

var roleDepartments = map[string][]string{
	RoleChef:         {ChannelKitchen},
	RoleWaiter:       {ChannelWaiters, ChannelFloor},
	RoleBartender:    {ChannelBar, ChannelWaiters},
	RoleReceptionist: {ChannelFrontDesk},
	RoleHousekeeper:  {ChannelHousekeeping},
	RoleManager:      departments,
}

var channelKeyRegex = regexp.MustCompile(`^[\w-]+$`)

// Channel is a parsed hotel channel name: a department such as "kitchen",
// or a room, table or staff member such as "room:214", "table:t5" or
// "staff:staff-42".
type Channel struct {
	Name string
	Kind ChannelKind
	Key  string
}

func ParseChannel(name string) (Channel, error) {
	if slices.Contains(departments, name) {
		return Channel{name, ChannelKindDepartment, name}, nil
	}

	kind, key, ok := strings.Cut(name, ":")
	if ok && channelKeyRegex.MatchString(key) {
		switch ChannelKind(kind) {
		case ChannelKindRoom, ChannelKindTable, ChannelKindStaff:
			return Channel{name, ChannelKind(kind), key}, nil
		}
	}

	return Channel{}, ierr.New(ierr.ErrorCodeInvalidArgument, fmt.Errorf("unknown channel %q", name))
}

func StaffChannel(subject string) string {
	return string(ChannelKindStaff) + ":" + subject
}

// RoleDepartments returns the department channels a role works in.
func RoleDepartments(role string) []string {
	return slices.Clone(roleDepartments[role])
}
