package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Role is a capability an identity may hold.
type Role uint8

const (
	RoleNone Role = iota
	ComputeNodeOperator
	ModelTrainer
	Administrator
)

var roleNames = map[Role]string{
	ComputeNodeOperator: "ComputeNodeOperator",
	ModelTrainer:        "ModelTrainer",
	Administrator:       "Administrator",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "Role(" + strconv.Itoa(int(r)) + ")"
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// ParseRole accepts the role name case-insensitively, with or without the
// short aliases used on the command line (node, trainer, admin).
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "computenodeoperator", "node", "compute-node":
		return ComputeNodeOperator, nil
	case "modeltrainer", "trainer":
		return ModelTrainer, nil
	case "administrator", "admin":
		return Administrator, nil
	}
	return RoleNone, fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, s)
}

// RoleSet is the set of roles held by one identity, one bit per role.
type RoleSet uint8

func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s = s.With(r)
	}
	return s
}

func (s RoleSet) Has(r Role) bool {
	return r.Valid() && s&(1<<r) != 0
}

func (s RoleSet) With(r Role) RoleSet {
	return s | 1<<r
}

func (s RoleSet) Without(r Role) RoleSet {
	return s &^ (1 << r)
}

func (s RoleSet) Roles() []Role {
	var roles []Role
	for _, r := range []Role{ComputeNodeOperator, ModelTrainer, Administrator} {
		if s.Has(r) {
			roles = append(roles, r)
		}
	}
	return roles
}

func (s RoleSet) String() string {
	names := make([]string, 0, 3)
	for _, r := range s.Roles() {
		names = append(names, r.String())
	}
	return "[" + strings.Join(names, ",") + "]"
}

// RunID identifies a training run. Ids start at 1 and are never reused.
type RunID uint64

func (id RunID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

func ParseRunID(s string) (RunID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: invalid run id %q", ErrInvalidArgument, s)
	}
	return RunID(v), nil
}

// RunStatus is the lifecycle state of a training run.
// The only transitions are Registered -> Started -> Ended.
type RunStatus uint8

const (
	RunRegistered RunStatus = iota
	RunStarted
	RunEnded
)

func (s RunStatus) String() string {
	switch s {
	case RunRegistered:
		return "Registered"
	case RunStarted:
		return "Started"
	case RunEnded:
		return "Ended"
	}
	return "RunStatus(" + strconv.Itoa(int(s)) + ")"
}

// Next returns the only status reachable from s.
func (s RunStatus) Next() (RunStatus, bool) {
	switch s {
	case RunRegistered:
		return RunStarted, true
	case RunStarted:
		return RunEnded, true
	}
	return s, false
}
