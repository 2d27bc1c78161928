package auth

import (
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
)

//go:embed model.conf
var casbinModelContent string

//go:embed policy.csv
var casbinPolicyContent string

// Actions checked against the embedded policy.
const (
	ActionWhoAmI      = "auth:whoami"
	ActionVerifyAdmin = "auth:verify-admin"
	ActionListUsers   = "users:list"
	ActionCreateUser  = "users:create"
	ActionSetUserRole = "users:set-role"
	ActionIngestBulk  = "content:ingest"
)

const (
	casbinRolePrefix  = "role:"
	systemRoleSubject = "role:system"
)

// InitEnforcer creates a Casbin enforcer from the embedded model and policy.
// The policy is static; role assignments live in the users table.
func InitEnforcer() (casbin.IEnforcer, error) {
	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	adapter := stringadapter.NewAdapter(casbinPolicyContent)

	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	return enforcer, nil
}

// RoleSubject returns the Casbin subject for a role.
func RoleSubject(role Role) string {
	return casbinRolePrefix + string(role)
}

// SystemSubject returns the Casbin subject of the system principal.
func SystemSubject() string {
	return systemRoleSubject
}
