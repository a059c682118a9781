package contract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var acLogger = flogging.MustGetLogger("identrace.accessmanager")

// Object types for composite keys.
const (
	roleGrantObjectType = "RoleGrant" // Attributes: role, principal. Value "true" marks the grant.
	configObjectType    = "Config"    // Attribute: name. Singleton flags such as the pause gate.
)

const pauseConfigName = "paused"

// Named capabilities. The deploying principal is seeded as the sole admin
// by Initialize; everything else flows from Grant/Revoke.
const (
	RoleAdmin         = "admin"
	RoleVerifier      = "verifier"
	RolePlatformAdmin = "platform-admin"
)

// ValidRoles defines the set of grantable capabilities.
var ValidRoles = map[string]bool{
	RoleAdmin:         true,
	RoleVerifier:      true,
	RolePlatformAdmin: true,
}

// AccessManager gates privileged transitions: it owns the role grants and
// the process-wide pause flag. Every other component consults it before
// mutating state.
type AccessManager struct {
	Ctx contractapi.TransactionContextInterface
}

// NewAccessManager creates a new instance of AccessManager.
func NewAccessManager(ctx contractapi.TransactionContextInterface) *AccessManager {
	return &AccessManager{Ctx: ctx}
}

func (am *AccessManager) createRoleGrantKey(role, principal string) (string, error) {
	return am.Ctx.GetStub().CreateCompositeKey(roleGrantObjectType, []string{role, principal})
}

func (am *AccessManager) createConfigKey(name string) (string, error) {
	return am.Ctx.GetStub().CreateCompositeKey(configObjectType, []string{name})
}

// GetCallerID retrieves the full identity string of the current transactor.
func (am *AccessManager) GetCallerID() (string, error) {
	clientIdentity := am.Ctx.GetClientIdentity()
	if clientIdentity == nil {
		return "", errors.New("client identity is nil from context")
	}
	id, err := clientIdentity.GetID()
	if err != nil {
		return "", fmt.Errorf("failed to get client identity ID from context: %w", err)
	}
	if id == "" {
		return "", errors.New("client identity ID from context is empty")
	}
	return id, nil
}

// HasRole reports whether the principal holds the named capability.
func (am *AccessManager) HasRole(role, principal string) (bool, error) {
	grantKey, err := am.createRoleGrantKey(role, principal)
	if err != nil {
		return false, fmt.Errorf("failed to create role grant key for '%s'/'%s': %w", role, principal, err)
	}
	grantBytes, err := am.Ctx.GetStub().GetState(grantKey)
	if err != nil {
		return false, fmt.Errorf("ledger error checking role '%s' for '%s': %w", role, principal, err)
	}
	return grantBytes != nil && string(grantBytes) == "true", nil
}

// RequireRole fails with the given sentinel unless the caller holds role.
// There is no admin bypass: an administrator who needs the verifier
// capability must be granted it explicitly.
func (am *AccessManager) RequireRole(role string, sentinel error) error {
	caller, err := am.GetCallerID()
	if err != nil {
		return fmt.Errorf("failed to get caller for role check: %w", err)
	}
	has, err := am.HasRole(role, caller)
	if err != nil {
		return err
	}
	if !has {
		return fmt.Errorf("caller '%s' lacks role '%s': %w", caller, role, sentinel)
	}
	return nil
}

// RequireAdmin fails with ErrUnauthorized unless the caller is an admin.
func (am *AccessManager) RequireAdmin() error {
	return am.RequireRole(RoleAdmin, ErrUnauthorized)
}

// GrantRole records a capability for a principal. Admin-only without
// exception: before Initialize has seeded the first admin, every grant is
// rejected. Bootstrap goes through seedFirstAdmin instead.
func (am *AccessManager) GrantRole(role, principal string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if !ValidRoles[role] {
		return fmt.Errorf("invalid role '%s', valid roles are: %v", role, am.listValidRoles())
	}
	if strings.TrimSpace(principal) == "" {
		return errors.New("principal cannot be empty")
	}

	anyAdminExists, err := am.AnyAdminExists()
	if err != nil {
		return fmt.Errorf("failed to check for existing admins during GrantRole: %w", err)
	}
	if !anyAdminExists {
		return fmt.Errorf("no admin exists yet, the system must be initialized first: %w", ErrUnauthorized)
	}
	if err := am.RequireAdmin(); err != nil {
		return fmt.Errorf("GrantRole: %w", err)
	}

	grantKey, err := am.createRoleGrantKey(role, principal)
	if err != nil {
		return fmt.Errorf("failed to create role grant key: %w", err)
	}
	if err := am.Ctx.GetStub().PutState(grantKey, []byte("true")); err != nil {
		return fmt.Errorf("failed to save role grant '%s' for '%s': %w", role, principal, err)
	}
	acLogger.Infof("Role '%s' granted to '%s'.", role, principal)
	return nil
}

// RevokeRole removes a capability. Admin-only; admins cannot revoke their
// own admin role, so the system always retains at least one administrator.
func (am *AccessManager) RevokeRole(role, principal string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if !ValidRoles[role] {
		return fmt.Errorf("invalid role '%s', valid roles are: %v", role, am.listValidRoles())
	}
	if err := am.RequireAdmin(); err != nil {
		return fmt.Errorf("RevokeRole: %w", err)
	}
	caller, err := am.GetCallerID()
	if err != nil {
		return fmt.Errorf("failed to get caller for RevokeRole: %w", err)
	}
	if role == RoleAdmin && principal == caller {
		return errors.New("admins cannot revoke their own admin role")
	}

	grantKey, err := am.createRoleGrantKey(role, principal)
	if err != nil {
		return fmt.Errorf("failed to create role grant key: %w", err)
	}
	if err := am.Ctx.GetStub().DelState(grantKey); err != nil {
		return fmt.Errorf("failed to remove role grant '%s' for '%s': %w", role, principal, err)
	}
	acLogger.Infof("Role '%s' revoked from '%s' by '%s'.", role, principal, caller)
	return nil
}

// seedFirstAdmin installs the bootstrap admin grant for the initializing
// principal. Initialize is the only caller and has already verified that no
// admin exists; seeding any other way is not possible.
func (am *AccessManager) seedFirstAdmin(principal string) error {
	grantKey, err := am.createRoleGrantKey(RoleAdmin, principal)
	if err != nil {
		return fmt.Errorf("failed to create bootstrap admin grant key: %w", err)
	}
	if err := am.Ctx.GetStub().PutState(grantKey, []byte("true")); err != nil {
		return fmt.Errorf("failed to save bootstrap admin grant for '%s': %w", principal, err)
	}
	acLogger.Infof("Bootstrap admin '%s' seeded.", principal)
	return nil
}

// AnyAdminExists checks if any admin grant is present on the ledger.
func (am *AccessManager) AnyAdminExists() (bool, error) {
	iterator, err := am.Ctx.GetStub().GetStateByPartialCompositeKey(roleGrantObjectType, []string{RoleAdmin})
	if err != nil {
		return false, fmt.Errorf("failed to query admin grants: %w", err)
	}
	defer iterator.Close()
	return iterator.HasNext(), nil
}

// IsPaused reports the state of the circuit breaker.
func (am *AccessManager) IsPaused() (bool, error) {
	pauseKey, err := am.createConfigKey(pauseConfigName)
	if err != nil {
		return false, fmt.Errorf("failed to create pause config key: %w", err)
	}
	pauseBytes, err := am.Ctx.GetStub().GetState(pauseKey)
	if err != nil {
		return false, fmt.Errorf("ledger error reading pause flag: %w", err)
	}
	return pauseBytes != nil && string(pauseBytes) == "true", nil
}

// RequireNotPaused is the first guard of every mutating operation.
// Read-only entry points are never gated.
func (am *AccessManager) RequireNotPaused() error {
	paused, err := am.IsPaused()
	if err != nil {
		return err
	}
	if paused {
		return ErrSystemPaused
	}
	return nil
}

// SetPaused flips the circuit breaker. Admin-only in both directions.
func (am *AccessManager) SetPaused(paused bool) error {
	if err := am.RequireAdmin(); err != nil {
		return fmt.Errorf("SetPaused: %w", err)
	}
	pauseKey, err := am.createConfigKey(pauseConfigName)
	if err != nil {
		return fmt.Errorf("failed to create pause config key: %w", err)
	}
	value := "false"
	if paused {
		value = "true"
	}
	if err := am.Ctx.GetStub().PutState(pauseKey, []byte(value)); err != nil {
		return fmt.Errorf("failed to save pause flag: %w", err)
	}
	acLogger.Infof("Pause gate set to %v.", paused)
	return nil
}

func (am *AccessManager) listValidRoles() []string {
	keys := make([]string, 0, len(ValidRoles))
	for k := range ValidRoles {
		keys = append(keys, k)
	}
	return keys
}
