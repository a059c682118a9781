package contract

import (
	"errors"
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("identrace.contract")

// Object types for composite keys, also usable as 'docType' in CouchDB.
const (
	identityObjectType             = "Identity"             // Attribute: identity ID
	identityHashObjectType         = "IdentityHash"         // Maps identityHash -> identity ID. Attribute: hash.
	ownerBindingObjectType         = "OwnerBinding"         // Maps owner principal -> identity ID. Attribute: principal.
	verificationObjectType         = "Verification"         // Attributes: identity ID, index.
	verificationCountObjectType    = "VerificationCount"    // Attribute: identity ID.
	guardianSetObjectType          = "GuardianSet"          // Attribute: identity ID.
	recoveryRequestObjectType      = "RecoveryRequest"      // Attribute: identity ID.
	platformObjectType             = "Platform"             // Attribute: platform ID.
	platformDomainObjectType       = "PlatformDomain"       // Maps domain -> platform ID. Attribute: domain.
	platformVerificationObjectType = "PlatformVerification" // Attributes: identity ID, platform ID.
	platformUserObjectType         = "PlatformUser"         // Maps (platform ID, platform user ID) -> identity ID.
)

const totalIdentitiesConfigName = "totalIdentities"

// IdentitySmartContract maintains the shared record of digital identities
// and the attestations made about them.
// @contract:IdentitySmartContract
type IdentitySmartContract struct {
	contractapi.Contract
}

// Instantiate is called during chaincode instantiation.
func (s *IdentitySmartContract) Instantiate(ctx contractapi.TransactionContextInterface) {
	logger.Info("IdentitySmartContract Instantiated/Upgraded")
}

// Initialize seeds the calling principal as the sole administrator. It can
// only succeed once: re-running after any admin exists is rejected.
func (s *IdentitySmartContract) Initialize(ctx contractapi.TransactionContextInterface) error {
	am := NewAccessManager(ctx)

	anyAdminExists, err := am.AnyAdminExists()
	if err != nil {
		return fmt.Errorf("Initialize: failed to check for existing admins: %w", err)
	}
	if anyAdminExists {
		return errors.New("system already initialized, an administrator exists")
	}

	caller, err := am.GetCallerID()
	if err != nil {
		return fmt.Errorf("Initialize: failed to get caller identity: %w", err)
	}
	if err := am.seedFirstAdmin(caller); err != nil {
		return fmt.Errorf("Initialize: failed to seed admin grant for '%s': %w", caller, err)
	}
	logger.Infof("System initialized. '%s' seeded as sole administrator.", caller)
	return nil
}

// --- Access Control Wrappers (delegating to AccessManager) ---

func (s *IdentitySmartContract) GrantRole(ctx contractapi.TransactionContextInterface, role, principal string) error {
	logger.Infof("Chaincode Call: GrantRole '%s' to '%s'", role, principal)
	am := NewAccessManager(ctx)
	if err := am.RequireNotPaused(); err != nil {
		return fmt.Errorf("GrantRole: %w", err)
	}
	return am.GrantRole(role, principal)
}

func (s *IdentitySmartContract) RevokeRole(ctx contractapi.TransactionContextInterface, role, principal string) error {
	logger.Infof("Chaincode Call: RevokeRole '%s' from '%s'", role, principal)
	am := NewAccessManager(ctx)
	if err := am.RequireNotPaused(); err != nil {
		return fmt.Errorf("RevokeRole: %w", err)
	}
	return am.RevokeRole(role, principal)
}

func (s *IdentitySmartContract) HasRole(ctx contractapi.TransactionContextInterface, role, principal string) (bool, error) {
	logger.Debugf("Chaincode Call: HasRole '%s' for '%s'", role, principal)
	return NewAccessManager(ctx).HasRole(role, principal)
}

// Pause engages the circuit breaker: every mutating operation is rejected
// with ErrSystemPaused until Unpause. Reads stay available.
func (s *IdentitySmartContract) Pause(ctx contractapi.TransactionContextInterface) error {
	logger.Info("Chaincode Call: Pause")
	return NewAccessManager(ctx).SetPaused(true)
}

func (s *IdentitySmartContract) Unpause(ctx contractapi.TransactionContextInterface) error {
	logger.Info("Chaincode Call: Unpause")
	return NewAccessManager(ctx).SetPaused(false)
}

func (s *IdentitySmartContract) IsPaused(ctx contractapi.TransactionContextInterface) (bool, error) {
	return NewAccessManager(ctx).IsPaused()
}
