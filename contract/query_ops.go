package contract

import (
	"encoding/json"
	"fmt"
	"strconv"

	"identrace/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Query Operations ---

// GetIdentity returns the full identity document. Open to any caller:
// identity documents carry only hashes and references, never raw personal
// data.
func (s *IdentitySmartContract) GetIdentity(ctx contractapi.TransactionContextInterface, id string) (*model.Identity, error) {
	logger.Debugf("Chaincode Call: GetIdentity '%s'", id)
	return s.getIdentityByID(ctx, id)
}

// GetIdentityByOwner resolves a principal to their identity via the owner
// binding index. Fails with ErrIdentityNotFound when the principal controls
// no identity, including after revocation freed the binding.
func (s *IdentitySmartContract) GetIdentityByOwner(ctx contractapi.TransactionContextInterface, principal string) (*model.Identity, error) {
	logger.Debugf("Chaincode Call: GetIdentityByOwner '%s'", principal)
	if err := s.validateRequiredString(principal, "principal", maxStringInputLength); err != nil {
		return nil, err
	}
	bindingKey, err := s.createOwnerBindingKey(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("GetIdentityByOwner: failed to create owner binding key: %w", err)
	}
	idBytes, err := ctx.GetStub().GetState(bindingKey)
	if err != nil {
		return nil, fmt.Errorf("GetIdentityByOwner: ledger error reading owner binding for '%s': %w", principal, err)
	}
	if idBytes == nil {
		return nil, fmt.Errorf("principal '%s' controls no identity: %w", principal, ErrIdentityNotFound)
	}
	return s.getIdentityByID(ctx, string(idBytes))
}

// GetTotalIdentities returns the lifetime count of identities ever created.
// Revocations do not decrement it.
func (s *IdentitySmartContract) GetTotalIdentities(ctx contractapi.TransactionContextInterface) (uint64, error) {
	logger.Debug("Chaincode Call: GetTotalIdentities")
	counterKey, err := ctx.GetStub().CreateCompositeKey(configObjectType, []string{totalIdentitiesConfigName})
	if err != nil {
		return 0, fmt.Errorf("GetTotalIdentities: failed to create identity counter key: %w", err)
	}
	counterBytes, err := ctx.GetStub().GetState(counterKey)
	if err != nil {
		return 0, fmt.Errorf("GetTotalIdentities: ledger error reading identity counter: %w", err)
	}
	if counterBytes == nil {
		return 0, nil
	}
	total, err := strconv.ParseUint(string(counterBytes), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("GetTotalIdentities: failed to parse identity counter '%s': %w", string(counterBytes), err)
	}
	return total, nil
}

// GetAllIdentities returns every identity document, revoked ones included.
// Admin-only: the full census is an operational view, not a public one.
func (s *IdentitySmartContract) GetAllIdentities(ctx contractapi.TransactionContextInterface) ([]*model.Identity, error) {
	logger.Debug("Chaincode Call: GetAllIdentities")
	am := NewAccessManager(ctx)
	if err := am.RequireAdmin(); err != nil {
		return nil, fmt.Errorf("GetAllIdentities: %w", err)
	}

	iterator, err := ctx.GetStub().GetStateByPartialCompositeKey(identityObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("GetAllIdentities: failed to open identity iterator: %w", err)
	}
	defer iterator.Close()

	identities := []*model.Identity{}
	for iterator.HasNext() {
		response, err := iterator.Next()
		if err != nil {
			return nil, fmt.Errorf("GetAllIdentities: iterator error: %w", err)
		}
		var identity model.Identity
		if err := json.Unmarshal(response.Value, &identity); err != nil {
			logger.Warningf("GetAllIdentities: skipping undecodable state at key '%s': %v", response.Key, err)
			continue
		}
		identities = append(identities, &identity)
	}
	return identities, nil
}

// GetPlatform returns the full platform document.
func (s *IdentitySmartContract) GetPlatform(ctx contractapi.TransactionContextInterface, platformID string) (*model.Platform, error) {
	logger.Debugf("Chaincode Call: GetPlatform '%s'", platformID)
	return s.getPlatformByID(ctx, platformID)
}

// GetPlatformByDomain resolves a domain to its platform. The lookup is
// case-insensitive, matching the uniqueness rule at registration.
func (s *IdentitySmartContract) GetPlatformByDomain(ctx contractapi.TransactionContextInterface, domain string) (*model.Platform, error) {
	logger.Debugf("Chaincode Call: GetPlatformByDomain '%s'", domain)
	domain = normalizeDomain(domain)
	if err := s.validateRequiredString(domain, "domain", maxDomainLength); err != nil {
		return nil, err
	}
	domainKey, err := s.createPlatformDomainKey(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("GetPlatformByDomain: failed to create domain key for '%s': %w", domain, err)
	}
	idBytes, err := ctx.GetStub().GetState(domainKey)
	if err != nil {
		return nil, fmt.Errorf("GetPlatformByDomain: ledger error reading domain index for '%s': %w", domain, err)
	}
	if idBytes == nil {
		return nil, fmt.Errorf("domain '%s' is not registered: %w", domain, ErrPlatformNotFound)
	}
	return s.getPlatformByID(ctx, string(idBytes))
}

// GetAllPlatforms returns every registered platform, inactive ones included.
func (s *IdentitySmartContract) GetAllPlatforms(ctx contractapi.TransactionContextInterface) ([]*model.Platform, error) {
	logger.Debug("Chaincode Call: GetAllPlatforms")
	iterator, err := ctx.GetStub().GetStateByPartialCompositeKey(platformObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("GetAllPlatforms: failed to open platform iterator: %w", err)
	}
	defer iterator.Close()

	platforms := []*model.Platform{}
	for iterator.HasNext() {
		response, err := iterator.Next()
		if err != nil {
			return nil, fmt.Errorf("GetAllPlatforms: iterator error: %w", err)
		}
		var platform model.Platform
		if err := json.Unmarshal(response.Value, &platform); err != nil {
			logger.Warningf("GetAllPlatforms: skipping undecodable state at key '%s': %v", response.Key, err)
			continue
		}
		platforms = append(platforms, &platform)
	}
	return platforms, nil
}

// --- Internal Helpers ---

// getIdentityByID loads and unmarshals an identity document. The returned
// error wraps ErrIdentityNotFound when the key is absent.
func (s *IdentitySmartContract) getIdentityByID(ctx contractapi.TransactionContextInterface, id string) (*model.Identity, error) {
	identityKey, err := s.createIdentityKey(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity key for '%s': %w", id, err)
	}
	identityBytes, err := ctx.GetStub().GetState(identityKey)
	if err != nil {
		return nil, fmt.Errorf("ledger error reading identity '%s': %w", id, err)
	}
	if identityBytes == nil {
		return nil, fmt.Errorf("identity '%s': %w", id, ErrIdentityNotFound)
	}
	var identity model.Identity
	if err := json.Unmarshal(identityBytes, &identity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identity '%s': %w", id, err)
	}
	return &identity, nil
}
