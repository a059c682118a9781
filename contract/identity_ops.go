package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"identrace/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Lifecycle: Identity Operations ---

// CreateIdentity registers a new identity for the calling principal. The
// identity hash must never have been used and the caller must not already
// control an active identity. Returns the content-derived identity ID.
func (s *IdentitySmartContract) CreateIdentity(ctx contractapi.TransactionContextInterface, identityHash, metadataRef string) (string, error) {
	am := NewAccessManager(ctx)
	if err := am.RequireNotPaused(); err != nil {
		return "", fmt.Errorf("CreateIdentity: %w", err)
	}
	caller, err := am.GetCallerID()
	if err != nil {
		return "", fmt.Errorf("CreateIdentity: failed to get caller identity: %w", err)
	}

	if err := s.validateHash(identityHash, "identityHash"); err != nil {
		return "", err
	}
	if err := s.validateOptionalString(metadataRef, "metadataRef", maxStringInputLength); err != nil {
		return "", err
	}

	hashKey, err := s.createIdentityHashKey(ctx, identityHash)
	if err != nil {
		return "", fmt.Errorf("CreateIdentity: failed to create identity hash key: %w", err)
	}
	existingIDBytes, err := ctx.GetStub().GetState(hashKey)
	if err != nil {
		return "", fmt.Errorf("CreateIdentity: failed to check identity hash uniqueness: %w", err)
	}
	if existingIDBytes != nil {
		return "", fmt.Errorf("identity hash is bound to identity '%s': %w", string(existingIDBytes), ErrDuplicateIdentityHash)
	}

	bindingKey, err := s.createOwnerBindingKey(ctx, caller)
	if err != nil {
		return "", fmt.Errorf("CreateIdentity: failed to create owner binding key: %w", err)
	}
	boundIDBytes, err := ctx.GetStub().GetState(bindingKey)
	if err != nil {
		return "", fmt.Errorf("CreateIdentity: failed to check owner binding for '%s': %w", caller, err)
	}
	if boundIDBytes != nil {
		return "", fmt.Errorf("principal '%s' controls identity '%s': %w", caller, string(boundIDBytes), ErrPrincipalAlreadyBound)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return "", fmt.Errorf("CreateIdentity: %w", err)
	}

	id := deriveID(ctx, "did", identityHash, caller)
	identity := model.Identity{
		ObjectType:        identityObjectType,
		ID:                id,
		IdentityHash:      identityHash,
		Owner:             caller,
		MetadataRef:       metadataRef,
		VerificationLevel: 0,
		IsActive:          true,
		IsRevoked:         false,
		CreatedAt:         now,
		LastUpdatedAt:     now,
	}
	if err := s.putIdentity(ctx, &identity); err != nil {
		return "", fmt.Errorf("CreateIdentity: %w", err)
	}
	if err := ctx.GetStub().PutState(hashKey, []byte(id)); err != nil {
		return "", fmt.Errorf("CreateIdentity: failed to save identity hash index for '%s': %w", id, err)
	}
	if err := ctx.GetStub().PutState(bindingKey, []byte(id)); err != nil {
		return "", fmt.Errorf("CreateIdentity: failed to save owner binding for '%s': %w", caller, err)
	}
	if err := s.incrementTotalIdentities(ctx); err != nil {
		return "", fmt.Errorf("CreateIdentity: %w", err)
	}

	s.emitEvent(ctx, "IdentityCreated", map[string]interface{}{
		"identityId":   id,
		"owner":        caller,
		"identityHash": identityHash,
		"metadataRef":  metadataRef,
		"createdAt":    now,
	})
	logger.Infof("Identity '%s' created for principal '%s'.", id, caller)
	return id, nil
}

// UpdateIdentity replaces the metadata reference of an identity. Owner-only;
// the identity must be active and not revoked.
func (s *IdentitySmartContract) UpdateIdentity(ctx contractapi.TransactionContextInterface, id, newMetadataRef string) error {
	am := NewAccessManager(ctx)
	if err := am.RequireNotPaused(); err != nil {
		return fmt.Errorf("UpdateIdentity: %w", err)
	}
	caller, err := am.GetCallerID()
	if err != nil {
		return fmt.Errorf("UpdateIdentity: failed to get caller identity: %w", err)
	}
	if err := s.validateOptionalString(newMetadataRef, "newMetadataRef", maxStringInputLength); err != nil {
		return err
	}

	identity, err := s.getIdentityByID(ctx, id)
	if err != nil {
		return fmt.Errorf("UpdateIdentity: %w", err)
	}
	if identity.Owner != caller {
		return fmt.Errorf("caller '%s' does not own identity '%s': %w", caller, id, ErrNotOwner)
	}
	if identity.IsRevoked {
		return fmt.Errorf("identity '%s': %w", id, ErrIdentityRevoked)
	}
	if !identity.IsActive {
		return fmt.Errorf("identity '%s': %w", id, ErrIdentityInactive)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("UpdateIdentity: %w", err)
	}
	identity.MetadataRef = newMetadataRef
	identity.LastUpdatedAt = now
	if err := s.putIdentity(ctx, identity); err != nil {
		return fmt.Errorf("UpdateIdentity: %w", err)
	}

	s.emitEvent(ctx, "IdentityUpdated", map[string]interface{}{
		"identityId":  id,
		"owner":       caller,
		"metadataRef": newMetadataRef,
		"updatedAt":   now,
	})
	logger.Infof("Identity '%s' metadata updated by owner '%s'.", id, caller)
	return nil
}

// RevokeIdentity terminates an identity. Allowed by the owner or an
// administrator. Terminal: no further mutating operation on the identity
// succeeds afterwards. The owner binding is freed so the principal may
// register a fresh identity.
func (s *IdentitySmartContract) RevokeIdentity(ctx contractapi.TransactionContextInterface, id string) error {
	am := NewAccessManager(ctx)
	if err := am.RequireNotPaused(); err != nil {
		return fmt.Errorf("RevokeIdentity: %w", err)
	}
	caller, err := am.GetCallerID()
	if err != nil {
		return fmt.Errorf("RevokeIdentity: failed to get caller identity: %w", err)
	}

	identity, err := s.getIdentityByID(ctx, id)
	if err != nil {
		return fmt.Errorf("RevokeIdentity: %w", err)
	}
	if identity.IsRevoked {
		return fmt.Errorf("identity '%s': %w", id, ErrAlreadyRevoked)
	}
	if identity.Owner != caller {
		isAdmin, err := am.HasRole(RoleAdmin, caller)
		if err != nil {
			return fmt.Errorf("RevokeIdentity: failed to check admin status: %w", err)
		}
		if !isAdmin {
			return fmt.Errorf("caller '%s' is neither owner nor admin for identity '%s': %w", caller, id, ErrUnauthorized)
		}
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("RevokeIdentity: %w", err)
	}
	identity.IsActive = false
	identity.IsRevoked = true
	identity.LastUpdatedAt = now
	if err := s.putIdentity(ctx, identity); err != nil {
		return fmt.Errorf("RevokeIdentity: %w", err)
	}

	bindingKey, err := s.createOwnerBindingKey(ctx, identity.Owner)
	if err != nil {
		return fmt.Errorf("RevokeIdentity: failed to create owner binding key: %w", err)
	}
	if err := ctx.GetStub().DelState(bindingKey); err != nil {
		return fmt.Errorf("RevokeIdentity: failed to clear owner binding for '%s': %w", identity.Owner, err)
	}

	s.emitEvent(ctx, "IdentityRevoked", map[string]interface{}{
		"identityId": id,
		"owner":      identity.Owner,
		"revokedBy":  caller,
		"revokedAt":  now,
	})
	logger.Infof("Identity '%s' revoked by '%s'.", id, caller)
	return nil
}

// VerifyOwnership reports whether principal currently controls the identity:
// true iff principal is the owner AND the identity is active AND not
// revoked. An unknown identity yields false.
func (s *IdentitySmartContract) VerifyOwnership(ctx contractapi.TransactionContextInterface, id, principal string) (bool, error) {
	identity, err := s.getIdentityByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("VerifyOwnership: %w", err)
	}
	return identity.Owner == principal && identity.IsActive && !identity.IsRevoked, nil
}

// transferIdentityOwner moves control of an identity to a new principal.
// Internal-only: invoked exclusively by the recovery quorum path, within the
// same transaction that supplies the final approval. The old binding is
// cleared and the new one installed so there is never a dual-owner window.
func (s *IdentitySmartContract) transferIdentityOwner(ctx contractapi.TransactionContextInterface, identity *model.Identity, newOwner string, now time.Time) error {
	newBindingKey, err := s.createOwnerBindingKey(ctx, newOwner)
	if err != nil {
		return fmt.Errorf("transferIdentityOwner: failed to create binding key for '%s': %w", newOwner, err)
	}
	boundBytes, err := ctx.GetStub().GetState(newBindingKey)
	if err != nil {
		return fmt.Errorf("transferIdentityOwner: failed to check binding for '%s': %w", newOwner, err)
	}
	if boundBytes != nil {
		return fmt.Errorf("proposed owner '%s' controls identity '%s': %w", newOwner, string(boundBytes), ErrPrincipalAlreadyBound)
	}

	oldBindingKey, err := s.createOwnerBindingKey(ctx, identity.Owner)
	if err != nil {
		return fmt.Errorf("transferIdentityOwner: failed to create binding key for '%s': %w", identity.Owner, err)
	}
	if err := ctx.GetStub().DelState(oldBindingKey); err != nil {
		return fmt.Errorf("transferIdentityOwner: failed to clear binding for '%s': %w", identity.Owner, err)
	}
	if err := ctx.GetStub().PutState(newBindingKey, []byte(identity.ID)); err != nil {
		return fmt.Errorf("transferIdentityOwner: failed to install binding for '%s': %w", newOwner, err)
	}

	identity.Owner = newOwner
	identity.LastUpdatedAt = now
	if err := s.putIdentity(ctx, identity); err != nil {
		return fmt.Errorf("transferIdentityOwner: %w", err)
	}
	return nil
}

// putIdentity marshals and saves an identity document.
func (s *IdentitySmartContract) putIdentity(ctx contractapi.TransactionContextInterface, identity *model.Identity) error {
	identityKey, err := s.createIdentityKey(ctx, identity.ID)
	if err != nil {
		return fmt.Errorf("failed to create identity key for '%s': %w", identity.ID, err)
	}
	identityBytes, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to marshal identity '%s': %w", identity.ID, err)
	}
	if err := ctx.GetStub().PutState(identityKey, identityBytes); err != nil {
		return fmt.Errorf("failed to save identity '%s': %w", identity.ID, err)
	}
	return nil
}

func (s *IdentitySmartContract) incrementTotalIdentities(ctx contractapi.TransactionContextInterface) error {
	counterKey, err := ctx.GetStub().CreateCompositeKey(configObjectType, []string{totalIdentitiesConfigName})
	if err != nil {
		return fmt.Errorf("failed to create identity counter key: %w", err)
	}
	counterBytes, err := ctx.GetStub().GetState(counterKey)
	if err != nil {
		return fmt.Errorf("failed to read identity counter: %w", err)
	}
	total := uint64(0)
	if counterBytes != nil {
		total, err = strconv.ParseUint(string(counterBytes), 10, 64)
		if err != nil {
			return fmt.Errorf("failed to parse identity counter '%s': %w", string(counterBytes), err)
		}
	}
	if err := ctx.GetStub().PutState(counterKey, []byte(strconv.FormatUint(total+1, 10))); err != nil {
		return fmt.Errorf("failed to save identity counter: %w", err)
	}
	return nil
}
