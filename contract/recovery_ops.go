package contract

import (
	"encoding/json"
	"fmt"

	"identrace/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Lifecycle: Guardian & Recovery Operations ---
//
// Recovery is a small state machine per identity:
// NoRequest -> PendingRecovery -> (quorum reached) -> NoRequest, with the
// owner changed as a side effect. Crossing quorum is the commit point: the
// ownership transfer happens inside the same transaction that supplies the
// last needed approval, and no request state survives it.

// AddGuardian designates a principal as eligible to vote on recovering the
// identity. Owner-only. The owner itself and existing guardians are
// rejected.
func (s *IdentitySmartContract) AddGuardian(ctx contractapi.TransactionContextInterface, id, guardian string) error {
	am := NewAccessManager(ctx)
	if err := am.RequireNotPaused(); err != nil {
		return fmt.Errorf("AddGuardian: %w", err)
	}
	caller, err := am.GetCallerID()
	if err != nil {
		return fmt.Errorf("AddGuardian: failed to get caller identity: %w", err)
	}
	if err := s.validateRequiredString(guardian, "guardian", maxStringInputLength); err != nil {
		return err
	}

	identity, err := s.getIdentityByID(ctx, id)
	if err != nil {
		return fmt.Errorf("AddGuardian: %w", err)
	}
	if identity.IsRevoked {
		return fmt.Errorf("identity '%s': %w", id, ErrIdentityRevoked)
	}
	if identity.Owner != caller {
		return fmt.Errorf("caller '%s' does not own identity '%s': %w", caller, id, ErrNotOwner)
	}
	if guardian == identity.Owner {
		return fmt.Errorf("owner '%s' cannot be a guardian of its own identity", guardian)
	}

	guardians, err := s.getGuardianSet(ctx, id)
	if err != nil {
		return fmt.Errorf("AddGuardian: %w", err)
	}
	for _, g := range guardians.Guardians {
		if g == guardian {
			return fmt.Errorf("'%s' for identity '%s': %w", guardian, id, ErrDuplicateGuardian)
		}
	}
	guardians.Guardians = append(guardians.Guardians, guardian)
	if err := s.putGuardianSet(ctx, guardians); err != nil {
		return fmt.Errorf("AddGuardian: %w", err)
	}

	s.emitEvent(ctx, "GuardianAdded", map[string]interface{}{
		"identityId":    id,
		"guardian":      guardian,
		"guardianCount": len(guardians.Guardians),
	})
	logger.Infof("Guardian '%s' added to identity '%s' (now %d guardians).", guardian, id, len(guardians.Guardians))
	return nil
}

// GetGuardians returns the guardian list of an identity.
func (s *IdentitySmartContract) GetGuardians(ctx contractapi.TransactionContextInterface, id string) ([]string, error) {
	logger.Debugf("Chaincode Call: GetGuardians for '%s'", id)
	if _, err := s.getIdentityByID(ctx, id); err != nil {
		return nil, fmt.Errorf("GetGuardians: %w", err)
	}
	guardians, err := s.getGuardianSet(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetGuardians: %w", err)
	}
	return guardians.Guardians, nil
}

// InitiateRecovery opens a recovery vote proposing a new owner. The caller
// must be a guardian and counts as the first approval. The quorum is frozen
// from the guardian count at this moment; later guardian-set changes do not
// retroactively change it. With a single guardian the quorum is 1, so the
// transfer commits within this same transaction.
func (s *IdentitySmartContract) InitiateRecovery(ctx contractapi.TransactionContextInterface, id, proposedOwner string) error {
	am := NewAccessManager(ctx)
	if err := am.RequireNotPaused(); err != nil {
		return fmt.Errorf("InitiateRecovery: %w", err)
	}
	caller, err := am.GetCallerID()
	if err != nil {
		return fmt.Errorf("InitiateRecovery: failed to get caller identity: %w", err)
	}
	if err := s.validateRequiredString(proposedOwner, "proposedOwner", maxStringInputLength); err != nil {
		return err
	}

	identity, err := s.getIdentityByID(ctx, id)
	if err != nil {
		return fmt.Errorf("InitiateRecovery: %w", err)
	}
	if identity.IsRevoked {
		return fmt.Errorf("identity '%s': %w", id, ErrIdentityRevoked)
	}

	guardians, err := s.getGuardianSet(ctx, id)
	if err != nil {
		return fmt.Errorf("InitiateRecovery: %w", err)
	}
	if !containsPrincipal(guardians.Guardians, caller) {
		return fmt.Errorf("caller '%s' for identity '%s': %w", caller, id, ErrNotGuardian)
	}

	requestKey, err := s.createRecoveryRequestKey(ctx, id)
	if err != nil {
		return fmt.Errorf("InitiateRecovery: failed to create recovery request key: %w", err)
	}
	existingBytes, err := ctx.GetStub().GetState(requestKey)
	if err != nil {
		return fmt.Errorf("InitiateRecovery: failed to check for pending recovery: %w", err)
	}
	if existingBytes != nil {
		return fmt.Errorf("identity '%s': %w", id, ErrRecoveryAlreadyPending)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("InitiateRecovery: %w", err)
	}

	request := model.RecoveryRequest{
		ObjectType:    recoveryRequestObjectType,
		IdentityID:    id,
		ProposedOwner: proposedOwner,
		InitiatedBy:   caller,
		InitiatedAt:   now,
		Approvals:     map[string]bool{caller: true},
		ApprovalCount: 1,
		Quorum:        len(guardians.Guardians)/2 + 1,
	}

	s.emitEvent(ctx, "RecoveryInitiated", map[string]interface{}{
		"identityId":    id,
		"proposedOwner": proposedOwner,
		"initiatedBy":   caller,
		"quorum":        request.Quorum,
	})

	if request.ApprovalCount >= request.Quorum {
		if err := s.commitRecovery(ctx, identity, &request); err != nil {
			return fmt.Errorf("InitiateRecovery: %w", err)
		}
		logger.Infof("Recovery of identity '%s' initiated and committed by sole guardian '%s'.", id, caller)
		return nil
	}

	requestBytes, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("InitiateRecovery: failed to marshal recovery request for '%s': %w", id, err)
	}
	if err := ctx.GetStub().PutState(requestKey, requestBytes); err != nil {
		return fmt.Errorf("InitiateRecovery: failed to save recovery request for '%s': %w", id, err)
	}
	logger.Infof("Recovery of identity '%s' initiated by guardian '%s' (1 of %d approvals).", id, caller, request.Quorum)
	return nil
}

// ApproveRecovery adds a guardian's approval to the pending recovery. When
// the approval crosses the quorum frozen at initiation, ownership transfers
// and the request is consumed, all within this transaction.
func (s *IdentitySmartContract) ApproveRecovery(ctx contractapi.TransactionContextInterface, id string) error {
	am := NewAccessManager(ctx)
	if err := am.RequireNotPaused(); err != nil {
		return fmt.Errorf("ApproveRecovery: %w", err)
	}
	caller, err := am.GetCallerID()
	if err != nil {
		return fmt.Errorf("ApproveRecovery: failed to get caller identity: %w", err)
	}

	identity, err := s.getIdentityByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ApproveRecovery: %w", err)
	}
	if identity.IsRevoked {
		return fmt.Errorf("identity '%s': %w", id, ErrIdentityRevoked)
	}

	guardians, err := s.getGuardianSet(ctx, id)
	if err != nil {
		return fmt.Errorf("ApproveRecovery: %w", err)
	}
	if !containsPrincipal(guardians.Guardians, caller) {
		return fmt.Errorf("caller '%s' for identity '%s': %w", caller, id, ErrNotGuardian)
	}

	requestKey, err := s.createRecoveryRequestKey(ctx, id)
	if err != nil {
		return fmt.Errorf("ApproveRecovery: failed to create recovery request key: %w", err)
	}
	requestBytes, err := ctx.GetStub().GetState(requestKey)
	if err != nil {
		return fmt.Errorf("ApproveRecovery: failed to read recovery request for '%s': %w", id, err)
	}
	if requestBytes == nil {
		return fmt.Errorf("identity '%s': %w", id, ErrNoRecoveryPending)
	}
	var request model.RecoveryRequest
	if err := json.Unmarshal(requestBytes, &request); err != nil {
		return fmt.Errorf("ApproveRecovery: failed to unmarshal recovery request for '%s': %w", id, err)
	}
	if request.Approvals[caller] {
		return fmt.Errorf("guardian '%s' on identity '%s': %w", caller, id, ErrAlreadyApproved)
	}

	request.Approvals[caller] = true
	request.ApprovalCount++

	s.emitEvent(ctx, "RecoveryApproved", map[string]interface{}{
		"identityId":    id,
		"guardian":      caller,
		"approvalCount": request.ApprovalCount,
		"quorum":        request.Quorum,
	})

	if request.ApprovalCount >= request.Quorum {
		if err := s.commitRecovery(ctx, identity, &request); err != nil {
			return fmt.Errorf("ApproveRecovery: %w", err)
		}
		logger.Infof("Recovery of identity '%s' committed: approval by '%s' crossed quorum %d.", id, caller, request.Quorum)
		return nil
	}

	updatedBytes, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("ApproveRecovery: failed to marshal recovery request for '%s': %w", id, err)
	}
	if err := ctx.GetStub().PutState(requestKey, updatedBytes); err != nil {
		return fmt.Errorf("ApproveRecovery: failed to save recovery request for '%s': %w", id, err)
	}
	logger.Infof("Recovery of identity '%s' approved by '%s' (%d of %d approvals).", id, caller, request.ApprovalCount, request.Quorum)
	return nil
}

// GetPendingRecovery returns the outstanding recovery request of an
// identity, or ErrNoRecoveryPending when there is none.
func (s *IdentitySmartContract) GetPendingRecovery(ctx contractapi.TransactionContextInterface, id string) (*model.RecoveryRequest, error) {
	logger.Debugf("Chaincode Call: GetPendingRecovery for '%s'", id)
	if _, err := s.getIdentityByID(ctx, id); err != nil {
		return nil, fmt.Errorf("GetPendingRecovery: %w", err)
	}
	requestKey, err := s.createRecoveryRequestKey(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetPendingRecovery: failed to create recovery request key: %w", err)
	}
	requestBytes, err := ctx.GetStub().GetState(requestKey)
	if err != nil {
		return nil, fmt.Errorf("GetPendingRecovery: failed to read recovery request for '%s': %w", id, err)
	}
	if requestBytes == nil {
		return nil, fmt.Errorf("identity '%s': %w", id, ErrNoRecoveryPending)
	}
	var request model.RecoveryRequest
	if err := json.Unmarshal(requestBytes, &request); err != nil {
		return nil, fmt.Errorf("GetPendingRecovery: failed to unmarshal recovery request for '%s': %w", id, err)
	}
	return &request, nil
}

// commitRecovery performs the quorum side effect: ownership moves through
// transferIdentityOwner and the request (with all approval flags) is
// consumed. No request state survives the transfer.
func (s *IdentitySmartContract) commitRecovery(ctx contractapi.TransactionContextInterface, identity *model.Identity, request *model.RecoveryRequest) error {
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return err
	}
	previousOwner := identity.Owner
	if err := s.transferIdentityOwner(ctx, identity, request.ProposedOwner, now); err != nil {
		return err
	}
	requestKey, err := s.createRecoveryRequestKey(ctx, request.IdentityID)
	if err != nil {
		return fmt.Errorf("failed to create recovery request key for '%s': %w", request.IdentityID, err)
	}
	if err := ctx.GetStub().DelState(requestKey); err != nil {
		return fmt.Errorf("failed to consume recovery request for '%s': %w", request.IdentityID, err)
	}

	s.emitEvent(ctx, "IdentityRecovered", map[string]interface{}{
		"identityId":    request.IdentityID,
		"previousOwner": previousOwner,
		"newOwner":      request.ProposedOwner,
		"approvalCount": request.ApprovalCount,
		"quorum":        request.Quorum,
		"recoveredAt":   now,
	})
	return nil
}

// --- Internal Helpers ---

func (s *IdentitySmartContract) getGuardianSet(ctx contractapi.TransactionContextInterface, id string) (*model.GuardianSet, error) {
	setKey, err := s.createGuardianSetKey(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create guardian set key for '%s': %w", id, err)
	}
	setBytes, err := ctx.GetStub().GetState(setKey)
	if err != nil {
		return nil, fmt.Errorf("ledger error reading guardian set for '%s': %w", id, err)
	}
	if setBytes == nil {
		return &model.GuardianSet{ObjectType: guardianSetObjectType, IdentityID: id, Guardians: []string{}}, nil
	}
	var set model.GuardianSet
	if err := json.Unmarshal(setBytes, &set); err != nil {
		return nil, fmt.Errorf("failed to unmarshal guardian set for '%s': %w", id, err)
	}
	if set.Guardians == nil {
		set.Guardians = []string{}
	}
	return &set, nil
}

func (s *IdentitySmartContract) putGuardianSet(ctx contractapi.TransactionContextInterface, set *model.GuardianSet) error {
	setKey, err := s.createGuardianSetKey(ctx, set.IdentityID)
	if err != nil {
		return fmt.Errorf("failed to create guardian set key for '%s': %w", set.IdentityID, err)
	}
	setBytes, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal guardian set for '%s': %w", set.IdentityID, err)
	}
	if err := ctx.GetStub().PutState(setKey, setBytes); err != nil {
		return fmt.Errorf("failed to save guardian set for '%s': %w", set.IdentityID, err)
	}
	return nil
}

func containsPrincipal(principals []string, principal string) bool {
	for _, p := range principals {
		if p == principal {
			return true
		}
	}
	return false
}
