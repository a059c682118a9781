package contract

import (
	"encoding/json"
	"fmt"
	"strconv"

	"identrace/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Lifecycle: Verification (Attestation) Operations ---

// AddVerification appends an attestation record against an identity.
// Requires the verifier role. The identity's verification level is raised
// to the new type if stronger; it never decreases through this path, so a
// lower-type verification added after a higher one leaves the level alone.
func (s *IdentitySmartContract) AddVerification(ctx contractapi.TransactionContextInterface, id string, verificationType int, proofHash string) error {
	am := NewAccessManager(ctx)
	if err := am.RequireNotPaused(); err != nil {
		return fmt.Errorf("AddVerification: %w", err)
	}
	if err := am.RequireRole(RoleVerifier, ErrNotAuthorizedVerifier); err != nil {
		return fmt.Errorf("AddVerification: %w", err)
	}
	verifier, err := am.GetCallerID()
	if err != nil {
		return fmt.Errorf("AddVerification: failed to get caller identity: %w", err)
	}

	vType := model.VerificationType(verificationType)
	if !vType.Valid() {
		return fmt.Errorf("verification type %d: %w", verificationType, ErrInvalidVerificationType)
	}
	if err := s.validateHash(proofHash, "proofHash"); err != nil {
		return err
	}

	identity, err := s.getIdentityByID(ctx, id)
	if err != nil {
		return fmt.Errorf("AddVerification: %w", err)
	}
	if identity.IsRevoked {
		return fmt.Errorf("identity '%s': %w", id, ErrIdentityRevoked)
	}
	if !identity.IsActive {
		return fmt.Errorf("identity '%s': %w", id, ErrIdentityInactive)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("AddVerification: %w", err)
	}

	count, err := s.getVerificationCount(ctx, id)
	if err != nil {
		return fmt.Errorf("AddVerification: %w", err)
	}

	record := model.VerificationRecord{
		ObjectType:       verificationObjectType,
		IdentityID:       id,
		Index:            count,
		Verifier:         verifier,
		VerificationType: vType,
		ProofHash:        proofHash,
		IsValid:          true,
		Timestamp:        now,
	}
	if err := s.putVerificationRecord(ctx, &record); err != nil {
		return fmt.Errorf("AddVerification: %w", err)
	}
	if err := s.putVerificationCount(ctx, id, count+1); err != nil {
		return fmt.Errorf("AddVerification: %w", err)
	}

	if int(vType) > identity.VerificationLevel {
		identity.VerificationLevel = int(vType)
		identity.LastUpdatedAt = now
		if err := s.putIdentity(ctx, identity); err != nil {
			return fmt.Errorf("AddVerification: %w", err)
		}
	}

	s.emitEvent(ctx, "VerificationAdded", map[string]interface{}{
		"identityId":        id,
		"index":             count,
		"verifier":          verifier,
		"verificationType":  int(vType),
		"verificationLevel": identity.VerificationLevel,
		"timestamp":         now,
	})
	logger.Infof("Verification type %d added to identity '%s' by verifier '%s' (record %d, level now %d).",
		vType, id, verifier, count, identity.VerificationLevel)
	return nil
}

// RevokeVerification flips a verification record invalid. Only the original
// verifier of that record may revoke it; records are never deleted.
//
// Policy: the identity's verification level is NOT recomputed downward, even
// when the revoked record is the only one at the current level. The level
// reflects the historical peak assurance reached, not the current valid-set
// maximum.
func (s *IdentitySmartContract) RevokeVerification(ctx contractapi.TransactionContextInterface, id string, index int) error {
	am := NewAccessManager(ctx)
	if err := am.RequireNotPaused(); err != nil {
		return fmt.Errorf("RevokeVerification: %w", err)
	}
	caller, err := am.GetCallerID()
	if err != nil {
		return fmt.Errorf("RevokeVerification: failed to get caller identity: %w", err)
	}

	record, err := s.getVerificationRecord(ctx, id, index)
	if err != nil {
		return fmt.Errorf("RevokeVerification: %w", err)
	}
	if record.Verifier != caller {
		return fmt.Errorf("caller '%s' did not record verification %d of identity '%s': %w", caller, index, id, ErrUnauthorized)
	}
	if !record.IsValid {
		logger.Infof("Verification %d of identity '%s' is already invalid. No action needed.", index, id)
		return nil
	}

	record.IsValid = false
	if err := s.putVerificationRecord(ctx, record); err != nil {
		return fmt.Errorf("RevokeVerification: %w", err)
	}

	s.emitEvent(ctx, "VerificationRevoked", map[string]interface{}{
		"identityId": id,
		"index":      index,
		"verifier":   caller,
	})
	logger.Infof("Verification %d of identity '%s' revoked by verifier '%s'.", index, id, caller)
	return nil
}

// GetVerificationCount returns the number of attestation records appended
// to an identity, valid or not.
func (s *IdentitySmartContract) GetVerificationCount(ctx contractapi.TransactionContextInterface, id string) (int, error) {
	logger.Debugf("Chaincode Call: GetVerificationCount for '%s'", id)
	if _, err := s.getIdentityByID(ctx, id); err != nil {
		return 0, fmt.Errorf("GetVerificationCount: %w", err)
	}
	return s.getVerificationCount(ctx, id)
}

// GetVerification returns one attestation record by ordinal position.
func (s *IdentitySmartContract) GetVerification(ctx contractapi.TransactionContextInterface, id string, index int) (*model.VerificationRecord, error) {
	logger.Debugf("Chaincode Call: GetVerification %d for '%s'", index, id)
	return s.getVerificationRecord(ctx, id, index)
}

// --- Internal Helpers ---

func (s *IdentitySmartContract) getVerificationRecord(ctx contractapi.TransactionContextInterface, id string, index int) (*model.VerificationRecord, error) {
	if index < 0 {
		return nil, fmt.Errorf("index %d: %w", index, ErrIndexOutOfRange)
	}
	recordKey, err := s.createVerificationKey(ctx, id, index)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification key for '%s'[%d]: %w", id, index, err)
	}
	recordBytes, err := ctx.GetStub().GetState(recordKey)
	if err != nil {
		return nil, fmt.Errorf("ledger error reading verification '%s'[%d]: %w", id, index, err)
	}
	if recordBytes == nil {
		return nil, fmt.Errorf("identity '%s' has no verification at index %d: %w", id, index, ErrIndexOutOfRange)
	}
	var record model.VerificationRecord
	if err := json.Unmarshal(recordBytes, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verification '%s'[%d]: %w", id, index, err)
	}
	return &record, nil
}

func (s *IdentitySmartContract) putVerificationRecord(ctx contractapi.TransactionContextInterface, record *model.VerificationRecord) error {
	recordKey, err := s.createVerificationKey(ctx, record.IdentityID, record.Index)
	if err != nil {
		return fmt.Errorf("failed to create verification key for '%s'[%d]: %w", record.IdentityID, record.Index, err)
	}
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal verification '%s'[%d]: %w", record.IdentityID, record.Index, err)
	}
	if err := ctx.GetStub().PutState(recordKey, recordBytes); err != nil {
		return fmt.Errorf("failed to save verification '%s'[%d]: %w", record.IdentityID, record.Index, err)
	}
	return nil
}

func (s *IdentitySmartContract) getVerificationCount(ctx contractapi.TransactionContextInterface, id string) (int, error) {
	countKey, err := s.createVerificationCountKey(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to create verification count key for '%s': %w", id, err)
	}
	countBytes, err := ctx.GetStub().GetState(countKey)
	if err != nil {
		return 0, fmt.Errorf("ledger error reading verification count for '%s': %w", id, err)
	}
	if countBytes == nil {
		return 0, nil
	}
	count, err := strconv.Atoi(string(countBytes))
	if err != nil {
		return 0, fmt.Errorf("failed to parse verification count '%s' for '%s': %w", string(countBytes), id, err)
	}
	return count, nil
}

func (s *IdentitySmartContract) putVerificationCount(ctx contractapi.TransactionContextInterface, id string, count int) error {
	countKey, err := s.createVerificationCountKey(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to create verification count key for '%s': %w", id, err)
	}
	if err := ctx.GetStub().PutState(countKey, []byte(strconv.Itoa(count))); err != nil {
		return fmt.Errorf("failed to save verification count for '%s': %w", id, err)
	}
	return nil
}
