package contract

import (
	"encoding/json"
	"fmt"

	"identrace/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var platLogger = flogging.MustGetLogger("identrace.platformregistry")

// --- Lifecycle: Platform Operations ---

// RegisterPlatform records a third-party platform. Requires the
// platform-admin capability; the domain must be globally unique. The caller
// becomes the platform's admin principal. Returns the derived platform ID.
func (s *IdentitySmartContract) RegisterPlatform(ctx contractapi.TransactionContextInterface, name, domain, platformType string) (string, error) {
	am := NewAccessManager(ctx)
	if err := am.RequireNotPaused(); err != nil {
		return "", fmt.Errorf("RegisterPlatform: %w", err)
	}
	if err := am.RequireRole(RolePlatformAdmin, ErrUnauthorized); err != nil {
		return "", fmt.Errorf("RegisterPlatform: %w", err)
	}
	caller, err := am.GetCallerID()
	if err != nil {
		return "", fmt.Errorf("RegisterPlatform: failed to get caller identity: %w", err)
	}

	if err := s.validateRequiredString(name, "name", maxStringInputLength); err != nil {
		return "", err
	}
	domain = normalizeDomain(domain)
	if err := s.validateRequiredString(domain, "domain", maxDomainLength); err != nil {
		return "", err
	}
	pType := model.PlatformType(platformType)
	if !model.ValidPlatformTypes[pType] {
		return "", fmt.Errorf("invalid platform type '%s'", platformType)
	}

	domainKey, err := s.createPlatformDomainKey(ctx, domain)
	if err != nil {
		return "", fmt.Errorf("RegisterPlatform: failed to create domain key for '%s': %w", domain, err)
	}
	existingIDBytes, err := ctx.GetStub().GetState(domainKey)
	if err != nil {
		return "", fmt.Errorf("RegisterPlatform: failed to check domain availability for '%s': %w", domain, err)
	}
	if existingIDBytes != nil {
		return "", fmt.Errorf("domain '%s' is bound to platform '%s': %w", domain, string(existingIDBytes), ErrDomainAlreadyRegistered)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return "", fmt.Errorf("RegisterPlatform: %w", err)
	}

	platformID := deriveID(ctx, "plat", name, domain)
	platform := model.Platform{
		ObjectType:         platformObjectType,
		ID:                 platformID,
		Name:               name,
		Domain:             domain,
		AdminPrincipal:     caller,
		PlatformType:       pType,
		IsActive:           true,
		TotalVerifications: 0,
		RegisteredAt:       now,
		LastUpdatedAt:      now,
	}
	if err := s.putPlatform(ctx, &platform); err != nil {
		return "", fmt.Errorf("RegisterPlatform: %w", err)
	}
	if err := ctx.GetStub().PutState(domainKey, []byte(platformID)); err != nil {
		return "", fmt.Errorf("RegisterPlatform: failed to save domain index for '%s': %w", domain, err)
	}

	s.emitEvent(ctx, "PlatformRegistered", map[string]interface{}{
		"platformId":     platformID,
		"name":           name,
		"domain":         domain,
		"platformType":   string(pType),
		"adminPrincipal": caller,
		"registeredAt":   now,
	})
	platLogger.Infof("Platform '%s' (%s) registered by '%s' as '%s'.", name, domain, caller, platformID)
	return platformID, nil
}

// DeactivatePlatform marks a platform inactive. Future verification
// creations against it fail with ErrPlatformInactive. Already-issued
// verification records are deliberately untouched: IsPlatformVerificationValid
// does not special-case a deactivated platform. The domain stays taken.
func (s *IdentitySmartContract) DeactivatePlatform(ctx contractapi.TransactionContextInterface, platformID string) error {
	am := NewAccessManager(ctx)
	if err := am.RequireNotPaused(); err != nil {
		return fmt.Errorf("DeactivatePlatform: %w", err)
	}
	platform, err := s.getPlatformByID(ctx, platformID)
	if err != nil {
		return fmt.Errorf("DeactivatePlatform: %w", err)
	}
	if err := s.requirePlatformAdmin(am, platform); err != nil {
		return fmt.Errorf("DeactivatePlatform: %w", err)
	}
	if !platform.IsActive {
		platLogger.Infof("Platform '%s' is already inactive. No action needed.", platformID)
		return nil
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("DeactivatePlatform: %w", err)
	}
	platform.IsActive = false
	platform.LastUpdatedAt = now
	if err := s.putPlatform(ctx, platform); err != nil {
		return fmt.Errorf("DeactivatePlatform: %w", err)
	}

	s.emitEvent(ctx, "PlatformDeactivated", map[string]interface{}{
		"platformId":    platformID,
		"domain":        platform.Domain,
		"deactivatedAt": now,
	})
	platLogger.Infof("Platform '%s' deactivated.", platformID)
	return nil
}

// CreatePlatformVerification records that a platform recognizes an identity
// under a platform-local user identifier. Caller must be the platform's
// admin principal or hold the platform-admin capability. At most one active
// record may exist per (identity, platform) pair; an expired but unrevoked
// record still occupies the slot until explicitly revoked.
func (s *IdentitySmartContract) CreatePlatformVerification(ctx contractapi.TransactionContextInterface,
	identityID, platformID, platformUserID string, expirationDays int, attestationHash string) error {

	am := NewAccessManager(ctx)
	if err := am.RequireNotPaused(); err != nil {
		return fmt.Errorf("CreatePlatformVerification: %w", err)
	}
	platform, err := s.getPlatformByID(ctx, platformID)
	if err != nil {
		return fmt.Errorf("CreatePlatformVerification: %w", err)
	}
	if err := s.requirePlatformAdmin(am, platform); err != nil {
		return fmt.Errorf("CreatePlatformVerification: %w", err)
	}
	if !platform.IsActive {
		return fmt.Errorf("platform '%s': %w", platformID, ErrPlatformInactive)
	}

	if err := s.validateRequiredString(platformUserID, "platformUserId", maxStringInputLength); err != nil {
		return err
	}
	if err := s.validateHash(attestationHash, "attestationHash"); err != nil {
		return err
	}
	if expirationDays < 0 {
		return fmt.Errorf("expirationDays cannot be negative, got %d", expirationDays)
	}

	identity, err := s.getIdentityByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("CreatePlatformVerification: %w", err)
	}
	if identity.IsRevoked {
		return fmt.Errorf("identity '%s': %w", identityID, ErrIdentityRevoked)
	}

	recordKey, err := s.createPlatformVerificationKey(ctx, identityID, platformID)
	if err != nil {
		return fmt.Errorf("CreatePlatformVerification: failed to create record key: %w", err)
	}
	existingBytes, err := ctx.GetStub().GetState(recordKey)
	if err != nil {
		return fmt.Errorf("CreatePlatformVerification: failed to check existing record: %w", err)
	}
	if existingBytes != nil {
		var existing model.PlatformVerification
		if err := json.Unmarshal(existingBytes, &existing); err != nil {
			return fmt.Errorf("CreatePlatformVerification: failed to unmarshal existing record: %w", err)
		}
		if existing.IsActive {
			return fmt.Errorf("identity '%s' on platform '%s': %w", identityID, platformID, ErrVerificationAlreadyExists)
		}
	}

	userKey, err := s.createPlatformUserKey(ctx, platformID, platformUserID)
	if err != nil {
		return fmt.Errorf("CreatePlatformVerification: failed to create platform user key: %w", err)
	}
	linkedIDBytes, err := ctx.GetStub().GetState(userKey)
	if err != nil {
		return fmt.Errorf("CreatePlatformVerification: failed to check platform user index: %w", err)
	}
	if linkedIDBytes != nil && string(linkedIDBytes) != identityID {
		return fmt.Errorf("platform user '%s' on platform '%s' is linked to identity '%s': %w",
			platformUserID, platformID, string(linkedIDBytes), ErrVerificationAlreadyExists)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("CreatePlatformVerification: %w", err)
	}
	record := model.PlatformVerification{
		ObjectType:      platformVerificationObjectType,
		IdentityID:      identityID,
		PlatformID:      platformID,
		PlatformUserID:  platformUserID,
		AttestationHash: attestationHash,
		TrustScore:      model.DefaultTrustScore,
		IsActive:        true,
		VerifiedAt:      now,
	}
	if expirationDays > 0 {
		record.ExpiresAt = now.AddDate(0, 0, expirationDays)
	}

	if err := s.putPlatformVerification(ctx, &record); err != nil {
		return fmt.Errorf("CreatePlatformVerification: %w", err)
	}
	if err := ctx.GetStub().PutState(userKey, []byte(identityID)); err != nil {
		return fmt.Errorf("CreatePlatformVerification: failed to save platform user index: %w", err)
	}
	platform.TotalVerifications++
	platform.LastUpdatedAt = now
	if err := s.putPlatform(ctx, platform); err != nil {
		return fmt.Errorf("CreatePlatformVerification: %w", err)
	}

	s.emitEvent(ctx, "PlatformVerificationCreated", map[string]interface{}{
		"identityId":     identityID,
		"platformId":     platformID,
		"platformUserId": platformUserID,
		"trustScore":     record.TrustScore,
		"verifiedAt":     now,
		"expiresAt":      record.ExpiresAt,
	})
	platLogger.Infof("Platform verification created for identity '%s' on platform '%s' (user '%s').",
		identityID, platformID, platformUserID)
	return nil
}

// RevokePlatformVerification marks a platform verification inactive and
// frees both the (identity, platform) slot and the platform user reverse
// mapping. This is the only path that unblocks re-verification.
func (s *IdentitySmartContract) RevokePlatformVerification(ctx contractapi.TransactionContextInterface, identityID, platformID string) error {
	am := NewAccessManager(ctx)
	if err := am.RequireNotPaused(); err != nil {
		return fmt.Errorf("RevokePlatformVerification: %w", err)
	}
	platform, err := s.getPlatformByID(ctx, platformID)
	if err != nil {
		return fmt.Errorf("RevokePlatformVerification: %w", err)
	}
	if err := s.requirePlatformAdmin(am, platform); err != nil {
		return fmt.Errorf("RevokePlatformVerification: %w", err)
	}

	record, err := s.getPlatformVerification(ctx, identityID, platformID)
	if err != nil {
		return fmt.Errorf("RevokePlatformVerification: %w", err)
	}
	if !record.IsActive {
		platLogger.Infof("Platform verification for identity '%s' on platform '%s' is already revoked. No action needed.", identityID, platformID)
		return nil
	}

	record.IsActive = false
	if err := s.putPlatformVerification(ctx, record); err != nil {
		return fmt.Errorf("RevokePlatformVerification: %w", err)
	}
	userKey, err := s.createPlatformUserKey(ctx, platformID, record.PlatformUserID)
	if err != nil {
		return fmt.Errorf("RevokePlatformVerification: failed to create platform user key: %w", err)
	}
	if err := ctx.GetStub().DelState(userKey); err != nil {
		return fmt.Errorf("RevokePlatformVerification: failed to clear platform user index: %w", err)
	}

	s.emitEvent(ctx, "PlatformVerificationRevoked", map[string]interface{}{
		"identityId":     identityID,
		"platformId":     platformID,
		"platformUserId": record.PlatformUserID,
	})
	platLogger.Infof("Platform verification revoked for identity '%s' on platform '%s'.", identityID, platformID)
	return nil
}

// UpdateTrustScore sets the mutable reputation value of a platform
// verification. Platform-admin gated; the score must be within 0-100.
func (s *IdentitySmartContract) UpdateTrustScore(ctx contractapi.TransactionContextInterface, identityID, platformID string, trustScore int) error {
	am := NewAccessManager(ctx)
	if err := am.RequireNotPaused(); err != nil {
		return fmt.Errorf("UpdateTrustScore: %w", err)
	}
	platform, err := s.getPlatformByID(ctx, platformID)
	if err != nil {
		return fmt.Errorf("UpdateTrustScore: %w", err)
	}
	if err := s.requirePlatformAdmin(am, platform); err != nil {
		return fmt.Errorf("UpdateTrustScore: %w", err)
	}
	if trustScore < 0 || trustScore > model.MaxTrustScore {
		return fmt.Errorf("trust score %d: %w", trustScore, ErrTrustScoreOutOfRange)
	}

	record, err := s.getPlatformVerification(ctx, identityID, platformID)
	if err != nil {
		return fmt.Errorf("UpdateTrustScore: %w", err)
	}
	if !record.IsActive {
		return fmt.Errorf("identity '%s' on platform '%s': %w", identityID, platformID, ErrVerificationNotFound)
	}

	previous := record.TrustScore
	record.TrustScore = trustScore
	if err := s.putPlatformVerification(ctx, record); err != nil {
		return fmt.Errorf("UpdateTrustScore: %w", err)
	}

	s.emitEvent(ctx, "TrustScoreUpdated", map[string]interface{}{
		"identityId":    identityID,
		"platformId":    platformID,
		"previousScore": previous,
		"trustScore":    trustScore,
	})
	platLogger.Infof("Trust score for identity '%s' on platform '%s' updated %d -> %d.", identityID, platformID, previous, trustScore)
	return nil
}

// IsPlatformVerificationValid reports whether the (identity, platform)
// verification is active and unexpired. Expiration is evaluated lazily at
// query time against ledger time; no background sweep exists.
func (s *IdentitySmartContract) IsPlatformVerificationValid(ctx contractapi.TransactionContextInterface, identityID, platformID string) (bool, error) {
	platLogger.Debugf("Chaincode Call: IsPlatformVerificationValid for identity '%s' on platform '%s'", identityID, platformID)
	return s.isVerificationValid(ctx, identityID, platformID)
}

// BatchVerificationCheck applies the validity rule to each identity in the
// JSON-encoded list, in input order, without short-circuiting.
func (s *IdentitySmartContract) BatchVerificationCheck(ctx contractapi.TransactionContextInterface, identityIDsJSON, platformID string) ([]bool, error) {
	var identityIDs []string
	if err := json.Unmarshal([]byte(identityIDsJSON), &identityIDs); err != nil {
		return nil, fmt.Errorf("BatchVerificationCheck: invalid identityIdsJSON: %w", err)
	}
	results := make([]bool, len(identityIDs))
	for i, identityID := range identityIDs {
		valid, err := s.isVerificationValid(ctx, identityID, platformID)
		if err != nil {
			return nil, fmt.Errorf("BatchVerificationCheck: element %d: %w", i, err)
		}
		results[i] = valid
	}
	return results, nil
}

// LookupPlatformUser resolves a platform-local user identifier to the
// verified identity via the reverse index.
func (s *IdentitySmartContract) LookupPlatformUser(ctx contractapi.TransactionContextInterface, platformID, platformUserID string) (string, error) {
	platLogger.Debugf("Chaincode Call: LookupPlatformUser '%s' on platform '%s'", platformUserID, platformID)
	userKey, err := s.createPlatformUserKey(ctx, platformID, platformUserID)
	if err != nil {
		return "", fmt.Errorf("LookupPlatformUser: failed to create platform user key: %w", err)
	}
	identityIDBytes, err := ctx.GetStub().GetState(userKey)
	if err != nil {
		return "", fmt.Errorf("LookupPlatformUser: ledger error reading platform user index: %w", err)
	}
	if identityIDBytes == nil {
		return "", fmt.Errorf("platform user '%s' on platform '%s': %w", platformUserID, platformID, ErrVerificationNotFound)
	}
	return string(identityIDBytes), nil
}

// --- Internal Helpers ---

// requirePlatformAdmin passes when the caller is the platform's admin
// principal or holds the platform-admin capability.
func (s *IdentitySmartContract) requirePlatformAdmin(am *AccessManager, platform *model.Platform) error {
	caller, err := am.GetCallerID()
	if err != nil {
		return fmt.Errorf("failed to get caller for platform admin check: %w", err)
	}
	if caller == platform.AdminPrincipal {
		return nil
	}
	has, err := am.HasRole(RolePlatformAdmin, caller)
	if err != nil {
		return err
	}
	if !has {
		return fmt.Errorf("caller '%s' does not administer platform '%s': %w", caller, platform.ID, ErrUnauthorized)
	}
	return nil
}

func (s *IdentitySmartContract) isVerificationValid(ctx contractapi.TransactionContextInterface, identityID, platformID string) (bool, error) {
	recordKey, err := s.createPlatformVerificationKey(ctx, identityID, platformID)
	if err != nil {
		return false, fmt.Errorf("failed to create record key for '%s'/'%s': %w", identityID, platformID, err)
	}
	recordBytes, err := ctx.GetStub().GetState(recordKey)
	if err != nil {
		return false, fmt.Errorf("ledger error reading record for '%s'/'%s': %w", identityID, platformID, err)
	}
	if recordBytes == nil {
		return false, nil
	}
	var record model.PlatformVerification
	if err := json.Unmarshal(recordBytes, &record); err != nil {
		return false, fmt.Errorf("failed to unmarshal record for '%s'/'%s': %w", identityID, platformID, err)
	}
	if !record.IsActive {
		return false, nil
	}
	if record.ExpiresAt.IsZero() {
		return true, nil
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return false, err
	}
	return !now.After(record.ExpiresAt), nil
}

func (s *IdentitySmartContract) getPlatformByID(ctx contractapi.TransactionContextInterface, platformID string) (*model.Platform, error) {
	platformKey, err := s.createPlatformKey(ctx, platformID)
	if err != nil {
		return nil, fmt.Errorf("failed to create platform key for '%s': %w", platformID, err)
	}
	platformBytes, err := ctx.GetStub().GetState(platformKey)
	if err != nil {
		return nil, fmt.Errorf("ledger error reading platform '%s': %w", platformID, err)
	}
	if platformBytes == nil {
		return nil, fmt.Errorf("platform '%s': %w", platformID, ErrPlatformNotFound)
	}
	var platform model.Platform
	if err := json.Unmarshal(platformBytes, &platform); err != nil {
		return nil, fmt.Errorf("failed to unmarshal platform '%s': %w", platformID, err)
	}
	return &platform, nil
}

func (s *IdentitySmartContract) putPlatform(ctx contractapi.TransactionContextInterface, platform *model.Platform) error {
	platformKey, err := s.createPlatformKey(ctx, platform.ID)
	if err != nil {
		return fmt.Errorf("failed to create platform key for '%s': %w", platform.ID, err)
	}
	platformBytes, err := json.Marshal(platform)
	if err != nil {
		return fmt.Errorf("failed to marshal platform '%s': %w", platform.ID, err)
	}
	if err := ctx.GetStub().PutState(platformKey, platformBytes); err != nil {
		return fmt.Errorf("failed to save platform '%s': %w", platform.ID, err)
	}
	return nil
}

func (s *IdentitySmartContract) getPlatformVerification(ctx contractapi.TransactionContextInterface, identityID, platformID string) (*model.PlatformVerification, error) {
	recordKey, err := s.createPlatformVerificationKey(ctx, identityID, platformID)
	if err != nil {
		return nil, fmt.Errorf("failed to create record key for '%s'/'%s': %w", identityID, platformID, err)
	}
	recordBytes, err := ctx.GetStub().GetState(recordKey)
	if err != nil {
		return nil, fmt.Errorf("ledger error reading record for '%s'/'%s': %w", identityID, platformID, err)
	}
	if recordBytes == nil {
		return nil, fmt.Errorf("identity '%s' on platform '%s': %w", identityID, platformID, ErrVerificationNotFound)
	}
	var record model.PlatformVerification
	if err := json.Unmarshal(recordBytes, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record for '%s'/'%s': %w", identityID, platformID, err)
	}
	return &record, nil
}

func (s *IdentitySmartContract) putPlatformVerification(ctx contractapi.TransactionContextInterface, record *model.PlatformVerification) error {
	recordKey, err := s.createPlatformVerificationKey(ctx, record.IdentityID, record.PlatformID)
	if err != nil {
		return fmt.Errorf("failed to create record key for '%s'/'%s': %w", record.IdentityID, record.PlatformID, err)
	}
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record for '%s'/'%s': %w", record.IdentityID, record.PlatformID, err)
	}
	if err := ctx.GetStub().PutState(recordKey, recordBytes); err != nil {
		return fmt.Errorf("failed to save record for '%s'/'%s': %w", record.IdentityID, record.PlatformID, err)
	}
	return nil
}
