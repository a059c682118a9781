package contract

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"golang.org/x/crypto/sha3"
)

// Constants for input validation and limits.
const (
	maxStringInputLength = 256
	maxHashInputLength   = 128
	maxDomainLength      = 253
)

// --- Core Helper Methods (used across multiple operations) ---

// getCurrentTxTimestamp retrieves the current transaction timestamp from the
// stub. This is the system's logical clock: identical on every peer that
// executes the transaction.
func (s *IdentitySmartContract) getCurrentTxTimestamp(ctx contractapi.TransactionContextInterface) (time.Time, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

// deriveID produces a content-derived identifier from the given parts plus
// the transaction ID. The txID is the freshness value: unguessable before
// the transaction is ordered, deterministic afterwards, never reused.
func deriveID(ctx contractapi.TransactionContextInterface, prefix string, parts ...string) string {
	h := sha3.New256()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	h.Write([]byte(ctx.GetStub().GetTxID()))
	return prefix + ":" + hex.EncodeToString(h.Sum(nil))
}

// --- Key Creation Helpers (using Composite Keys) ---

func (s *IdentitySmartContract) createIdentityKey(ctx contractapi.TransactionContextInterface, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("identity ID cannot be empty")
	}
	return ctx.GetStub().CreateCompositeKey(identityObjectType, []string{id})
}

func (s *IdentitySmartContract) createIdentityHashKey(ctx contractapi.TransactionContextInterface, identityHash string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(identityHashObjectType, []string{identityHash})
}

func (s *IdentitySmartContract) createOwnerBindingKey(ctx contractapi.TransactionContextInterface, principal string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(ownerBindingObjectType, []string{principal})
}

func (s *IdentitySmartContract) createVerificationKey(ctx contractapi.TransactionContextInterface, id string, index int) (string, error) {
	return ctx.GetStub().CreateCompositeKey(verificationObjectType, []string{id, fmt.Sprintf("%010d", index)})
}

func (s *IdentitySmartContract) createVerificationCountKey(ctx contractapi.TransactionContextInterface, id string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(verificationCountObjectType, []string{id})
}

func (s *IdentitySmartContract) createGuardianSetKey(ctx contractapi.TransactionContextInterface, id string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(guardianSetObjectType, []string{id})
}

func (s *IdentitySmartContract) createRecoveryRequestKey(ctx contractapi.TransactionContextInterface, id string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(recoveryRequestObjectType, []string{id})
}

func (s *IdentitySmartContract) createPlatformKey(ctx contractapi.TransactionContextInterface, platformID string) (string, error) {
	platformID = strings.TrimSpace(platformID)
	if platformID == "" {
		return "", errors.New("platform ID cannot be empty")
	}
	return ctx.GetStub().CreateCompositeKey(platformObjectType, []string{platformID})
}

func (s *IdentitySmartContract) createPlatformDomainKey(ctx contractapi.TransactionContextInterface, domain string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(platformDomainObjectType, []string{domain})
}

func (s *IdentitySmartContract) createPlatformVerificationKey(ctx contractapi.TransactionContextInterface, identityID, platformID string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(platformVerificationObjectType, []string{identityID, platformID})
}

func (s *IdentitySmartContract) createPlatformUserKey(ctx contractapi.TransactionContextInterface, platformID, platformUserID string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(platformUserObjectType, []string{platformID, platformUserID})
}

// --- Validation Helper Functions ---

func (s *IdentitySmartContract) validateRequiredString(input, field string, max int) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

func (s *IdentitySmartContract) validateOptionalString(input, field string, max int) error {
	if input != "" && len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

// validateHash checks an opaque hash argument. Hashes are never decoded,
// only compared, so the check is length and presence only.
func (s *IdentitySmartContract) validateHash(input, field string) error {
	return s.validateRequiredString(input, field, maxHashInputLength)
}

// normalizeDomain lowers and trims a platform domain; domains are compared
// case-insensitively for the uniqueness check.
func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// --- Event Emission ---

// emitEvent sends a chaincode event with a JSON payload. Events are for
// external indexers only; a failure to emit is logged but never fails the
// operation.
func (s *IdentitySmartContract) emitEvent(ctx contractapi.TransactionContextInterface, eventName string, payload map[string]interface{}) {
	for k, v := range payload {
		if t, ok := v.(time.Time); ok {
			payload[k] = t.Format(time.RFC3339)
		}
	}
	eventBytes, err := json.Marshal(payload)
	if err != nil {
		logger.Warningf("emitEvent: failed to marshal payload for event '%s': %v", eventName, err)
		return
	}
	if err := ctx.GetStub().SetEvent(eventName, eventBytes); err != nil {
		logger.Warningf("emitEvent: failed to set event '%s': %v", eventName, err)
	}
}
