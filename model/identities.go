package model

import "time"

// VerificationType ranks attestation methods by assurance strength.
// The numeric order matters: an identity's verification level is the
// strongest type ever validly attested for it.
type VerificationType int

const (
	VerificationTypeEmail        VerificationType = 1
	VerificationTypePhone        VerificationType = 2
	VerificationTypeGovernmentID VerificationType = 3
	VerificationTypeBiometric    VerificationType = 4
)

// Valid reports whether t is within the fixed assurance range.
func (t VerificationType) Valid() bool {
	return t >= VerificationTypeEmail && t <= VerificationTypeBiometric
}

// Identity is the canonical record for one registered entity.
type Identity struct {
	ObjectType        string    `json:"objectType"`        // Set to the composite key object type (Identity)
	ID                string    `json:"id"`                // Content-derived unique identifier, never reused
	IdentityHash      string    `json:"identityHash"`      // Opaque hash of the private identity data
	Owner             string    `json:"owner"`             // Principal currently controlling the identity
	MetadataRef       string    `json:"metadataRef"`       // Opaque external-storage reference (content hash)
	VerificationLevel int       `json:"verificationLevel"` // Strongest verification type recorded, 0 if none
	IsActive          bool      `json:"isActive"`
	IsRevoked         bool      `json:"isRevoked"` // Terminal; IsRevoked implies !IsActive
	CreatedAt         time.Time `json:"createdAt"`
	LastUpdatedAt     time.Time `json:"lastUpdatedAt"`
}

// VerificationRecord is one append-only attestation against an identity,
// addressed by (identity, index).
type VerificationRecord struct {
	ObjectType       string           `json:"objectType"`
	IdentityID       string           `json:"identityId"`
	Index            int              `json:"index"`
	Verifier         string           `json:"verifier"` // Principal that recorded the attestation
	VerificationType VerificationType `json:"verificationType"`
	ProofHash        string           `json:"proofHash"`
	IsValid          bool             `json:"isValid"` // Flipped false by the original verifier only, never deleted
	Timestamp        time.Time        `json:"timestamp"`
}

// GuardianSet holds the principals eligible to vote on recovering an
// identity. Guardians are distinct from the owner and from each other.
type GuardianSet struct {
	ObjectType string   `json:"objectType"`
	IdentityID string   `json:"identityId"`
	Guardians  []string `json:"guardians"`
}

// RecoveryRequest is the single outstanding recovery vote for an identity.
// It exists only while ApprovalCount < Quorum; crossing quorum transfers
// ownership and deletes the request in the same transaction.
type RecoveryRequest struct {
	ObjectType    string          `json:"objectType"`
	IdentityID    string          `json:"identityId"`
	ProposedOwner string          `json:"proposedOwner"`
	InitiatedBy   string          `json:"initiatedBy"`
	InitiatedAt   time.Time       `json:"initiatedAt"`
	Approvals     map[string]bool `json:"approvals"` // Keyed by guardian principal
	ApprovalCount int             `json:"approvalCount"`
	Quorum        int             `json:"quorum"` // Frozen from the guardian count at initiation
}
