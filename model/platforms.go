package model

import "time"

// PlatformType categorizes a registered third-party platform.
type PlatformType string

const (
	PlatformTypeSocial     PlatformType = "SOCIAL"
	PlatformTypeFinancial  PlatformType = "FINANCIAL"
	PlatformTypeGovernment PlatformType = "GOVERNMENT"
	PlatformTypeHealthcare PlatformType = "HEALTHCARE"
	PlatformTypeEducation  PlatformType = "EDUCATION"
	PlatformTypeOther      PlatformType = "OTHER"
)

// ValidPlatformTypes is the set of accepted platform categories.
var ValidPlatformTypes = map[PlatformType]bool{
	PlatformTypeSocial:     true,
	PlatformTypeFinancial:  true,
	PlatformTypeGovernment: true,
	PlatformTypeHealthcare: true,
	PlatformTypeEducation:  true,
	PlatformTypeOther:      true,
}

// Platform is a registered third-party platform that can attest to
// identities it recognizes.
type Platform struct {
	ObjectType         string       `json:"objectType"`
	ID                 string       `json:"id"`     // Content-derived from name, domain and tx freshness
	Name               string       `json:"name"`
	Domain             string       `json:"domain"` // Globally unique, lowercase
	AdminPrincipal     string       `json:"adminPrincipal"`
	PlatformType       PlatformType `json:"platformType"`
	IsActive           bool         `json:"isActive"`
	TotalVerifications int          `json:"totalVerifications"`
	RegisteredAt       time.Time    `json:"registeredAt"`
	LastUpdatedAt      time.Time    `json:"lastUpdatedAt"`
}

const (
	// DefaultTrustScore is assigned to every new platform verification.
	DefaultTrustScore = 50
	// MaxTrustScore bounds the mutable reputation value.
	MaxTrustScore = 100
)

// PlatformVerification asserts that a platform recognizes an identity
// under a platform-local user identifier. Keyed by (identity, platform);
// at most one active record per pair at a time.
type PlatformVerification struct {
	ObjectType      string    `json:"objectType"`
	IdentityID      string    `json:"identityId"`
	PlatformID      string    `json:"platformId"`
	PlatformUserID  string    `json:"platformUserId"`
	AttestationHash string    `json:"attestationHash"`
	TrustScore      int       `json:"trustScore"` // 0-100, starts at DefaultTrustScore
	IsActive        bool      `json:"isActive"`
	VerifiedAt      time.Time `json:"verifiedAt"`
	ExpiresAt       time.Time `json:"expiresAt"` // Zero value means the verification never expires
}
