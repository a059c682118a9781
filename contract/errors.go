package contract

import "errors"

// Sentinel errors for every failure the contract can return. Operations
// wrap these with fmt.Errorf("...: %w", Err...) so callers keep the
// context string and can still discriminate with errors.Is. Any returned
// error aborts the transaction; the peer discards the write set, so a
// failed operation has no effect.
var (
	ErrSystemPaused = errors.New("system paused")
	ErrUnauthorized = errors.New("unauthorized")

	ErrIdentityNotFound      = errors.New("identity not found")
	ErrDuplicateIdentityHash = errors.New("identity hash already registered")
	ErrPrincipalAlreadyBound = errors.New("principal already controls an active identity")
	ErrNotOwner              = errors.New("caller is not the identity owner")
	ErrIdentityRevoked       = errors.New("identity is revoked")
	ErrIdentityInactive      = errors.New("identity is not active")
	ErrAlreadyRevoked        = errors.New("identity already revoked")

	ErrInvalidVerificationType = errors.New("verification type out of range")
	ErrNotAuthorizedVerifier   = errors.New("caller is not an authorized verifier")
	ErrIndexOutOfRange         = errors.New("verification index out of range")

	ErrNotGuardian            = errors.New("caller is not a guardian of this identity")
	ErrDuplicateGuardian      = errors.New("guardian already registered")
	ErrRecoveryAlreadyPending = errors.New("a recovery request is already pending")
	ErrNoRecoveryPending      = errors.New("no recovery request is pending")
	ErrAlreadyApproved        = errors.New("guardian already approved this recovery")

	ErrPlatformNotFound          = errors.New("platform not found")
	ErrDomainAlreadyRegistered   = errors.New("domain already registered")
	ErrPlatformInactive          = errors.New("platform is not active")
	ErrVerificationAlreadyExists = errors.New("an active platform verification already exists")
	ErrVerificationNotFound      = errors.New("platform verification not found")
	ErrTrustScoreOutOfRange      = errors.New("trust score out of range")
)
