package contract

import (
	"errors"
	"testing"
	"time"

	"identrace/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// platformEnv returns an initialized env with the platform-admin role
// granted to the platform operator principal.
func platformEnv(t *testing.T) *env {
	t.Helper()
	e := initializedEnv(t)
	require.NoError(t, e.sc.GrantRole(e.as(principalAdmin), RolePlatformAdmin, principalPlatOp))
	return e
}

// registerTestPlatform registers a platform as the operator and returns its ID.
func registerTestPlatform(t *testing.T, e *env, name, domain string) string {
	t.Helper()
	platformID, err := e.sc.RegisterPlatform(e.as(principalPlatOp), name, domain, string(model.PlatformTypeSocial))
	require.NoError(t, err)
	require.NotEmpty(t, platformID)
	return platformID
}

func TestRegisterPlatformRoundTrip(t *testing.T) {
	e := platformEnv(t)

	platformID, err := e.sc.RegisterPlatform(e.as(principalPlatOp), "ChirpNet", "Chirp.Example.COM", string(model.PlatformTypeSocial))
	require.NoError(t, err)
	assert.Contains(t, platformID, "plat:")

	platform, err := e.sc.GetPlatform(e.as(principalAlice), platformID)
	require.NoError(t, err)
	assert.Equal(t, "ChirpNet", platform.Name)
	assert.Equal(t, "chirp.example.com", platform.Domain) // normalized at registration
	assert.Equal(t, principalPlatOp, platform.AdminPrincipal)
	assert.Equal(t, model.PlatformTypeSocial, platform.PlatformType)
	assert.True(t, platform.IsActive)
	assert.Equal(t, 0, platform.TotalVerifications)
}

func TestRegisterPlatformRequiresRole(t *testing.T) {
	e := platformEnv(t)

	_, err := e.sc.RegisterPlatform(e.as(principalAlice), "Rogue", "rogue.example.com", string(model.PlatformTypeOther))
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestRegisterPlatformDomainUniqueCaseInsensitive(t *testing.T) {
	e := platformEnv(t)
	registerTestPlatform(t, e, "ChirpNet", "chirp.example.com")

	_, err := e.sc.RegisterPlatform(e.as(principalPlatOp), "Impostor", "CHIRP.example.com", string(model.PlatformTypeOther))
	assert.True(t, errors.Is(err, ErrDomainAlreadyRegistered))
}

func TestRegisterPlatformRejectsUnknownType(t *testing.T) {
	e := platformEnv(t)

	_, err := e.sc.RegisterPlatform(e.as(principalPlatOp), "Oddball", "odd.example.com", "GAMING")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid platform type")
}

func TestGetPlatformByDomain(t *testing.T) {
	e := platformEnv(t)
	platformID := registerTestPlatform(t, e, "ChirpNet", "chirp.example.com")

	platform, err := e.sc.GetPlatformByDomain(e.as(principalAlice), "Chirp.Example.Com")
	require.NoError(t, err)
	assert.Equal(t, platformID, platform.ID)

	_, err = e.sc.GetPlatformByDomain(e.as(principalAlice), "nowhere.example.com")
	assert.True(t, errors.Is(err, ErrPlatformNotFound))
}

func TestDeactivatePlatformBlocksNewVerifications(t *testing.T) {
	e := platformEnv(t)
	platformID := registerTestPlatform(t, e, "ChirpNet", "chirp.example.com")
	id := createTestIdentity(t, e, principalAlice, "hash-p1")

	require.NoError(t, e.sc.DeactivatePlatform(e.as(principalPlatOp), platformID))
	// Deactivating twice is a no-op.
	require.NoError(t, e.sc.DeactivatePlatform(e.as(principalPlatOp), platformID))

	err := e.sc.CreatePlatformVerification(e.as(principalPlatOp), id, platformID, "alice01", 0, "att-hash")
	assert.True(t, errors.Is(err, ErrPlatformInactive))

	// The domain stays taken after deactivation.
	_, err = e.sc.RegisterPlatform(e.as(principalPlatOp), "Reborn", "chirp.example.com", string(model.PlatformTypeSocial))
	assert.True(t, errors.Is(err, ErrDomainAlreadyRegistered))
}

func TestCreatePlatformVerificationRoundTrip(t *testing.T) {
	e := platformEnv(t)
	platformID := registerTestPlatform(t, e, "ChirpNet", "chirp.example.com")
	id := createTestIdentity(t, e, principalAlice, "hash-p2")

	require.NoError(t, e.sc.CreatePlatformVerification(e.as(principalPlatOp), id, platformID, "alice01", 30, "att-hash"))

	valid, err := e.sc.IsPlatformVerificationValid(e.as(principalBob), id, platformID)
	require.NoError(t, err)
	assert.True(t, valid)

	resolved, err := e.sc.LookupPlatformUser(e.as(principalBob), platformID, "alice01")
	require.NoError(t, err)
	assert.Equal(t, id, resolved)

	platform, err := e.sc.GetPlatform(e.as(principalBob), platformID)
	require.NoError(t, err)
	assert.Equal(t, 1, platform.TotalVerifications)
}

func TestCreatePlatformVerificationRejectsActiveDuplicate(t *testing.T) {
	e := platformEnv(t)
	platformID := registerTestPlatform(t, e, "ChirpNet", "chirp.example.com")
	id := createTestIdentity(t, e, principalAlice, "hash-p3")
	require.NoError(t, e.sc.CreatePlatformVerification(e.as(principalPlatOp), id, platformID, "alice01", 0, "att-hash"))

	err := e.sc.CreatePlatformVerification(e.as(principalPlatOp), id, platformID, "alice02", 0, "att-hash")
	assert.True(t, errors.Is(err, ErrVerificationAlreadyExists))
}

func TestCreatePlatformVerificationRejectsTakenPlatformUser(t *testing.T) {
	e := platformEnv(t)
	platformID := registerTestPlatform(t, e, "ChirpNet", "chirp.example.com")
	idAlice := createTestIdentity(t, e, principalAlice, "hash-p4a")
	idBob := createTestIdentity(t, e, principalBob, "hash-p4b")
	require.NoError(t, e.sc.CreatePlatformVerification(e.as(principalPlatOp), idAlice, platformID, "shared-handle", 0, "att-a"))

	err := e.sc.CreatePlatformVerification(e.as(principalPlatOp), idBob, platformID, "shared-handle", 0, "att-b")
	assert.True(t, errors.Is(err, ErrVerificationAlreadyExists))
}

func TestPlatformVerificationExpiresLazily(t *testing.T) {
	e := platformEnv(t)
	platformID := registerTestPlatform(t, e, "ChirpNet", "chirp.example.com")
	id := createTestIdentity(t, e, principalAlice, "hash-p5")
	require.NoError(t, e.sc.CreatePlatformVerification(e.as(principalPlatOp), id, platformID, "alice01", 1, "att-hash"))

	valid, err := e.sc.IsPlatformVerificationValid(e.as(principalBob), id, platformID)
	require.NoError(t, err)
	assert.True(t, valid)

	e.advance(25 * time.Hour)

	valid, err = e.sc.IsPlatformVerificationValid(e.as(principalBob), id, platformID)
	require.NoError(t, err)
	assert.False(t, valid)

	// Expired but unrevoked: the slot is still occupied.
	err = e.sc.CreatePlatformVerification(e.as(principalPlatOp), id, platformID, "alice01", 1, "att-hash-2")
	assert.True(t, errors.Is(err, ErrVerificationAlreadyExists))
}

func TestZeroExpirationDaysNeverExpires(t *testing.T) {
	e := platformEnv(t)
	platformID := registerTestPlatform(t, e, "ChirpNet", "chirp.example.com")
	id := createTestIdentity(t, e, principalAlice, "hash-p6")
	require.NoError(t, e.sc.CreatePlatformVerification(e.as(principalPlatOp), id, platformID, "alice01", 0, "att-hash"))

	e.advance(10 * 365 * 24 * time.Hour)

	valid, err := e.sc.IsPlatformVerificationValid(e.as(principalBob), id, platformID)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestRevokePlatformVerificationFreesSlotAndHandle(t *testing.T) {
	e := platformEnv(t)
	platformID := registerTestPlatform(t, e, "ChirpNet", "chirp.example.com")
	id := createTestIdentity(t, e, principalAlice, "hash-p7")
	require.NoError(t, e.sc.CreatePlatformVerification(e.as(principalPlatOp), id, platformID, "alice01", 0, "att-hash"))

	require.NoError(t, e.sc.RevokePlatformVerification(e.as(principalPlatOp), id, platformID))

	valid, err := e.sc.IsPlatformVerificationValid(e.as(principalBob), id, platformID)
	require.NoError(t, err)
	assert.False(t, valid)
	_, err = e.sc.LookupPlatformUser(e.as(principalBob), platformID, "alice01")
	assert.True(t, errors.Is(err, ErrVerificationNotFound))

	// Revocation is the path that unblocks re-verification.
	require.NoError(t, e.sc.CreatePlatformVerification(e.as(principalPlatOp), id, platformID, "alice-reborn", 0, "att-hash-2"))
	valid, err = e.sc.IsPlatformVerificationValid(e.as(principalBob), id, platformID)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestUpdateTrustScoreBounds(t *testing.T) {
	e := platformEnv(t)
	platformID := registerTestPlatform(t, e, "ChirpNet", "chirp.example.com")
	id := createTestIdentity(t, e, principalAlice, "hash-p8")
	require.NoError(t, e.sc.CreatePlatformVerification(e.as(principalPlatOp), id, platformID, "alice01", 0, "att-hash"))

	for _, bad := range []int{-1, 101, 500} {
		err := e.sc.UpdateTrustScore(e.as(principalPlatOp), id, platformID, bad)
		assert.True(t, errors.Is(err, ErrTrustScoreOutOfRange), "score %d should be rejected", bad)
	}

	require.NoError(t, e.sc.UpdateTrustScore(e.as(principalPlatOp), id, platformID, 90))
	require.NoError(t, e.sc.UpdateTrustScore(e.as(principalPlatOp), id, platformID, 0))
	require.NoError(t, e.sc.UpdateTrustScore(e.as(principalPlatOp), id, platformID, model.MaxTrustScore))
}

func TestUpdateTrustScoreRequiresPlatformAdmin(t *testing.T) {
	e := platformEnv(t)
	platformID := registerTestPlatform(t, e, "ChirpNet", "chirp.example.com")
	id := createTestIdentity(t, e, principalAlice, "hash-p9")
	require.NoError(t, e.sc.CreatePlatformVerification(e.as(principalPlatOp), id, platformID, "alice01", 0, "att-hash"))

	err := e.sc.UpdateTrustScore(e.as(principalAlice), id, platformID, 80)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestBatchVerificationCheckPreservesOrder(t *testing.T) {
	e := platformEnv(t)
	platformID := registerTestPlatform(t, e, "ChirpNet", "chirp.example.com")
	idAlice := createTestIdentity(t, e, principalAlice, "hash-p10a")
	idBob := createTestIdentity(t, e, principalBob, "hash-p10b")
	idCarol := createTestIdentity(t, e, principalCarol, "hash-p10c")
	require.NoError(t, e.sc.CreatePlatformVerification(e.as(principalPlatOp), idAlice, platformID, "alice01", 0, "att-a"))
	require.NoError(t, e.sc.CreatePlatformVerification(e.as(principalPlatOp), idCarol, platformID, "carol01", 1, "att-c"))

	e.advance(48 * time.Hour) // carol's verification expires, alice's does not

	batch := `["` + idAlice + `","` + idBob + `","` + idCarol + `","did:nonexistent"]`
	results, err := e.sc.BatchVerificationCheck(e.as(principalDave), batch, platformID)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, false}, results)
}

func TestGetAllPlatformsIncludesInactive(t *testing.T) {
	e := platformEnv(t)
	first := registerTestPlatform(t, e, "ChirpNet", "chirp.example.com")
	registerTestPlatform(t, e, "LedgerBank", "bank.example.com")
	require.NoError(t, e.sc.DeactivatePlatform(e.as(principalPlatOp), first))

	platforms, err := e.sc.GetAllPlatforms(e.as(principalAlice))
	require.NoError(t, err)
	assert.Len(t, platforms, 2)
}
