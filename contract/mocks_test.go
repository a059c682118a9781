package contract

import (
	"crypto/x509"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// In-memory stand-ins for the peer: a shared ledger, a stub per
// transaction, and a client identity per principal. Only the stub methods
// the contract actually touches are functional; the rest satisfy the
// interface and fail loudly if reached.

const compositeKeyDelimiter = "\x00"

type fakeLedger struct {
	state  map[string][]byte
	events map[string][]byte
	now    time.Time
	txSeq  int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		state:  map[string][]byte{},
		events: map[string][]byte{},
		now:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

type fakeStub struct {
	ledger *fakeLedger
	txID   string
}

func (s *fakeStub) GetState(key string) ([]byte, error) {
	value, ok := s.ledger.state[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *fakeStub) PutState(key string, value []byte) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.ledger.state[key] = stored
	return nil
}

func (s *fakeStub) DelState(key string) error {
	delete(s.ledger.state, key)
	return nil
}

func (s *fakeStub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	ck := compositeKeyDelimiter + objectType + compositeKeyDelimiter
	for _, attr := range attributes {
		ck += attr + compositeKeyDelimiter
	}
	return ck, nil
}

func (s *fakeStub) SplitCompositeKey(compositeKey string) (string, []string, error) {
	parts := strings.Split(strings.Trim(compositeKey, compositeKeyDelimiter), compositeKeyDelimiter)
	if len(parts) < 1 {
		return "", nil, errors.New("invalid composite key")
	}
	return parts[0], parts[1:], nil
}

func (s *fakeStub) GetStateByPartialCompositeKey(objectType string, keys []string) (shim.StateQueryIteratorInterface, error) {
	prefix := compositeKeyDelimiter + objectType + compositeKeyDelimiter
	for _, attr := range keys {
		prefix += attr + compositeKeyDelimiter
	}
	matched := []string{}
	for key := range s.ledger.state {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}
	sort.Strings(matched)
	results := make([]*queryresult.KV, len(matched))
	for i, key := range matched {
		results[i] = &queryresult.KV{Key: key, Value: s.ledger.state[key]}
	}
	return &fakeIterator{results: results}, nil
}

func (s *fakeStub) GetTxID() string { return s.txID }

func (s *fakeStub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	return timestamppb.New(s.ledger.now), nil
}

func (s *fakeStub) SetEvent(name string, payload []byte) error {
	if name == "" {
		return errors.New("event name cannot be empty")
	}
	s.ledger.events[name] = payload
	return nil
}

// Unused portions of the stub interface.

func (s *fakeStub) GetArgs() [][]byte { panic("GetArgs: not implemented") }
func (s *fakeStub) GetStringArgs() []string { panic("GetStringArgs: not implemented") }
func (s *fakeStub) GetFunctionAndParameters() (string, []string) {
	panic("GetFunctionAndParameters: not implemented")
}
func (s *fakeStub) GetArgsSlice() ([]byte, error) { return nil, errors.New("not implemented") }
func (s *fakeStub) GetChannelID() string { return "testchannel" }
func (s *fakeStub) InvokeChaincode(string, [][]byte, string) pb.Response {
	panic("InvokeChaincode: not implemented")
}
func (s *fakeStub) SetStateValidationParameter(string, []byte) error {
	return errors.New("not implemented")
}
func (s *fakeStub) GetStateValidationParameter(string) ([]byte, error) {
	return nil, errors.New("not implemented")
}
func (s *fakeStub) GetStateByRange(string, string) (shim.StateQueryIteratorInterface, error) {
	return nil, errors.New("not implemented")
}
func (s *fakeStub) GetStateByRangeWithPagination(string, string, int32, string) (shim.StateQueryIteratorInterface, *pb.QueryResponseMetadata, error) {
	return nil, nil, errors.New("not implemented")
}
func (s *fakeStub) GetStateByPartialCompositeKeyWithPagination(string, []string, int32, string) (shim.StateQueryIteratorInterface, *pb.QueryResponseMetadata, error) {
	return nil, nil, errors.New("not implemented")
}
func (s *fakeStub) GetQueryResult(string) (shim.StateQueryIteratorInterface, error) {
	return nil, errors.New("not implemented")
}
func (s *fakeStub) GetQueryResultWithPagination(string, int32, string) (shim.StateQueryIteratorInterface, *pb.QueryResponseMetadata, error) {
	return nil, nil, errors.New("not implemented")
}
func (s *fakeStub) GetHistoryForKey(string) (shim.HistoryQueryIteratorInterface, error) {
	return nil, errors.New("not implemented")
}
func (s *fakeStub) GetPrivateData(string, string) ([]byte, error) {
	return nil, errors.New("not implemented")
}
func (s *fakeStub) GetPrivateDataHash(string, string) ([]byte, error) {
	return nil, errors.New("not implemented")
}
func (s *fakeStub) PutPrivateData(string, string, []byte) error {
	return errors.New("not implemented")
}
func (s *fakeStub) DelPrivateData(string, string) error { return errors.New("not implemented") }
func (s *fakeStub) PurgePrivateData(string, string) error { return errors.New("not implemented") }
func (s *fakeStub) SetPrivateDataValidationParameter(string, string, []byte) error {
	return errors.New("not implemented")
}
func (s *fakeStub) GetPrivateDataValidationParameter(string, string) ([]byte, error) {
	return nil, errors.New("not implemented")
}
func (s *fakeStub) GetPrivateDataByRange(string, string, string) (shim.StateQueryIteratorInterface, error) {
	return nil, errors.New("not implemented")
}
func (s *fakeStub) GetPrivateDataByPartialCompositeKey(string, string, []string) (shim.StateQueryIteratorInterface, error) {
	return nil, errors.New("not implemented")
}
func (s *fakeStub) GetPrivateDataQueryResult(string, string) (shim.StateQueryIteratorInterface, error) {
	return nil, errors.New("not implemented")
}
func (s *fakeStub) GetCreator() ([]byte, error) { return nil, errors.New("not implemented") }
func (s *fakeStub) GetTransient() (map[string][]byte, error) { return nil, nil }
func (s *fakeStub) GetBinding() ([]byte, error) { return nil, errors.New("not implemented") }
func (s *fakeStub) GetDecorations() map[string][]byte { return nil }
func (s *fakeStub) GetSignedProposal() (*pb.SignedProposal, error) {
	return nil, errors.New("not implemented")
}

type fakeIterator struct {
	results []*queryresult.KV
	pos     int
}

func (it *fakeIterator) HasNext() bool { return it.pos < len(it.results) }

func (it *fakeIterator) Next() (*queryresult.KV, error) {
	if !it.HasNext() {
		return nil, errors.New("iterator exhausted")
	}
	kv := it.results[it.pos]
	it.pos++
	return kv, nil
}

func (it *fakeIterator) Close() error { return nil }

type fakeClientIdentity struct {
	id    string
	mspID string
}

func (ci *fakeClientIdentity) GetID() (string, error) { return ci.id, nil }
func (ci *fakeClientIdentity) GetMSPID() (string, error) { return ci.mspID, nil }
func (ci *fakeClientIdentity) GetAttributeValue(string) (string, bool, error) {
	return "", false, nil
}
func (ci *fakeClientIdentity) AssertAttributeValue(string, string) error {
	return errors.New("attribute not found")
}
func (ci *fakeClientIdentity) GetX509Certificate() (*x509.Certificate, error) {
	return nil, errors.New("no certificate in test identity")
}

type testCtx struct {
	stub     *fakeStub
	identity *fakeClientIdentity
}

func (c *testCtx) GetStub() shim.ChaincodeStubInterface { return c.stub }
func (c *testCtx) GetClientIdentity() cid.ClientIdentity { return c.identity }

// env wires a contract instance to one shared ledger. as returns a fresh
// transaction context for the given principal with a new transaction ID, so
// each chaincode call looks like its own transaction.
type env struct {
	t      *testing.T
	ledger *fakeLedger
	sc     *IdentitySmartContract
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return &env{t: t, ledger: newFakeLedger(), sc: &IdentitySmartContract{}}
}

func (e *env) as(principal string) *testCtx {
	e.ledger.txSeq++
	return &testCtx{
		stub:     &fakeStub{ledger: e.ledger, txID: fmt.Sprintf("tx-%06d", e.ledger.txSeq)},
		identity: &fakeClientIdentity{id: principal, mspID: "TestMSP"},
	}
}

// advance moves ledger time forward, for expiry scenarios.
func (e *env) advance(d time.Duration) { e.ledger.now = e.ledger.now.Add(d) }

// Common fixture principals.
const (
	principalAdmin    = "x509::CN=admin::OU=ops"
	principalAlice    = "x509::CN=alice::OU=client"
	principalBob      = "x509::CN=bob::OU=client"
	principalCarol    = "x509::CN=carol::OU=client"
	principalDave     = "x509::CN=dave::OU=client"
	principalVerifier = "x509::CN=kyc-service::OU=verifier"
	principalPlatOp   = "x509::CN=platform-op::OU=platform"
)

// initializedEnv returns an env whose admin has been seeded.
func initializedEnv(t *testing.T) *env {
	t.Helper()
	e := newEnv(t)
	if err := e.sc.Initialize(e.as(principalAdmin)); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return e
}
