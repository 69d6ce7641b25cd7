package services

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mintqueue-system/config"
	"mintqueue-system/internal/ledger"
	"mintqueue-system/internal/wallet"
	"mintqueue-system/models"
)

// memoryMirrorStore is the in-memory MirrorStore used across service tests,
// mirroring the fake-collaborator pattern used for the ledger client.
type memoryMirrorStore struct {
	mu        sync.Mutex
	instances map[string]*models.QueueInstance
	requests  []*models.QueueRequest
	nextID    int
}

func newMemoryMirrorStore() *memoryMirrorStore {
	return &memoryMirrorStore{instances: make(map[string]*models.QueueInstance)}
}

func (s *memoryMirrorStore) ActiveInstance(_ context.Context, marketplaceID string) (*models.QueueInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[marketplaceID]
	if !ok || !inst.Active {
		return nil, nil
	}
	clone := *inst
	return &clone, nil
}

func (s *memoryMirrorStore) SaveInstance(_ context.Context, inst *models.QueueInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *inst
	s.instances[inst.MarketplaceID] = &clone
	return nil
}

func (s *memoryMirrorStore) ListActiveInstances(_ context.Context) ([]*models.QueueInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.QueueInstance
	for _, inst := range s.instances {
		if inst.Active {
			clone := *inst
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *memoryMirrorStore) CreateRequest(_ context.Context, req *models.QueueRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	req.ID = "req-" + strconv.Itoa(s.nextID)
	req.CreatedAt = time.Now()
	clone := *req
	s.requests = append(s.requests, &clone)
	return nil
}

func (s *memoryMirrorStore) PendingRequests(_ context.Context, instanceID string, cycle uint64) ([]*models.QueueRequest, error) {
	return s.filter(func(r *models.QueueRequest) bool {
		return r.InstanceID == instanceID && r.Cycle == cycle && r.Status == models.RequestPending
	}), nil
}

func (s *memoryMirrorStore) PendingRequestsBefore(_ context.Context, instanceID string, cycle uint64) ([]*models.QueueRequest, error) {
	return s.filter(func(r *models.QueueRequest) bool {
		return r.InstanceID == instanceID && r.Cycle < cycle && r.Status == models.RequestPending
	}), nil
}

func (s *memoryMirrorStore) ParticipantRequests(_ context.Context, instanceID string, cycle uint64, wallet string) ([]*models.QueueRequest, error) {
	return s.filter(func(r *models.QueueRequest) bool {
		return r.InstanceID == instanceID && r.Cycle == cycle && r.WalletAddress == wallet
	}), nil
}

func (s *memoryMirrorStore) ProcessingRequests(_ context.Context) ([]*models.QueueRequest, error) {
	return s.filter(func(r *models.QueueRequest) bool {
		return r.Status == models.RequestProcessing
	}), nil
}

func (s *memoryMirrorStore) SetRequestStatus(_ context.Context, id string, st models.RequestStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.ID == id {
			r.Status = st
			r.Error = errMsg
			return nil
		}
	}
	return nil
}

func (s *memoryMirrorStore) filter(keep func(*models.QueueRequest) bool) []*models.QueueRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.QueueRequest
	for _, r := range s.requests {
		if keep(r) {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out
}

func (s *memoryMirrorStore) request(t *testing.T, id string) *models.QueueRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.ID == id {
			clone := *r
			return &clone
		}
	}
	t.Fatalf("request %s not found", id)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		MintWorkers:     4,
		MintTimeout:     time.Second,
		MintRetries:     2,
		MintRetryDelay:  time.Millisecond,
		FanoutLockTTL:   time.Minute,
		StatusCacheTTL:  time.Second,
		ExpiryCheckTick: 10 * time.Millisecond,
	}
}

// testEnv wires a QueueService against the in-process ledger, a mocked Redis
// client and the in-memory mirror store.
type testEnv struct {
	ledger    *ledger.MemoryLedger
	store     *memoryMirrorStore
	queue     *QueueService
	operator  *wallet.LocalSigner
	cfg       *config.Config
	redisDB   *redis.Client
	redisMock redismock.ClientMock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, mock := redismock.NewClientMock()
	mock.MatchExpectationsInOrder(false)
	l := ledger.NewMemoryLedger()
	operator, err := wallet.NewLocalSigner()
	require.NoError(t, err)
	store := newMemoryMirrorStore()
	cfg := testConfig()
	queue := NewQueueService(db, nil, l, operator, store, cfg)
	return &testEnv{
		ledger:    l,
		store:     store,
		queue:     queue,
		operator:  operator,
		cfg:       cfg,
		redisDB:   db,
		redisMock: mock,
	}
}

func defaultDeployInput(marketplaceID string) models.QueueConfigInput {
	return models.QueueConfigInput{
		MarketplaceID:   marketplaceID,
		Threshold:       2,
		BaseCost:        decimal.RequireFromString("10"),
		EffectiveCost:   decimal.RequireFromString("7"),
		PlatformAddress: "MQPLATFORM",
		EscrowAddress:   "MQESCROW",
		TimeWindowSecs:  3600,
	}
}

// deploy installs a fresh instance and returns its ledger id.
func (e *testEnv) deploy(t *testing.T, marketplaceID string) string {
	t.Helper()
	instanceID, err := e.queue.Deploy(context.Background(), defaultDeployInput(marketplaceID))
	require.NoError(t, err)
	require.NotEmpty(t, instanceID)
	return instanceID
}

// settle submits a trigger straight to the ledger, bypassing the trigger
// service, so tests can land a settlement at an exact point.
func (e *testEnv) settle(t *testing.T, instanceID string, signer *wallet.LocalSigner) {
	t.Helper()
	txn, err := e.queue.buildTransaction(context.Background(), instanceID, ledger.ActionTrigger, signer.Address())
	require.NoError(t, err)
	stx, err := signer.Sign(txn)
	require.NoError(t, err)
	_, err = e.ledger.Submit(context.Background(), stx)
	require.NoError(t, err)
}

// join signs and submits a join for the given wallet, one base cost per
// asset.
func (e *testEnv) join(t *testing.T, marketplaceID, userID string, signer *wallet.LocalSigner, nftIDs []string) *models.QueueRequest {
	t.Helper()
	txn, amount, err := e.queue.BuildJoin(context.Background(), marketplaceID, signer.Address(), nftIDs)
	require.NoError(t, err)
	require.Equal(t, uint64(len(nftIDs))*10_000_000, amount)
	stx, err := signer.Sign(txn)
	require.NoError(t, err)
	req, err := e.queue.SubmitJoin(context.Background(), marketplaceID, userID, nftIDs, stx)
	require.NoError(t, err)
	return req
}
