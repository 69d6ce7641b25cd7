package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"mintqueue-system/models"
)

// MirrorStore is the off-chain record set mirroring ledger activity: one
// QueueRequest row per asset batch a participant wants minted, plus the
// marketplace-to-instance bindings. It is derived state, reconcilable from
// the ledger and never authoritative for money.
type MirrorStore interface {
	ActiveInstance(ctx context.Context, marketplaceID string) (*models.QueueInstance, error)
	SaveInstance(ctx context.Context, inst *models.QueueInstance) error
	ListActiveInstances(ctx context.Context) ([]*models.QueueInstance, error)

	CreateRequest(ctx context.Context, req *models.QueueRequest) error
	PendingRequests(ctx context.Context, instanceID string, cycle uint64) ([]*models.QueueRequest, error)
	PendingRequestsBefore(ctx context.Context, instanceID string, cycle uint64) ([]*models.QueueRequest, error)
	ParticipantRequests(ctx context.Context, instanceID string, cycle uint64, wallet string) ([]*models.QueueRequest, error)
	ProcessingRequests(ctx context.Context) ([]*models.QueueRequest, error)
	SetRequestStatus(ctx context.Context, id string, st models.RequestStatus, errMsg string) error
}

// PBMirrorStore persists mirror records in PocketBase collections.
type PBMirrorStore struct {
	app core.App
}

func NewPBMirrorStore(app core.App) *PBMirrorStore {
	return &PBMirrorStore{app: app}
}

func (s *PBMirrorStore) ActiveInstance(_ context.Context, marketplaceID string) (*models.QueueInstance, error) {
	records, err := s.app.FindRecordsByFilter(
		"queue_instances",
		"marketplace_id = {:marketplace} && active = true",
		"-created", 1, 0,
		dbx.Params{"marketplace": marketplaceID},
	)
	if err != nil {
		return nil, fmt.Errorf("query active instance: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return instanceFromRecord(records[0]), nil
}

func (s *PBMirrorStore) SaveInstance(_ context.Context, inst *models.QueueInstance) error {
	collection, err := s.app.FindCollectionByNameOrId("queue_instances")
	if err != nil {
		return err
	}
	cfg, err := json.Marshal(inst.Config)
	if err != nil {
		return err
	}
	record := core.NewRecord(collection)
	record.Set("marketplace_id", inst.MarketplaceID)
	record.Set("instance_id", inst.InstanceID)
	record.Set("config", string(cfg))
	record.Set("active", inst.Active)
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("save instance: %w", err)
	}
	inst.ID = record.Id
	return nil
}

func (s *PBMirrorStore) ListActiveInstances(_ context.Context) ([]*models.QueueInstance, error) {
	records, err := s.app.FindRecordsByFilter(
		"queue_instances", "active = true", "-created", 0, 0,
	)
	if err != nil {
		return nil, err
	}
	instances := make([]*models.QueueInstance, 0, len(records))
	for _, r := range records {
		instances = append(instances, instanceFromRecord(r))
	}
	return instances, nil
}

func (s *PBMirrorStore) CreateRequest(_ context.Context, req *models.QueueRequest) error {
	collection, err := s.app.FindCollectionByNameOrId("queue_requests")
	if err != nil {
		return err
	}
	nftIDs, err := json.Marshal(req.NFTIDs)
	if err != nil {
		return err
	}
	record := core.NewRecord(collection)
	record.Set("instance_id", req.InstanceID)
	record.Set("cycle", req.Cycle)
	record.Set("marketplace_id", req.MarketplaceID)
	record.Set("user_id", req.UserID)
	record.Set("wallet_address", req.WalletAddress)
	record.Set("nft_ids", string(nftIDs))
	record.Set("status", string(req.Status))
	record.Set("tx_id", req.TxID)
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("save queue request: %w", err)
	}
	req.ID = record.Id
	return nil
}

func (s *PBMirrorStore) PendingRequests(_ context.Context, instanceID string, cycle uint64) ([]*models.QueueRequest, error) {
	return s.queryRequests(
		"instance_id = {:instance} && cycle = {:cycle} && status = 'pending'",
		dbx.Params{"instance": instanceID, "cycle": cycle},
	)
}

// PendingRequestsBefore lists pending rows stranded in cycles the ledger
// has already moved past.
func (s *PBMirrorStore) PendingRequestsBefore(_ context.Context, instanceID string, cycle uint64) ([]*models.QueueRequest, error) {
	return s.queryRequests(
		"instance_id = {:instance} && cycle < {:cycle} && status = 'pending'",
		dbx.Params{"instance": instanceID, "cycle": cycle},
	)
}

func (s *PBMirrorStore) ParticipantRequests(_ context.Context, instanceID string, cycle uint64, wallet string) ([]*models.QueueRequest, error) {
	return s.queryRequests(
		"instance_id = {:instance} && cycle = {:cycle} && wallet_address = {:wallet}",
		dbx.Params{"instance": instanceID, "cycle": cycle, "wallet": wallet},
	)
}

func (s *PBMirrorStore) ProcessingRequests(_ context.Context) ([]*models.QueueRequest, error) {
	return s.queryRequests("status = 'processing'", dbx.Params{})
}

func (s *PBMirrorStore) SetRequestStatus(_ context.Context, id string, st models.RequestStatus, errMsg string) error {
	record, err := s.app.FindRecordById("queue_requests", id)
	if err != nil {
		return fmt.Errorf("find queue request %s: %w", id, err)
	}
	record.Set("status", string(st))
	record.Set("error", errMsg)
	return s.app.Save(record)
}

func (s *PBMirrorStore) queryRequests(filter string, params dbx.Params) ([]*models.QueueRequest, error) {
	records, err := s.app.FindRecordsByFilter("queue_requests", filter, "created", 0, 0, params)
	if err != nil {
		return nil, fmt.Errorf("query queue requests: %w", err)
	}
	requests := make([]*models.QueueRequest, 0, len(records))
	for _, r := range records {
		requests = append(requests, requestFromRecord(r))
	}
	return requests, nil
}

func instanceFromRecord(r *core.Record) *models.QueueInstance {
	inst := &models.QueueInstance{
		ID:            r.Id,
		MarketplaceID: r.GetString("marketplace_id"),
		InstanceID:    r.GetString("instance_id"),
		Active:        r.GetBool("active"),
		CreatedAt:     r.GetDateTime("created").Time(),
	}
	if raw := r.GetString("config"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &inst.Config)
	}
	return inst
}

func requestFromRecord(r *core.Record) *models.QueueRequest {
	req := &models.QueueRequest{
		ID:            r.Id,
		InstanceID:    r.GetString("instance_id"),
		Cycle:         uint64(r.GetInt("cycle")),
		MarketplaceID: r.GetString("marketplace_id"),
		UserID:        r.GetString("user_id"),
		WalletAddress: r.GetString("wallet_address"),
		Status:        models.RequestStatus(r.GetString("status")),
		TxID:          r.GetString("tx_id"),
		Error:         r.GetString("error"),
		CreatedAt:     r.GetDateTime("created").Time(),
	}
	var ids []string
	if raw := r.GetString("nft_ids"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &ids); err == nil {
			req.NFTIDs = ids
		}
	}
	return req
}
