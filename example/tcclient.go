package example

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/demdxx/gocast"
	"github.com/google/uuid"
	"github.com/xiaoxuxiansheng/redis_lock"

	"github.com/xiaoxuxiansheng/gotxrm/example/pkg"
	"github.com/xiaoxuxiansheng/gotxrm/rm"
)

// 全局事务下的一个分支
type Branch struct {
	BranchType rm.BranchType `json:"branchType"`
	BranchID   int64         `json:"branchID"`
	ResourceID string        `json:"resourceID"`
}

// 基于 redis 记录分支的简易协调者客户端，仅用于演示
type MockTCClient struct {
	client *redis_lock.Client
}

func NewMockTCClient(client *redis_lock.Client) *MockTCClient {
	return &MockTCClient{
		client: client,
	}
}

func (m *MockTCClient) BranchRegister(ctx context.Context, branchType rm.BranchType, resourceID, clientID, xid, applicationData, lockKeys string) (int64, error) {
	// 基于 xid 维度加锁
	lock := redis_lock.NewRedisLock(pkg.BuildXIDLockKey(xid), m.client)
	if err := lock.Lock(ctx); err != nil {
		return 0, err
	}
	defer func() {
		_ = lock.Unlock(ctx)
	}()

	branchID := int64(uuid.New().ID())
	// 要求分支状态从无到有
	reply, err := m.client.SetNX(ctx, pkg.BuildBranchKey(xid, branchID), gocast.ToString(int32(rm.BranchStatusRegistered)))
	if err != nil {
		return 0, err
	}
	if reply != 1 {
		return 0, errors.New("repeat branch id")
	}

	branches, err := m.branches(ctx, xid)
	if err != nil {
		return 0, err
	}
	branches = append(branches, &Branch{
		BranchType: branchType,
		BranchID:   branchID,
		ResourceID: resourceID,
	})
	body, _ := json.Marshal(branches)
	if _, err = m.client.Set(ctx, pkg.BuildBranchesKey(xid), string(body)); err != nil {
		return 0, err
	}
	return branchID, nil
}

func (m *MockTCClient) BranchReport(ctx context.Context, branchType rm.BranchType, xid string, branchID int64, status rm.BranchStatus, applicationData string) error {
	_, err := m.client.Set(ctx, pkg.BuildBranchKey(xid, branchID), gocast.ToString(int32(status)))
	return err
}

func (m *MockTCClient) BranchStatus(ctx context.Context, xid string, branchID int64) (rm.BranchStatus, error) {
	reply, err := m.client.Get(ctx, pkg.BuildBranchKey(xid, branchID))
	if errors.Is(err, redis_lock.ErrNil) {
		return rm.BranchStatusUnknown, nil
	}
	if err != nil {
		return rm.BranchStatusUnknown, err
	}
	return rm.BranchStatus(gocast.ToInt32(reply)), nil
}

// 全局事务下已注册的全部分支
func (m *MockTCClient) Branches(ctx context.Context, xid string) ([]*Branch, error) {
	return m.branches(ctx, xid)
}

func (m *MockTCClient) branches(ctx context.Context, xid string) ([]*Branch, error) {
	reply, err := m.client.Get(ctx, pkg.BuildBranchesKey(xid))
	if errors.Is(err, redis_lock.ErrNil) || (err == nil && reply == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var branches []*Branch
	if err = json.Unmarshal([]byte(reply), &branches); err != nil {
		return nil, err
	}
	return branches, nil
}
