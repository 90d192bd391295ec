package xa

import (
	"context"
	"fmt"
	"sync"

	"github.com/demdxx/gocast"
	"github.com/pkg/errors"
	"github.com/xiaoxuxiansheng/redis_lock"

	"github.com/xiaoxuxiansheng/gotxrm/rm"
)

// 记录已经被协调者了结的分支，一阶段恢复执行时据此快速失败
type BranchStatusStore interface {
	Get(ctx context.Context, key string) (rm.BranchStatus, bool, error)
	Set(ctx context.Context, key string, status rm.BranchStatus) error
	Remove(ctx context.Context, key string) error
}

type MemoryBranchStatusStore struct {
	statuses sync.Map
}

func NewMemoryBranchStatusStore() *MemoryBranchStatusStore {
	return &MemoryBranchStatusStore{}
}

func (m *MemoryBranchStatusStore) Get(_ context.Context, key string) (rm.BranchStatus, bool, error) {
	status, ok := m.statuses.Load(key)
	if !ok {
		return rm.BranchStatusUnknown, false, nil
	}
	return status.(rm.BranchStatus), true, nil
}

func (m *MemoryBranchStatusStore) Set(_ context.Context, key string, status rm.BranchStatus) error {
	m.statuses.Store(key, status)
	return nil
}

func (m *MemoryBranchStatusStore) Remove(_ context.Context, key string) error {
	m.statuses.Delete(key)
	return nil
}

// 多实例部署时共享分支状态
type RedisBranchStatusStore struct {
	client *redis_lock.Client
}

func NewRedisBranchStatusStore(client *redis_lock.Client) *RedisBranchStatusStore {
	return &RedisBranchStatusStore{
		client: client,
	}
}

func (r *RedisBranchStatusStore) Get(ctx context.Context, key string) (rm.BranchStatus, bool, error) {
	reply, err := r.client.Get(ctx, BuildBranchStatusKey(key))
	if errors.Is(err, redis_lock.ErrNil) {
		return rm.BranchStatusUnknown, false, nil
	}
	if err != nil {
		return rm.BranchStatusUnknown, false, errors.WithStack(err)
	}
	return rm.BranchStatus(gocast.ToInt32(reply)), true, nil
}

func (r *RedisBranchStatusStore) Set(ctx context.Context, key string, status rm.BranchStatus) error {
	_, err := r.client.Set(ctx, BuildBranchStatusKey(key), gocast.ToString(int32(status)))
	return errors.WithStack(err)
}

func (r *RedisBranchStatusStore) Remove(ctx context.Context, key string) error {
	return errors.WithStack(r.client.Del(ctx, BuildBranchStatusKey(key)))
}

func BuildBranchStatusKey(key string) string {
	return fmt.Sprintf("gotxrm:xa:branchStatus:%s", key)
}
