package pkg

import (
	"fmt"
	"sync"

	"github.com/xiaoxuxiansheng/redis_lock"
)

const (
	network  = "tcp"
	address  = ""
	password = ""
)

var (
	redisClient *redis_lock.Client
	once        sync.Once
)

func NewRedisClient(network, address, password string) *redis_lock.Client {
	return redis_lock.NewClient(network, address, password)
}

func GetRedisClient() *redis_lock.Client {
	once.Do(func() {
		redisClient = redis_lock.NewClient(network, address, password)
	})
	return redisClient
}

// 分支状态 key
func BuildBranchKey(xid string, branchID int64) string {
	return fmt.Sprintf("branchKey:%s:%d", xid, branchID)
}

// 全局事务下的分支列表 key
func BuildBranchesKey(xid string) string {
	return fmt.Sprintf("branchesKey:%s", xid)
}

// 全局事务锁 key
func BuildXIDLockKey(xid string) string {
	return fmt.Sprintf("xidLockKey:%s", xid)
}
