package xa

import (
	"sync"

	"github.com/pkg/errors"
)

// 需要由二阶段异步完成的分支连接登记表，key 为 XAXid.String()
type Keeper struct {
	mux  sync.RWMutex
	held map[string]*ConnectionProxyXA
}

func NewKeeper() *Keeper {
	return &Keeper{
		held: make(map[string]*ConnectionProxyXA),
	}
}

func (k *Keeper) Hold(key string, proxy *ConnectionProxyXA) error {
	k.mux.Lock()
	defer k.mux.Unlock()
	if existed, ok := k.held[key]; ok {
		if existed == proxy {
			return nil
		}
		return errors.Errorf("something wrong with keeper, keeping twice, key: %s", key)
	}
	k.held[key] = proxy
	return nil
}

func (k *Keeper) Release(key string, proxy *ConnectionProxyXA) error {
	k.mux.Lock()
	defer k.mux.Unlock()
	existed, ok := k.held[key]
	if !ok {
		return nil
	}
	if existed != proxy {
		return errors.Errorf("something wrong with keeper, released connection is not the held one, key: %s", key)
	}
	delete(k.held, key)
	return nil
}

func (k *Keeper) Lookup(key string) (*ConnectionProxyXA, bool) {
	k.mux.RLock()
	defer k.mux.RUnlock()
	proxy, ok := k.held[key]
	return proxy, ok
}

// 遍历快照，f 返回 false 时终止
func (k *Keeper) Range(f func(key string, proxy *ConnectionProxyXA) bool) {
	k.mux.RLock()
	snapshot := make(map[string]*ConnectionProxyXA, len(k.held))
	for key, proxy := range k.held {
		snapshot[key] = proxy
	}
	k.mux.RUnlock()

	for key, proxy := range snapshot {
		if !f(key, proxy) {
			return
		}
	}
}

func (k *Keeper) Len() int {
	k.mux.RLock()
	defer k.mux.RUnlock()
	return len(k.held)
}
