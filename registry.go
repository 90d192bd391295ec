package gotxrm

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/xiaoxuxiansheng/gotxrm/rm"
	"github.com/xiaoxuxiansheng/gotxrm/xa"
)

var ErrResourceNotFound = errors.New("resource not found")

type registryCenter struct {
	mux       sync.RWMutex
	resources map[string]rm.Resource
}

func newRegistryCenter() *registryCenter {
	return &registryCenter{
		resources: make(map[string]rm.Resource),
	}
}

func (r *registryCenter) register(resource rm.Resource) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if _, ok := r.resources[resource.ResourceID()]; ok {
		return errors.Errorf("repeat resource id: %s", resource.ResourceID())
	}
	r.resources[resource.ResourceID()] = resource
	return nil
}

func (r *registryCenter) unregister(resourceID string) {
	r.mux.Lock()
	defer r.mux.Unlock()
	delete(r.resources, resourceID)
}

func (r *registryCenter) getResource(resourceID string) (rm.Resource, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	resource, ok := r.resources[resourceID]
	if !ok {
		return nil, errors.Wrapf(ErrResourceNotFound, "resource id: %s", resourceID)
	}
	return resource, nil
}

func (r *registryCenter) getATResource(resourceID string) (*ATResource, error) {
	resource, err := r.getResource(resourceID)
	if err != nil {
		return nil, err
	}
	atResource, ok := resource.(*ATResource)
	if !ok {
		return nil, errors.Wrapf(ErrResourceNotFound, "resource id: %s is %s mode", resourceID, resource.BranchType())
	}
	return atResource, nil
}

func (r *registryCenter) getXAResource(resourceID string) (*xa.DataSource, error) {
	resource, err := r.getResource(resourceID)
	if err != nil {
		return nil, err
	}
	dataSource, ok := resource.(*xa.DataSource)
	if !ok {
		return nil, errors.Wrapf(ErrResourceNotFound, "resource id: %s is %s mode", resourceID, resource.BranchType())
	}
	return dataSource, nil
}
