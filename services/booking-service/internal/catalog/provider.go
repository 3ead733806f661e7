// Package catalog supplies the read-only business configuration the booking engine consumes.
package catalog

import (
	"context"
	"strings"
	"sync"

	"github.com/algotwist369/bookby247/services/booking-service/internal/apperr"
	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
)

type Provider interface {
	Policy(ctx context.Context, businessID string) (model.BusinessPolicy, error)
	Service(ctx context.Context, serviceID string) (model.Service, error)
	ServiceByName(ctx context.Context, businessID, name string) (model.Service, error)
	Staff(ctx context.Context, staffID string) (model.Staff, error)
}

// StaticProvider serves configuration from memory.
type StaticProvider struct {
	mu       sync.RWMutex
	policies map[string]model.BusinessPolicy
	services map[string]model.Service
	staff    map[string]model.Staff
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		policies: make(map[string]model.BusinessPolicy),
		services: make(map[string]model.Service),
		staff:    make(map[string]model.Staff),
	}
}

func (p *StaticProvider) PutPolicy(policy model.BusinessPolicy) *StaticProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policies[policy.ID] = policy
	return p
}

func (p *StaticProvider) PutService(svc model.Service) *StaticProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.services[svc.ID] = svc
	return p
}

func (p *StaticProvider) PutStaff(s model.Staff) *StaticProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.staff[s.ID] = s
	return p
}

func (p *StaticProvider) Policy(_ context.Context, businessID string) (model.BusinessPolicy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	policy, ok := p.policies[businessID]
	if !ok {
		return model.BusinessPolicy{}, apperr.NotFound("business", businessID)
	}
	return policy, nil
}

func (p *StaticProvider) Service(_ context.Context, serviceID string) (model.Service, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	svc, ok := p.services[serviceID]
	if !ok {
		return model.Service{}, apperr.NotFound("service", serviceID)
	}
	return svc, nil
}

func (p *StaticProvider) ServiceByName(_ context.Context, businessID, name string) (model.Service, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, svc := range p.services {
		if svc.BusinessID == businessID && strings.EqualFold(svc.Name, strings.TrimSpace(name)) {
			return svc, nil
		}
	}
	return model.Service{}, apperr.NotFound("service", name)
}

func (p *StaticProvider) Staff(_ context.Context, staffID string) (model.Staff, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.staff[staffID]
	if !ok {
		return model.Staff{}, apperr.NotFound("staff", staffID)
	}
	return s, nil
}
