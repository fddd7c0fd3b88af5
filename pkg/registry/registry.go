package registry

import (
	"sync"

	"github.com/pershin-daniil/MeetingRooms/pkg/models"
	"github.com/sirupsen/logrus"
)

// UsageCheck reports how many non-cancelled meetings reference a resource.
// Wired by the service so removal can refuse while bookings are live.
type UsageCheck func(resourceID string) int

// Registry owns the set of bookable resources. Identities are immutable;
// List preserves registration order.
type Registry struct {
	log   *logrus.Entry
	mu    sync.RWMutex
	byID  map[string]models.Resource
	order []string
	usage UsageCheck
}

func New(log *logrus.Logger) *Registry {
	return &Registry{
		log:  log.WithField("component", "registry"),
		byID: make(map[string]models.Resource),
	}
}

// SetUsageCheck installs the in-use guard consulted by Remove.
func (r *Registry) SetUsageCheck(check UsageCheck) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage = check
}

func (r *Registry) Register(resource models.Resource) (string, error) {
	if resource.ID == "" {
		return "", &models.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if resource.Name == "" {
		return "", &models.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if resource.Kind == "" {
		resource.Kind = models.KindRoom
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[resource.ID]; ok {
		return "", &models.DuplicateResourceError{ResourceID: resource.ID}
	}
	r.byID[resource.ID] = resource
	r.order = append(r.order, resource.ID)
	r.log.Debugf("registered resource %s (%s)", resource.ID, resource.Name)
	return resource.ID, nil
}

func (r *Registry) Get(id string) (models.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resource, ok := r.byID[id]
	if !ok {
		return models.Resource{}, &models.UnknownResourceError{ResourceID: id}
	}
	return resource, nil
}

func (r *Registry) List() []models.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]models.Resource, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.byID[id])
	}
	return result
}

func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return &models.UnknownResourceError{ResourceID: id}
	}
	if r.usage != nil {
		if n := r.usage(id); n > 0 {
			return &models.ResourceInUseError{ResourceID: id, Meetings: n}
		}
	}
	delete(r.byID, id)
	for i, known := range r.order {
		if known == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.log.Debugf("removed resource %s", id)
	return nil
}
