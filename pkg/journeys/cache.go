package journeys

import (
	"sync"

	"github.com/loopkit/loopkit/pkg/models"
)

// Caches are read-mostly and invalidated, never locked, when a journey's
// activation state or step graph changes.

type workspaceCache struct {
	mu      sync.RWMutex
	entries map[string][]*models.Journey
}

func newWorkspaceCache() *workspaceCache {
	return &workspaceCache{entries: make(map[string][]*models.Journey)}
}

func (c *workspaceCache) get(workspaceID string) ([]*models.Journey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	journeys, ok := c.entries[workspaceID]

	return journeys, ok
}

func (c *workspaceCache) set(workspaceID string, journeys []*models.Journey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[workspaceID] = journeys
}

func (c *workspaceCache) invalidate(workspaceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, workspaceID)
}

type waitStepCache struct {
	mu      sync.RWMutex
	entries map[string][]*models.Step
}

func newWaitStepCache() *waitStepCache {
	return &waitStepCache{entries: make(map[string][]*models.Step)}
}

func (c *waitStepCache) get(journeyID string) ([]*models.Step, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	steps, ok := c.entries[journeyID]

	return steps, ok
}

func (c *waitStepCache) set(journeyID string, steps []*models.Step) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[journeyID] = steps
}

func (c *waitStepCache) invalidate(journeyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, journeyID)
}
