// Package distribution splits contact records across an agent roster.
package distribution

import (
	"errors"
	"fmt"

	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/domain"
)

// MinAgents is the smallest roster a list may be distributed to.
const MinAgents = 5

var ErrInsufficientAgents = fmt.Errorf("at least %d agents are required to distribute a list", MinAgents)

// Distribute assigns records[i] to agents[i mod len(agents)]. The result has
// exactly one assignment per record, in record order, with ListID unset.
func Distribute(records []domain.Record, agents []int64) ([]domain.Assignment, error) {
	if len(agents) < MinAgents {
		return nil, ErrInsufficientAgents
	}

	assignments := make([]domain.Assignment, len(records))
	for i, rec := range records {
		assignments[i] = domain.Assignment{
			AgentID: agents[i%len(agents)],
			Record:  rec,
		}
	}

	return assignments, nil
}

// Tally counts assignments per agent.
func Tally(assignments []domain.Assignment) map[int64]int {
	counts := make(map[int64]int)
	for _, a := range assignments {
		counts[a.AgentID]++
	}
	return counts
}

// IsInsufficientAgents reports whether err is a roster floor refusal.
func IsInsufficientAgents(err error) bool {
	return errors.Is(err, ErrInsufficientAgents)
}
