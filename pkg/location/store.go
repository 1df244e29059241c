// Package location provides the durable record of each customer's current
// step per journey, with the pessimistic locking that serializes concurrent
// advancement attempts.
package location

import (
	"context"
	"errors"

	"github.com/loopkit/loopkit/pkg/models"
)

// Standard error kinds callers classify on. "not enrolled" and "enrolled but
// still moving" are deliberately distinct: the first is a silent no-op, the
// second is retryable.
var (
	// ErrNotEnrolled indicates no location row exists for the
	// (journey, customer) pair.
	ErrNotEnrolled = errors.New("customer not enrolled in journey")

	// ErrCustomerStillMoving indicates the row's lock is held by another
	// in-flight transition. Always retryable, never data corruption.
	ErrCustomerStillMoving = errors.New("customer still moving")

	// ErrAlreadyEnrolled indicates a duplicate (journey, customer) key on
	// enrollment. Surfaced for upstream deduplication, not swallowed.
	ErrAlreadyEnrolled = errors.New("customer already enrolled in journey")
)

// Store is the journey location state machine's persistence. Lock and Unlock
// bracket the ENROLLED -> MOVING -> ENROLLED transition; Unlock must run on
// every exit path of an evaluation.
type Store interface {
	// FindForWrite locates the customer's current row. Returns nil (no
	// error) when the customer is not enrolled; callers treat that as
	// "event not applicable".
	FindForWrite(ctx context.Context, journeyID, customerID string, workspace models.WorkspaceContext) (*models.Location, error)

	// FindForWriteBulk is the batch variant used by mass enrollment.
	FindForWriteBulk(ctx context.Context, journeyID string, customerIDs []string, workspace models.WorkspaceContext) ([]*models.Location, error)

	// GetCustomerIDs lists every customer currently enrolled in a journey.
	GetCustomerIDs(ctx context.Context, journeyID string) ([]string, error)

	// Lock acquires exclusive access to the row for one evaluation.
	// Returns ErrCustomerStillMoving when another holder is mid-transition
	// and ErrNotEnrolled when the row is gone.
	Lock(ctx context.Context, loc *models.Location, session string) error

	// Unlock releases the lock; a non-empty stepID also advances the
	// recorded step and step-entry timestamp.
	Unlock(ctx context.Context, loc *models.Location, stepID string) error

	// TouchLastMessage records a message send on the row.
	TouchLastMessage(ctx context.Context, loc *models.Location) error

	// CreateBulk enrolls customers. Duplicate keys surface
	// ErrAlreadyEnrolled.
	CreateBulk(ctx context.Context, locations []*models.Location) error

	// Delete un-enrolls a customer. Completion does not delete rows; only
	// explicit un-enrollment does.
	Delete(ctx context.Context, journeyID, customerID string) error

	// AtSteps returns unlocked rows sitting at any of the given steps,
	// feeding the time-based trigger scan.
	AtSteps(ctx context.Context, journeyID string, stepIDs []string) ([]*models.Location, error)
}
