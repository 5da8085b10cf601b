package report

import "context"

// Repository persists reports. Implementations must make Transition a single
// compare-and-swap on the stored status: the change applies only when the
// record still has change.From, and the loser of a race observes an
// InvalidTransition error carrying the status it lost to.
type Repository interface {
	Create(ctx context.Context, r Report) error
	Get(ctx context.Context, id string) (Report, error)
	// ListByStatus returns reports in status ordered by CreatedAt ascending.
	ListByStatus(ctx context.Context, status Status) ([]Report, error)
	Transition(ctx context.Context, id string, change Change) (Report, error)
}
