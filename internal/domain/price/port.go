package price

import "context"

// Source never returns failures out of band: every outcome is carried by the Observation.
type Source interface {
	Fetch(ctx context.Context, productRef string) Observation
}
