package ports

import "context"

// Engine runs named configurations of the external inference engine. A
// failure of one name does not prevent the others from running.
type Engine interface {
	Run(ctx context.Context, names []string) error
	// CachedDB returns the path of the result database of name after a successful run
	CachedDB(name string) string
}
