package system

import "context"

// Service is a background component owned by the Manager. Start must not
// block; Stop waits for in-flight work or until ctx is done.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
