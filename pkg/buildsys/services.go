package buildsys

import (
	"context"
	"net/http"
	"time"

	"github.com/oop/memory-store/build-tools/pkg/storage"
)

// Services carries the runtime dependencies of built-in actions
type Services struct {
	Client          *http.Client
	UserAgent       string
	LocalRepository string
	History         *storage.History
	Progress        bool
	Now             func() time.Time
}

type servicesKey struct{}

// WithServices attaches the services used by actions to the context
func WithServices(ctx context.Context, services *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, services)
}

func getServices(ctx context.Context) *Services {
	services, ok := ctx.Value(servicesKey{}).(*Services)
	if !ok || services == nil {
		return &Services{}
	}

	return services
}

func (s *Services) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}

	return time.Now()
}
