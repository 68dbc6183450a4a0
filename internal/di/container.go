package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sokoline/payments-api/internal/payments"
	"github.com/sokoline/payments-api/internal/platform/config"
	"github.com/sokoline/payments-api/internal/repositories"
	"github.com/sokoline/payments-api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	PaymentResults services.PaymentResultService
	Subscriptions  services.SubscriptionService
}

// Deps carries the externally constructed collaborators the container wires together.
type Deps struct {
	Config       config.Config
	Repositories repositories.Registry
	Verifier     payments.ThreeDSVerifier
	Publisher    services.ReconciliationEventPublisher
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// real implementations, while tests can supply stub registries and verifiers.
func NewContainer(_ context.Context, deps Deps) (*Container, error) {
	if deps.Repositories == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("gateway verifier is required")
	}

	subscriptions, err := services.NewSubscriptionService(services.SubscriptionServiceDeps{
		Attachments: deps.Repositories.ShopSubscriptions(),
		Clock:       time.Now,
		Logger:      deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build subscription service: %w", err)
	}

	results, err := services.NewPaymentResultService(services.PaymentResultServiceDeps{
		Repos:         deps.Repositories,
		Verifier:      deps.Verifier,
		Subscriptions: subscriptions,
		Publisher:     deps.Publisher,
		FrontBaseURL:  deps.Config.URLs.FrontBaseURL,
		AdminBaseURL:  deps.Config.URLs.AdminBaseURL,
		Clock:         time.Now,
		Logger:        deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build payment result service: %w", err)
	}

	return &Container{
		Config:       deps.Config,
		Repositories: deps.Repositories,
		Services: Services{
			PaymentResults: results,
			Subscriptions:  subscriptions,
		},
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}
