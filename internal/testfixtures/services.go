package testfixtures

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/example/clinic-scheduler/internal/application"
	"github.com/example/clinic-scheduler/internal/cache"
	"github.com/example/clinic-scheduler/internal/persistence"
)

// TestTokenSecret signs access tokens minted by factory-built services.
const TestTokenSecret = "test-token-secret"

// TestTokenIssuer is the iss claim of factory-built access tokens.
const TestTokenIssuer = "clinic-scheduler-test"

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// AuthServiceDeps captures dependencies for constructing an auth service.
// A nil StatusCache gets an in-memory one driven by the factory clock.
type AuthServiceDeps struct {
	Users       persistence.UserRepository
	Sessions    persistence.SessionRepository
	StatusCache application.SessionStatusCache
	Metrics     application.MetricsRecorder
	Policy      *application.AuthPolicy
	AccessTTL   time.Duration
	Logger      zerolog.Logger
}

// NewAuthService builds an auth service using the supplied dependencies.
func (f *ServiceFactory) NewAuthService(deps AuthServiceDeps) *application.AuthService {
	now := f.Clock.NowFunc()
	tokens, err := application.NewAccessTokenIssuer(TestTokenSecret, TestTokenIssuer, deps.AccessTTL, now)
	if err != nil {
		panic(err)
	}
	status := deps.StatusCache
	if status == nil {
		status = cache.NewSessionStatusStore(cache.NewMemoryCacheWithClock(now, 0), 0, 0)
	}
	policy := application.DefaultAuthPolicy()
	if deps.Policy != nil {
		policy = *deps.Policy
	}
	return application.NewAuthServiceWithLogger(
		deps.Users,
		deps.Sessions,
		tokens,
		status,
		deps.Metrics,
		now,
		policy,
		deps.Logger,
	)
}

// SlotServiceDeps captures dependencies for constructing a slot service.
type SlotServiceDeps struct {
	Slots       persistence.SlotRepository
	Users       persistence.UserRepository
	Metrics     application.MetricsRecorder
	Policy      application.SlotPolicy
	IDGenerator func() string
	Logger      zerolog.Logger
}

// NewSlotService builds a slot service using the supplied dependencies.
func (f *ServiceFactory) NewSlotService(deps SlotServiceDeps) *application.SlotService {
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = f.IDGenerator.NextFunc()
	}
	return application.NewSlotServiceWithLogger(
		deps.Slots,
		deps.Users,
		deps.Metrics,
		idGen,
		f.Clock.NowFunc(),
		deps.Policy,
		deps.Logger,
	)
}

// UserServiceDeps captures dependencies for constructing a user service.
type UserServiceDeps struct {
	Users       persistence.UserRepository
	IDGenerator func() string
	Logger      zerolog.Logger
}

// NewUserService builds a user service with cheap password hashing.
func (f *ServiceFactory) NewUserService(deps UserServiceDeps) *application.UserService {
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = f.IDGenerator.NextFunc()
	}
	return application.NewUserServiceWithLogger(
		deps.Users,
		FastPasswordHasher,
		idGen,
		f.Clock.NowFunc(),
		deps.Logger,
	)
}

// Services bundles the application services over one harness.
type Services struct {
	Auth  *application.AuthService
	Slots *application.SlotService
	Users *application.UserService
}

// NewServices wires every service to the harness repositories.
func (f *ServiceFactory) NewServices(h *SQLiteHarness) Services {
	return Services{
		Auth:  f.NewAuthService(AuthServiceDeps{Users: h.Users, Sessions: h.Sessions}),
		Slots: f.NewSlotService(SlotServiceDeps{Slots: h.Slots, Users: h.Users}),
		Users: f.NewUserService(UserServiceDeps{Users: h.Users}),
	}
}
