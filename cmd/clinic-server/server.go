package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/appointment"
	"github.com/clinic/clinic/internal/domain/directory"
	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/domain/staff"
	"github.com/clinic/clinic/internal/domain/therapy"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/docstore"
	"github.com/clinic/clinic/internal/platform/docstore/memstore"
	"github.com/clinic/clinic/internal/platform/docstore/mongostore"
	"github.com/clinic/clinic/internal/platform/docstore/pgstore"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/websocket"
)

// documentStore is what every backend provides.
type documentStore interface {
	docstore.Store
	docstore.Watcher
}

type backend struct {
	store documentStore
	pool  *pgxpool.Pool
	close func()
}

func (b *backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// openBackend connects the configured document store.
func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			DatabaseURL: cfg.DatabaseURL,
			MaxConns:    cfg.DBMaxConns,
			MinConns:    cfg.DBMinConns,
		})
		if err != nil {
			return nil, err
		}
		store := pgstore.New(pool, logger)
		if err := store.EnsureSchema(ctx, appointment.Collection); err != nil {
			pool.Close()
			return nil, err
		}
		return &backend{store: store, pool: pool, close: pool.Close}, nil

	case config.BackendMongo:
		store, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, err
		}
		if err := store.EnablePrePostImages(ctx, appointment.Collection); err != nil {
			_ = store.Close(ctx)
			return nil, err
		}
		return &backend{store: store, close: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Close(ctx); err != nil {
				logger.Error().Err(err).Msg("mongo disconnect failed")
			}
		}}, nil

	default:
		return &backend{store: memstore.New()}, nil
	}
}

const apiPrefix = "/api/v1"

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:           cfg.AuthIssuer,
		SigningKey:       []byte(cfg.AuthSecret),
		Skipper:          auth.AuthSkipper,
		QueryTokenRoutes: []string{apiPrefix + websocket.Path},
	}
}

// app holds the HTTP server and the long-running workers sharing its store.
type app struct {
	echo     *echo.Echo
	registry *directory.Registry
	trigger  *therapy.Trigger
	hub      *websocket.Hub
}

// authorizeTopic lets staff follow patient counters and their own listings.
func authorizeTopic(registry *directory.Registry, userID, role, topic string) bool {
	if strings.HasPrefix(topic, therapy.TopicPrefix) {
		return auth.ValidRole(role)
	}
	return registry.AuthorizeTopic(userID, role, topic)
}

func newApp(ctx context.Context, cfg *config.Config, b *backend, logger zerolog.Logger) *app {
	a := &app{}
	a.hub = websocket.NewHub(func(userID, role, topic string) bool {
		return authorizeTopic(a.registry, userID, role, topic)
	}, logger)
	a.registry = directory.NewRegistry(ctx, b.store, directory.NewCatalog(directory.PageSizes{
		Patients:     cfg.PatientPageSize,
		Users:        cfg.UserPageSize,
		Appointments: cfg.AppointmentPageSize,
	}), directory.RegistryConfig{
		Debounce:  cfg.SearchDebounce(),
		IdleTTL:   cfg.ListingIdleTTL,
		Publisher: a.hub,
	}, logger)
	a.trigger = therapy.NewTrigger(b.store, logger).WithPublisher(a.hub)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/store", db.HealthHandler(cfg.StoreBackend, b.store, b.pool))

	authCfg := jwtConfig(cfg)
	authMW := auth.JWTMiddleware(authCfg)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(authCfg)
	}
	api := e.Group(apiPrefix, authMW)

	patients := patient.NewPatientRepo(b.store)
	patient.NewHandler(patient.NewService(patients)).RegisterRoutes(api)
	staff.NewHandler(staff.NewService(staff.NewUserRepo(b.store))).RegisterRoutes(api)
	appointment.NewHandler(appointment.NewService(appointment.NewAppointmentRepo(b.store), patients)).RegisterRoutes(api)
	directory.NewHandler(a.registry).RegisterRoutes(api)
	websocket.NewHandler(a.hub, cfg.CORSOrigins).RegisterRoutes(api)

	a.echo = e
	return a
}
