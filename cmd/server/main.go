package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/circlein/amenity-booking/internal/booking"
	"github.com/circlein/amenity-booking/internal/config"
	"github.com/circlein/amenity-booking/internal/database"
	"github.com/circlein/amenity-booking/internal/handler"
	"github.com/circlein/amenity-booking/internal/logger"
	"github.com/circlein/amenity-booking/internal/middleware"
	"github.com/circlein/amenity-booking/internal/model"
	"github.com/circlein/amenity-booking/internal/queue"
	"github.com/circlein/amenity-booking/internal/repository"
	"github.com/circlein/amenity-booking/internal/router"
)

// catalogStore is what the server needs from an amenity repository.
type catalogStore interface {
	handler.AmenityCatalog
	booking.AmenityLookup
}

// rulesStore is what the server needs from a rules repository.
type rulesStore interface {
	handler.RulesSeeder
	booking.RulesSource
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logger.Init(cfg.LogLevel, cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Stores ----
	var (
		store     booking.Store
		amenities catalogStore
		rules     rulesStore
	)
	switch cfg.StoreDriver {
	case "memory":
		log.Warn().Msg("using in-memory store, bookings are lost on restart")
		store = repository.NewMemoryBookingRepo()
		amenities = repository.NewMemoryAmenityRepo()
		rules = repository.NewMemoryRulesRepo()
	default:
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			log.Fatal().Err(err).Msg("database")
		}
		defer func() { _ = db.Close() }()
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
		store = repository.NewBookingRepo(db)
		amenities = repository.NewAmenityRepo(db)
		rules = repository.NewRulesRepo(db)
	}

	// ---- Redis (optional) ----
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn().Msg("redis unavailable, rate limiting and response cache disabled")
	} else {
		defer func() { _ = rdb.Close() }()
	}

	// ---- Events (optional) ----
	deps := booking.Deps{Store: store, Amenities: amenities, Rules: rules}
	if cfg.Events.Enabled {
		pub, err := queue.NewPublisher(cfg.Events.URL, cfg.Events.Exchange)
		if err != nil {
			log.Error().Err(err).Msg("event publisher unavailable, events disabled")
		} else {
			defer func() { _ = pub.Close() }()
			deps.Events = pub
		}
		if cfg.Events.AuditEnabled {
			go func() {
				if err := queue.StartAuditConsumer(ctx, cfg.Events.URL, cfg.Events.Exchange, cfg.Events.AuditPath); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("audit consumer stopped")
				}
			}()
		}
	}

	defaults := model.BookingRules{
		MaxPerFamily:              cfg.Booking.MaxPerFamily,
		MaxAdvanceBookingDays:     cfg.Booking.MaxAdvanceBookingDays,
		MinBookingDuration:        cfg.Booking.MinBookingDuration,
		MaxBookingDuration:        cfg.Booking.MaxBookingDuration,
		CancellationDeadlineHours: cfg.Booking.CancellationDeadlineHours,
	}
	engine := booking.New(deps, booking.Options{
		Location:     cfg.Booking.Location(),
		ConflictMode: booking.ConflictMode(cfg.Booking.ConflictMode),
		Waitlist:     cfg.Booking.WaitlistEnabled,
		MaxAttempts:  cfg.Booking.MaxAttempts,
		RetryBase:    cfg.Booking.RetryBase,
		DefaultRules: defaults,
	})

	// ---- HTTP ----
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger())

	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb, "amenities")
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	router.RegisterRoutes(e)
	router.RegisterBookings(e, handler.NewBookingHandler(engine), cfg.JWTSecret, limiter)
	router.RegisterCatalog(e,
		handler.NewAmenityHandler(amenities),
		handler.NewAdminHandler(amenities, rules, cache, defaults),
		cfg.JWTSecret, cache)

	addr := ":" + cfg.Port
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Str("store", cfg.StoreDriver).
			Str("conflict_mode", cfg.Booking.ConflictMode).Bool("waitlist", cfg.Booking.WaitlistEnabled).
			Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
