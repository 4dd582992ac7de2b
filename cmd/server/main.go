package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/ibbs/backend/docs"
	"github.com/ibbs/backend/internal/config"
	"github.com/ibbs/backend/internal/database"
	mW "github.com/ibbs/backend/internal/middleware"
	"github.com/ibbs/backend/internal/providers"
	"github.com/ibbs/backend/internal/services"
)

// @title IBBS Booking Backend API
// @version 1.0
// @description Seat reservation and payment reconciliation API for the intercity bus booking system
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	viper.BindEnv("booking.lock_ttl_default", "BOOKING_LOCK_TTL_DEFAULT")
	viper.BindEnv("booking.lock_ttl_max", "BOOKING_LOCK_TTL_MAX")
	viper.BindEnv("booking.webhook_retention", "BOOKING_WEBHOOK_RETENTION")
	viper.BindEnv("booking.default_currency", "BOOKING_DEFAULT_CURRENCY")

	viper.BindEnv("payments.flutterwave_secret", "FLUTTERWAVE_SECRET")
	viper.BindEnv("payments.mtn_secret", "MTN_SECRET")
	viper.BindEnv("payments.airtel_secret", "AIRTEL_SECRET")
	viper.BindEnv("payments.callback_host", "PAYMENT_CALLBACK_HOST")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	db := database.MustOpenPostgres()
	defer db.Close()

	redisClient := database.MustOpenRedis()
	defer redisClient.Close()

	bookingCfg := config.LoadBookingConfig()
	providerCfg := config.LoadProviderConfig()

	// Adapters are selected per request from this immutable registry.
	registry := providers.NewRegistry(
		providers.NewFlutterwave(providerCfg.FlutterwaveSecret, providerCfg.CallbackHost),
		providers.NewMTN(providerCfg.MTNSecret),
		providers.NewAirtel(providerCfg.AirtelSecret),
	)

	lockService := services.NewSeatLockService(redisClient)
	bookingService := services.NewBookingService(db, lockService, bookingCfg)
	ticketService := services.NewTicketService(db)
	notificationService := services.NewNotificationService(redisClient)
	paymentService := services.NewPaymentService(db, redisClient, registry, lockService, ticketService, notificationService, bookingCfg)

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		// Provider webhooks authenticate by signature, not bearer token.
		r.Post("/payments/webhook/{provider}", paymentService.HandleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/bookings/locks", bookingService.LockSeat)
			r.Post("/bookings/locks/release", bookingService.ReleaseLock)
			r.Post("/bookings/confirm", bookingService.ConfirmBooking)
			r.Get("/bookings/{bookingId}", bookingService.GetBookingByID)

			r.Get("/trips/{tripId}/availability", bookingService.TripAvailability)

			r.Post("/payments/initiate", paymentService.InitiatePayment)
			r.Get("/tickets/{bookingId}", ticketService.GetTicket)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
