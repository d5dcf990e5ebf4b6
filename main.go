// File: haggle/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"haggle/config"
	"haggle/cron"
	"haggle/database"
	invoiceRepo "haggle/database/repository/invoice"
	negotiationRepo "haggle/database/repository/negotiation"
	"haggle/handlers"
	"haggle/middleware"
	"haggle/routes"
	"haggle/services/negotiation"
	"haggle/utils"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
)

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()

	database.InitDB()
	utils.InitCache()
	utils.InitFeedClient()

	// Create the Gin router.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	router.Use(gin.Logger())
	router.Use(middleware.RateLimitMiddleware())

	// repositories.
	negRepo := negotiationRepo.NewMongoNegotiationRepo(utils.GetCacheClient(), utils.GetFeedClient(), logger)
	invRepo := invoiceRepo.NewMongoInvoiceRepo()
	if indexed, ok := negRepo.(interface{ EnsureIndexes(context.Context) error }); ok {
		if err := indexed.EnsureIndexes(context.Background()); err != nil {
			logger.Sugar().Fatalf("main: failed to ensure negotiation indexes: %v", err)
		}
	}

	// money policy and payment gateway.
	money := negotiation.NewMoneyPolicy(
		config.AppConfig.FeeRate,
		config.AppConfig.Currency,
		negotiation.FlatRateTax(config.AppConfig.TaxRate),
	)
	var gateway negotiation.PaymentGateway
	if config.AppConfig.StripeKey != "" {
		stripe.Key = config.AppConfig.StripeKey
		gateway = &negotiation.StripeGateway{Logger: logger}
	} else {
		logger.Warn("main: no stripe key configured, using recording gateway")
		gateway = &negotiation.RecordingGateway{Logger: logger}
	}

	// services.
	reminders := cron.NewReminderScheduler()
	engine := &negotiation.DefaultNegotiationService{
		Repo:      negRepo,
		Money:     money,
		Reminders: reminders,
		Logger:    logger,
	}
	paymentHandler := negotiation.NewPaymentHandler(engine, money, gateway, invRepo, logger)

	cron.InitOfferReminderWorker(negRepo, logger)
	utils.StartHealthMonitor(utils.GetCacheClient(), utils.GetFeedClient(), database.MongoClient)

	negotiationHandler := handlers.NewNegotiationHandler(engine, paymentHandler, negRepo, logger)
	routes.RegisterRoutes(router, negotiationHandler)

	// Start the HTTP server.
	port := config.AppConfig.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar().Info("main: server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar().Fatalf("main: server forced to shutdown: %v", err)
	}

	logger.Sugar().Info("main: server stopped gracefully")
}
