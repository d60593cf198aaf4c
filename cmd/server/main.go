package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"invoicing-service/config"
	"invoicing-service/internal/api"
	"invoicing-service/internal/broker"
	"invoicing-service/internal/mailer"
	"invoicing-service/internal/pdf"
	"invoicing-service/internal/redisclient"
	"invoicing-service/internal/service"
	"invoicing-service/internal/store"
	"invoicing-service/internal/util"
	"invoicing-service/internal/worker"
	"invoicing-service/internal/wsaa"
	"invoicing-service/internal/wsfe"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting invoicing service")

	tp, err := util.InitTracer("invoicing-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	eventProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvent)
	defer eventProducer.Close()
	emailProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEmail)
	defer emailProducer.Close()
	log.Println("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(eventProducer)

	ticketStore, err := wsaa.NewBoltStore(cfg.Afip.TicketDBPath)
	if err != nil {
		log.Fatalf("Failed to open ticket store: %v", err)
	}
	defer ticketStore.Close()

	signer, err := wsaa.NewCMSSigner(cfg.Afip.CertPath, cfg.Afip.KeyPath)
	if err != nil {
		log.Fatalf("Failed to load signing credentials: %v", err)
	}

	ticketManager := wsaa.NewManager(wsaa.Config{
		Environment: cfg.Afip.Environment(),
		URL:         cfg.Afip.WSAAURL,
		Store:       ticketStore,
		Signer:      signer,
	})

	wireClient := wsfe.NewClient(cfg.Afip.WSFEURL, cfg.Afip.Cuit, wsaa.TokenProvider{Manager: ticketManager})

	ingestionService := service.NewIngestionService(db, redisClient, eventPublisher, cfg.Business.DuplicateWindowMinutes)
	resolverService := service.NewResolverService(db, eventPublisher)
	invoiceService := service.NewInvoiceService(db, eventPublisher)

	issuer := worker.NewIssuer(
		db,
		wireClient,
		pdf.NewRenderer(),
		mailer.NewKafkaMailer(emailProducer),
		redisClient,
		eventPublisher,
		cfg.Afip,
		cfg.Business,
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go issuer.Run(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(ingestionService, resolverService, invoiceService, db, issuer, db, redisClient)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()

	log.Println("Server exited")
}
