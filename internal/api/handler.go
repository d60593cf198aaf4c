package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"invoicing-service/internal/models"
	"invoicing-service/internal/service"
	"invoicing-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports backing-service connectivity for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadStore serves the plain read endpoints.
type ReadStore interface {
	GetPaymentByID(ctx context.Context, id string) (*models.Payment, error)
	GetCaseByID(ctx context.Context, id string) (*models.DuplicateCase, error)
}

// IssuerRunner triggers one issuance sweep on demand.
type IssuerRunner interface {
	RunOnce(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	ingestion *service.IngestionService
	resolver  *service.ResolverService
	invoices  *service.InvoiceService
	reader    ReadStore
	issuer    IssuerRunner
	db        Pinger
	cache     Pinger
}

// NewHandler creates a new HTTP handler. issuer and cache may be nil.
func NewHandler(
	ingestion *service.IngestionService,
	resolver *service.ResolverService,
	invoices *service.InvoiceService,
	reader ReadStore,
	issuer IssuerRunner,
	db Pinger,
	cache Pinger,
) *Handler {
	return &Handler{
		ingestion: ingestion,
		resolver:  resolver,
		invoices:  invoices,
		reader:    reader,
		issuer:    issuer,
		db:        db,
		cache:     cache,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/payments", h.ingestPayment)
		v1.GET("/payments/:id", h.getPayment)
		v1.GET("/duplicate-cases/:id", h.getCase)
		v1.POST("/duplicate-cases/:id/resolve", h.resolveCase)
		v1.POST("/invoice-orders", h.createInvoiceOrder)
		v1.GET("/invoice-orders/:id", h.getInvoiceOrder)
		v1.POST("/issuer/run", h.runIssuer)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck verifies backing services are reachable
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"details": err.Error(),
			})
			return
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"details": err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// ingestPayment handles incoming payment events
func (h *Handler) ingestPayment(c *gin.Context) {
	var req service.IngestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.ingestion.Ingest(c.Request.Context(), req)
	if err != nil {
		h.renderServiceError(c, err, "Failed to ingest payment")
		return
	}

	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// getPayment handles get payment by ID
func (h *Handler) getPayment(c *gin.Context) {
	payment, err := h.reader.GetPaymentByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load payment",
			"details": err.Error(),
		})
		return
	}
	if payment == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		return
	}
	c.JSON(http.StatusOK, payment)
}

// getCase handles get duplicate case by ID
func (h *Handler) getCase(c *gin.Context) {
	dc, err := h.reader.GetCaseByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load case",
			"details": err.Error(),
		})
		return
	}
	if dc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Duplicate case not found"})
		return
	}
	c.JSON(http.StatusOK, dc)
}

// resolveCase applies a resolution to an open duplicate case
func (h *Handler) resolveCase(c *gin.Context) {
	var req service.ResolveInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	req.CaseID = c.Param("id")

	result, err := h.resolver.Resolve(c.Request.Context(), req)
	if err != nil {
		h.renderServiceError(c, err, "Failed to resolve case")
		return
	}
	c.JSON(http.StatusOK, result)
}

// createInvoiceOrder handles direct invoice order creation
func (h *Handler) createInvoiceOrder(c *gin.Context) {
	var req service.CreateOrderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, created, err := h.invoices.CreateOrder(c.Request.Context(), req)
	if err != nil {
		h.renderServiceError(c, err, "Failed to create invoice order")
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"order":   order,
		"created": created,
	})
}

// getInvoiceOrder handles get invoice order by ID
func (h *Handler) getInvoiceOrder(c *gin.Context) {
	order, err := h.invoices.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load invoice order",
			"details": err.Error(),
		})
		return
	}
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invoice order not found"})
		return
	}
	c.JSON(http.StatusOK, order)
}

// runIssuer triggers one issuance sweep, mainly for operators and tests
func (h *Handler) runIssuer(c *gin.Context) {
	if h.issuer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Issuer not running"})
		return
	}
	if err := h.issuer.RunOnce(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Issuer sweep failed",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

// renderServiceError maps domain errors onto HTTP statuses
func (h *Handler) renderServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrUnknownCustomer):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrCaseNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCaseState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidResolution):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   fallback,
			"details": err.Error(),
		})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
