package httpgin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/tixpay/internal/metrics"
	redisrepo "github.com/kirinyoku/tixpay/internal/repository/redis"
	"github.com/kirinyoku/tixpay/internal/service"
	"github.com/kirinyoku/tixpay/internal/service/admin"
	"github.com/kirinyoku/tixpay/internal/service/checkout"
	"github.com/kirinyoku/tixpay/internal/service/query"
	"github.com/kirinyoku/tixpay/internal/service/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const (
	maxWebhookBody   = 1 << 20
	idemLockTTL      = 60 * time.Second
	defaultExhausted = 100
)

type Options struct {
	// Idem enables Idempotency-Key handling on POST /payment when set.
	Idem        *redisrepo.IdempotencyStore
	Metrics     *metrics.HTTPMetrics
	Gatherer    prometheus.Gatherer
	AdminKey    string
	CORSOrigins []string
}

func NewRouter(
	svcs *service.Services,
	opts Options,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(
		gin.Recovery(),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
		MetricsMiddleware(opts.Metrics),
		CORS(opts.CORSOrigins),
	)
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	// Public API
	r.GET("/events/:id", handleGetEvent(svcs))
	r.GET("/events/:id/ticket-types", handleListTicketTypes(svcs))
	r.GET("/ticket-types/:id/availability", handleGetAvailability(svcs))
	r.GET("/orders/:id", handleGetOrder(svcs))

	payment := r.Group("/payment")
	{
		payment.POST("", UserIDMiddleware(), handleCreatePayment(svcs, opts.Idem))
		payment.POST("/webhook", handleWebhook(svcs))

		retry := payment.Group("/retry", AdminKeyMiddleware(opts.AdminKey))
		retry.POST("/process", handleRetryProcess(svcs))
		retry.GET("/stats", handleRetryStats(svcs))
		retry.GET("/exhausted", handleRetryExhausted(svcs))
		retry.POST("/purge", handleRetryPurge(svcs))
	}

	// Admin-API
	adm := r.Group("/admin", AdminKeyMiddleware(opts.AdminKey))
	{
		adm.POST("/events", handleCreateEvent(svcs))
		adm.POST("/events/:id/ticket-types", handleCreateTicketType(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Get event
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  EventResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id} [get]
func handleGetEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		e, err := svcs.Query.GetEvent(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		respondCached(c, toEventResponse(e), time.Minute)
	}
}

// @Summary  List ticket types of an event with availability
// @Param    id  path  int  true  "Event ID"
// @Success  200  {array}   TicketTypeResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id}/ticket-types [get]
func handleListTicketTypes(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		list, err := svcs.Query.ListTicketTypes(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		resp := make([]TicketTypeResponse, 0, len(list))
		for _, av := range list {
			resp = append(resp, toAvailabilityResponse(av))
		}
		respondCached(c, resp, 15*time.Second)
	}
}

// @Summary  Get ticket type availability
// @Param    id  path  int  true  "Ticket type ID"
// @Success  200  {object}  TicketTypeResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /ticket-types/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ticketTypeID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		av, err := svcs.Query.Availability(c.Request.Context(), ticketTypeID)
		if err != nil {
			respondErr(c, err)
			return
		}
		respondCached(c, toAvailabilityResponse(*av), 15*time.Second)
	}
}

// @Summary  Get order with its payment attempts
// @Param    id  path  string  true  "Order ID (uuid)"
// @Success  200 {object} OrderWithPaymentsResponse
// @Failure  404 {object} ErrorResponse
// @Router   /orders/{id} [get]
func handleGetOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			badRequest(c, "invalid id")
			return
		}
		o, err := svcs.Query.GetOrder(c.Request.Context(), orderID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toOrderWithPaymentsResponse(o))
	}
}

// @Summary  Create order and payment intent (idempotent)
// @Param    X-User-ID        header  int     true  "Buyer ID"
// @Param    Idempotency-Key  header  string  false "Replay key"
// @Param    req body  CreatePaymentRequest true "payload"
// @Success  201 {object} CreatePaymentResponse
// @Failure  400 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse "ticket type not found"
// @Failure  409 {object} ErrorResponse "insufficient stock / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Failure  502 {object} GatewayErrorResponse "order kept, payment queued for retry"
// @Router   /payment [post]
func handleCreatePayment(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreatePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		uid := userID(c)

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemPayment(uid, idemKey)

			if replayed := replayIdem(c, idem, idemStorageKey, idemKey); replayed {
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, idemLockTTL)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if replayed := replayIdem(c, idem, idemStorageKey, idemKey); replayed {
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		res, err := svcs.Checkout.Checkout(c.Request.Context(), checkout.Request{
			UserID:       uid,
			TicketTypeID: req.TicketTypeID,
			Quantity:     req.Quantity,
			ClientTotal:  req.Total,
		})

		// The order exists even when the gateway failed, so the 502 is
		// remembered like a success.
		if err != nil && errors.Is(err, checkout.ErrGatewayUnavailable) && res != nil && res.Order != nil {
			_ = c.Error(err)
			resp := GatewayErrorResponse{Error: "payment gateway unavailable", OrderID: res.Order.ID.String()}
			saveIdem(c, idem, idemStorageKey, idemKey, http.StatusBadGateway, resp)
			c.JSON(http.StatusBadGateway, resp)
			return
		}

		if err != nil {
			if idemStorageKey != "" {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}

			var rl *checkout.RateLimitedError
			if errors.As(err, &rl) {
				c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(rl.RetryAfter)))
				c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
				return
			}
			respondErr(c, err)
			return
		}

		resp := toCreatePaymentResponse(res)
		saveIdem(c, idem, idemStorageKey, idemKey, http.StatusCreated, resp)
		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Gateway payment status webhook
// @Param    X-Signature  header  string  false "hex HMAC-SHA256"
// @Param    X-Timestamp  header  string  false "unix seconds"
// @Success  200 {object} webhook.Result
// @Failure  400 {object} ErrorResponse
// @Failure  401 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse
// @Router   /payment/webhook [post]
func handleWebhook(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			badRequest(c, "unreadable body")
			return
		}

		res, err := svcs.Webhook.Handle(c.Request.Context(), body, webhook.Signature{
			Value:     strings.TrimSpace(c.GetHeader("X-Signature")),
			Timestamp: strings.TrimSpace(c.GetHeader("X-Timestamp")),
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// @Summary  Run one retry sweep now
// @Param    X-Admin-Key  header  string  true  "Operator key"
// @Success  200 {object} retry.SweepResult
// @Router   /payment/retry/process [post]
func handleRetryProcess(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := svcs.Retry.ProcessQueue(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// @Summary  Retry queue statistics
// @Param    X-Admin-Key  header  string  true  "Operator key"
// @Success  200 {object} domain.RetryStats
// @Router   /payment/retry/stats [get]
func handleRetryStats(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := svcs.Retry.Stats(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

// @Summary  Retry tickets that ran out of attempts
// @Param    X-Admin-Key  header  string  true  "Operator key"
// @Param    limit  query  int  false "page size (max 500)"
// @Success  200 {array} RetryTicketResponse
// @Router   /payment/retry/exhausted [get]
func handleRetryExhausted(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseIntDefault(c.Query("limit"), defaultExhausted)
		list, err := svcs.Retry.Exhausted(c.Request.Context(), limit)
		if err != nil {
			respondErr(c, err)
			return
		}
		resp := make([]RetryTicketResponse, 0, len(list))
		for _, t := range list {
			resp = append(resp, toRetryTicketResponse(t))
		}
		c.JSON(http.StatusOK, resp)
	}
}

// @Summary  Delete settled retry tickets past retention
// @Param    X-Admin-Key  header  string  true  "Operator key"
// @Success  200 {object} PurgeResponse
// @Router   /payment/retry/purge [post]
func handleRetryPurge(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := svcs.Retry.Purge(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, PurgeResponse{Purged: n})
	}
}

// @Summary  Create event
// @Param    X-Admin-Key  header  string  true  "Operator key"
// @Param    req body  CreateEventRequest true "payload"
// @Success  201 {object} EventResponse
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse
// @Router   /admin/events [post]
func handleCreateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		starts, err := parseRFC3339(req.StartsAt)
		if err != nil {
			badRequest(c, "invalid starts_at (RFC3339)")
			return
		}
		ends, err := parseRFC3339(req.EndsAt)
		if err != nil {
			badRequest(c, "invalid ends_at (RFC3339)")
			return
		}
		e, err := svcs.Admin.CreateEvent(c.Request.Context(), req.Title, req.Venue, starts, ends)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, toEventResponse(e))
	}
}

// @Summary  Create ticket type
// @Param    X-Admin-Key  header  string  true  "Operator key"
// @Param    id  path  int  true  "Event ID"
// @Param    req body  CreateTicketTypeRequest true "payload"
// @Success  201 {object} TicketTypeResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse
// @Router   /admin/events/{id}/ticket-types [post]
func handleCreateTicketType(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req CreateTicketTypeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		tt, err := svcs.Admin.CreateTicketType(
			c.Request.Context(),
			eventID,
			req.Category,
			req.UnitPrice,
			req.TotalStock,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, toTicketTypeResponse(*tt))
	}
}

// --- Helpers ---

func replayIdem(c *gin.Context, idem *redisrepo.IdempotencyStore, key, idemKey string) bool {
	status, payload, ok, _ := idem.GetResult(c.Request.Context(), key)
	if !ok {
		return false
	}
	c.Header("Idempotency-Key", idemKey)
	c.Data(status, "application/json; charset=utf-8", []byte(payload))
	return true
}

func saveIdem(c *gin.Context, idem *redisrepo.IdempotencyStore, key, idemKey string, status int, v any) {
	if idem == nil || key == "" {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = idem.SaveResult(c.Request.Context(), key, status, string(b))
	c.Header("Idempotency-Key", idemKey)
}

func retryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// checkout service
	case errors.Is(err, checkout.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid quantity"})
	case errors.Is(err, checkout.ErrTotalMismatch):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "total does not match price"})
	case errors.Is(err, checkout.ErrTicketTypeNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket type not found"})
	case errors.Is(err, checkout.ErrInsufficientStock):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "insufficient stock"})
	case errors.Is(err, checkout.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "payment gateway unavailable"})
	// webhook service
	case errors.Is(err, webhook.ErrMissingSignature),
		errors.Is(err, webhook.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid signature"})
	case errors.Is(err, webhook.ErrMalformedPayload):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed payload"})
	case errors.Is(err, webhook.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "payment not found"})
	// admin service
	case errors.Is(err, admin.ErrEventConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "event conflict"})
	case errors.Is(err, admin.ErrTicketTypeConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "ticket type conflict"})
	case errors.Is(err, admin.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
	case errors.Is(err, admin.ErrInvalidSchedule):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: admin.ErrInvalidSchedule.Error()})
	case errors.Is(err, admin.ErrInvalidTicketType):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: admin.ErrInvalidTicketType.Error()})
	// query service
	case errors.Is(err, query.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
	case errors.Is(err, query.ErrTicketTypeNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket type not found"})
	case errors.Is(err, query.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "order not found"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
