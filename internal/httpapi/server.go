// Package httpapi exposes the payment pipeline over HTTP: the webhook
// intake, the scheduler-triggered outbox drain, and the session-guarded
// wallet and ticket endpoints.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/tempandmajor/commonly-payments/internal/idempotency"
	"github.com/tempandmajor/commonly-payments/internal/outbox"
	"github.com/tempandmajor/commonly-payments/internal/provider"
	"github.com/tempandmajor/commonly-payments/internal/ticket"
	"github.com/tempandmajor/commonly-payments/internal/wallet"
	"github.com/tempandmajor/commonly-payments/internal/webhook"
	"github.com/tempandmajor/commonly-payments/pkg/ledger"
)

const claimsContextKey = "auth_claims"

// OutboxAppender enqueues durable side-effect intents from the API surface.
type OutboxAppender interface {
	AppendOutboxEvent(ctx context.Context, eventType outbox.EventType, payload json.RawMessage, atUnixUTC int64) error
}

// Dependencies carries the wired services the API serves.
type Dependencies struct {
	Webhook     *webhook.Service
	Worker      *outbox.Worker
	Ledger      *ledger.Service
	Wallet      *wallet.Service
	Tickets     *ticket.Service
	Idempotency idempotency.Store
	Outbox      OutboxAppender
	Now         func() int64
	Logger      *zap.Logger
}

func (deps *Dependencies) validate() error {
	if deps.Webhook == nil || deps.Worker == nil || deps.Ledger == nil || deps.Wallet == nil ||
		deps.Tickets == nil || deps.Idempotency == nil || deps.Outbox == nil {
		return errors.New("httpapi: missing service dependency")
	}
	if deps.Now == nil {
		deps.Now = func() int64 { return time.Now().UTC().Unix() }
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return nil
}

// Run boots the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	router, err := NewRouter(cfg, deps)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		deps.Logger.Info("payments api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			deps.Logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter assembles the gin engine with every route mounted.
func NewRouter(cfg Config, deps Dependencies) (*gin.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}

	handler := &httpHandler{cfg: cfg, deps: deps}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", idempotency.HeaderName},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/webhooks/payments", handler.handleWebhook)
	router.POST("/internal/outbox/drain", handler.handleDrain)

	api := router.Group("/api")
	api.Use(sessionValidator.GinMiddleware(claimsContextKey))
	api.GET("/wallet", handler.handleWallet)
	api.POST("/tickets", handler.handleTickets)
	api.POST("/payment-methods",
		idempotency.Middleware(deps.Idempotency, deps.Now, deps.Logger),
		handler.handlePaymentMethods,
	)

	return router, nil
}

type httpHandler struct {
	cfg  Config
	deps Dependencies
}

func (handler *httpHandler) handleWebhook(ctx *gin.Context) {
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_body", "could not read request body"))
		return
	}
	receipt, err := handler.deps.Webhook.Receive(ctx.Request.Context(), body, ctx.GetHeader(handler.cfg.SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrSignatureInvalid):
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_signature", "signature verification failed"))
		case errors.Is(err, webhook.ErrMalformedEvent):
			ctx.JSON(http.StatusBadRequest, errorResponse("malformed_event", "event body did not parse"))
		default:
			handler.deps.Logger.Error("webhook intake failed", zap.Error(err))
			ctx.JSON(http.StatusInternalServerError, errorResponse("intake_failed", "event could not be stored"))
		}
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"event_id":  receipt.EventID,
		"type":      receipt.Type,
		"duplicate": receipt.Duplicate,
	})
}

func (handler *httpHandler) handleDrain(ctx *gin.Context) {
	secret := ctx.GetHeader("Authorization")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(handler.cfg.SchedulerSecret)) != 1 {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing or invalid scheduler secret"))
		return
	}
	result, err := handler.deps.Worker.Drain(ctx.Request.Context(), handler.cfg.DrainBatchSize)
	if err != nil {
		handler.deps.Logger.Error("outbox drain failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("drain_failed", "drain pass aborted"))
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	userID, err := ledger.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
		return
	}
	balance, err := handler.deps.Wallet.Balance(ctx.Request.Context(), userID.String())
	if err != nil {
		handler.deps.Logger.Error("wallet balance fetch failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("wallet_error", "wallet unavailable"))
		return
	}
	entries, err := handler.deps.Ledger.WalletEntries(ctx.Request.Context(), userID, 0, WalletHistoryLimit())
	if err != nil {
		handler.deps.Logger.Error("wallet entries fetch failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("wallet_error", "wallet unavailable"))
		return
	}
	payloads := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, entryPayload{
			EntryID:        entry.EntryID,
			TransactionID:  entry.TransactionID,
			AmountCents:    entry.AmountCents.Int64(),
			Description:    entry.Description,
			CreatedUnixUTC: entry.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{
		"balance_cents": balance,
		"entries":       payloads,
	})
}

func (handler *httpHandler) handleTickets(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request ticketRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	switch request.Action {
	case "mint":
		token, err := handler.deps.Tickets.Mint(ctx.Request.Context(), claims.GetUserID(), request.TicketID)
		if err != nil {
			handler.respondTicketError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"token": token})
	case "scan":
		redeemed, err := handler.deps.Tickets.Scan(ctx.Request.Context(), claims.GetUserRoles(), ticket.ScanRequest{
			EventID: request.EventID,
			Token:   request.Token,
			Code:    request.Code,
		})
		if err != nil {
			handler.respondTicketError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"ticket": gin.H{
			"id":       redeemed.TicketID,
			"event_id": redeemed.EventID,
			"status":   redeemed.Status.String(),
		}})
	default:
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_action", "action must be mint or scan"))
	}
}

func (handler *httpHandler) respondTicketError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, ticket.ErrForbidden):
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "caller may not perform this action"))
	case errors.Is(err, ticket.ErrTicketNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "ticket not found"))
	case errors.Is(err, ticket.ErrInvalidState):
		ctx.JSON(http.StatusConflict, errorResponse("invalid_state", "ticket is not active"))
	case errors.Is(err, ticket.ErrInvalidOrAlreadyUsed):
		ctx.JSON(http.StatusConflict, errorResponse("invalid_or_already_used", "ticket invalid or already used"))
	default:
		handler.deps.Logger.Error("ticket operation failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ticket_error", "ticket operation failed"))
	}
}

func (handler *httpHandler) handlePaymentMethods(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request paymentMethodRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	if request.PaymentMethodID == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "payment_method_id is required"))
		return
	}
	payload, err := outbox.MarshalPayload(outbox.PaymentMethodAddedPayload{
		UserID:          claims.GetUserID(),
		PaymentMethodID: request.PaymentMethodID,
	})
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, errorResponse("enqueue_failed", "could not record payment method"))
		return
	}
	if err := handler.deps.Outbox.AppendOutboxEvent(ctx.Request.Context(), outbox.EventPaymentMethodAdded, payload, handler.deps.Now()); err != nil {
		handler.deps.Logger.Error("payment method enqueue failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("enqueue_failed", "could not record payment method"))
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type ticketRequest struct {
	Action   string `json:"action"`
	TicketID string `json:"ticketId"`
	EventID  string `json:"eventId"`
	Token    string `json:"token"`
	Code     string `json:"code"`
}

type paymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
}

type entryPayload struct {
	EntryID        string `json:"entry_id"`
	TransactionID  string `json:"transaction_id"`
	AmountCents    int64  `json:"amount_cents"`
	Description    string `json:"description"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}
