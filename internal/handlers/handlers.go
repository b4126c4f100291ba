package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tradesim/internal/auth"
	"tradesim/internal/broker"
	"tradesim/internal/quotes"
)

// Handler holds dependencies for the API endpoints.
type Handler struct {
	logger *zap.Logger
	engine *broker.Engine
	auth   *auth.Service
}

// NewHandler creates a new Handler.
func NewHandler(logger *zap.Logger, engine *broker.Engine, authService *auth.Service) *Handler {
	return &Handler{logger: logger, engine: engine, auth: authService}
}

// Routes builds the gin engine with all API routes mounted.
func (h *Handler) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.POST("/register", h.Register)
	api.POST("/login", h.Login)

	authed := api.Group("")
	authed.Use(h.AuthMiddleware())
	authed.POST("/logout", h.Logout)
	authed.GET("/portfolio", h.Portfolio)
	authed.GET("/quote/:symbol", h.Quote)
	authed.POST("/buy", h.Buy)
	authed.POST("/sell", h.Sell)
	authed.GET("/history", h.History)

	return r
}

// AuthMiddleware rejects requests without a valid Bearer session token
// before any business logic runs, and resolves the acting user's ID.
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		userID, err := h.auth.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		c.Set("user_id", userID)
		c.Next()
	}
}

func currentUserID(c *gin.Context) uint {
	return c.MustGet("user_id").(uint)
}

// renderError maps domain errors to user-displayable responses. Anything
// unrecognized is logged and reported as a generic internal error; the
// underlying cause never reaches the client.
func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, broker.ErrInvalidInput),
		errors.Is(err, broker.ErrInvalidSymbol),
		errors.Is(err, broker.ErrInsufficientFunds),
		errors.Is(err, broker.ErrInsufficientShares),
		errors.Is(err, auth.ErrMissingUsername),
		errors.Is(err, auth.ErrPasswordMismatch),
		errors.Is(err, auth.ErrInvalidCharacter),
		errors.Is(err, auth.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": userMessage(err)})
	case errors.Is(err, quotes.ErrSymbolNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": broker.ErrInvalidSymbol.Error()})
	case errors.Is(err, auth.ErrUserExists):
		c.JSON(http.StatusConflict, gin.H{"error": userMessage(err)})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": userMessage(err)})
	case errors.Is(err, quotes.ErrQuoteUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quotes are temporarily unavailable, please try again"})
	case errors.Is(err, broker.ErrStoreBusy):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": userMessage(err)})
	default:
		h.logger.Error("Unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong"})
	}
}

// userMessage strips any wrapped cause, keeping only the sentinel text.
func userMessage(err error) string {
	for _, sentinel := range []error{
		broker.ErrInvalidInput, broker.ErrInvalidSymbol,
		broker.ErrInsufficientFunds, broker.ErrInsufficientShares,
		broker.ErrStoreBusy,
		auth.ErrMissingUsername, auth.ErrPasswordMismatch,
		auth.ErrInvalidCharacter, auth.ErrWeakPassword,
		auth.ErrUserExists, auth.ErrInvalidCredentials,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
