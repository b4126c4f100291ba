package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// TradeRequest is the typed command built from the request body. Binding
// rejects missing symbols and non-integer or non-positive share counts
// before anything reaches the trade engine.
type TradeRequest struct {
	Symbol string `json:"symbol" binding:"required"`
	Shares int64  `json:"shares" binding:"required,min=1"`
}

func (h *Handler) Buy(c *gin.Context) {
	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and a positive whole number of shares are required"})
		return
	}

	receipt, err := h.engine.ExecuteBuy(c.Request.Context(), currentUserID(c), req.Symbol, req.Shares)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, receipt)
}

func (h *Handler) Sell(c *gin.Context) {
	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and a positive whole number of shares are required"})
		return
	}

	receipt, err := h.engine.ExecuteSell(c.Request.Context(), currentUserID(c), req.Symbol, req.Shares)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, receipt)
}

func (h *Handler) Portfolio(c *gin.Context) {
	view, err := h.engine.Portfolio(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *Handler) Quote(c *gin.Context) {
	view, err := h.engine.Quote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *Handler) History(c *gin.Context) {
	entries, err := h.engine.History(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}
