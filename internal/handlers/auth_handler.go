package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type RegisterRequest struct {
	Username     string `json:"username" binding:"required"`
	Password     string `json:"password" binding:"required"`
	Confirmation string `json:"confirmation" binding:"required"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Cash     string `json:"cash"`
}

func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username, password and confirmation are required"})
		return
	}

	user, err := h.auth.Register(c.Request.Context(), req.Username, req.Password, req.Confirmation)
	if err != nil {
		h.renderError(c, err)
		return
	}

	token, err := h.auth.IssueToken(user)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{
		Token:    token,
		Username: user.Username,
		Cash:     user.Cash.StringFixed(2),
	})
}

func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	user, err := h.auth.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.renderError(c, err)
		return
	}

	token, err := h.auth.IssueToken(user)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		Token:    token,
		Username: user.Username,
		Cash:     user.Cash.StringFixed(2),
	})
}

// Logout exists for surface completeness: sessions are stateless tokens,
// so logging out is the client discarding its token.
func (h *Handler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}
