package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chainscope/txgate/internal/auth/wallet"
	"github.com/chainscope/txgate/internal/middleware"
	"github.com/chainscope/txgate/internal/observability"
)

type authHandlers struct {
	auth   *wallet.Authenticator
	logger observability.Logger
}

type nonceRequest struct {
	PubKey string `json:"pubkey" binding:"required"`
}

type nonceResponse struct {
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}

type loginRequest struct {
	PubKey    string `json:"pubkey" binding:"required"`
	Nonce     string `json:"nonce" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Role        string    `json:"role"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// nonce issues a challenge for the wallet in the request body.
func (h *authHandlers) nonce(c *gin.Context) {
	var req nonceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "reason": err.Error()})
		return
	}

	n, err := h.auth.IssueNonce(c.Request.Context(), req.PubKey)
	if err != nil {
		if errors.Is(err, wallet.ErrInvalidPubKey) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "invalid_pubkey",
				"kind":  wallet.ErrorKind(err),
			})
			return
		}
		h.logger.Error("nonce issue failed", observability.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
		return
	}

	c.JSON(http.StatusOK, nonceResponse{Nonce: n.Value, ExpiresAt: n.ExpiresAt})
}

// login exchanges a signed nonce challenge for an access credential. The
// wallet signed "POST\n<path>\n<nonce>", so the request's own method and
// URI feed the verification.
func (h *authHandlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "reason": err.Error()})
		return
	}

	token, cred, err := h.auth.Login(c.Request.Context(), wallet.LoginRequest{
		PubKey:        req.PubKey,
		Nonce:         req.Nonce,
		Signature:     req.Signature,
		Method:        c.Request.Method,
		PathWithQuery: c.Request.URL.RequestURI(),
	})
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, wallet.ErrInvalidPubKey) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"error": "authentication_failed",
			"kind":  wallet.ErrorKind(err),
		})
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		Role:        cred.Role,
		ExpiresAt:   cred.ExpiresAt,
	})
}

// requireCredential rejects requests that did not present a valid bearer
// credential. The verification itself runs in the admission chain; this
// only checks its outcome.
func requireCredential() gin.HandlerFunc {
	return func(c *gin.Context) {
		if middleware.CredentialFromContext(c.Request.Context()) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// requireRole additionally demands a specific role claim.
func requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := middleware.CredentialFromContext(c.Request.Context())
		if cred == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if cred.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
