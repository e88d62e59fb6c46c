package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chainscope/txgate/internal/observability"
	"github.com/chainscope/txgate/internal/waf"
)

// defaultAdminBanTTL applies when a manual ban does not specify one.
const defaultAdminBanTTL = 15 * time.Minute

type wafAdminHandlers struct {
	engine *waf.Engine
	logger observability.Logger
}

type banRequest struct {
	IP     string `json:"ip" binding:"required"`
	TTL    string `json:"ttl"`
	Reason string `json:"reason"`
}

func (h *wafAdminHandlers) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Stats())
}

func (h *wafAdminHandlers) bans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bans": h.engine.Bans()})
}

func (h *wafAdminHandlers) ban(c *gin.Context) {
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "reason": err.Error()})
		return
	}

	ttl := defaultAdminBanTTL
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "reason": "ttl must be a positive duration"})
			return
		}
		ttl = parsed
	}

	reason := req.Reason
	if reason == "" {
		reason = "manual ban"
	}

	h.engine.Ban(req.IP, reason, ttl)
	h.logger.Info("admin banned ip",
		observability.String("ip", req.IP),
		observability.Duration("ttl", ttl))

	c.JSON(http.StatusOK, gin.H{
		"ip":           req.IP,
		"banned_until": time.Now().Add(ttl),
	})
}

func (h *wafAdminHandlers) unban(c *gin.Context) {
	ip := c.Param("ip")
	if !h.engine.Unban(ip) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	h.logger.Info("admin unbanned ip", observability.String("ip", ip))
	c.Status(http.StatusNoContent)
}
