package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"strategy-core/pkg/db"
)

type accountRequest struct {
	Name      string `json:"name" binding:"required"`
	Venue     string `json:"venue"`
	APIKey    string `json:"api_key" binding:"required"`
	APISecret string `json:"api_secret" binding:"required"`
	Testnet   bool   `json:"testnet"`
}

func (s *Server) handleCreateAccount(c *gin.Context) {
	if s.secrets == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "NO_ENCRYPTION_KEY",
			"error": "credential storage requires an encryption key",
		})
		return
	}
	var req accountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}
	if req.Venue == "" {
		req.Venue = "binance-usdtfut"
	}
	keyEnc, err := s.secrets.Encrypt(req.APIKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": "encrypt credentials"})
		return
	}
	secretEnc, err := s.secrets.Encrypt(req.APISecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": "encrypt credentials"})
		return
	}
	rec := db.Account{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Venue:        req.Venue,
		APIKeyEnc:    keyEnc,
		APISecretEnc: secretEnc,
		Testnet:      req.Testnet,
	}
	if err := s.db.CreateAccount(c.Request.Context(), rec); err != nil {
		c.JSON(http.StatusConflict, gin.H{"code": "CONFLICT", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleListAccounts(c *gin.Context) {
	list, err := s.db.ListAccounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": list})
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	name := c.Param("name")
	if err := s.db.DeleteAccount(c.Request.Context(), name); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": name})
}
