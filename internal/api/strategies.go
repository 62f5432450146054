package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"strategy-core/internal/sandbox"
	"strategy-core/internal/strategy"
	"strategy-core/pkg/db"
)

type strategyRequest struct {
	Name   string                 `json:"name" binding:"required"`
	Code   string                 `json:"code" binding:"required"`
	Params map[string]any         `json:"params"`
	Policy *strategy.PolicyConfig `json:"policy"`
}

func (r strategyRequest) toRecord(id string) (db.Strategy, error) {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return db.Strategy{}, err
	}
	if r.Params == nil {
		params = []byte("{}")
	}
	policy := []byte("{}")
	if r.Policy != nil {
		if policy, err = json.Marshal(r.Policy); err != nil {
			return db.Strategy{}, err
		}
	}
	return db.Strategy{
		ID:     id,
		Name:   r.Name,
		Code:   r.Code,
		Params: string(params),
		Policy: string(policy),
	}, nil
}

func (s *Server) handleListStrategies(c *gin.Context) {
	list, err := s.db.ListStrategies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": list})
}

func (s *Server) handleCreateStrategy(c *gin.Context) {
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}
	rec, err := req.toRecord(uuid.NewString())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}
	if err := s.db.CreateStrategy(c.Request.Context(), rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
		return
	}
	created, err := s.db.GetStrategy(c.Request.Context(), rec.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleGetStrategy(c *gin.Context) {
	rec, err := s.db.GetStrategy(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "strategy not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleUpdateStrategy(c *gin.Context) {
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}
	rec, err := req.toRecord(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}
	if err := s.db.UpdateStrategy(c.Request.Context(), rec); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "strategy not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
		return
	}
	updated, err := s.db.GetStrategy(c.Request.Context(), rec.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteStrategy(c *gin.Context) {
	id := c.Param("id")
	if _, active := s.sessions.Get(id); active {
		c.JSON(http.StatusConflict, gin.H{"code": "CONFLICT", "error": "strategy has an active session"})
		return
	}
	if err := s.db.DeleteStrategy(c.Request.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "strategy not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

type validateRequest struct {
	Code   string                 `json:"code" binding:"required"`
	Policy *strategy.PolicyConfig `json:"policy"`
}

// handleValidateStrategy runs the static sandbox check without storing
// anything. A throwaway bridge keeps validation isolated from live sessions.
func (s *Server) handleValidateStrategy(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}
	policy := sandbox.DefaultPolicy()
	if req.Policy != nil {
		policy = req.Policy.Policy()
	}
	bridge, err := sandbox.NewBridge()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
		return
	}
	defer bridge.Close()
	result, err := bridge.Validate(c.Request.Context(), req.Code, policy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleExportStrategy(c *gin.Context) {
	data, err := s.db.ExportStrategy(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "strategy not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
		return
	}
	c.Header("Content-Disposition", "attachment; filename=strategy.json")
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) handleImportStrategy(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}
	id, err := s.db.ImportStrategy(c.Request.Context(), data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}
