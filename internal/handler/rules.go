package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/rules"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Persists rules; *repository.RuleRepository implements it
type RuleRepository interface {
	Upsert(ctx context.Context, rule *models.RateLimitRule) error
	Delete(ctx context.Context, id string) (bool, error)
}

type RuleInvalidator interface {
	InvalidateRule(ruleID string)
}

// Manages rules at runtime. With a repository, changes are written to the
// database partition; without one they live in memory until restart.
type RulesHandler struct {
	store       *rules.Store
	repo        RuleRepository
	invalidator RuleInvalidator
	logger      *slog.Logger
}

func NewRulesHandler(store *rules.Store, repo RuleRepository, invalidator RuleInvalidator, logger *slog.Logger) *RulesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RulesHandler{store: store, repo: repo, invalidator: invalidator, logger: logger}
}

func (h *RulesHandler) partition() string {
	if h.repo != nil {
		return rules.PartitionDatabase
	}
	return rules.PartitionAdmin
}

func (h *RulesHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.ListRules())
}

func (h *RulesHandler) Get(c *gin.Context) {
	rule, ok := h.store.Find(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *RulesHandler) ownedByFile(id string) bool {
	for _, r := range h.store.Partition(rules.PartitionFile) {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Creates or replaces a rule
func (h *RulesHandler) Upsert(c *gin.Context) {
	rule := models.RateLimitRule{Enabled: true, Priority: 1000}
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if id := c.Param("id"); id != "" {
		rule.ID = id
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if h.ownedByFile(rule.ID) {
		c.JSON(http.StatusConflict, gin.H{"error": "Rule is managed by the rule file"})
		return
	}

	previous, existed := h.store.Find(rule.ID)
	if err := h.store.Upsert(h.partition(), rule); err != nil {
		var verr *rules.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule", "details": verr.Errors})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if h.repo != nil {
		if err := h.repo.Upsert(c.Request.Context(), &rule); err != nil {
			h.rollback(rule.ID, previous, existed)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save rule"})
			h.logger.Error("rule save failed", "rule", rule.ID, "error", err)
			return
		}
	}

	if h.invalidator != nil {
		h.invalidator.InvalidateRule(rule.ID)
	}
	h.logger.Info("rule saved", "rule", rule.ID, "partition", h.partition())

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	c.JSON(status, rule)
}

func (h *RulesHandler) rollback(id string, previous models.RateLimitRule, existed bool) {
	var err error
	if existed {
		err = h.store.Upsert(h.partition(), previous)
	} else {
		err = h.store.Delete(id)
	}
	if err != nil {
		h.logger.Error("rule rollback failed", "rule", id, "error", err)
	}
}

func (h *RulesHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	if _, ok := h.store.Find(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}
	if h.ownedByFile(id) {
		c.JSON(http.StatusConflict, gin.H{"error": "Rule is managed by the rule file"})
		return
	}

	if h.repo != nil {
		if _, err := h.repo.Delete(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete rule"})
			h.logger.Error("rule delete failed", "rule", id, "error", err)
			return
		}
	}

	if err := h.store.Delete(id); err != nil && !errors.Is(err, rules.ErrRuleNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if h.invalidator != nil {
		h.invalidator.InvalidateRule(id)
	}
	h.logger.Info("rule deleted", "rule", id)

	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted successfully", "id": id})
}
