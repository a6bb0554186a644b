package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/billdesk/expense-decisions/internal/ledger"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleListDecisions returns persisted decisions, optionally filtered by
// employee_id, category, and month query parameters.
func (s *Server) handleListDecisions(c *gin.Context) {
	filter := ledger.Filter{
		EmployeeID: c.Query("employee_id"),
		Category:   c.Query("category"),
		Month:      c.Query("month"),
		Limit:      parseLimit(c.Query("limit")),
	}

	records, err := s.repo.List(filter)
	if err != nil {
		s.logger.Error("Failed to list decisions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list decisions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":     len(records),
		"decisions": records,
	})
}

func (s *Server) handleManualReview(c *gin.Context) {
	records, err := s.repo.ListManualReview(parseLimit(c.Query("limit")))
	if err != nil {
		s.logger.Error("Failed to list manual-review decisions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list manual-review decisions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":     len(records),
		"decisions": records,
	})
}

func (s *Server) handleSummary(c *gin.Context) {
	rows, err := s.repo.Summarize()
	if err != nil {
		s.logger.Error("Failed to summarize decisions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to summarize decisions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": rows})
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
