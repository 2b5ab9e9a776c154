package api

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pccr10001/gsmlink/internal/repository"
	"gorm.io/gorm"
)

type SMSHandler struct {
	repo *repository.SMSRepository
}

func NewSMSHandler(db *gorm.DB) *SMSHandler {
	return &SMSHandler{repo: repository.NewSMSRepository(db)}
}

// ListSMS pages through the archive, newest first.
func (h *SMSHandler) ListSMS(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 20
	}
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page <= 0 {
		page = 1
	}

	filter := repository.SMSFilter{
		ModemIDs: allowedModems(user),
		Phone:    c.Query("phone"),
		Type:     c.Query("type"),
		Limit:    limit,
		Offset:   (page - 1) * limit,
	}
	if modemID := c.Query("modem_id"); modemID != "" {
		if filter.ModemIDs != nil && !slices.Contains(filter.ModemIDs, modemID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Access denied for this modem"})
			return
		}
		filter.ModemIDs = []string{modemID}
	}

	list, total, err := h.repo.Find(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  list,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

func (h *SMSHandler) MarkRead(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return
	}
	if err := h.repo.MarkRead(uint(id)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SMSHandler) DeleteSMS(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return
	}
	if err := h.repo.Delete(uint(id)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
