package dashboard

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/voxyard/voxyard/internal/ledger"
	"github.com/voxyard/voxyard/internal/models"
	"github.com/voxyard/voxyard/internal/queue"
	"gorm.io/gorm"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB) {
	router.GET("/api/queue", handleQueue(db))
	router.GET("/api/owners", handleOwners(db))
	router.GET("/api/sessions/open", handleOpenSessions(db))
	router.GET("/api/channels/:id/durations", handleDurations(db))
}

func handleQueue(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		actions, err := queue.ListPending(db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pending": actions})
	}
}

func handleOwners(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var owners []models.ChannelOwner
		if err := db.Order("created_at ASC").Find(&owners).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"owners": owners})
	}
}

func handleOpenSessions(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var sessions []models.VoiceSession
		if err := db.Where("left_at IS NULL").
			Order("joined_at ASC").Find(&sessions).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	}
}

// handleDurations exposes the same ranked aggregation ownership transfer
// uses, so operators see exactly what successor selection sees.
func handleDurations(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ranked, err := ledger.Durations(db, c.Param("id"), time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		type entry struct {
			UserID      string `json:"user_id"`
			DisplayName string `json:"display_name"`
			Total       string `json:"total"`
			Open        bool   `json:"open"`
		}
		out := make([]entry, 0, len(ranked))
		for _, ud := range ranked {
			out = append(out, entry{
				UserID:      ud.UserID,
				DisplayName: ud.DisplayName,
				Total:       ledger.FormatDuration(ud.Total),
				Open:        ud.Open,
			})
		}
		c.JSON(http.StatusOK, gin.H{"durations": out})
	}
}
