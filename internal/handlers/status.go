package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stockwatch/monitor-service/internal/database"
	"github.com/stockwatch/monitor-service/internal/taskqueue"
)

// StatusResponse summarizes pipeline state for operators.
type StatusResponse struct {
	ActiveListings   int            `json:"active_listings"`
	InactiveListings int            `json:"inactive_listings"`
	TrackedVariants  int            `json:"tracked_variants"`
	Subscriptions    int            `json:"subscriptions"`
	QueueDepth       map[string]int `json:"queue_depth"`
	Pool             any            `json:"pool"`
}

// Status reports catalog and queue counts.
func Status(queue *taskqueue.TaskQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		pool := database.Pool()

		var resp StatusResponse
		err := pool.QueryRow(ctx, `
			SELECT
				COUNT(*) FILTER (WHERE active),
				COUNT(*) FILTER (WHERE NOT active)
			FROM store_listings
		`).Scan(&resp.ActiveListings, &resp.InactiveListings)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM product_variants`).Scan(&resp.TrackedVariants); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM notification_subscriptions`).Scan(&resp.Subscriptions); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		depth, err := queue.PendingByKind(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp.QueueDepth = depth
		if stats := database.Stats(); stats != nil {
			resp.Pool = gin.H{
				"total_conns": stats.TotalConns(),
				"idle_conns":  stats.IdleConns(),
				"max_conns":   stats.MaxConns(),
			}
		}

		c.JSON(http.StatusOK, resp)
	}
}
