package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// queueCounts is one row of the queue status report.
type queueCounts struct {
	Name    string `json:"name"`
	Waiting int64  `json:"waiting"`
	Active  int64  `json:"active"`
	Delayed int64  `json:"delayed"`
	Paused  bool   `json:"paused"`
}

// queueStatus reports depth and pause state for every queue
// GET /api/queues/status
func (r *Router) queueStatus(c *gin.Context) {
	ctx := c.Request.Context()

	queues := r.deps.Queues.All()
	status := make([]queueCounts, 0, len(queues))
	for i := 0; i < len(queues); i++ {
		q := queues[i]
		counts, err := q.GetCounts(ctx)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read queue counts"})
			return
		}
		status = append(status, queueCounts{
			Name:    q.Name(),
			Waiting: counts.Waiting,
			Active:  counts.Active,
			Delayed: counts.Delayed,
			Paused:  counts.Paused,
		})
	}

	c.JSON(http.StatusOK, gin.H{"queues": status})
}
