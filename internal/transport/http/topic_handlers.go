package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/olab/turktalk-server/internal/conference"
)

// TopicHandlers exposes read-only occupancy views for operators.
type TopicHandlers struct {
	conf *conference.Conference
}

// NewTopicHandlers builds the topic inspection endpoint group.
func NewTopicHandlers(conf *conference.Conference) *TopicHandlers {
	return &TopicHandlers{conf: conf}
}

// List returns a snapshot of every topic.
func (h *TopicHandlers) List(c *gin.Context) {
	snaps := h.conf.Snapshots()
	if snaps == nil {
		snaps = []conference.TopicSnapshot{}
	}
	c.JSON(http.StatusOK, snaps)
}

// Get returns a snapshot of one topic.
func (h *TopicHandlers) Get(c *gin.Context) {
	t, ok := h.conf.Topic(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "topic not found"})
		return
	}
	c.JSON(http.StatusOK, t.Snapshot())
}
