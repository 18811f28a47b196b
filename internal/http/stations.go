package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tablepos/internal/domain"
)

var stations = map[string]bool{
	domain.TargetKitchen: true,
	domain.TargetBar:     true,
	domain.TargetWaiter:  true,
	domain.TargetCashier: true,
}

// @Summary Server-sent event stream of a station
// @Tags stations
// @Produce text/event-stream
// @Param station path string true "kitchen, bar, waiter or cashier"
// @Success 200
// @Failure 400 {object} map[string]string
// @Router /stations/{station}/events [get]
func (s *Server) stationEvents(c *gin.Context) {
	station := c.Param("station")
	if !stations[station] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown station"})
		return
	}
	actor, ok := currentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if s.svc.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream disabled"})
		return
	}
	sub, err := s.svc.Hub.Subscribe(station, actor.TenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer s.svc.Hub.Unsubscribe(sub)
	zap.L().Info("station connected", zap.String("station", station), zap.Int64("actor", actor.ID))

	ctx := c.Request.Context()
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, open := <-sub.C:
			if !open {
				return false
			}
			c.SSEvent(string(msg.Type), msg)
			return true
		}
	})
}
