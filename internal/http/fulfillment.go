package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tablepos/internal/service"
)

type splitReq struct {
	Shortfalls []service.Shortfall `json:"shortfalls"`
	AllowSplit bool                `json:"allow_split"`
}

// @Summary Split order on stock shortfall
// @Tags fulfillment
// @Accept json
// @Produce json
// @Param id path int true "Order ID"
// @Param input body splitReq true "Shortfalls"
// @Success 200 {object} service.SplitOutcome
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /orders/{id}/split [post]
func (s *Server) splitForShortfall(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req splitReq
	if !bindJSON(c, &req) {
		return
	}
	out, err := s.svc.Fulfillment.SplitForShortfall(c.Request.Context(), id, req.Shortfalls, req.AllowSplit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary Resolve order awaiting stock
// @Tags fulfillment
// @Accept json
// @Produce json
// @Param id path int true "Order ID"
// @Param input body service.Resolution true "Cancel or substitute"
// @Success 200 {object} domain.Order
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /orders/{id}/resolve [post]
func (s *Server) resolveAwaitingOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.Resolution
	if !bindJSON(c, &req) {
		return
	}
	o, err := s.svc.Fulfillment.ResolveAwaitingOrder(c.Request.Context(), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary List split records of an order
// @Tags fulfillment
// @Produce json
// @Param id path int true "Order ID"
// @Success 200 {array} domain.SplitRecord
// @Router /orders/{id}/splits [get]
func (s *Server) listSplits(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	list, err := s.svc.Fulfillment.ListSplits(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
