package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tablepos/internal/domain"
	"tablepos/internal/service"
)

// @Summary Open order
// @Tags orders
// @Accept json
// @Produce json
// @Param input body service.OpenOrderInput true "Order"
// @Success 201 {object} domain.Order
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /orders [post]
func (s *Server) openOrder(c *gin.Context) {
	var req service.OpenOrderInput
	if !bindJSON(c, &req) {
		return
	}
	o, err := s.svc.Orders.OpenOrder(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

// @Summary Get order by id
// @Tags orders
// @Produce json
// @Param id path int true "Order ID"
// @Success 200 {object} domain.Order
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /orders/{id} [get]
func (s *Server) getOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := s.svc.Orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Add line
// @Tags orders
// @Accept json
// @Produce json
// @Param id path int true "Order ID"
// @Param input body service.LineInput true "Line"
// @Success 200 {object} domain.Order
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /orders/{id}/lines [post]
func (s *Server) addLine(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.LineInput
	if !bindJSON(c, &req) {
		return
	}
	o, err := s.svc.Orders.AddLine(c.Request.Context(), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Change line quantity
// @Tags orders
// @Accept json
// @Produce json
// @Param id path int true "Order ID"
// @Param lineId path int true "Line ID"
// @Param input body quantityReq true "Quantity"
// @Success 200 {object} domain.Order
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /orders/{id}/lines/{lineId} [patch]
func (s *Server) changeLineQuantity(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	lineID, ok := pathID(c, "lineId")
	if !ok {
		return
	}
	var req quantityReq
	if !bindJSON(c, &req) {
		return
	}
	o, err := s.svc.Orders.ChangeLineQuantity(c.Request.Context(), id, lineID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type lineStateReq struct {
	State domain.LineState `json:"state"`
}

// @Summary Advance line preparation state
// @Tags orders
// @Accept json
// @Produce json
// @Param id path int true "Order ID"
// @Param lineId path int true "Line ID"
// @Param input body lineStateReq true "State"
// @Success 200 {object} domain.Order
// @Failure 409 {object} map[string]string
// @Router /orders/{id}/lines/{lineId}/state [post]
func (s *Server) advanceLine(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	lineID, ok := pathID(c, "lineId")
	if !ok {
		return
	}
	var req lineStateReq
	if !bindJSON(c, &req) {
		return
	}
	o, err := s.svc.Orders.AdvanceLine(c.Request.Context(), id, lineID, req.State)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Cancel line
// @Tags orders
// @Produce json
// @Param id path int true "Order ID"
// @Param lineId path int true "Line ID"
// @Success 200 {object} domain.Order
// @Failure 409 {object} map[string]string
// @Router /orders/{id}/lines/{lineId}/cancel [post]
func (s *Server) cancelLine(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	lineID, ok := pathID(c, "lineId")
	if !ok {
		return
	}
	o, err := s.svc.Orders.CancelLine(c.Request.Context(), id, lineID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type orderStateReq struct {
	State domain.OrderState `json:"state"`
}

// @Summary Move order along its lifecycle
// @Tags orders
// @Accept json
// @Produce json
// @Param id path int true "Order ID"
// @Param input body orderStateReq true "State"
// @Success 200 {object} domain.Order
// @Failure 409 {object} map[string]string
// @Router /orders/{id}/state [post]
func (s *Server) transitionOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req orderStateReq
	if !bindJSON(c, &req) {
		return
	}
	o, err := s.svc.Orders.TransitionOrder(c.Request.Context(), id, req.State)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Cancel order
// @Tags orders
// @Produce json
// @Param id path int true "Order ID"
// @Success 200 {object} domain.Order
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /orders/{id}/cancel [post]
func (s *Server) cancelOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := s.svc.Orders.CancelOrder(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
