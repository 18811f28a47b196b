package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"tablepos/internal/service"
)

type setLimitReq struct {
	Quantity *int64 `json:"quantity"`
	Note     string `json:"note"`
}

type quantityReq struct {
	Quantity int64 `json:"quantity"`
}

// @Summary Get inventory entry of a product
// @Tags inventory
// @Produce json
// @Param productId path int true "Product ID"
// @Success 200 {object} service.InventoryView
// @Failure 400 {object} map[string]string
// @Router /inventory/{productId} [get]
func (s *Server) getInventory(c *gin.Context) {
	id, ok := pathID(c, "productId")
	if !ok {
		return
	}
	v, err := s.svc.Inventory.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// @Summary Set remaining quantity of a product
// @Tags inventory
// @Accept json
// @Produce json
// @Param productId path int true "Product ID"
// @Param input body setLimitReq true "Limit"
// @Success 200 {object} domain.InventoryEntry
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /inventory/{productId} [put]
func (s *Server) setLimit(c *gin.Context) {
	id, ok := pathID(c, "productId")
	if !ok {
		return
	}
	var req setLimitReq
	if !bindJSON(c, &req) {
		return
	}
	if req.Quantity == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity is required"})
		return
	}
	e, err := s.svc.Inventory.SetLimit(c.Request.Context(), id, *req.Quantity, req.Note)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// @Summary Stop tracking a product
// @Tags inventory
// @Param productId path int true "Product ID"
// @Success 204
// @Failure 403 {object} map[string]string
// @Router /inventory/{productId} [delete]
func (s *Server) resetInventory(c *gin.Context) {
	id, ok := pathID(c, "productId")
	if !ok {
		return
	}
	if err := s.svc.Inventory.Reset(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary Reserve units of a product
// @Tags inventory
// @Accept json
// @Produce json
// @Param productId path int true "Product ID"
// @Param input body quantityReq true "Quantity"
// @Success 200 {object} service.Reservation
// @Failure 409 {object} service.Reservation
// @Router /inventory/{productId}/reserve [post]
func (s *Server) reserveInventory(c *gin.Context) {
	id, ok := pathID(c, "productId")
	if !ok {
		return
	}
	var req quantityReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := s.svc.Inventory.Reserve(c.Request.Context(), id, req.Quantity)
	if err != nil {
		if errors.Is(err, service.ErrInsufficientStock) && r != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "reservation": r})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// @Summary Return reserved units
// @Tags inventory
// @Accept json
// @Produce json
// @Param productId path int true "Product ID"
// @Param input body quantityReq true "Quantity"
// @Success 200 {object} service.InventoryView
// @Failure 400 {object} map[string]string
// @Router /inventory/{productId}/release [post]
func (s *Server) releaseInventory(c *gin.Context) {
	id, ok := pathID(c, "productId")
	if !ok {
		return
	}
	var req quantityReq
	if !bindJSON(c, &req) {
		return
	}
	v, err := s.svc.Inventory.Release(c.Request.Context(), id, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type createTableReq struct {
	Name string `json:"name"`
}

// @Summary Create dining table
// @Tags tables
// @Accept json
// @Produce json
// @Param input body createTableReq true "Table"
// @Success 201 {object} domain.DiningTable
// @Failure 400 {object} map[string]string
// @Router /tables [post]
func (s *Server) createTable(c *gin.Context) {
	var req createTableReq
	if !bindJSON(c, &req) {
		return
	}
	t, err := s.svc.Tables.CreateTable(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// @Summary Get dining table
// @Tags tables
// @Produce json
// @Param id path int true "Table ID"
// @Success 200 {object} domain.DiningTable
// @Failure 404 {object} map[string]string
// @Router /tables/{id} [get]
func (s *Server) getTable(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	t, err := s.svc.Tables.GetTable(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
