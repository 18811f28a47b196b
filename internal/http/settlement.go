package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tablepos/internal/service"
)

type payLinesReq struct {
	Lines     []service.LineSelection `json:"lines"`
	Method    string                  `json:"method"`
	PayerName string                  `json:"payer_name"`
}

type payRemainderReq struct {
	Method    string `json:"method"`
	PayerName string `json:"payer_name"`
}

// @Summary Pay selected order lines
// @Tags settlement
// @Accept json
// @Produce json
// @Param id path int true "Order ID"
// @Param input body payLinesReq true "Payment"
// @Success 201 {object} service.Receipt
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /orders/{id}/payments [post]
func (s *Server) payLines(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req payLinesReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := s.svc.Settlement.PayLines(c.Request.Context(), id, req.Lines, req.Method, req.PayerName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// @Summary Pay everything still outstanding
// @Tags settlement
// @Accept json
// @Produce json
// @Param id path int true "Order ID"
// @Param input body payRemainderReq true "Payment"
// @Success 201 {object} service.Receipt
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /orders/{id}/payments/remainder [post]
func (s *Server) payRemainder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req payRemainderReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := s.svc.Settlement.PayRemainder(c.Request.Context(), id, req.Method, req.PayerName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// @Summary List payments of an order
// @Tags settlement
// @Produce json
// @Param id path int true "Order ID"
// @Success 200 {array} domain.PaymentRecord
// @Router /orders/{id}/payments [get]
func (s *Server) listPayments(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	list, err := s.svc.Settlement.ListPayments(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Order balance
// @Tags settlement
// @Produce json
// @Param id path int true "Order ID"
// @Success 200 {object} domain.Balance
// @Router /orders/{id}/balance [get]
func (s *Server) getBalance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	b, err := s.svc.Settlement.GetBalance(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type recordDebtReq struct {
	CustomerID int64           `json:"customer_id,string"`
	Amount     decimal.Decimal `json:"amount"`
}

// @Summary Defer the remainder of an order as customer debt
// @Tags settlement
// @Accept json
// @Produce json
// @Param id path int true "Order ID"
// @Param input body recordDebtReq true "Debt"
// @Success 201 {object} domain.DebtRecord
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /orders/{id}/debts [post]
func (s *Server) recordDebt(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req recordDebtReq
	if !bindJSON(c, &req) {
		return
	}
	d, err := s.svc.Settlement.RecordDebt(c.Request.Context(), service.DebtInput{
		CustomerID: req.CustomerID,
		OrderID:    id,
		Amount:     req.Amount,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// @Summary Get debt
// @Tags settlement
// @Produce json
// @Param id path int true "Debt ID"
// @Success 200 {object} domain.DebtRecord
// @Failure 404 {object} map[string]string
// @Router /debts/{id} [get]
func (s *Server) getDebt(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	d, err := s.svc.Settlement.GetDebt(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type payDebtReq struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
}

// @Summary Pay towards a debt
// @Tags settlement
// @Accept json
// @Produce json
// @Param id path int true "Debt ID"
// @Param input body payDebtReq true "Payment"
// @Success 201 {object} service.DebtReceipt
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /debts/{id}/payments [post]
func (s *Server) payDebt(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req payDebtReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := s.svc.Settlement.PayDebt(c.Request.Context(), id, req.Amount, req.Method)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// @Summary List debts of a customer
// @Tags settlement
// @Produce json
// @Param customerId path int true "Customer ID"
// @Success 200 {array} domain.DebtRecord
// @Router /customers/{customerId}/debts [get]
func (s *Server) listDebts(c *gin.Context) {
	id, ok := pathID(c, "customerId")
	if !ok {
		return
	}
	list, err := s.svc.Settlement.ListDebts(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
