package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"tablepos/internal/auth"
	"tablepos/internal/notify"
	"tablepos/internal/repository"
	"tablepos/internal/service"
)

// Services зависимости HTTP-слоя
type Services struct {
	Inventory   *service.InventoryService
	Orders      *service.OrderService
	Fulfillment *service.FulfillmentService
	Settlement  *service.SettlementService
	Tables      *service.TableService
	Hub         *notify.Hub
}

type Server struct {
	engine    *gin.Engine
	svc       Services
	jwtSecret string
}

func NewServer(svc Services, jwtSecret string) *Server {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	s := &Server{engine: r, svc: svc, jwtSecret: jwtSecret}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	// Swagger UI
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.engine.Group("/api/v1", s.authRequired())
	{
		inventory := v1.Group("/inventory")
		inventory.GET(":productId", s.getInventory)
		inventory.PUT(":productId", s.setLimit)
		inventory.DELETE(":productId", s.resetInventory)
		inventory.POST(":productId/reserve", s.reserveInventory)
		inventory.POST(":productId/release", s.releaseInventory)

		tables := v1.Group("/tables")
		tables.POST("", s.createTable)
		tables.GET(":id", s.getTable)

		orders := v1.Group("/orders")
		orders.POST("", s.openOrder)
		orders.GET(":id", s.getOrder)
		orders.POST(":id/lines", s.addLine)
		orders.PATCH(":id/lines/:lineId", s.changeLineQuantity)
		orders.POST(":id/lines/:lineId/state", s.advanceLine)
		orders.POST(":id/lines/:lineId/cancel", s.cancelLine)
		orders.POST(":id/state", s.transitionOrder)
		orders.POST(":id/cancel", s.cancelOrder)
		orders.POST(":id/split", s.splitForShortfall)
		orders.POST(":id/resolve", s.resolveAwaitingOrder)
		orders.GET(":id/splits", s.listSplits)
		orders.POST(":id/payments", s.payLines)
		orders.POST(":id/payments/remainder", s.payRemainder)
		orders.GET(":id/payments", s.listPayments)
		orders.GET(":id/balance", s.getBalance)
		orders.POST(":id/debts", s.recordDebt)

		debts := v1.Group("/debts")
		debts.GET(":id", s.getDebt)
		debts.POST(":id/payments", s.payDebt)

		v1.GET("/customers/:customerId/debts", s.listDebts)
		v1.GET("/stations/:station/events", s.stationEvents)
	}
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// pathID читает числовой параметр пути; при ошибке уже ответил 400
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := parseID(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	return true
}

func writeError(c *gin.Context, err error) {
	status := mapErrorToStatus(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func mapErrorToStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrNoActor), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInsufficientStock),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrOrderAlreadySettled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
