package loyalty

import (
	"context"
	"net/http"
	"time"

	"github.com/guonaihong/gout"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"tablepos/internal/config"
)

// Client HTTP клиент внешнего сервиса баллов
type Client struct {
	url     string
	timeout time.Duration
}

func New(cfg config.LoyaltyConfig) *Client {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{url: cfg.URL, timeout: timeout}
}

type awardResponse struct {
	Points int64  `json:"points"`
	Error  string `json:"error,omitempty"`
}

// AwardPoints отправляет оплаченную сумму и возвращает начисленные баллы
func (c *Client) AwardPoints(ctx context.Context, orderID, customerID int64, amount decimal.Decimal) (int64, error) {
	var (
		resp awardResponse
		code int
	)
	err := gout.POST(c.url).
		WithContext(ctx).
		SetTimeout(c.timeout).
		SetJSON(gout.H{
			"order_id":    orderID,
			"customer_id": customerID,
			"amount":      amount.StringFixed(2),
		}).
		BindJSON(&resp).
		Code(&code).
		Do()
	if err != nil {
		return 0, errors.Wrap(err, "loyalty request")
	}
	if code != http.StatusOK {
		return 0, errors.Errorf("loyalty status %d: %s", code, resp.Error)
	}
	return resp.Points, nil
}

// Noop используется, когда URL не настроен
type Noop struct{}

func (Noop) AwardPoints(context.Context, int64, int64, decimal.Decimal) (int64, error) {
	return 0, nil
}
