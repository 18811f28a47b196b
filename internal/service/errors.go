package service

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tablepos/internal/domain"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrOrderAlreadySettled = errors.New("order already settled")
	ErrUnauthorized        = errors.New("unauthorized")

	ErrInvalidTransition = domain.ErrInvalidTransition
	ErrConsistency       = domain.ErrConsistency
)

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidInput, format, args...)
}

// reportConsistency пишет нарушение инварианта в лог; транзакция уже откатилась
func reportConsistency(op string, id int64, err error) {
	if errors.Is(err, ErrConsistency) {
		zap.L().Error("consistency violation, transaction aborted",
			zap.String("op", op),
			zap.Int64("id", id),
			zap.Error(err),
		)
	}
}
