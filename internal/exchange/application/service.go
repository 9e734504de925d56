package application

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/BerkZerker/Market-Sim/internal/exchange/domain"
	"github.com/BerkZerker/Market-Sim/pkg/metrics"
)

// Service 交易所应用服务门面，组合命令与查询
type Service struct {
	*Manager
	*Query
}

// NewService 创建应用服务
func NewService(
	engine *domain.Exchange,
	store domain.TradingStore,
	publisher EventPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	defaultTIF string,
	startingCash decimal.Decimal,
) *Service {
	return &Service{
		Manager: NewManager(engine, store, publisher, m, logger, defaultTIF, startingCash),
		Query:   NewQuery(engine, store, logger),
	}
}
