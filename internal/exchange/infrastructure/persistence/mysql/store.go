package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BerkZerker/Market-Sim/internal/exchange/domain"
)

// store domain.TradingStore 的 MySQL 实现
type store struct {
	db *gorm.DB
}

// NewStore 创建存储实现
func NewStore(db *gorm.DB) domain.TradingStore {
	return &store{db: db}
}

// Transaction 事务内的回调拿到共享同一事务的 store
func (s *store) Transaction(ctx context.Context, fn func(domain.TradingStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&store{db: tx})
	})
}

// orderConflict 按 order_id 幂等更新可变字段
var orderConflict = clause.OnConflict{
	Columns:   []clause.Column{{Name: "order_id"}},
	DoUpdates: clause.AssignmentColumns([]string{"quantity", "status", "updated_at"}),
}

func (s *store) SaveOrder(ctx context.Context, order *domain.Order) error {
	return s.db.WithContext(ctx).Clauses(orderConflict).Create(toOrderModel(order)).Error
}

func (s *store) SaveOrders(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	models := make([]*OrderModel, 0, len(orders))
	for _, o := range orders {
		models = append(models, toOrderModel(o))
	}
	return s.db.WithContext(ctx).Clauses(orderConflict).Create(&models).Error
}

func (s *store) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var m OrderModel
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return toOrder(&m), nil
}

func (s *store) ListOrdersByUser(ctx context.Context, userID string, limit int) ([]*domain.Order, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []*OrderModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	orders := make([]*domain.Order, 0, len(models))
	for _, m := range models {
		orders = append(orders, toOrder(m))
	}
	return orders, nil
}

func (s *store) ListOpenOrders(ctx context.Context) ([]*domain.Order, error) {
	var models []*OrderModel
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{string(domain.OrderStatusOpen), string(domain.OrderStatusPartiallyFilled)}).
		Order("sequence asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	orders := make([]*domain.Order, 0, len(models))
	for _, m := range models {
		orders = append(orders, toOrder(m))
	}
	return orders, nil
}

func (s *store) SaveTrades(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	models := make([]*TradeModel, 0, len(trades))
	for _, t := range trades {
		models = append(models, toTradeModel(t))
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "trade_id"}}, DoNothing: true}).
		Create(&models).Error
}

func (s *store) ListTradesByTicker(ctx context.Context, ticker string, limit int) ([]*domain.Trade, error) {
	q := s.db.WithContext(ctx).Where("ticker = ?", ticker).Order("executed_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []*TradeModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	return toTrades(models), nil
}

func (s *store) ListTradesByUser(ctx context.Context, userID string, limit int) ([]*domain.Trade, error) {
	q := s.db.WithContext(ctx).
		Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Order("executed_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []*TradeModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	return toTrades(models), nil
}

func toTrades(models []*TradeModel) []*domain.Trade {
	trades := make([]*domain.Trade, 0, len(models))
	for _, m := range models {
		trades = append(trades, toTrade(m))
	}
	return trades
}

func (s *store) SaveUser(ctx context.Context, snapshot domain.UserSnapshot) error {
	userConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"cash", "updated_at"}),
	}
	err := s.db.WithContext(ctx).Clauses(userConflict).Create(&UserModel{
		UserID:        snapshot.UserID,
		Username:      snapshot.Username,
		Cash:          snapshot.Cash,
		IsMarketMaker: snapshot.IsMarketMaker,
	}).Error
	if err != nil {
		return err
	}

	holdingConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "ticker"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
	}
	for ticker, qty := range snapshot.Holdings {
		err := s.db.WithContext(ctx).Clauses(holdingConflict).Create(&HoldingModel{
			UserID:   snapshot.UserID,
			Ticker:   ticker,
			Quantity: qty,
		}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *store) SaveUsers(ctx context.Context, snapshots []domain.UserSnapshot) error {
	for _, snap := range snapshots {
		if err := s.SaveUser(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

func (s *store) GetUserByUsername(ctx context.Context, username string) (*domain.UserSnapshot, error) {
	var m UserModel
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUnknownUser
	}
	if err != nil {
		return nil, err
	}
	snap, err := s.loadSnapshot(ctx, &m)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *store) ListUsers(ctx context.Context) ([]domain.UserSnapshot, error) {
	var models []*UserModel
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	snapshots := make([]domain.UserSnapshot, 0, len(models))
	for _, m := range models {
		snap, err := s.loadSnapshot(ctx, m)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func (s *store) loadSnapshot(ctx context.Context, m *UserModel) (domain.UserSnapshot, error) {
	var holdings []*HoldingModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", m.UserID).Find(&holdings).Error; err != nil {
		return domain.UserSnapshot{}, err
	}
	snap := domain.UserSnapshot{
		UserID:        m.UserID,
		Username:      m.Username,
		IsMarketMaker: m.IsMarketMaker,
		Cash:          m.Cash,
		Holdings:      make(map[string]int64, len(holdings)),
	}
	for _, h := range holdings {
		snap.Holdings[h.Ticker] = h.Quantity
	}
	return snap, nil
}
