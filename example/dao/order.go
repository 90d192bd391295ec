package dao

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderPO struct {
	ID     int64  `gorm:"column:id;primaryKey"`
	Name   string `gorm:"column:name"`
	Amount string `gorm:"column:amount"`
}

func (o OrderPO) TableName() string {
	return "t_order"
}

type OrderDAO struct {
	db *gorm.DB
}

func NewOrderDAO(db *gorm.DB) *OrderDAO {
	return &OrderDAO{
		db: db,
	}
}

func (o *OrderDAO) GetOrders(ctx context.Context, opts ...QueryOption) ([]*OrderPO, error) {
	db := o.db.WithContext(ctx).Model(&OrderPO{})
	for _, opt := range opts {
		db = opt(db)
	}

	var orders []*OrderPO
	return orders, db.Scan(&orders).Error
}

func (o *OrderDAO) UpdateName(ctx context.Context, id int64, name string) (int64, error) {
	db := o.db.WithContext(ctx).Model(&OrderPO{}).Where("id = ?", id).Update("name", name)
	return db.RowsAffected, db.Error
}

func (o *OrderDAO) LockAndDo(ctx context.Context, id int64, do func(ctx context.Context, dao *OrderDAO, order *OrderPO) error) error {
	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 加写锁
		var order OrderPO
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, id).Error; err != nil {
			return err
		}

		return do(ctx, NewOrderDAO(tx), &order)
	})
}
