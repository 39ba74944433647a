package models

import (
	"time"
)

// CustomerWallet кэшбэк-кошелек клиента
type CustomerWallet struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	CustomerID uint      `gorm:"column:customer_id;unique;not null"`
	Balance    int64     `gorm:"column:balance;not null;default:0"`
	CreatedAt  time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time `gorm:"column:updated_at;default:CURRENT_TIMESTAMP"`
}

func (CustomerWallet) TableName() string {
	return "customer_wallets"
}

// WalletTxType тип движения по кошельку
type WalletTxType string

const (
	WalletTxCashbackEarned  WalletTxType = "CASHBACK_EARNED"
	WalletTxPaymentRedeemed WalletTxType = "PAYMENT_REDEEMED"
	WalletTxPaymentRefunded WalletTxType = "PAYMENT_REFUNDED"
)

type WalletTransaction struct {
	ID             uint         `gorm:"primaryKey;autoIncrement"`
	WalletID       uint         `gorm:"column:wallet_id;not null;index"`
	Amount         int64        `gorm:"column:amount;not null"`
	Type           WalletTxType `gorm:"column:type;not null;size:20;uniqueIndex:ux_wallet_tx_event_type"`
	PaymentEventID *uint        `gorm:"column:payment_event_id;uniqueIndex:ux_wallet_tx_event_type"`
	BalanceBefore  int64        `gorm:"column:balance_before;not null"`
	BalanceAfter   int64        `gorm:"column:balance_after;not null"`
	Description    string       `gorm:"column:description;size:255"`
	CreatedAt      time.Time    `gorm:"column:created_at;default:CURRENT_TIMESTAMP"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transactions"
}
