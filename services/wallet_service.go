package services

import (
	"context"
	"errors"
	"fmt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"loanservicing/models"
	"loanservicing/utils"
)

// WalletDTO представляет данные кошелька
type WalletDTO struct {
	ID         uint  `json:"id"`
	CustomerID uint  `json:"customer_id"`
	Balance    int64 `json:"balance"`
}

// WalletService кэшбэк-кошелек клиента.
// Списание и возврат идемпотентны по паре (payment_event_id, type).
type WalletService struct {
	db *gorm.DB
}

// NewWalletService создает новый экземпляр WalletService
func NewWalletService(db *gorm.DB) *WalletService {
	return &WalletService{db: db}
}

// Balance возвращает баланс кошелька клиента, 0 если кошелька нет.
// Строка кошелька блокируется до конца транзакции tx.
func (s *WalletService) Balance(tx *gorm.DB, customerID uint) (int64, error) {
	var wallet models.CustomerWallet
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("customer_id = ?", customerID).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ошибка при получении кошелька: %v", err)
	}
	return wallet.Balance, nil
}

// GetWallet возвращает кошелек клиента
func (s *WalletService) GetWallet(ctx context.Context, customerID uint) (*WalletDTO, error) {
	var wallet models.CustomerWallet
	if err := s.db.WithContext(ctx).Where("customer_id = ?", customerID).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &WalletDTO{CustomerID: customerID}, nil
		}
		return nil, fmt.Errorf("ошибка при получении кошелька: %v", err)
	}
	return &WalletDTO{ID: wallet.ID, CustomerID: wallet.CustomerID, Balance: wallet.Balance}, nil
}

// EarnCashback начисляет кэшбэк
func (s *WalletService) EarnCashback(ctx context.Context, customerID uint, amount int64, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.move(tx, customerID, amount, models.WalletTxCashbackEarned, nil, description)
	})
}

// Debit списывает кредиты за проведенное событие customer_wallet
func (s *WalletService) Debit(ctx context.Context, p WalletPayload) error {
	eventID := p.PaymentEventID
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.move(tx, p.CustomerID, -p.Amount, models.WalletTxPaymentRedeemed, &eventID, p.Description)
	})
}

// Credit возвращает кредиты после сторнирования события customer_wallet
func (s *WalletService) Credit(ctx context.Context, p WalletPayload) error {
	eventID := p.PaymentEventID
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.move(tx, p.CustomerID, p.Amount, models.WalletTxPaymentRefunded, &eventID, p.Description)
	})
}

// move изменяет баланс под блокировкой строки кошелька
func (s *WalletService) move(tx *gorm.DB, customerID uint, amount int64, txType models.WalletTxType, eventID *uint, description string) error {
	// Повторная доставка того же сообщения ничего не меняет
	if eventID != nil {
		var count int64
		if err := tx.Model(&models.WalletTransaction{}).
			Where("payment_event_id = ? AND type = ?", *eventID, txType).
			Count(&count).Error; err != nil {
			return fmt.Errorf("ошибка при проверке операции: %v", err)
		}
		if count > 0 {
			utils.LogDebug("Операция %s по событию %d уже проведена", txType, *eventID)
			return nil
		}
	}

	var wallet models.CustomerWallet
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("customer_id = ?", customerID).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		wallet = models.CustomerWallet{CustomerID: customerID}
		if err := tx.Create(&wallet).Error; err != nil {
			return fmt.Errorf("ошибка при создании кошелька: %v", err)
		}
	} else if err != nil {
		return fmt.Errorf("ошибка при получении кошелька: %v", err)
	}

	// Проверяем достаточность средств
	if wallet.Balance+amount < 0 {
		return fmt.Errorf("%w: баланс %d, списание %d", ErrInsufficientCredits, wallet.Balance, -amount)
	}

	before := wallet.Balance
	wallet.Balance += amount
	if err := tx.Model(&wallet).Update("balance", wallet.Balance).Error; err != nil {
		return fmt.Errorf("ошибка при обновлении баланса: %v", err)
	}

	// Создаем запись о транзакции
	transaction := &models.WalletTransaction{
		WalletID:       wallet.ID,
		Amount:         amount,
		Type:           txType,
		PaymentEventID: eventID,
		BalanceBefore:  before,
		BalanceAfter:   wallet.Balance,
		Description:    description,
	}
	if err := tx.Create(transaction).Error; err != nil {
		return fmt.Errorf("ошибка при сохранении транзакции: %v", err)
	}

	return nil
}

// RegisterHandlers подключает кошелек к диспетчеру сообщений
func (s *WalletService) RegisterHandlers(d *AsyncDispatcher) {
	d.Register(MessageWalletDebit, func(ctx context.Context, msg Message) error {
		payload, ok := msg.Payload.(WalletPayload)
		if !ok {
			return fmt.Errorf("неверные данные сообщения %s", msg.Type)
		}
		return s.Debit(ctx, payload)
	})
	d.Register(MessageWalletCredit, func(ctx context.Context, msg Message) error {
		payload, ok := msg.Payload.(WalletPayload)
		if !ok {
			return fmt.Errorf("неверные данные сообщения %s", msg.Type)
		}
		return s.Credit(ctx, payload)
	})
}
