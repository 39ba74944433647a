package services

import (
	"fmt"
	"gorm.io/gorm"
	"loanservicing/models"
)

// recordStatusChange пишет историю изменения статуса в той же транзакции
func recordStatusChange(tx *gorm.DB, domain models.StatusDomain, objectID uint, oldStatus, newStatus int, actor models.Actor, changedBy uint, reason string) error {
	history := &models.StatusHistory{
		Domain:    domain,
		ObjectID:  objectID,
		StatusOld: oldStatus,
		StatusNew: newStatus,
		Actor:     actor,
		ChangedBy: changedBy,
		Reason:    reason,
	}
	if err := tx.Create(history).Error; err != nil {
		return fmt.Errorf("ошибка при записи истории статуса: %v", err)
	}
	return nil
}

// StatusHistory возвращает историю статусов объекта
func StatusHistory(db *gorm.DB, domain models.StatusDomain, objectID uint) ([]models.StatusHistory, error) {
	var history []models.StatusHistory
	if err := db.Where("domain = ? AND object_id = ?", domain, objectID).
		Order("id ASC").
		Find(&history).Error; err != nil {
		return nil, err
	}
	return history, nil
}
