package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"loanservicing/utils"
	"sort"
	"sync"
	"time"
)

// FeatureFlags пороги журнала платежей, читаемые при каждом обращении
type FeatureFlags struct {
	v *viper.Viper

	mu      sync.Mutex
	locName string
	loc     *time.Location
}

// NewFeatureFlags создает новый экземпляр FeatureFlags
func NewFeatureFlags(v *viper.Viper) *FeatureFlags {
	if v == nil {
		v = viper.New()
		setDefaults(v)
	}
	return &FeatureFlags{v: v}
}

// Watch перечитывает файл конфигурации при изменении
func (f *FeatureFlags) Watch() {
	if f.v.ConfigFileUsed() == "" {
		return
	}
	f.v.OnConfigChange(func(e fsnotify.Event) {
		utils.LogInfo("Конфигурация обновлена: %s", e.Name)
	})
	f.v.WatchConfig()
}

// GracePeriodDays длина льготного периода в днях
func (f *FeatureFlags) GracePeriodDays() int {
	return f.v.GetInt("ledger.grace_period_days")
}

// LateFeeCapPercent лимит штрафов в процентах от суммы кредита.
// Для продуктовой линейки можно задать ledger.late_fee_cap_percent_by_product.<линейка>.
func (f *FeatureFlags) LateFeeCapPercent(productLine string) int64 {
	key := "ledger.late_fee_cap_percent_by_product." + productLine
	if productLine != "" && f.v.IsSet(key) {
		return f.v.GetInt64(key)
	}
	return f.v.GetInt64("ledger.late_fee_cap_percent")
}

// LateFeePercent размер одного штрафа в процентах от взноса
func (f *FeatureFlags) LateFeePercent() int64 {
	return f.v.GetInt64("ledger.late_fee_percent")
}

// LateFeeDPDSchedule дни просрочки, на которые начисляется штраф
func (f *FeatureFlags) LateFeeDPDSchedule() []int {
	schedule := append([]int(nil), f.v.GetIntSlice("ledger.late_fee_dpd_schedule")...)
	sort.Ints(schedule)
	return schedule
}

// WaiverValidityMaxDays максимальный срок действия прощения
func (f *FeatureFlags) WaiverValidityMaxDays() int {
	return f.v.GetInt("ledger.waiver_validity_max_days")
}

// Set изменяет значение флага во время работы
func (f *FeatureFlags) Set(key string, value interface{}) {
	f.v.Set(key, value)
}

// Location часовой пояс, в котором считаются календарные даты журнала
func (f *FeatureFlags) Location() *time.Location {
	name := f.v.GetString("ledger.timezone")

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loc != nil && f.locName == name {
		return f.loc
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		utils.LogWarn("Неизвестный часовой пояс %q, используется UTC", name)
		loc = time.UTC
	}
	f.locName, f.loc = name, loc
	return loc
}
