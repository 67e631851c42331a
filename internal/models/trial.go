// Package models содержит доменные структуры биллинга сообществ:
// записи пробных периодов, денормализованное состояние оплаты пользователей
// и сообществ, подписки платёжного шлюза и записи напоминаний.
package models

import "time"

// TrialType определяет, к чему относится пробный период.
type TrialType string

const (
	// TrialTypeUser пробный период пользователя (повышение роли до администратора).
	TrialTypeUser TrialType = "user"
	// TrialTypeCommunity пробный период конкретного сообщества.
	TrialTypeCommunity TrialType = "community"
)

// Valid сообщает, известен ли тип пробного периода.
func (t TrialType) Valid() bool {
	return t == TrialTypeUser || t == TrialTypeCommunity
}

// TrialStatus статус записи пробного периода.
type TrialStatus string

const (
	TrialStatusActive    TrialStatus = "active"
	TrialStatusExpired   TrialStatus = "expired"
	TrialStatusCancelled TrialStatus = "cancelled"
	TrialStatusConverted TrialStatus = "converted"
)

// CountsTowardUniqueness сообщает, участвует ли статус в ограничении
// "одна запись на ключ". Отменённые записи не блокируют повторную попытку.
func (s TrialStatus) CountsTowardUniqueness() bool {
	return s == TrialStatusActive || s == TrialStatusExpired || s == TrialStatusConverted
}

// TrialOrigin сведения о запросе, создавшем пробный период. Только для аудита.
type TrialOrigin struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// TrialRecord запись об одной попытке пробного периода.
// Записи никогда не удаляются и служат журналом аудита.
type TrialRecord struct {
	ID          string
	UserID      string
	TrialType   TrialType
	CommunityID *string
	StartDate   time.Time
	EndDate     time.Time
	Status      TrialStatus
	CancelledAt *time.Time
	ConvertedAt *time.Time
	Origin      TrialOrigin
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MetaRoleElevated ключ метаданных записи: активация повысила роль пользователя до admin.
const MetaRoleElevated = "role_elevated"

// RoleElevated сообщает, что роль пользователя повысил именно этот пробный период.
func (r *TrialRecord) RoleElevated() bool {
	v, _ := r.Metadata[MetaRoleElevated].(bool)
	return v
}

// TrialKey ключ уникальности пробного периода.
type TrialKey struct {
	UserID      string
	TrialType   TrialType
	CommunityID *string
}

// Key возвращает ключ уникальности записи.
func (r *TrialRecord) Key() TrialKey {
	return TrialKey{UserID: r.UserID, TrialType: r.TrialType, CommunityID: r.CommunityID}
}

// Matches сообщает, относится ли запись к указанному ключу.
func (r *TrialRecord) Matches(key TrialKey) bool {
	return r.UserID == key.UserID && r.TrialType == key.TrialType && sameID(r.CommunityID, key.CommunityID)
}

// IsLive сообщает, что запись активна и её срок ещё не истёк.
func (r *TrialRecord) IsLive(now time.Time) bool {
	return r.Status == TrialStatusActive && r.EndDate.After(now)
}

// IsUsed сообщает, что пробный период по записи уже израсходован:
// истёк, конвертирован в оплату или активен, но его срок прошёл.
func (r *TrialRecord) IsUsed(now time.Time) bool {
	switch r.Status {
	case TrialStatusExpired, TrialStatusConverted:
		return true
	case TrialStatusActive:
		return !r.EndDate.After(now)
	default:
		return false
	}
}

func sameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
