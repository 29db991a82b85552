package materials

import "time"

// Type — вид сырья (справочник).
type Type struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Lot — партия сырья одного вида с собственным сроком годности.
// QuantityKg — текущий физический остаток; уменьшается только при
// завершении плана производства, увеличивается при отмене завершения.
type Lot struct {
	ID          int64
	TypeID      int64
	TypeName    string // имя вида (для отображения)
	Name        string
	BatchNumber string
	QuantityKg  float64
	ReceivedAt  time.Time
	ExpiresAt   *time.Time // NULL = без срока годности
	CreatedAt   time.Time
}

// Expired сообщает, истёк ли срок годности партии на момент now.
func (l Lot) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// LotUsage — статистика использования партии в замесах.
type LotUsage struct {
	LotID      int64
	UsedKg     float64 // суммарно внесено в замесы
	BatchCount int     // в скольких замесах использовалась
}
