package production

import (
	"fmt"
	"time"
)

// PlanStatus — закрытое перечисление статусов плана производства.
// В БД хранятся только канонические коды; русские подписи — забота
// слоя отображения.
type PlanStatus string

const (
	StatusDraft      PlanStatus = "draft"
	StatusApproved   PlanStatus = "approved"
	StatusInProgress PlanStatus = "in_progress"
	StatusCompleted  PlanStatus = "completed"
	StatusCancelled  PlanStatus = "cancelled"
)

func (s PlanStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusApproved, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Editable — параметры плана (количество, номер партии) правятся
// только в черновике: после утверждения они зафиксированы.
func (s PlanStatus) Editable() bool { return s == StatusDraft }

// legacyStatuses — исторические русские значения статусов.
// В старых данных встречаются оба написания ("утвержден"/"утверждён",
// "завершен"/"завершён"); при нормализации оба приводятся к одному
// логическому статусу.
var legacyStatuses = map[string]PlanStatus{
	"черновик":       StatusDraft,
	"утверждён":      StatusApproved,
	"утвержден":      StatusApproved,
	"в производстве": StatusInProgress,
	"завершен":       StatusCompleted,
	"завершён":       StatusCompleted,
	"отменен":        StatusCancelled,
	"отменён":        StatusCancelled,
}

// ParseStatus принимает канонический код или историческую русскую подпись.
func ParseStatus(raw string) (PlanStatus, error) {
	if s := PlanStatus(raw); s.Valid() {
		return s, nil
	}
	if s, ok := legacyStatuses[raw]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown plan status %q", raw)
}

// Plan — план производства: целевое количество продукта,
// проходящее через жизненный цикл статусов.
type Plan struct {
	ID          int64
	ProductID   int64
	ProductName string
	TemplateID  int64
	QuantityKg  float64
	BatchNumber string
	Status      PlanStatus
	CreatedAt   time.Time
}

// Progress — процент выполнения плана по суммарному весу замесов.
func (p Plan) Progress(batches []Batch) float64 {
	if p.QuantityKg <= 0 {
		return 0
	}
	var produced float64
	for _, b := range batches {
		produced += b.WeightKg
	}
	return produced / p.QuantityKg * 100
}

// Batch — замес: один взвешенный прогон внутри плана.
// Номер уникален в рамках плана; после завершения плана неизменяем.
type Batch struct {
	ID        int64
	PlanID    int64
	Number    string
	WeightKg  float64
	CreatedAt time.Time
}

// Reservation — мягкая бронь сырья замесом: снимок количества,
// взятого из партии, ещё не отражённый в её физическом остатке.
// Списание происходит единственный раз — при завершении плана.
type Reservation struct {
	ID           int64
	BatchID      int64
	LotID        int64
	ReservedQty  float64
	RemainingQty float64
	UsedQty      float64
	CreatedAt    time.Time
}

// Виды событий аудита плана.
const (
	EventStatusChanged     = "status_changed"
	EventBatchAdded        = "batch_added"
	EventBatchDeleted      = "batch_deleted"
	EventBatchesDeleted    = "batches_deleted"
	EventIngredientAdded   = "ingredient_added"
	EventIngredientRemoved = "ingredient_removed"
	EventQuantityChanged   = "quantity_changed"
	EventLabelChanged      = "batch_number_changed"
	EventCompletionUndo    = "completion_undone"
)

// AuditEntry — запись аудита плана. Журнал только пополняется;
// записи никогда не редактируются.
type AuditEntry struct {
	ID        int64
	PlanID    int64
	CreatedAt time.Time
	Actor     string
	EventKind string
	Payload   map[string]any
}
