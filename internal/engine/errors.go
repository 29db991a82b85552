package engine

import (
	"errors"
	"fmt"

	"github.com/Spok95/prodplan/internal/domain/production"
)

// Ошибки валидации поднимаются до любых изменений: после успешной
// проверки запись выполняется как одна транзакция целиком.

var (
	ErrPlanNotFound        = errors.New("engine: plan not found")
	ErrBatchNotFound       = errors.New("engine: batch not found")
	ErrLotNotFound         = errors.New("engine: lot not found")
	ErrTemplateNotFound    = errors.New("engine: recipe template not found")
	ErrReservationNotFound = errors.New("engine: reservation not found")

	// ErrPlanNotDeletable — удалить можно только черновик или отменённый план.
	ErrPlanNotDeletable = errors.New("engine: only draft or cancelled plans can be deleted")
)

// DuplicateBatchLabelError — номер замеса уже занят в этом плане.
type DuplicateBatchLabelError struct {
	PlanID int64
	Number string
}

func (e DuplicateBatchLabelError) Error() string {
	return fmt.Sprintf("plan %d: batch %q already exists", e.PlanID, e.Number)
}

// InvalidQuantityError — количество должно быть строго положительным.
type InvalidQuantityError struct{ QtyKg float64 }

func (e InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity %.3f kg must be > 0", e.QtyKg)
}

// WeightOutOfRangeError — вес замеса вне (0, 1000] кг.
type WeightOutOfRangeError struct{ WeightKg float64 }

func (e WeightOutOfRangeError) Error() string {
	return fmt.Sprintf("batch weight %.3f kg is out of (0, %.0f]", e.WeightKg, MaxBatchWeightKg)
}

// PlanOverrunError — суммарный вес замесов превысил бы план.
type PlanOverrunError struct {
	PlanID  int64
	TotalKg float64
	PlanKg  float64
}

func (e PlanOverrunError) Error() string {
	return fmt.Sprintf("plan %d: batches total %.2f kg exceeds plan %.2f kg", e.PlanID, e.TotalKg, e.PlanKg)
}

// ExceedsRequirementError — ручное добавление ингредиента сверх потребности.
type ExceedsRequirementError struct {
	BatchID     int64
	TypeID      int64
	RemainingKg float64
}

func (e ExceedsRequirementError) Error() string {
	return fmt.Sprintf("batch %d: type %d needs only %.2f kg more", e.BatchID, e.TypeID, e.RemainingKg)
}

// InsufficientLotError — в партии недостаточно свободного остатка.
type InsufficientLotError struct {
	LotID       int64
	AvailableKg float64
}

func (e InsufficientLotError) Error() string {
	return fmt.Sprintf("lot %d: only %.2f kg available", e.LotID, e.AvailableKg)
}

// TypeShortage — нехватка по одному виду сырья.
type TypeShortage struct {
	TypeID      int64
	TypeName    string
	NeededKg    float64
	AvailableKg float64
}

// InsufficientStockError — сырья недостаточно для утверждения плана.
type InsufficientStockError struct {
	PlanID    int64
	Shortages []TypeShortage
}

func (e InsufficientStockError) Error() string {
	return fmt.Sprintf("plan %d: insufficient stock for %d material type(s)", e.PlanID, len(e.Shortages))
}

// UnderProducedError — произведено меньше планового количества
// (с допуском 0.1% на округление).
type UnderProducedError struct {
	PlanID     int64
	ProducedKg float64
	PlanKg     float64
}

func (e UnderProducedError) Error() string {
	return fmt.Sprintf("plan %d: produced %.2f kg of %.2f kg", e.PlanID, e.ProducedKg, e.PlanKg)
}

// IncompleteIngredientsError — в замесе внесено не то количество
// ингредиента, которое требует рецептура (допуск 0.01 кг).
type IncompleteIngredientsError struct {
	PlanID      int64
	BatchNumber string
	TypeID      int64
	TypeName    string
	AddedKg     float64
	NeededKg    float64
}

func (e IncompleteIngredientsError) Error() string {
	return fmt.Sprintf("plan %d, batch %q: ingredient %q has %.2f kg of %.2f kg",
		e.PlanID, e.BatchNumber, e.TypeName, e.AddedKg, e.NeededKg)
}

// InvalidTransitionError — недопустимый переход статуса.
type InvalidTransitionError struct {
	PlanID int64
	From   production.PlanStatus
	To     production.PlanStatus
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("plan %d: transition %s -> %s is not allowed", e.PlanID, e.From, e.To)
}

// PlanCompletedError — завершённый план неизменяем (кроме отмены завершения).
type PlanCompletedError struct{ PlanID int64 }

func (e PlanCompletedError) Error() string {
	return fmt.Sprintf("plan %d is completed and cannot be modified", e.PlanID)
}

// IngredientNotInRecipeError — вид сырья отсутствует в рецептуре плана.
type IngredientNotInRecipeError struct {
	TemplateID int64
	TypeID     int64
}

func (e IngredientNotInRecipeError) Error() string {
	return fmt.Sprintf("recipe %d: material type %d is not an ingredient", e.TemplateID, e.TypeID)
}
