package planning

import "time"

// MonthlyPlan — помесячный план выпуска продукта. Чистая агрегация
// для прогноза потребности: не создаёт резервов и не трогает остатки.
type MonthlyPlan struct {
	ID         int64
	Year       int
	Month      time.Month
	ProductID  int64
	TemplateID int64
	QuantityKg float64
	CreatedAt  time.Time
}
