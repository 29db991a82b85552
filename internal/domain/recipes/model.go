package recipes

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft Status = "draft"
	StatusSaved Status = "saved"
)

// Template — рецептура продукта: упорядоченный набор позиций
// (вид сырья + процент). После сохранения состав неизменяем.
type Template struct {
	ID        int64
	ProductID int64
	Name      string
	Status    Status
	Items     []Item
	CreatedAt time.Time
}

// Item — позиция рецептуры. Percentage хранится с точностью 3 знака
// (NUMERIC(6,3)), чтобы сумма 100% не плыла при повторных сохранениях.
type Item struct {
	ID             int64
	TemplateID     int64
	MaterialTypeID int64
	TypeName       string
	Percentage     decimal.Decimal
}

var (
	hundred      = decimal.NewFromInt(100)
	sumTolerance = decimal.RequireFromString("0.01")
)

// Ошибки валидации рецептуры.
type (
	// EmptyRecipeError — попытка сохранить рецептуру без позиций.
	EmptyRecipeError struct{ TemplateID int64 }

	// PercentageSumError — сумма процентов отличается от 100 больше чем на 0.01.
	PercentageSumError struct {
		TemplateID int64
		Sum        decimal.Decimal
	}

	// DuplicateIngredientError — вид сырья уже есть в рецептуре.
	DuplicateIngredientError struct{ MaterialTypeID int64 }

	// InvalidPercentageError — процент вне (0, 100].
	InvalidPercentageError struct{ Percentage decimal.Decimal }

	// TemplateSavedError — попытка изменить сохранённую рецептуру.
	TemplateSavedError struct{ TemplateID int64 }
)

func (e EmptyRecipeError) Error() string {
	return fmt.Sprintf("recipe %d: no ingredients", e.TemplateID)
}

func (e PercentageSumError) Error() string {
	return fmt.Sprintf("recipe %d: percentage sum is %s, want 100", e.TemplateID, e.Sum)
}

func (e DuplicateIngredientError) Error() string {
	return fmt.Sprintf("material type %d is already in the recipe", e.MaterialTypeID)
}

func (e InvalidPercentageError) Error() string {
	return fmt.Sprintf("percentage %s is out of (0, 100]", e.Percentage)
}

func (e TemplateSavedError) Error() string {
	return fmt.Sprintf("recipe %d is saved and cannot be modified", e.TemplateID)
}

// RequiredKg — потребность в сырье на замес: weight × percentage / 100.
// Считается в decimal, чтобы процент применялся ровно как сохранён.
func RequiredKg(weightKg float64, pct decimal.Decimal) float64 {
	w := decimal.NewFromFloat(weightKg)
	return w.Mul(pct).Div(hundred).InexactFloat64()
}

// ValidateNewItem проверяет добавляемую позицию против уже имеющихся.
func ValidateNewItem(items []Item, materialTypeID int64, pct decimal.Decimal) error {
	if pct.Sign() <= 0 || pct.Cmp(hundred) > 0 {
		return InvalidPercentageError{Percentage: pct}
	}
	for _, it := range items {
		if it.MaterialTypeID == materialTypeID {
			return DuplicateIngredientError{MaterialTypeID: materialTypeID}
		}
	}
	return nil
}

// ValidateForSave проверяет рецептуру перед переводом в saved.
func ValidateForSave(templateID int64, items []Item) error {
	if len(items) == 0 {
		return EmptyRecipeError{TemplateID: templateID}
	}
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Percentage)
	}
	if sum.Sub(hundred).Abs().Cmp(sumTolerance) > 0 {
		return PercentageSumError{TemplateID: templateID, Sum: sum}
	}
	return nil
}
