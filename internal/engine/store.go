package engine

import (
	"context"

	"github.com/Spok95/prodplan/internal/domain/materials"
	"github.com/Spok95/prodplan/internal/domain/planning"
	"github.com/Spok95/prodplan/internal/domain/production"
	"github.com/Spok95/prodplan/internal/domain/recipes"
)

// StockMove — изменение физического остатка одной партии.
type StockMove struct {
	LotID int64
	Qty   float64
}

// Store — хранилище движка. Методы чтения возвращают nil без ошибки,
// если сущности нет. Мутирующие методы со списками применяют всё
// одной транзакцией: частичная запись недопустима.
type Store interface {
	Plan(ctx context.Context, id int64) (*production.Plan, error)
	PlansByStatus(ctx context.Context, status production.PlanStatus) ([]production.Plan, error)
	Batch(ctx context.Context, id int64) (*production.Batch, error)
	Batches(ctx context.Context, planID int64) ([]production.Batch, error)
	Reservation(ctx context.Context, id int64) (*production.Reservation, error)
	Reservations(ctx context.Context, batchID int64) ([]production.Reservation, error)
	ReservationsByPlan(ctx context.Context, planID int64) ([]production.Reservation, error)

	TemplateItems(ctx context.Context, templateID int64) ([]recipes.Item, error)

	MaterialTypes(ctx context.Context) ([]materials.Type, error)
	Lot(ctx context.Context, id int64) (*materials.Lot, error)
	LotsByType(ctx context.Context, typeID int64) ([]materials.Lot, error)
	AllLots(ctx context.Context) ([]materials.Lot, error)
	// ReservedQty — сумма used_qty по резервам этой партии,
	// принадлежащим незавершённым планам.
	ReservedQty(ctx context.Context, lotID int64) (float64, error)

	MonthlyPlans(ctx context.Context, year int) ([]planning.MonthlyPlan, error)

	// CreateBatch и AddReservation перед записью резервов повторно
	// проверяют свободный остаток затронутых партий под блокировкой:
	// чтения движка при распределении не защищают от параллельного
	// резервирования, защищает ровно эта проверка. При нехватке
	// возвращается InsufficientLotError, запись не происходит.
	CreateBatch(ctx context.Context, b production.Batch, res []production.Reservation, audit production.AuditEntry) (*production.Batch, error)
	AddReservation(ctx context.Context, res production.Reservation, audit production.AuditEntry) (*production.Reservation, error)
	DeleteReservation(ctx context.Context, reservationID int64, audit production.AuditEntry) error
	DeleteBatch(ctx context.Context, batchID int64, audit production.AuditEntry) error
	DeleteBatches(ctx context.Context, planID int64, audit production.AuditEntry) error
	SetPlanStatus(ctx context.Context, planID int64, status production.PlanStatus, audit production.AuditEntry) error
	// CompletePlan атомарно списывает остатки (clamp до нуля),
	// ставит статус completed и пишет аудит.
	CompletePlan(ctx context.Context, planID int64, deductions []StockMove, audit production.AuditEntry) error
	// UndoCompletion атомарно восстанавливает остатки, возвращает план
	// в draft и пишет аудит. Резервы остаются нетронутыми.
	UndoCompletion(ctx context.Context, planID int64, restores []StockMove, audit production.AuditEntry) error
	DeletePlan(ctx context.Context, planID int64) error
}
