package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Spok95/prodplan/internal/domain/materials"
	"github.com/Spok95/prodplan/internal/domain/planning"
	"github.com/Spok95/prodplan/internal/domain/production"
	"github.com/Spok95/prodplan/internal/domain/recipes"
)

// MemStore — хранилище в памяти. Используется в тестах движка и как
// эталон семантики Store; все операции сериализуются мьютексом.
type MemStore struct {
	mu     sync.Mutex
	nextID int64

	types        map[int64]materials.Type
	lots         map[int64]materials.Lot
	templates    map[int64][]recipes.Item
	plans        map[int64]production.Plan
	batches      map[int64]production.Batch
	reservations map[int64]production.Reservation
	monthly      []planning.MonthlyPlan
	audits       []production.AuditEntry
}

func NewMemStore() *MemStore {
	return &MemStore{
		types:        map[int64]materials.Type{},
		lots:         map[int64]materials.Lot{},
		templates:    map[int64][]recipes.Item{},
		plans:        map[int64]production.Plan{},
		batches:      map[int64]production.Batch{},
		reservations: map[int64]production.Reservation{},
	}
}

func (m *MemStore) id() int64 {
	m.nextID++
	return m.nextID
}

/* Наполнение (для тестов) */

func (m *MemStore) AddMaterialType(name string) materials.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := materials.Type{ID: m.id(), Name: name, CreatedAt: time.Now()}
	m.types[t.ID] = t
	return t
}

func (m *MemStore) AddLot(typeID int64, batchNumber string, quantityKg float64, expiresAt *time.Time) materials.Lot {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := materials.Lot{
		ID:          m.id(),
		TypeID:      typeID,
		TypeName:    m.types[typeID].Name,
		BatchNumber: batchNumber,
		QuantityKg:  quantityKg,
		ReceivedAt:  time.Now(),
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}
	m.lots[l.ID] = l
	return l
}

func (m *MemStore) AddTemplate(items ...recipes.Item) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	out := make([]recipes.Item, len(items))
	for i, it := range items {
		it.ID = m.id()
		it.TemplateID = id
		if it.TypeName == "" {
			it.TypeName = m.types[it.MaterialTypeID].Name
		}
		out[i] = it
	}
	m.templates[id] = out
	return id
}

func (m *MemStore) AddPlan(templateID int64, quantityKg float64, batchNumber string, status production.PlanStatus) production.Plan {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := production.Plan{
		ID:          m.id(),
		TemplateID:  templateID,
		QuantityKg:  quantityKg,
		BatchNumber: batchNumber,
		Status:      status,
		CreatedAt:   time.Now(),
	}
	m.plans[p.ID] = p
	return p
}

func (m *MemStore) AddMonthlyPlan(p planning.MonthlyPlan) planning.MonthlyPlan {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	m.monthly = append(m.monthly, p)
	return p
}

// LotQuantity — текущий физический остаток партии (для проверок в тестах).
func (m *MemStore) LotQuantity(lotID int64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lots[lotID].QuantityKg
}

// AuditEntries — журнал плана от новых записей к старым.
func (m *MemStore) AuditEntries(planID int64) []production.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []production.AuditEntry
	for i := len(m.audits) - 1; i >= 0; i-- {
		if m.audits[i].PlanID == planID {
			out = append(out, m.audits[i])
		}
	}
	return out
}

/* Store: чтение */

func (m *MemStore) Plan(_ context.Context, id int64) (*production.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.plans[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *MemStore) PlansByStatus(_ context.Context, status production.PlanStatus) ([]production.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []production.Plan
	for _, p := range m.plans {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemStore) Batch(_ context.Context, id int64) (*production.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.batches[id]; ok {
		return &b, nil
	}
	return nil, nil
}

func (m *MemStore) Batches(_ context.Context, planID int64) ([]production.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []production.Batch
	for _, b := range m.batches {
		if b.PlanID == planID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MemStore) Reservation(_ context.Context, id int64) (*production.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reservations[id]; ok {
		return &r, nil
	}
	return nil, nil
}

func (m *MemStore) Reservations(_ context.Context, batchID int64) ([]production.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []production.Reservation
	for _, r := range m.reservations {
		if r.BatchID == batchID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemStore) ReservationsByPlan(_ context.Context, planID int64) ([]production.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reservationsByPlanLocked(planID), nil
}

func (m *MemStore) reservationsByPlanLocked(planID int64) []production.Reservation {
	var out []production.Reservation
	for _, r := range m.reservations {
		if b, ok := m.batches[r.BatchID]; ok && b.PlanID == planID {
			out = append(out, r)
		}
	}
	return out
}

func (m *MemStore) TemplateItems(_ context.Context, templateID int64) ([]recipes.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, ok := m.templates[templateID]
	if !ok {
		return nil, nil
	}
	out := make([]recipes.Item, len(items))
	copy(out, items)
	return out, nil
}

func (m *MemStore) MaterialTypes(_ context.Context) ([]materials.Type, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]materials.Type, 0, len(m.types))
	for _, t := range m.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) Lot(_ context.Context, id int64) (*materials.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lots[id]; ok {
		return &l, nil
	}
	return nil, nil
}

func (m *MemStore) LotsByType(_ context.Context, typeID int64) ([]materials.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []materials.Lot
	for _, l := range m.lots {
		if l.TypeID == typeID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemStore) AllLots(_ context.Context) ([]materials.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]materials.Lot, 0, len(m.lots))
	for _, l := range m.lots {
		out = append(out, l)
	}
	return out, nil
}

func (m *MemStore) ReservedQty(_ context.Context, lotID int64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reservedLocked(lotID), nil
}

func (m *MemStore) reservedLocked(lotID int64) float64 {
	var total float64
	for _, r := range m.reservations {
		if r.LotID != lotID {
			continue
		}
		b, ok := m.batches[r.BatchID]
		if !ok {
			continue
		}
		if p, ok := m.plans[b.PlanID]; ok && p.Status != production.StatusCompleted {
			total += r.UsedQty
		}
	}
	return total
}

// checkFreeLocked — повторная проверка свободного остатка в критической
// секции записи: чтения при распределении делались без блокировки и
// могли устареть. Ровно здесь держится запрет двойного резервирования.
func (m *MemStore) checkFreeLocked(res []production.Reservation) error {
	need := map[int64]float64{}
	for _, r := range res {
		need[r.LotID] += r.UsedQty
	}
	for lotID, qty := range need {
		free := m.lots[lotID].QuantityKg - m.reservedLocked(lotID)
		if free < 0 {
			free = 0
		}
		if qty > free+qtyEps {
			return InsufficientLotError{LotID: lotID, AvailableKg: free}
		}
	}
	return nil
}

func (m *MemStore) MonthlyPlans(_ context.Context, year int) ([]planning.MonthlyPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []planning.MonthlyPlan
	for _, p := range m.monthly {
		if p.Year == year {
			out = append(out, p)
		}
	}
	return out, nil
}

/* Store: запись */

func (m *MemStore) CreateBatch(_ context.Context, b production.Batch, res []production.Reservation, audit production.AuditEntry) (*production.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFreeLocked(res); err != nil {
		return nil, err
	}
	b.ID = m.id()
	b.CreatedAt = time.Now()
	m.batches[b.ID] = b
	for _, r := range res {
		r.ID = m.id()
		r.BatchID = b.ID
		r.CreatedAt = time.Now()
		m.reservations[r.ID] = r
	}
	m.appendAuditLocked(audit)
	return &b, nil
}

func (m *MemStore) AddReservation(_ context.Context, res production.Reservation, audit production.AuditEntry) (*production.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFreeLocked([]production.Reservation{res}); err != nil {
		return nil, err
	}
	res.ID = m.id()
	res.CreatedAt = time.Now()
	m.reservations[res.ID] = res
	m.appendAuditLocked(audit)
	return &res, nil
}

func (m *MemStore) DeleteReservation(_ context.Context, reservationID int64, audit production.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reservations, reservationID)
	m.appendAuditLocked(audit)
	return nil
}

func (m *MemStore) DeleteBatch(_ context.Context, batchID int64, audit production.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.reservations {
		if r.BatchID == batchID {
			delete(m.reservations, id)
		}
	}
	delete(m.batches, batchID)
	m.appendAuditLocked(audit)
	return nil
}

func (m *MemStore) DeleteBatches(_ context.Context, planID int64, audit production.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, b := range m.batches {
		if b.PlanID != planID {
			continue
		}
		for rid, r := range m.reservations {
			if r.BatchID == id {
				delete(m.reservations, rid)
			}
		}
		delete(m.batches, id)
	}
	m.appendAuditLocked(audit)
	return nil
}

func (m *MemStore) SetPlanStatus(_ context.Context, planID int64, status production.PlanStatus, audit production.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.plans[planID]
	p.Status = status
	m.plans[planID] = p
	m.appendAuditLocked(audit)
	return nil
}

func (m *MemStore) CompletePlan(_ context.Context, planID int64, deductions []StockMove, audit production.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range deductions {
		l := m.lots[d.LotID]
		l.QuantityKg -= d.Qty
		if l.QuantityKg < 0 {
			l.QuantityKg = 0
		}
		m.lots[d.LotID] = l
	}
	p := m.plans[planID]
	p.Status = production.StatusCompleted
	m.plans[planID] = p
	m.appendAuditLocked(audit)
	return nil
}

func (m *MemStore) UndoCompletion(_ context.Context, planID int64, restores []StockMove, audit production.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range restores {
		l := m.lots[r.LotID]
		l.QuantityKg += r.Qty
		m.lots[r.LotID] = l
	}
	p := m.plans[planID]
	p.Status = production.StatusDraft
	m.plans[planID] = p
	m.appendAuditLocked(audit)
	return nil
}

func (m *MemStore) DeletePlan(_ context.Context, planID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, b := range m.batches {
		if b.PlanID != planID {
			continue
		}
		for rid, r := range m.reservations {
			if r.BatchID == id {
				delete(m.reservations, rid)
			}
		}
		delete(m.batches, id)
	}
	delete(m.plans, planID)
	return nil
}

func (m *MemStore) appendAuditLocked(e production.AuditEntry) {
	e.ID = m.id()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.audits = append(m.audits, e)
}
