package database

import (
	"context"
	"sort"
	"strings"
	"sync"

	"civic-dispatch-backend/internal/dispatch"
	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/pkg/errs"
)

// MemoryStore keeps everything in process. Units of work lock entities by id
// and stage their writes until fn returns nil.
type MemoryStore struct {
	mu            sync.RWMutex
	departments   map[string]models.Department
	users         map[string]models.User
	emergencies   map[string]*models.EmergencyRequest
	locations     map[string]models.UnitLocation
	notifications []models.Notification
	tokens        map[string]models.DeviceToken

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		departments: make(map[string]models.Department),
		users:       make(map[string]models.User),
		emergencies: make(map[string]*models.EmergencyRequest),
		locations:   make(map[string]models.UnitLocation),
		tokens:      make(map[string]models.DeviceToken),
		locks:       make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) entityLock(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *MemoryStore) CreateEmergency(_ context.Context, req *models.EmergencyRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.emergencies[req.ID]; exists {
		return errs.Wrap("insert emergency", errs.ErrConflict)
	}
	s.emergencies[req.ID] = req.Clone()
	return nil
}

func (s *MemoryStore) GetEmergency(_ context.Context, id string) (*models.EmergencyRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.emergencies[id]
	if !ok {
		return nil, errs.Wrap("get emergency", errs.ErrNotFound)
	}
	return req.Clone(), nil
}

func (s *MemoryStore) GetUnitLocation(_ context.Context, unitID string) (*models.UnitLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locations[unitID]
	if !ok {
		return nil, errs.Wrap("get unit location", errs.ErrNotFound)
	}
	return &loc, nil
}

func (s *MemoryStore) EnsureUnitLocation(_ context.Context, unitID string, def models.Coordinate) (*models.UnitLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc := s.ensureLocked(unitID, def)
	return &loc, nil
}

// ensureLocked requires s.mu held for writing.
func (s *MemoryStore) ensureLocked(unitID string, def models.Coordinate) models.UnitLocation {
	loc, ok := s.locations[unitID]
	if !ok {
		loc = models.UnitLocation{UnitID: unitID, Position: def, Available: true}
		s.locations[unitID] = loc
	}
	return loc
}

func (s *MemoryStore) ListUnitLocations(_ context.Context) ([]models.UnitLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.UnitLocation, 0, len(s.locations))
	for _, l := range s.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out, nil
}

func (s *MemoryStore) ResetAvailability(_ context.Context) (int64, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.locations))
	for id := range s.locations {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var n int64
	for _, id := range ids {
		lock := s.entityLock("unit:" + id)
		lock.Lock()
		s.mu.Lock()
		if l, ok := s.locations[id]; ok && !l.Available {
			l.Available = true
			s.locations[id] = l
			n++
		}
		s.mu.Unlock()
		lock.Unlock()
	}
	return n, nil
}

func (s *MemoryStore) Atomically(ctx context.Context, fn func(tx dispatch.Tx) error) error {
	tx := &memTx{
		store:       s,
		emergencies: make(map[string]*models.EmergencyRequest),
		locations:   make(map[string]models.UnitLocation),
		held:        make(map[string]bool),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, req := range tx.emergencies {
		s.emergencies[id] = req
	}
	for id, loc := range tx.locations {
		s.locations[id] = loc
	}
	return nil
}

type memTx struct {
	store       *MemoryStore
	emergencies map[string]*models.EmergencyRequest
	locations   map[string]models.UnitLocation
	held        map[string]bool
	order       []*sync.Mutex
}

func (t *memTx) lock(key string) {
	if t.held[key] {
		return
	}
	l := t.store.entityLock(key)
	l.Lock()
	t.held[key] = true
	t.order = append(t.order, l)
}

func (t *memTx) release() {
	for i := len(t.order) - 1; i >= 0; i-- {
		t.order[i].Unlock()
	}
}

func (t *memTx) LockEmergency(_ context.Context, id string) (*models.EmergencyRequest, error) {
	t.lock("emergency:" + id)
	if staged, ok := t.emergencies[id]; ok {
		return staged.Clone(), nil
	}
	t.store.mu.RLock()
	req, ok := t.store.emergencies[id]
	t.store.mu.RUnlock()
	if !ok {
		return nil, errs.Wrap("lock emergency", errs.ErrNotFound)
	}
	return req.Clone(), nil
}

func (t *memTx) LockUnitLocation(_ context.Context, unitID string, def models.Coordinate) (*models.UnitLocation, error) {
	t.lock("unit:" + unitID)
	if staged, ok := t.locations[unitID]; ok {
		return &staged, nil
	}
	t.store.mu.Lock()
	loc := t.store.ensureLocked(unitID, def)
	t.store.mu.Unlock()
	return &loc, nil
}

func (t *memTx) SaveEmergency(_ context.Context, req *models.EmergencyRequest) error {
	if !t.held["emergency:"+req.ID] {
		return errs.Wrap("save emergency: not locked", errs.ErrInternal)
	}
	t.emergencies[req.ID] = req.Clone()
	return nil
}

func (t *memTx) SaveUnitLocation(_ context.Context, loc *models.UnitLocation) error {
	if !t.held["unit:"+loc.UnitID] {
		return errs.Wrap("save unit location: not locked", errs.ErrInternal)
	}
	t.locations[loc.UnitID] = *loc
	return nil
}

// Directory

func (s *MemoryStore) FieldUnitsByDepartment(_ context.Context, department string) ([]models.Unit, error) {
	needle := strings.ToLower(department)
	return s.fieldUnits(func(u models.Unit) bool {
		return u.Department != "" && strings.Contains(strings.ToLower(u.Department), needle)
	}), nil
}

func (s *MemoryStore) FieldUnits(_ context.Context) ([]models.Unit, error) {
	return s.fieldUnits(func(models.Unit) bool { return true }), nil
}

func (s *MemoryStore) GetUnit(_ context.Context, id string) (*models.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok || u.Role != models.RoleFieldOfficial {
		return nil, errs.Wrap("get unit", errs.ErrNotFound)
	}
	unit := s.unitLocked(u)
	return &unit, nil
}

func (s *MemoryStore) fieldUnits(keep func(models.Unit) bool) []models.Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	units := []models.Unit{}
	for _, u := range s.users {
		if u.Role != models.RoleFieldOfficial {
			continue
		}
		if unit := s.unitLocked(u); keep(unit) {
			units = append(units, unit)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	return units
}

func (s *MemoryStore) unitLocked(u models.User) models.Unit {
	unit := models.Unit{ID: u.ID, Name: u.Name, Phone: u.Phone}
	if u.DepartmentID != nil {
		if d, ok := s.departments[*u.DepartmentID]; ok {
			unit.DepartmentID = d.ID
			unit.Department = d.Name
		}
	}
	return unit
}

// Users, departments, notifications

func (s *MemoryStore) GetUserByPhone(_ context.Context, phone string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Phone == phone {
			u := u
			return &u, nil
		}
	}
	return nil, errs.Wrap("get user by phone", errs.ErrNotFound)
}

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Phone == user.Phone || u.ID == user.ID {
			return errs.Wrap("create user", errs.ErrConflict)
		}
	}
	if user.DepartmentID != nil {
		if _, ok := s.departments[*user.DepartmentID]; !ok {
			return errs.Wrap("create user: unknown department", errs.ErrInvalidInput)
		}
	}
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryStore) UpsertDepartment(_ context.Context, dept *models.Department) (*models.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.departments {
		if d.Name == dept.Name {
			d.Description = dept.Description
			s.departments[id] = d
			return &d, nil
		}
	}
	s.departments[dept.ID] = *dept
	out := *dept
	return &out, nil
}

func (s *MemoryStore) SetUnitLocation(_ context.Context, loc *models.UnitLocation) error {
	lock := s.entityLock("unit:" + loc.UnitID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[loc.UnitID] = *loc
	return nil
}

func (s *MemoryStore) CreateNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[n.RecipientID]; !ok {
		return errs.Wrap("create notification: unknown recipient", errs.ErrInvalidInput)
	}
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, recipientID string, limit int) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Notification{}
	for i := len(s.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if s.notifications[i].RecipientID == recipientID {
			out = append(out, s.notifications[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertDeviceToken(_ context.Context, t *models.DeviceToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.Token] = *t
	return nil
}

func (s *MemoryStore) DeviceTokens(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokens := []string{}
	for tok, t := range s.tokens {
		if t.UserID == userID {
			tokens = append(tokens, tok)
		}
	}
	sort.Strings(tokens)
	return tokens, nil
}

func (s *MemoryStore) DeleteDeviceToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}
