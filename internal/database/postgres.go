package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"civic-dispatch-backend/internal/dispatch"
	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/pkg/errs"

	"github.com/jmoiron/sqlx"
)

// PostgresStore implements the dispatch store and directory on sqlx.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

type emergencyRow struct {
	ID            string         `db:"id"`
	CitizenID     string         `db:"citizen_id"`
	ServiceType   string         `db:"service_type"`
	DestLatitude  float64        `db:"dest_latitude"`
	DestLongitude float64        `db:"dest_longitude"`
	Status        string         `db:"status"`
	AssignedUnit  sql.NullString `db:"assigned_unit_id"`
	Route         models.Path    `db:"route"`
	RouteStep     int            `db:"route_step"`
	RouteActive   bool           `db:"route_active"`
	CreatedAt     int64          `db:"created_at"`
	UpdatedAt     int64          `db:"updated_at"`
}

func (r emergencyRow) toModel() *models.EmergencyRequest {
	req := &models.EmergencyRequest{
		ID:          r.ID,
		CitizenID:   r.CitizenID,
		ServiceType: models.ServiceType(r.ServiceType),
		Destination: models.Coordinate{Latitude: r.DestLatitude, Longitude: r.DestLongitude},
		Status:      models.EmergencyStatus(r.Status),
		Route:       models.RouteState{Path: r.Route, Step: r.RouteStep, Active: r.RouteActive},
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.AssignedUnit.Valid {
		id := r.AssignedUnit.String
		req.AssignedUnit = &id
	}
	return req
}

type locationRow struct {
	OfficialID  string  `db:"official_id"`
	Latitude    float64 `db:"latitude"`
	Longitude   float64 `db:"longitude"`
	IsAvailable bool    `db:"is_available"`
	UpdatedAt   int64   `db:"updated_at"`
}

func (r locationRow) toModel() *models.UnitLocation {
	return &models.UnitLocation{
		UnitID:    r.OfficialID,
		Position:  models.Coordinate{Latitude: r.Latitude, Longitude: r.Longitude},
		Available: r.IsAvailable,
		UpdatedAt: r.UpdatedAt,
	}
}

const emergencyColumns = `id, citizen_id, service_type, dest_latitude, dest_longitude, status,
	assigned_unit_id, route, route_step, route_active, created_at, updated_at`

func (s *PostgresStore) CreateEmergency(ctx context.Context, req *models.EmergencyRequest) error {
	query := `INSERT INTO emergency_requests (` + emergencyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.db.ExecContext(ctx, query, emergencyArgs(req)...)
	return errs.WrapDB("insert emergency", err)
}

func emergencyArgs(req *models.EmergencyRequest) []interface{} {
	var route models.Path
	if req.Route.Active {
		route = req.Route.Path
	}
	return []interface{}{
		req.ID, req.CitizenID, string(req.ServiceType),
		req.Destination.Latitude, req.Destination.Longitude,
		string(req.Status), req.AssignedUnit,
		route, req.Route.Step, req.Route.Active,
		req.CreatedAt, req.UpdatedAt,
	}
}

func (s *PostgresStore) GetEmergency(ctx context.Context, id string) (*models.EmergencyRequest, error) {
	var row emergencyRow
	err := s.db.GetContext(ctx, &row, `SELECT `+emergencyColumns+` FROM emergency_requests WHERE id = $1`, id)
	if err != nil {
		return nil, errs.WrapDB("get emergency", err)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) GetUnitLocation(ctx context.Context, unitID string) (*models.UnitLocation, error) {
	var row locationRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM unit_locations WHERE official_id = $1`, unitID)
	if err != nil {
		return nil, errs.WrapDB("get unit location", err)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) EnsureUnitLocation(ctx context.Context, unitID string, def models.Coordinate) (*models.UnitLocation, error) {
	if err := ensureLocation(ctx, s.db, unitID, def); err != nil {
		return nil, err
	}
	return s.GetUnitLocation(ctx, unitID)
}

func ensureLocation(ctx context.Context, ex sqlx.ExecerContext, unitID string, def models.Coordinate) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO unit_locations (official_id, latitude, longitude, is_available, updated_at)
		VALUES ($1, $2, $3, TRUE, EXTRACT(EPOCH FROM NOW())::BIGINT)
		ON CONFLICT (official_id) DO NOTHING`,
		unitID, def.Latitude, def.Longitude)
	return errs.WrapDB("ensure unit location", err)
}

func (s *PostgresStore) ListUnitLocations(ctx context.Context) ([]models.UnitLocation, error) {
	var rows []locationRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM unit_locations ORDER BY official_id`); err != nil {
		return nil, errs.WrapDB("list unit locations", err)
	}
	out := make([]models.UnitLocation, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toModel())
	}
	return out, nil
}

func (s *PostgresStore) ResetAvailability(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE unit_locations SET is_available = TRUE, updated_at = EXTRACT(EPOCH FROM NOW())::BIGINT
		WHERE is_available = FALSE`)
	if err != nil {
		return 0, errs.WrapDB("reset availability", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Atomically runs fn in a READ COMMITTED transaction; row locks come from
// SELECT ... FOR UPDATE in the Tx methods.
func (s *PostgresStore) Atomically(ctx context.Context, fn func(tx dispatch.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errs.WrapDB("begin tx", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.WrapDB("commit tx", err)
	}
	return nil
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) LockEmergency(ctx context.Context, id string) (*models.EmergencyRequest, error) {
	var row emergencyRow
	err := t.tx.GetContext(ctx, &row, `SELECT `+emergencyColumns+` FROM emergency_requests WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, errs.WrapDB("lock emergency", err)
	}
	return row.toModel(), nil
}

func (t *pgTx) LockUnitLocation(ctx context.Context, unitID string, def models.Coordinate) (*models.UnitLocation, error) {
	if err := ensureLocation(ctx, t.tx, unitID, def); err != nil {
		return nil, err
	}
	var row locationRow
	err := t.tx.GetContext(ctx, &row, `SELECT * FROM unit_locations WHERE official_id = $1 FOR UPDATE`, unitID)
	if err != nil {
		return nil, errs.WrapDB("lock unit location", err)
	}
	return row.toModel(), nil
}

func (t *pgTx) SaveEmergency(ctx context.Context, req *models.EmergencyRequest) error {
	args := emergencyArgs(req)
	res, err := t.tx.ExecContext(ctx, `
		UPDATE emergency_requests SET
			citizen_id = $2, service_type = $3, dest_latitude = $4, dest_longitude = $5, status = $6,
			assigned_unit_id = $7, route = $8, route_step = $9, route_active = $10,
			created_at = $11, updated_at = $12
		WHERE id = $1`, args...)
	if err != nil {
		return errs.WrapDB("save emergency", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Wrap("save emergency", errs.ErrNotFound)
	}
	return nil
}

func (t *pgTx) SaveUnitLocation(ctx context.Context, loc *models.UnitLocation) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE unit_locations SET latitude = $2, longitude = $3, is_available = $4, updated_at = $5
		WHERE official_id = $1`,
		loc.UnitID, loc.Position.Latitude, loc.Position.Longitude, loc.Available, loc.UpdatedAt)
	return errs.WrapDB("save unit location", err)
}

// Directory

const unitColumns = `u.id, u.name, u.phone, COALESCE(d.id, '') AS department_id, COALESCE(d.name, '') AS department_name`

func (s *PostgresStore) FieldUnitsByDepartment(ctx context.Context, department string) ([]models.Unit, error) {
	units := []models.Unit{}
	query := `SELECT ` + unitColumns + `
		FROM users u JOIN departments d ON d.id = u.department_id
		WHERE u.role = $1 AND d.name ILIKE '%' || $2 || '%' ESCAPE '\'
		ORDER BY u.id`
	if err := s.db.SelectContext(ctx, &units, query, models.RoleFieldOfficial, escapeLike(department)); err != nil {
		return nil, errs.WrapDB("field units by department", err)
	}
	return units, nil
}

func (s *PostgresStore) FieldUnits(ctx context.Context) ([]models.Unit, error) {
	units := []models.Unit{}
	query := `SELECT ` + unitColumns + `
		FROM users u LEFT JOIN departments d ON d.id = u.department_id
		WHERE u.role = $1
		ORDER BY u.id`
	if err := s.db.SelectContext(ctx, &units, query, models.RoleFieldOfficial); err != nil {
		return nil, errs.WrapDB("field units", err)
	}
	return units, nil
}

func (s *PostgresStore) GetUnit(ctx context.Context, id string) (*models.Unit, error) {
	var unit models.Unit
	query := `SELECT ` + unitColumns + `
		FROM users u LEFT JOIN departments d ON d.id = u.department_id
		WHERE u.id = $1 AND u.role = $2`
	if err := s.db.GetContext(ctx, &unit, query, id, models.RoleFieldOfficial); err != nil {
		return nil, errs.WrapDB("get unit", err)
	}
	return &unit, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Users, departments, notifications

func (s *PostgresStore) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	var user models.User
	if err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE phone = $1`, phone); err != nil {
		return nil, errs.WrapDB("get user by phone", err)
	}
	return &user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, phone, password, name, role, department_id, created_at, updated_at)
		VALUES (:id, :phone, :password, :name, :role, :department_id, :created_at, :updated_at)`, user)
	return errs.WrapDB("create user", err)
}

func (s *PostgresStore) UpsertDepartment(ctx context.Context, dept *models.Department) (*models.Department, error) {
	var out models.Department
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO departments (id, name, description, office_latitude, office_longitude)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
		RETURNING *`,
		dept.ID, dept.Name, dept.Description, dept.OfficeLatitude, dept.OfficeLongitude)
	if err != nil {
		return nil, errs.WrapDB("upsert department", err)
	}
	return &out, nil
}

func (s *PostgresStore) SetUnitLocation(ctx context.Context, loc *models.UnitLocation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unit_locations (official_id, latitude, longitude, is_available, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (official_id) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			is_available = EXCLUDED.is_available,
			updated_at = EXCLUDED.updated_at`,
		loc.UnitID, loc.Position.Latitude, loc.Position.Longitude, loc.Available, loc.UpdatedAt)
	return errs.WrapDB("set unit location", err)
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, title, message, emergency_id, is_read, created_at)
		VALUES (:id, :recipient_id, :title, :message, :emergency_id, :is_read, :created_at)`, n)
	return errs.WrapDB("create notification", err)
}

func (s *PostgresStore) ListNotifications(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	out := []models.Notification{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM notifications WHERE recipient_id = $1
		ORDER BY created_at DESC, id LIMIT $2`, recipientID, limit)
	if err != nil {
		return nil, errs.WrapDB("list notifications", err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertDeviceToken(ctx context.Context, t *models.DeviceToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fcm_tokens (user_id, token, device_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT(token) DO UPDATE SET
			user_id = excluded.user_id,
			device_type = excluded.device_type,
			updated_at = excluded.updated_at`,
		t.UserID, t.Token, t.DeviceType, t.UpdatedAt)
	return errs.WrapDB("upsert fcm token", err)
}

func (s *PostgresStore) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	tokens := []string{}
	if err := s.db.SelectContext(ctx, &tokens, `SELECT token FROM fcm_tokens WHERE user_id = $1`, userID); err != nil {
		return nil, errs.WrapDB("device tokens", err)
	}
	return tokens, nil
}

func (s *PostgresStore) DeleteDeviceToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM fcm_tokens WHERE token = $1`, token)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return errs.WrapDB("delete fcm token", err)
	}
	return nil
}
