package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/marathoner/internal/core/ports"
	"github.com/artpar/marathoner/internal/core/status"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	// Every connection to :memory: is a separate database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return NewStoreError("Ping", "", "", err.Error(), ErrConnectionFailed)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateDeployment(ctx context.Context, deployment *status.Deployment) error {
	return createDeployment(ctx, s.db, deployment)
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*status.Deployment, error) {
	return getDeployment(ctx, s.db, id)
}

func (s *SQLiteStore) GetDeploymentByGroup(ctx context.Context, groupID string) (*status.Deployment, error) {
	return getDeploymentByGroup(ctx, s.db, groupID)
}

func (s *SQLiteStore) UpdateDeployment(ctx context.Context, deployment *status.Deployment) error {
	return updateDeployment(ctx, s.db, deployment)
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, opts ListOptions) ([]status.Deployment, error) {
	return listDeployments(ctx, s.db, opts)
}

func (s *SQLiteStore) UpsertTask(ctx context.Context, task *status.Task) error {
	return upsertTask(ctx, s.db, task)
}

func (s *SQLiteStore) ListTasks(ctx context.Context, deploymentID string) ([]status.Task, error) {
	return listTasks(ctx, s.db, deploymentID)
}

func (s *SQLiteStore) DeleteTasks(ctx context.Context, deploymentID string) error {
	return deleteTasks(ctx, s.db, deploymentID)
}

func (s *SQLiteStore) SavePortAssignment(ctx context.Context, assignment ports.Assignment) error {
	return savePortAssignment(ctx, s.db, assignment)
}

func (s *SQLiteStore) ListPortAssignments(ctx context.Context) ([]ports.Assignment, error) {
	return listPortAssignments(ctx, s.db)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateDeployment(ctx context.Context, deployment *status.Deployment) error {
	return createDeployment(ctx, s.tx, deployment)
}

func (s *txSQLiteStore) GetDeployment(ctx context.Context, id string) (*status.Deployment, error) {
	return getDeployment(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetDeploymentByGroup(ctx context.Context, groupID string) (*status.Deployment, error) {
	return getDeploymentByGroup(ctx, s.tx, groupID)
}

func (s *txSQLiteStore) UpdateDeployment(ctx context.Context, deployment *status.Deployment) error {
	return updateDeployment(ctx, s.tx, deployment)
}

func (s *txSQLiteStore) ListDeployments(ctx context.Context, opts ListOptions) ([]status.Deployment, error) {
	return listDeployments(ctx, s.tx, opts)
}

func (s *txSQLiteStore) UpsertTask(ctx context.Context, task *status.Task) error {
	return upsertTask(ctx, s.tx, task)
}

func (s *txSQLiteStore) ListTasks(ctx context.Context, deploymentID string) ([]status.Task, error) {
	return listTasks(ctx, s.tx, deploymentID)
}

func (s *txSQLiteStore) DeleteTasks(ctx context.Context, deploymentID string) error {
	return deleteTasks(ctx, s.tx, deploymentID)
}

func (s *txSQLiteStore) SavePortAssignment(ctx context.Context, assignment ports.Assignment) error {
	return savePortAssignment(ctx, s.tx, assignment)
}

func (s *txSQLiteStore) ListPortAssignments(ctx context.Context) ([]ports.Assignment, error) {
	return listPortAssignments(ctx, s.tx)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Ping(ctx context.Context) error {
	return nil
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Deployment Implementation
// =============================================================================

// deploymentRow represents a deployment row in the database.
type deploymentRow struct {
	ID           string `db:"id"`
	GroupID      string `db:"group_id"`
	Status       string `db:"status"`
	Manifest     string `db:"manifest"`
	ErrorMessage string `db:"error_message"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

func deploymentToRow(d *status.Deployment) deploymentRow {
	return deploymentRow{
		ID:           d.ID,
		GroupID:      d.GroupID,
		Status:       string(d.Status),
		Manifest:     string(d.Manifest),
		ErrorMessage: d.ErrorMessage,
		CreatedAt:    d.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:    d.UpdatedAt.UTC().Format(timeFormat),
	}
}

func createDeployment(ctx context.Context, exec executor, deployment *status.Deployment) error {
	query := `
		INSERT INTO deployments (
			id, group_id, status, manifest, error_message, created_at, updated_at
		) VALUES (
			:id, :group_id, :status, :manifest, :error_message, :created_at, :updated_at
		)`

	_, err := exec.NamedExecContext(ctx, query, deploymentToRow(deployment))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: deployments.id") {
			return NewStoreError("CreateDeployment", EntityDeployment, deployment.ID, "deployment with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateDeployment", EntityDeployment, deployment.ID, err.Error(), err)
	}

	return nil
}

func getDeployment(ctx context.Context, exec executor, id string) (*status.Deployment, error) {
	query := `SELECT * FROM deployments WHERE id = ?`

	var row deploymentRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeployment", EntityDeployment, id, "deployment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDeployment", EntityDeployment, id, err.Error(), err)
	}

	return rowToDeployment(&row)
}

// getDeploymentByGroup returns the most recent deployment of a group that
// has not been undeployed.
func getDeploymentByGroup(ctx context.Context, exec executor, groupID string) (*status.Deployment, error) {
	query := `
		SELECT * FROM deployments
		WHERE group_id = ? AND status != ?
		ORDER BY created_at DESC
		LIMIT 1`

	var row deploymentRow
	err := exec.GetContext(ctx, &row, query, groupID, string(status.StatusUndeployed))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeploymentByGroup", EntityDeployment, groupID, "no live deployment for group", ErrNotFound)
		}
		return nil, NewStoreError("GetDeploymentByGroup", EntityDeployment, groupID, err.Error(), err)
	}

	return rowToDeployment(&row)
}

func updateDeployment(ctx context.Context, exec executor, deployment *status.Deployment) error {
	query := `
		UPDATE deployments SET
			group_id = :group_id,
			status = :status,
			manifest = :manifest,
			error_message = :error_message,
			updated_at = :updated_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, deploymentToRow(deployment))
	if err != nil {
		return NewStoreError("UpdateDeployment", EntityDeployment, deployment.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateDeployment", EntityDeployment, deployment.ID, "deployment not found", ErrNotFound)
	}

	return nil
}

func listDeployments(ctx context.Context, exec executor, opts ListOptions) ([]status.Deployment, error) {
	opts = opts.Normalize()

	var rows []deploymentRow
	var err error
	if opts.Status != "" {
		query := `SELECT * FROM deployments WHERE status = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
		err = exec.SelectContext(ctx, &rows, query, string(opts.Status), opts.Limit, opts.Offset)
	} else {
		query := `SELECT * FROM deployments ORDER BY created_at DESC LIMIT ? OFFSET ?`
		err = exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	}
	if err != nil {
		return nil, NewStoreError("ListDeployments", EntityDeployment, "", err.Error(), err)
	}

	deployments := make([]status.Deployment, 0, len(rows))
	for _, row := range rows {
		deployment, err := rowToDeployment(&row)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *deployment)
	}

	return deployments, nil
}

// rowToDeployment converts a database row to a status.Deployment.
func rowToDeployment(row *deploymentRow) (*status.Deployment, error) {
	createdAt, err := time.Parse(timeFormat, row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToDeployment", EntityDeployment, row.ID, "failed to parse created_at", ErrInvalidData)
	}
	updatedAt, err := time.Parse(timeFormat, row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToDeployment", EntityDeployment, row.ID, "failed to parse updated_at", ErrInvalidData)
	}

	var manifest []byte
	if row.Manifest != "" {
		manifest = []byte(row.Manifest)
	}

	return &status.Deployment{
		ID:           row.ID,
		GroupID:      row.GroupID,
		Status:       status.DeploymentStatus(row.Status),
		Manifest:     manifest,
		ErrorMessage: row.ErrorMessage,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

// =============================================================================
// Task Implementation
// =============================================================================

// taskRow represents a task row in the database.
type taskRow struct {
	DeploymentID string `db:"deployment_id"`
	TaskID       string `db:"task_id"`
	AppID        string `db:"app_id"`
	State        string `db:"state"`
	Host         string `db:"host"`
	SlaveID      string `db:"slave_id"`
	Message      string `db:"message"`
	UpdatedAt    string `db:"updated_at"`
}

func upsertTask(ctx context.Context, exec executor, task *status.Task) error {
	query := `
		INSERT INTO tasks (
			deployment_id, task_id, app_id, state, host, slave_id, message, updated_at
		) VALUES (
			:deployment_id, :task_id, :app_id, :state, :host, :slave_id, :message, :updated_at
		)
		ON CONFLICT (deployment_id, task_id) DO UPDATE SET
			app_id = excluded.app_id,
			state = excluded.state,
			host = excluded.host,
			slave_id = excluded.slave_id,
			message = excluded.message,
			updated_at = excluded.updated_at`

	row := taskRow{
		DeploymentID: task.DeploymentID,
		TaskID:       task.TaskID,
		AppID:        task.AppID,
		State:        string(task.State),
		Host:         task.Host,
		SlaveID:      task.SlaveID,
		Message:      task.Message,
		UpdatedAt:    task.UpdatedAt.UTC().Format(timeFormat),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("UpsertTask", EntityTask, task.TaskID, "deployment not found", ErrForeignKey)
		}
		return NewStoreError("UpsertTask", EntityTask, task.TaskID, err.Error(), err)
	}
	return nil
}

func listTasks(ctx context.Context, exec executor, deploymentID string) ([]status.Task, error) {
	query := `SELECT * FROM tasks WHERE deployment_id = ? ORDER BY app_id, updated_at`

	var rows []taskRow
	if err := exec.SelectContext(ctx, &rows, query, deploymentID); err != nil {
		return nil, NewStoreError("ListTasks", EntityTask, deploymentID, err.Error(), err)
	}

	tasks := make([]status.Task, 0, len(rows))
	for _, row := range rows {
		updatedAt, err := time.Parse(timeFormat, row.UpdatedAt)
		if err != nil {
			return nil, NewStoreError("ListTasks", EntityTask, row.TaskID, "failed to parse updated_at", ErrInvalidData)
		}
		tasks = append(tasks, status.Task{
			DeploymentID: row.DeploymentID,
			AppID:        row.AppID,
			TaskID:       row.TaskID,
			State:        status.TaskState(row.State),
			Host:         row.Host,
			SlaveID:      row.SlaveID,
			Message:      row.Message,
			UpdatedAt:    updatedAt,
		})
	}
	return tasks, nil
}

func deleteTasks(ctx context.Context, exec executor, deploymentID string) error {
	query := `DELETE FROM tasks WHERE deployment_id = ?`

	if _, err := exec.ExecContext(ctx, query, deploymentID); err != nil {
		return NewStoreError("DeleteTasks", EntityTask, deploymentID, err.Error(), err)
	}
	return nil
}

// =============================================================================
// Port Assignment Implementation
// =============================================================================

// portRow represents a port assignment row in the database.
type portRow struct {
	NodeID    string `db:"node_id"`
	Endpoint  string `db:"endpoint"`
	Port      int    `db:"port"`
	CreatedAt string `db:"created_at"`
}

// savePortAssignment records an assignment. Recording the same assignment
// twice is a no-op; assignments are never overwritten.
func savePortAssignment(ctx context.Context, exec executor, a ports.Assignment) error {
	query := `
		INSERT INTO port_assignments (node_id, endpoint, port, created_at)
		VALUES (:node_id, :endpoint, :port, :created_at)
		ON CONFLICT (node_id, endpoint) DO NOTHING`

	row := portRow{
		NodeID:    a.NodeID,
		Endpoint:  a.Endpoint,
		Port:      a.Port,
		CreatedAt: time.Now().UTC().Format(timeFormat),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: port_assignments.port") {
			return NewStoreError("SavePortAssignment", EntityPort, a.Key.String(), fmt.Sprintf("port %d already recorded", a.Port), ErrPortTaken)
		}
		return NewStoreError("SavePortAssignment", EntityPort, a.Key.String(), err.Error(), err)
	}
	return nil
}

func listPortAssignments(ctx context.Context, exec executor) ([]ports.Assignment, error) {
	query := `SELECT node_id, endpoint, port FROM port_assignments ORDER BY port`

	var rows []struct {
		NodeID   string `db:"node_id"`
		Endpoint string `db:"endpoint"`
		Port     int    `db:"port"`
	}
	if err := exec.SelectContext(ctx, &rows, query); err != nil {
		return nil, NewStoreError("ListPortAssignments", EntityPort, "", err.Error(), err)
	}

	result := make([]ports.Assignment, 0, len(rows))
	for _, r := range rows {
		result = append(result, ports.Assignment{
			Key:  ports.Key{NodeID: r.NodeID, Endpoint: r.Endpoint},
			Port: r.Port,
		})
	}
	return result, nil
}
