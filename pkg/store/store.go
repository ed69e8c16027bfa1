package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/mosaico-wp2/agentbench/pkg/config"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// RunFilter narrows ListRuns. Zero fields are ignored.
type RunFilter struct {
	BenchmarkID   string
	AgentID       string
	Status        RunStatus
	StartedBefore *time.Time
	Limit         int
}

// ScheduleFilter narrows ListSchedules. Zero fields are ignored.
type ScheduleFilter struct {
	BenchmarkID string
	AgentID     string
	EnabledOnly bool
}

// AlertFilter narrows ListAlerts. Zero fields are ignored.
type AlertFilter struct {
	BenchmarkID string
	KPIName     string
	EnabledOnly bool
}

// KPIHistoryFilter narrows ListKPIHistory. Zero fields are ignored.
type KPIHistoryFilter struct {
	RunID       string
	BenchmarkID string
	AgentID     string
	KPIName     string
	Limit       int
}

// Store provides persistence for the benchmark pipeline entities.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Run CRUD.
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Schedule CRUD.
	CreateSchedule(ctx context.Context, schedule *ScheduleConfig) error
	GetSchedule(ctx context.Context, id string) (*ScheduleConfig, error)
	// UpdateScheduleFields writes only the given columns, so concurrent
	// writers owning other columns are not reverted.
	UpdateScheduleFields(ctx context.Context, id string, fields map[string]any) error
	DeleteSchedule(ctx context.Context, id string) error
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]ScheduleConfig, error)
	ListDueSchedules(ctx context.Context, now time.Time) ([]ScheduleConfig, error)

	// Alert CRUD.
	CreateAlert(ctx context.Context, alert *AlertConfig) error
	GetAlert(ctx context.Context, id string) (*AlertConfig, error)
	// UpdateAlert writes the user-editable columns. The trigger time and
	// creation time are left untouched.
	UpdateAlert(ctx context.Context, alert *AlertConfig) error
	UpdateAlertFields(ctx context.Context, id string, fields map[string]any) error
	DeleteAlert(ctx context.Context, id string) error
	ListAlerts(ctx context.Context, filter AlertFilter) ([]AlertConfig, error)

	// KPI history (append-only).
	CreateKPIHistory(ctx context.Context, entry *KPIHistory) error
	ListKPIHistory(ctx context.Context, filter KPIHistoryFilter) ([]KPIHistory, error)

	// Metric snapshots (append-only).
	CreateSnapshots(ctx context.Context, snapshots []MetricSnapshot) error
	ListSnapshots(ctx context.Context, runID string) ([]MetricSnapshot, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows a single writer, and every :memory: connection is a
	// separate database.
	if s.cfg.Driver == "sqlite" {
		sqlDB, err := s.db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Run{},
		&ScheduleConfig{},
		&AlertConfig{},
		&KPIHistory{},
		&MetricSnapshot{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// wrap annotates err with op and maps gorm's not-found onto ErrNotFound.
func wrap(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// --- Run CRUD ---

func (s *store) CreateRun(ctx context.Context, run *Run) error {
	ensureID(&run.ID)

	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return wrap("creating run", err)
	}

	return nil
}

func (s *store) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&run).Error; err != nil {
		return nil, wrap("getting run", err)
	}

	return &run, nil
}

func (s *store) UpdateRun(ctx context.Context, run *Run) error {
	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return wrap("updating run", err)
	}

	return nil
}

func (s *store) ListRuns(
	ctx context.Context, filter RunFilter,
) ([]Run, error) {
	q := s.db.WithContext(ctx).Model(&Run{})

	if filter.BenchmarkID != "" {
		q = q.Where("benchmark_id = ?", filter.BenchmarkID)
	}

	if filter.AgentID != "" {
		q = q.Where("agent_id = ?", filter.AgentID)
	}

	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	if filter.StartedBefore != nil {
		q = q.Where("started_at < ?", *filter.StartedBefore)
	}

	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var runs []Run
	if err := q.Order("created_at DESC").Find(&runs).Error; err != nil {
		return nil, wrap("listing runs", err)
	}

	return runs, nil
}

// --- Schedule CRUD ---

func (s *store) CreateSchedule(
	ctx context.Context, schedule *ScheduleConfig,
) error {
	ensureID(&schedule.ID)

	if err := s.db.WithContext(ctx).Create(schedule).Error; err != nil {
		return wrap("creating schedule", err)
	}

	return nil
}

func (s *store) GetSchedule(
	ctx context.Context, id string,
) (*ScheduleConfig, error) {
	var schedule ScheduleConfig
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&schedule).Error; err != nil {
		return nil, wrap("getting schedule", err)
	}

	return &schedule, nil
}

func (s *store) UpdateScheduleFields(
	ctx context.Context, id string, fields map[string]any,
) error {
	result := s.db.WithContext(ctx).
		Model(&ScheduleConfig{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return wrap("updating schedule", result.Error)
	}

	if result.RowsAffected == 0 {
		return wrap("updating schedule", ErrNotFound)
	}

	return nil
}

func (s *store) DeleteSchedule(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&ScheduleConfig{})
	if result.Error != nil {
		return wrap("deleting schedule", result.Error)
	}

	if result.RowsAffected == 0 {
		return wrap("deleting schedule", ErrNotFound)
	}

	return nil
}

func (s *store) ListSchedules(
	ctx context.Context, filter ScheduleFilter,
) ([]ScheduleConfig, error) {
	q := s.db.WithContext(ctx).Model(&ScheduleConfig{})

	if filter.BenchmarkID != "" {
		q = q.Where("benchmark_id = ?", filter.BenchmarkID)
	}

	if filter.AgentID != "" {
		q = q.Where("agent_id = ?", filter.AgentID)
	}

	if filter.EnabledOnly {
		q = q.Where("enabled = ?", true)
	}

	var schedules []ScheduleConfig
	if err := q.Order("created_at ASC").Find(&schedules).Error; err != nil {
		return nil, wrap("listing schedules", err)
	}

	return schedules, nil
}

func (s *store) ListDueSchedules(
	ctx context.Context, now time.Time,
) ([]ScheduleConfig, error) {
	var schedules []ScheduleConfig
	if err := s.db.WithContext(ctx).
		Where("enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now).
		Order("next_run_at ASC").
		Find(&schedules).Error; err != nil {
		return nil, wrap("listing due schedules", err)
	}

	return schedules, nil
}

// --- Alert CRUD ---

func (s *store) CreateAlert(ctx context.Context, alert *AlertConfig) error {
	ensureID(&alert.ID)

	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return wrap("creating alert", err)
	}

	return nil
}

func (s *store) GetAlert(
	ctx context.Context, id string,
) (*AlertConfig, error) {
	var alert AlertConfig
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&alert).Error; err != nil {
		return nil, wrap("getting alert", err)
	}

	return &alert, nil
}

func (s *store) UpdateAlert(ctx context.Context, alert *AlertConfig) error {
	result := s.db.WithContext(ctx).
		Model(&AlertConfig{}).
		Where("id = ?", alert.ID).
		Select("*").
		Omit("id", "created_at", "last_triggered_at").
		Updates(alert)
	if result.Error != nil {
		return wrap("updating alert", result.Error)
	}

	if result.RowsAffected == 0 {
		return wrap("updating alert", ErrNotFound)
	}

	return nil
}

func (s *store) UpdateAlertFields(
	ctx context.Context, id string, fields map[string]any,
) error {
	result := s.db.WithContext(ctx).
		Model(&AlertConfig{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return wrap("updating alert", result.Error)
	}

	if result.RowsAffected == 0 {
		return wrap("updating alert", ErrNotFound)
	}

	return nil
}

func (s *store) DeleteAlert(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&AlertConfig{})
	if result.Error != nil {
		return wrap("deleting alert", result.Error)
	}

	if result.RowsAffected == 0 {
		return wrap("deleting alert", ErrNotFound)
	}

	return nil
}

func (s *store) ListAlerts(
	ctx context.Context, filter AlertFilter,
) ([]AlertConfig, error) {
	q := s.db.WithContext(ctx).Model(&AlertConfig{})

	if filter.BenchmarkID != "" {
		q = q.Where("benchmark_id = ?", filter.BenchmarkID)
	}

	if filter.KPIName != "" {
		q = q.Where("kpi_name = ?", filter.KPIName)
	}

	if filter.EnabledOnly {
		q = q.Where("enabled = ?", true)
	}

	var alerts []AlertConfig
	if err := q.Order("created_at ASC").Find(&alerts).Error; err != nil {
		return nil, wrap("listing alerts", err)
	}

	return alerts, nil
}

// --- KPI history ---

func (s *store) CreateKPIHistory(
	ctx context.Context, entry *KPIHistory,
) error {
	ensureID(&entry.ID)

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return wrap("creating kpi history", err)
	}

	return nil
}

func (s *store) ListKPIHistory(
	ctx context.Context, filter KPIHistoryFilter,
) ([]KPIHistory, error) {
	q := s.db.WithContext(ctx).Model(&KPIHistory{})

	if filter.RunID != "" {
		q = q.Where("run_id = ?", filter.RunID)
	}

	if filter.BenchmarkID != "" {
		q = q.Where("benchmark_id = ?", filter.BenchmarkID)
	}

	if filter.AgentID != "" {
		q = q.Where("agent_id = ?", filter.AgentID)
	}

	if filter.KPIName != "" {
		q = q.Where("kpi_name = ?", filter.KPIName)
	}

	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var entries []KPIHistory
	if err := q.Order("recorded_at DESC").Find(&entries).Error; err != nil {
		return nil, wrap("listing kpi history", err)
	}

	return entries, nil
}

// --- Metric snapshots ---

func (s *store) CreateSnapshots(
	ctx context.Context, snapshots []MetricSnapshot,
) error {
	if len(snapshots) == 0 {
		return nil
	}

	for i := range snapshots {
		ensureID(&snapshots[i].ID)
	}

	if err := s.db.WithContext(ctx).Create(&snapshots).Error; err != nil {
		return wrap("creating snapshots", err)
	}

	return nil
}

func (s *store) ListSnapshots(
	ctx context.Context, runID string,
) ([]MetricSnapshot, error) {
	var snapshots []MetricSnapshot
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("recorded_at ASC").
		Find(&snapshots).Error; err != nil {
		return nil, wrap("listing snapshots", err)
	}

	return snapshots, nil
}
