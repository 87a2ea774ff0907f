// Package record persists request metadata and exported metric snapshots in
// a local SQLite database. Message bodies never touch disk.
package record

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const dbFileName = "thinkgate.db"

// Request outcome labels.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusCanceled = "canceled"
)

// RequestRecord is the GORM model for one proxied request. It deliberately
// carries routing metadata only.
type RequestRecord struct {
	ID            uint      `gorm:"primaryKey;autoIncrement;column:id" json:"-"`
	UUID          string    `gorm:"column:uuid;uniqueIndex:idx_uuid;not null" json:"uuid"`
	ProfileID     string    `gorm:"column:profile_id;index:idx_profile;not null" json:"profile_id"`
	ProfileName   string    `gorm:"column:profile_name;not null" json:"profile_name"`
	Model         string    `gorm:"column:model;index:idx_model;not null" json:"model"`
	APIFormat     string    `gorm:"column:api_format;not null" json:"api_format"`
	Method        string    `gorm:"column:method" json:"method"`
	Path          string    `gorm:"column:path" json:"path"`
	ClientIP      string    `gorm:"column:client_ip" json:"client_ip,omitempty"`
	Timestamp     time.Time `gorm:"column:timestamp;index:idx_timestamp;not null" json:"timestamp"`
	Streamed      bool      `gorm:"column:streamed;default:0" json:"streamed"`
	Status        string    `gorm:"column:status;index;not null" json:"status"`
	ErrorType     string    `gorm:"column:error_type" json:"error_type,omitempty"`
	HTTPStatus    int       `gorm:"column:http_status" json:"status_code"`
	LatencyMs     int       `gorm:"column:latency_ms" json:"duration_ms"`
	ContentBytes  int       `gorm:"column:content_bytes" json:"content_bytes"`
	ThinkingBytes int       `gorm:"column:thinking_bytes" json:"thinking_bytes"`
}

// TableName specifies the table name for GORM.
func (RequestRecord) TableName() string {
	return "request_records"
}

// MetricPoint is one exported cumulative metric value, keyed by metric name
// and encoded attribute set.
type MetricPoint struct {
	ID        uint      `gorm:"primaryKey;autoIncrement;column:id"`
	Name      string    `gorm:"column:name;uniqueIndex:idx_name_attrs;not null"`
	Attrs     string    `gorm:"column:attrs;uniqueIndex:idx_name_attrs;not null"`
	Value     float64   `gorm:"column:value;not null"`
	Count     int64     `gorm:"column:count"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM.
func (MetricPoint) TableName() string {
	return "metric_points"
}

// Store persists records in SQLite using GORM.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// NewStore opens (or creates) the database under baseDir and migrates the
// schema.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create record store directory: %w", err)
	}

	dsn := filepath.Join(baseDir, dbFileName) + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=1"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open record database: %w", err)
	}

	if err := db.AutoMigrate(&RequestRecord{}, &MetricPoint{}); err != nil {
		return nil, fmt.Errorf("failed to migrate record database: %w", err)
	}

	return &Store{db: db}, nil
}

// Record persists a single request record.
func (s *Store) Record(rec *RequestRecord) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.UUID == "" {
		rec.UUID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.Status == "" {
		rec.Status = StatusSuccess
	}
	return s.db.Create(rec).Error
}

// Query filters a record listing. Zero values mean "no filter".
type Query struct {
	Limit   int
	Offset  int
	Profile string
	Model   string
	Status  string
	Since   time.Time
}

const defaultListLimit = 100

// List returns matching records newest first plus the total match count.
func (s *Store) List(q Query) ([]RequestRecord, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.db.Model(&RequestRecord{})
	if q.Profile != "" {
		db = db.Where("profile_id = ?", q.Profile)
	}
	if q.Model != "" {
		db = db.Where("model = ?", q.Model)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if !q.Since.IsZero() {
		db = db.Where("timestamp >= ?", q.Since)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	var records []RequestRecord
	err := db.Order("timestamp DESC, id DESC").
		Limit(limit).
		Offset(q.Offset).
		Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}
	return records, total, nil
}

// ProfileSummary aggregates request outcomes per profile.
type ProfileSummary struct {
	ProfileID     string  `json:"profile_id"`
	ProfileName   string  `json:"profile_name"`
	RequestCount  int64   `json:"request_count"`
	ErrorCount    int64   `json:"error_count"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	ThinkingBytes int64   `json:"thinking_bytes"`
}

// Summary aggregates records since the given time, grouped by profile.
func (s *Store) Summary(since time.Time) ([]ProfileSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.db.Model(&RequestRecord{})
	if !since.IsZero() {
		db = db.Where("timestamp >= ?", since)
	}

	var summaries []ProfileSummary
	err := db.Select(`profile_id,
		profile_name,
		COUNT(*) as request_count,
		SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) as error_count,
		AVG(latency_ms) as avg_latency_ms,
		SUM(thinking_bytes) as thinking_bytes`, StatusError).
		Group("profile_id, profile_name").
		Order("request_count DESC").
		Scan(&summaries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate records: %w", err)
	}
	return summaries, nil
}

// SaveMetricPoints upserts cumulative metric values by name and attribute
// set.
func (s *Store) SaveMetricPoints(points []MetricPoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for i := range points {
		points[i].UpdatedAt = now
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}, {Name: "attrs"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "count", "updated_at"}),
	}).Create(&points).Error
}

// MetricPoints returns every stored metric point, most recently updated
// first.
func (s *Store) MetricPoints() ([]MetricPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var points []MetricPoint
	if err := s.db.Order("updated_at DESC, name ASC").Find(&points).Error; err != nil {
		return nil, fmt.Errorf("failed to list metric points: %w", err)
	}
	return points, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
