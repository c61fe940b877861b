package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
)

// ErrStatusNotFound is returned for unknown or expired runs
var ErrStatusNotFound = errors.New("import run not found")

// DefaultStatusTTL is how long finished run status is kept
const DefaultStatusTTL = 24 * time.Hour

// StatusStore keeps the externally visible state of import runs
type StatusStore interface {
	SaveStatus(ctx context.Context, status models.ImportStatus) error
	GetStatus(ctx context.Context, runID string) (models.ImportStatus, error)
	SaveReport(ctx context.Context, runID string, report []byte) error
	GetReport(ctx context.Context, runID string) ([]byte, error)
}

// RedisStatusStore keeps run status as JSON under import:run:<id>
type RedisStatusStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisClient connects and pings
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisStatusStore creates a store. A zero ttl uses DefaultStatusTTL.
func NewRedisStatusStore(client redis.Cmdable, ttl time.Duration) *RedisStatusStore {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &RedisStatusStore{client: client, ttl: ttl}
}

func statusKey(runID string) string {
	return fmt.Sprintf("import:run:%s", runID)
}

func reportKey(runID string) string {
	return fmt.Sprintf("import:run:%s:report", runID)
}

// SaveStatus overwrites the run status and refreshes its TTL
func (r *RedisStatusStore) SaveStatus(ctx context.Context, status models.ImportStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal import status: %w", err)
	}
	if err := r.client.Set(ctx, statusKey(status.RunID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save import status: %w", err)
	}
	return nil
}

// GetStatus reads the run status
func (r *RedisStatusStore) GetStatus(ctx context.Context, runID string) (models.ImportStatus, error) {
	data, err := r.client.Get(ctx, statusKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ImportStatus{}, ErrStatusNotFound
	}
	if err != nil {
		return models.ImportStatus{}, fmt.Errorf("failed to get import status: %w", err)
	}

	var status models.ImportStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return models.ImportStatus{}, fmt.Errorf("failed to unmarshal import status: %w", err)
	}
	return status, nil
}

// SaveReport stores the CSV error report next to the status
func (r *RedisStatusStore) SaveReport(ctx context.Context, runID string, report []byte) error {
	if err := r.client.Set(ctx, reportKey(runID), report, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save import report: %w", err)
	}
	return nil
}

// GetReport reads the CSV error report
func (r *RedisStatusStore) GetReport(ctx context.Context, runID string) ([]byte, error) {
	data, err := r.client.Get(ctx, reportKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStatusNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import report: %w", err)
	}
	return data, nil
}

// MemoryStatusStore is a process-local StatusStore
type MemoryStatusStore struct {
	mu       sync.RWMutex
	statuses map[string]models.ImportStatus
	reports  map[string][]byte
}

// NewMemoryStatusStore creates an empty store
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{
		statuses: make(map[string]models.ImportStatus),
		reports:  make(map[string][]byte),
	}
}

// SaveStatus overwrites the run status
func (m *MemoryStatusStore) SaveStatus(_ context.Context, status models.ImportStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.RunID] = status
	return nil
}

// GetStatus reads the run status
func (m *MemoryStatusStore) GetStatus(_ context.Context, runID string) (models.ImportStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[runID]
	if !ok {
		return models.ImportStatus{}, ErrStatusNotFound
	}
	return status, nil
}

// SaveReport stores a copy of the report
func (m *MemoryStatusStore) SaveReport(_ context.Context, runID string, report []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[runID] = append([]byte(nil), report...)
	return nil
}

// GetReport reads the report
func (m *MemoryStatusStore) GetReport(_ context.Context, runID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	report, ok := m.reports[runID]
	if !ok {
		return nil, ErrStatusNotFound
	}
	return append([]byte(nil), report...), nil
}
