package settings

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aidawidget/aidawidget/internal/audit"
	"github.com/aidawidget/aidawidget/internal/auth"
	"github.com/aidawidget/aidawidget/internal/cache"
	"github.com/aidawidget/aidawidget/internal/db"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAuditor struct {
	events []*audit.AuditEvent
}

func (a *recordingAuditor) LogEvent(_ context.Context, e *audit.AuditEvent) error {
	a.events = append(a.events, e)
	return nil
}

// failingCache fails deletes so invalidation errors can be observed
type failingCache struct {
	cache.Cache
}

func (failingCache) Delete(context.Context, string) error {
	return errors.New("cache unavailable")
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"), logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func setupManager(t *testing.T) (*Manager, *cache.MemoryCache) {
	t.Helper()
	c := cache.NewMemoryCache()
	t.Cleanup(func() { c.Close() })
	return NewManager(setupTestDB(t), c, logrus.New()), c
}

func intPtr(v int) *int           { return &v }
func boolPtr(v bool) *bool        { return &v }
func strPtr(v string) *string     { return &v }
func posPtr(v Position) *Position { return &v }

func TestRead_NotConfigured(t *testing.T) {
	m, _ := setupManager(t)

	_, err := m.Read(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestEnsureDefaults(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	created, err := m.EnsureDefaults(ctx)
	require.NoError(t, err)
	assert.True(t, created)

	got, err := m.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *got)

	created, err = m.EnsureDefaults(ctx)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEnsureDefaults_KeepsExistingRecord(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	_, err := m.Write(ctx, Update{ConnectionTimeout: intPtr(60)}, auth.Administrator())
	require.NoError(t, err)

	created, err := m.EnsureDefaults(ctx)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := m.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, got.ConnectionTimeout)
}

func TestWrite_PartialUpdate(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()
	_, err := m.EnsureDefaults(ctx)
	require.NoError(t, err)

	saved, err := m.Write(ctx, Update{
		APIServerURL: strPtr("https://aida.example.com"),
		Position:     posPtr("Top Left"),
	}, auth.Administrator())
	require.NoError(t, err)
	assert.Equal(t, "https://aida.example.com", saved.APIServerURL)
	assert.Equal(t, PositionTopLeft, saved.Position)

	got, err := m.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, *saved, *got)
	assert.Equal(t, Defaults().WelcomeMessage, got.WelcomeMessage)
}

func TestWrite_CreatesRecordFromDefaults(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	saved, err := m.Write(ctx, Update{AutoOpen: boolPtr(true)}, auth.Administrator())
	require.NoError(t, err)
	assert.True(t, saved.AutoOpen)
	assert.Equal(t, 30, saved.ConnectionTimeout)

	var modifiedBy string
	require.NoError(t, m.db.QueryRow("SELECT modified_by FROM widget_settings WHERE id = 1").Scan(&modifiedBy))
	assert.Equal(t, auth.AdminUser, modifiedBy)
}

func TestWrite_ValidationLeavesStateUntouched(t *testing.T) {
	m, c := setupManager(t)
	ctx := context.Background()
	_, err := m.EnsureDefaults(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, CacheKey, []byte(`{"connection_timeout":30}`), DefaultCacheTTL))

	_, err = m.Write(ctx, Update{ConnectionTimeout: intPtr(3)}, auth.Administrator())

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "connection_timeout", verr.Field)

	got, err := m.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, got.ConnectionTimeout)

	_, found, err := c.Get(ctx, CacheKey)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestWrite_InvalidatesCache(t *testing.T) {
	m, c := setupManager(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, CacheKey, []byte(`{}`), DefaultCacheTTL))

	_, err := m.Write(ctx, Update{MaxRetries: intPtr(5)}, auth.Administrator())
	require.NoError(t, err)

	_, found, err := c.Get(ctx, CacheKey)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWrite_InvalidationFailure(t *testing.T) {
	mem := cache.NewMemoryCache()
	defer mem.Close()
	m := NewManager(setupTestDB(t), failingCache{mem}, logrus.New())

	_, err := m.Write(context.Background(), Update{MaxRetries: intPtr(1)}, auth.Administrator())
	assert.Error(t, err)
}

func TestWrite_AuditsOnlyInDebugMode(t *testing.T) {
	m, _ := setupManager(t)
	auditor := &recordingAuditor{}
	m.SetAuditor(auditor)
	ctx := auth.WithClientIP(context.Background(), "10.0.0.7")

	_, err := m.Write(ctx, Update{MaxRetries: intPtr(2)}, auth.Administrator())
	require.NoError(t, err)
	assert.Empty(t, auditor.events)

	_, err = m.Write(ctx, Update{DebugMode: boolPtr(true)}, auth.Administrator())
	require.NoError(t, err)
	require.Len(t, auditor.events, 1)

	event := auditor.events[0]
	assert.Equal(t, audit.EventTypeSettingsUpdated, event.EventType)
	assert.Equal(t, auth.AdminUser, event.UserID)
	assert.Equal(t, "10.0.0.7", event.IPAddress)
}

func TestWrite_EmptyUpdateIsNoop(t *testing.T) {
	m, c := setupManager(t)
	ctx := context.Background()
	saved, err := m.Write(ctx, Update{DebugMode: boolPtr(true)}, auth.Administrator())
	require.NoError(t, err)

	auditor := &recordingAuditor{}
	m.SetAuditor(auditor)
	require.NoError(t, c.Set(ctx, CacheKey, []byte(`{}`), DefaultCacheTTL))

	got, err := m.Write(ctx, Update{}, auth.Administrator())
	require.NoError(t, err)
	assert.Equal(t, saved, got)
	assert.Empty(t, auditor.events)

	_, found, err := c.Get(ctx, CacheKey)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestWrite_EmptyUpdateCreatesMissingRecord(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	got, err := m.Write(ctx, Update{}, auth.Administrator())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *got)

	stored, err := m.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *stored)
}

func TestSetDefaults(t *testing.T) {
	m, _ := setupManager(t)
	d := Defaults()
	d.APIServerURL = "http://aida.internal:8080"
	m.SetDefaults(d)

	_, err := m.EnsureDefaults(context.Background())
	require.NoError(t, err)

	got, err := m.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://aida.internal:8080", got.APIServerURL)
}

func TestResetDefaults(t *testing.T) {
	m, c := setupManager(t)
	ctx := context.Background()

	_, err := m.Write(ctx, Update{WelcomeMessage: strPtr("custom")}, auth.Administrator())
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, CacheKey, []byte(`{}`), time.Minute))

	require.NoError(t, m.ResetDefaults(ctx, auth.Administrator()))

	got, err := m.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultWelcomeMessage, got.WelcomeMessage)

	_, found, err := c.Get(ctx, CacheKey)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWrite_ConcurrentPartialUpdatesBothApply(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		require.NoError(t, m.ResetDefaults(ctx, auth.Administrator()))

		start := make(chan struct{})
		var wg sync.WaitGroup
		errs := make([]error, 2)
		updates := []Update{
			{ConnectionTimeout: intPtr(60)},
			{MaxRetries: intPtr(7)},
		}
		for i, upd := range updates {
			wg.Add(1)
			go func(i int, upd Update) {
				defer wg.Done()
				<-start
				_, errs[i] = m.Write(ctx, upd, auth.Administrator())
			}(i, upd)
		}
		close(start)
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		got, err := m.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, 60, got.ConnectionTimeout, "round %d", round)
		assert.Equal(t, 7, got.MaxRetries, "round %d", round)
	}
}
