package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/wardline/internal/domain"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "wardline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.InsertMessage(ctx, &domain.Message{
			ID:                   domain.ID(id),
			SenderID:             "u-1",
			ReceiverDepartmentID: "icu",
			Text:                 "msg " + id,
			InstitutionID:        "inst",
			CreatedAt:            domain.At(base.Add(time.Duration(i) * time.Hour)),
		}))
	}
	require.NoError(t, s.InsertMessage(ctx, &domain.Message{
		ID: "x", ReceiverDepartmentID: "er", Text: "elsewhere", CreatedAt: domain.At(base),
	}))

	msgs, err := s.ListMessages(ctx, "icu", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, domain.ID("c"), msgs[0].ID)
	require.Equal(t, domain.ID("a"), msgs[2].ID)
	require.Equal(t, "inst", msgs[0].InstitutionID.String())
	require.True(t, base.Add(2*time.Hour).Equal(msgs[0].CreatedAt.Time))

	limited, err := s.ListMessages(ctx, "icu", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)

	none, err := s.ListMessages(ctx, "pharmacy", 10)
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)
}

func TestInsertIsIdempotentOnID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := &domain.Message{ID: "dup", ReceiverDepartmentID: "icu", Text: "once", CreatedAt: domain.At(time.Now())}

	require.NoError(t, s.InsertMessage(ctx, m))
	require.NoError(t, s.InsertMessage(ctx, m))

	msgs, err := s.ListMessages(ctx, "icu", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestInsertRequiresIDAndTime(t *testing.T) {
	s := newTestStore(t)
	require.Error(t, s.InsertMessage(context.Background(), &domain.Message{ReceiverDepartmentID: "icu"}))
}

func TestDeleteOlderThan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.InsertMessage(ctx, &domain.Message{ID: "old", ReceiverDepartmentID: "icu", CreatedAt: domain.At(now.Add(-48 * time.Hour))}))
	require.NoError(t, s.InsertMessage(ctx, &domain.Message{ID: "new", ReceiverDepartmentID: "icu", CreatedAt: domain.At(now)}))

	deleted, err := s.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	msgs, err := s.ListMessages(ctx, "icu", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, domain.ID("new"), msgs[0].ID)
}

func TestWithConflictRetry(t *testing.T) {
	calls := 0
	err := withConflictRetry(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	err = withConflictRetry(context.Background(), "op", func() error {
		calls++
		return errors.New("no such table")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestFileDatabaseUsesWAL(t *testing.T) {
	s := newTestStore(t)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, s.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	require.Equal(t, 5000, timeout)
}

func TestInMemoryDatabaseKeepsSchemaAcrossCalls(t *testing.T) {
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.InsertMessage(ctx, &domain.Message{
			ID: domain.ID(id), ReceiverDepartmentID: "icu", Text: id,
			CreatedAt: domain.At(time.Now()),
		}))
	}
	msgs, err := s.ListMessages(ctx, "icu", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.NoError(t, s.Ping(ctx))
}
