package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(v string) *string        { return &v }
func timePtr(v time.Time) *time.Time { return &v }

func TestUpsertTokenTwiceKeepsOneRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &TokenRecord{
		AccountEmail: "user@example.com",
		ServiceType:  "gmail",
		AccessToken:  "token-1",
		RefreshToken: strPtr("refresh-1"),
		TokenType:    "Bearer",
		Active:       true,
	}
	require.NoError(t, s.UpsertToken(ctx, first))
	require.NotEmpty(t, first.ID)

	second := &TokenRecord{
		AccountEmail: "user@example.com",
		ServiceType:  "gmail",
		AccessToken:  "token-2",
		TokenType:    "Bearer",
		ProfileName:  strPtr("Test User"),
		Active:       true,
	}
	require.NoError(t, s.UpsertToken(ctx, second))

	// Same key updates in place rather than inserting a duplicate.
	assert.Equal(t, first.ID, second.ID)
	recs, err := s.ListTokens(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "token-2", recs[0].AccessToken)
	require.NotNil(t, recs[0].ProfileName)
	assert.Equal(t, "Test User", *recs[0].ProfileName)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestUpsertTokenDistinctServicesGetOwnRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertToken(ctx, &TokenRecord{
		AccountEmail: "user@example.com", ServiceType: "gmail",
		AccessToken: "a", TokenType: "Bearer", Active: true,
	}))
	require.NoError(t, s.UpsertToken(ctx, &TokenRecord{
		AccountEmail: "user@example.com", ServiceType: "drive",
		AccessToken: "b", TokenType: "Bearer", Active: true,
	}))

	recs, err := s.ListTokens(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestGetTokenRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)

	require.NoError(t, s.UpsertToken(ctx, &TokenRecord{
		AccountEmail: "user@example.com",
		ServiceType:  "gmail",
		AccessToken:  "token",
		RefreshToken: strPtr("refresh"),
		TokenType:    "Bearer",
		Scope:        strPtr("email profile"),
		ExpiresAt:    timePtr(expires),
		Active:       true,
	}))

	rec, err := s.GetToken(ctx, "user@example.com", "gmail")
	require.NoError(t, err)
	assert.Equal(t, "token", rec.AccessToken)
	require.NotNil(t, rec.RefreshToken)
	assert.Equal(t, "refresh", *rec.RefreshToken)
	require.NotNil(t, rec.ExpiresAt)
	assert.True(t, rec.ExpiresAt.Equal(expires))
	assert.True(t, rec.Active)
}

func TestGetTokenNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetToken(context.Background(), "nobody@example.com", "gmail")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestInsertAndListCycles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		start := base.Add(time.Duration(i) * 20 * time.Minute)
		end := start.Add(time.Minute)
		next := end.Add(20 * time.Minute)
		rec := &core.CycleRecord{
			Seq:       i + 1,
			StartedAt: start,
			EndedAt:   end,
			Succeeded: i != 1,
			NextRunAt: &next,
		}
		if i == 1 {
			rec.Succeeded = false
			rec.Error = "trigger missing"
		}
		require.NoError(t, s.InsertCycle(ctx, rec))
	}

	recs, err := s.ListCycles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	// Newest first.
	assert.Equal(t, 3, recs[0].Seq)
	assert.Equal(t, 1, recs[2].Seq)
	assert.False(t, recs[1].Succeeded)
	assert.Equal(t, "trigger missing", recs[1].Error)
	require.NotNil(t, recs[0].NextRunAt)
}

func TestListCyclesHonorsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.InsertCycle(ctx, &core.CycleRecord{
			Seq:       i + 1,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Succeeded: true,
		}))
	}

	recs, err := s.ListCycles(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, 5, recs[0].Seq)
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := Open(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, s1.UpsertToken(ctx, &TokenRecord{
		AccountEmail: "user@example.com", ServiceType: "gmail",
		AccessToken: "token", TokenType: "Bearer", Active: true,
	}))
	require.NoError(t, s1.Close())

	// Reopening re-runs migrations without clobbering data.
	s2, err := Open(ctx, dir)
	require.NoError(t, err)
	defer s2.Close()
	rec, err := s2.GetToken(ctx, "user@example.com", "gmail")
	require.NoError(t, err)
	assert.Equal(t, "token", rec.AccessToken)
}
