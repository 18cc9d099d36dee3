package run

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitecheck/internal/audit/models"
	id "sitecheck/pkg/domain"
	"sitecheck/pkg/platform/sentinel"
)

func newAnonRun(t *testing.T, token string) *models.AuditRun {
	t.Helper()
	run, err := models.NewAuditRun(models.Owner{SessionToken: token}, "example.com", models.TierFree)
	require.NoError(t, err)
	return run
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	run := newAnonRun(t, "tok-1")
	require.NoError(t, store.Create(ctx, run))

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, models.RunPending, got.Status)

	_, err = store.Get(ctx, id.NewRunID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryStore_FinalizeIsSingleWriter(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	run := newAnonRun(t, "tok-1")
	require.NoError(t, store.Create(ctx, run))

	now := run.CreatedAt.Add(1)
	require.NoError(t, store.Finalize(ctx, run.ID, models.RunCompleted, 2, &models.ResultPayload{AuditedURLs: []string{"https://example.com"}}, now))

	// Second finalize attempt must be rejected, preserving monotonic status.
	err := store.Finalize(ctx, run.ID, models.RunFailed, 0, &models.ResultPayload{Error: "late"}, now)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.Equal(t, 2, got.PagesScanned)

	// An unknown id is a distinct failure from a terminal run.
	err = store.Finalize(ctx, id.NewRunID(), models.RunFailed, 0, &models.ResultPayload{Error: "late"}, now)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryStore_ClaimRaceSafety(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	run := newAnonRun(t, "tok-race")
	require.NoError(t, store.Create(ctx, run))

	userA := id.UserID(uuid.New())
	userB := id.UserID(uuid.New())

	var wg sync.WaitGroup
	results := make([]error, 2)
	winners := make([]*models.AuditRun, 2)
	for i, uid := range []id.UserID{userA, userB} {
		wg.Add(1)
		go func(i int, uid id.UserID) {
			defer wg.Done()
			winners[i], results[i] = store.Claim(ctx, "tok-race", uid)
		}(i, uid)
	}
	wg.Wait()

	// Exactly one claimant wins; the other sees not-found.
	if results[0] == nil {
		assert.ErrorIs(t, results[1], sentinel.ErrNotFound)
		assert.Equal(t, userA, winners[0].UserID)
	} else {
		assert.ErrorIs(t, results[0], sentinel.ErrNotFound)
		require.NoError(t, results[1])
		assert.Equal(t, userB, winners[1].UserID)
	}

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, got.UserID.IsNil())
	assert.Empty(t, got.SessionToken)
	assert.False(t, got.IsPreview)
}

func TestMemoryStore_DomainsForUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	uid := id.UserID(uuid.New())

	for _, domain := range []string{"example.com", "example.com", "other.com"} {
		run, err := models.NewAuditRun(models.Owner{UserID: uid}, domain, models.TierPaid)
		require.NoError(t, err)
		require.NoError(t, store.Create(ctx, run))
	}

	domains, err := store.DomainsForUser(ctx, uid)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"example.com", "other.com"}, domains)
}

func TestMemoryStore_DeleteByDomain(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	uid := id.UserID(uuid.New())

	run, err := models.NewAuditRun(models.Owner{UserID: uid}, "example.com", models.TierPaid)
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, run))

	require.NoError(t, store.DeleteByDomain(ctx, uid, "example.com"))

	_, err = store.Get(ctx, run.ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
