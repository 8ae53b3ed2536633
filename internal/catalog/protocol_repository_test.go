package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAndGetRoundTripsCaseInsensitively(t *testing.T) {
	repo := NewInMemoryProtocolRepository()
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &ExamProtocol{
		BodyPart: "chest", Projection: "pa", DeviceModel: "hnvue-100",
		KVp: 110, MA: 320, MS: 8,
	}))

	got, err := repo.Get(ctx, "CHEST", "PA", "hnvue-100")
	require.NoError(t, err)
	assert.Equal(t, 110.0, got.KVp)
	assert.True(t, got.IsActive)
}

func TestGetMissingProtocolReturnsError(t *testing.T) {
	repo := NewInMemoryProtocolRepository()
	_, err := repo.Get(context.Background(), "chest", "pa", "hnvue-100")
	assert.Error(t, err)
}

func TestDeactivateHidesProtocolFromGetButKeepsInList(t *testing.T) {
	repo := NewInMemoryProtocolRepository()
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &ExamProtocol{BodyPart: "hand", Projection: "ap", DeviceModel: "hnvue-100"}))
	require.NoError(t, repo.Deactivate(ctx, "hand", "ap", "hnvue-100"))

	_, err := repo.Get(ctx, "hand", "ap", "hnvue-100")
	assert.Error(t, err)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsActive)
}

func TestUpsertRejectsMissingCompositeKeyFields(t *testing.T) {
	repo := NewInMemoryProtocolRepository()
	err := repo.Upsert(context.Background(), &ExamProtocol{BodyPart: "chest"})
	assert.Error(t, err)
}

func TestUpsertPreservesCreatedAtAcrossUpdate(t *testing.T) {
	repo := NewInMemoryProtocolRepository()
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &ExamProtocol{BodyPart: "skull", Projection: "lateral", DeviceModel: "hnvue-100", KVp: 75}))
	first, err := repo.Get(ctx, "skull", "lateral", "hnvue-100")
	require.NoError(t, err)

	require.NoError(t, repo.Upsert(ctx, &ExamProtocol{BodyPart: "skull", Projection: "lateral", DeviceModel: "hnvue-100", KVp: 80}))
	second, err := repo.Get(ctx, "skull", "lateral", "hnvue-100")
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, 80.0, second.KVp)
}
