package platform

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeHealth(t *testing.T) {
	tests := []struct {
		current, proposed, want HealthState
	}{
		{HealthOk, HealthOk, HealthOk},
		{HealthOk, HealthWarning, HealthWarning},
		{HealthOk, HealthError, HealthError},
		{HealthWarning, HealthOk, HealthWarning},
		{HealthError, HealthWarning, HealthError},
		{HealthInvalid, HealthOk, HealthOk},
		{HealthUnknown, HealthWarning, HealthWarning},
		{HealthWarning, HealthUnknown, HealthWarning},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MergeHealth(tt.current, tt.proposed),
			"merge(%v, %v)", tt.current, tt.proposed)
	}
}

func TestHealthStateString(t *testing.T) {
	assert.Equal(t, "Ok", HealthOk.String())
	assert.Equal(t, "Warning", HealthWarning.String())
	assert.Equal(t, "Error", HealthError.String())
	assert.Equal(t, "Unknown", HealthUnknown.String())
	assert.Equal(t, "Invalid", HealthInvalid.String())
}

func TestKeyForPartition(t *testing.T) {
	id := uuid.New()

	key, err := KeyForPartition(&Partition{ID: id, Kind: PartitionKindSingleton})
	require.NoError(t, err)
	assert.Equal(t, KeyNone, key.Kind)

	key, err = KeyForPartition(&Partition{ID: id, Kind: PartitionKindInt64Range, LowKey: 42})
	require.NoError(t, err)
	assert.Equal(t, KeyInt64, key.Kind)
	assert.Equal(t, int64(42), key.Int64)

	key, err = KeyForPartition(&Partition{ID: id, Kind: PartitionKindNamed, Name: "shard-7"})
	require.NoError(t, err)
	assert.Equal(t, KeyString, key.Kind)
	assert.Equal(t, "shard-7", key.String)

	_, err = KeyForPartition(&Partition{ID: id, Kind: PartitionKindInvalid})
	assert.Error(t, err)
}
