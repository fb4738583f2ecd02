package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("students")

	_, err := s.Insert(ctx, "students", Row{"tenant_id": "t1", "name": "A", "age": 10})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "students", Row{"tenant_id": "t1", "name": "B", "age": 12})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "students", Row{"tenant_id": "t2", "name": "C", "age": 11})
	require.NoError(t, err)

	rows, err := s.Select(ctx, From("students").Where("tenant_id", "t1").Order("age", true))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "B", rows[0]["name"])

	rows, err = s.Select(ctx, From("students").WhereOp("age", OpGte, 11))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	n, err := s.Update(ctx, From("students").Where("name", "A"), Row{"age": 20})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Delete(ctx, From("students").Where("tenant_id", "t2"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, int64(5), s.Writes())
}

func TestMemoryStore_UnknownResource(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Select(context.Background(), From("nope"))
	assert.ErrorIs(t, err, ErrUnknownResource)
}

func TestMemoryStore_Unique(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("dedup").WithUnique("dedup", "tenant_id", "fingerprint")

	_, err := s.Insert(ctx, "dedup", Row{"tenant_id": "t1", "fingerprint": "x"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "dedup", Row{"tenant_id": "t1", "fingerprint": "x"})
	assert.ErrorIs(t, err, ErrConflict)
	_, err = s.Insert(ctx, "dedup", Row{"tenant_id": "t2", "fingerprint": "x"})
	assert.NoError(t, err)
}

func TestQuery_WhereDoesNotAlias(t *testing.T) {
	base := From("students").Where("a", 1)
	q1 := base.Where("b", 2)
	q2 := base.Where("c", 3)
	assert.Len(t, base.Filters, 1)
	assert.True(t, q1.HasEq("b", 2))
	assert.False(t, q2.HasEq("b", 2))
}
