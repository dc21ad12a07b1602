// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpoolPreservesInsertionOrder(t *testing.T) {
	s, err := OpenSpool(t.TempDir())
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	require.NoError(t, s.Put([]byte("first")))
	require.NoError(t, s.Put([]byte("second")))
	require.NoError(t, s.Put([]byte("third")))

	entries, err := s.Oldest(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "first", string(entries[0].Body))
	assert.Equal(t, "second", string(entries[1].Body))
	assert.Equal(t, "third", string(entries[2].Body))
}

func TestSpoolOldestHonorsLimit(t *testing.T) {
	s, err := OpenSpool(t.TempDir())
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put([]byte{byte(i)}))
	}
	entries, err := s.Oldest(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSpoolDeleteAndDepth(t *testing.T) {
	s, err := OpenSpool(t.TempDir())
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	require.NoError(t, s.Put([]byte("a")))
	require.NoError(t, s.Put([]byte("b")))

	depth, err := s.Depth()
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	entries, err := s.Oldest(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, s.Delete(entries[0].Key))

	depth, err = s.Depth()
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	remaining, err := s.Oldest(10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "b", string(remaining[0].Body))
}
