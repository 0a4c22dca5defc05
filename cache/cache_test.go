// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir())

	fp := "0a1b2c"
	require.NoError(t, store.Put(fp, []byte("record")))

	got, err := store.Get(fp)
	require.NoError(t, err)
	require.Equal(t, []byte("record"), got)

	require.NoError(t, store.Put(fp, []byte("replaced")))
	got, err = store.Get(fp)
	require.NoError(t, err)
	require.Equal(t, []byte("replaced"), got)
}

func TestFileStoreMissingRecord(t *testing.T) {
	store := NewFileStore(t.TempDir())
	_, err := store.Get("deadbeef")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never-created")
	store := NewFileStore(dir)

	// A missing directory reads as empty and is not created by reads.
	_, err := store.Get("deadbeef")
	require.ErrorIs(t, err, ErrNotFound)

	fps, err := store.List()
	require.NoError(t, err)
	require.Empty(t, fps)

	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err), "read operations must not create the directory")

	// Writes fail until Init creates it.
	require.Error(t, store.Put("deadbeef", []byte("record")))
	require.NoError(t, store.Init())
	require.NoError(t, store.Put("deadbeef", []byte("record")))
}

func TestFileStoreRejectsPathFingerprints(t *testing.T) {
	store := NewFileStore(t.TempDir())
	for _, fp := range []string{"", "../escape", `..\escape`, "a/b", "a.b"} {
		require.Error(t, store.Put(fp, []byte("x")), "fingerprint %q", fp)
		_, err := store.Get(fp)
		require.Error(t, err, "fingerprint %q", fp)
	}
}

func TestFileStoreListDeleteClear(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	require.NoError(t, store.Put("aa", []byte("1")))
	require.NoError(t, store.Put("bb", []byte("2")))

	fps, err := store.List()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"aa", "bb"}, fps)

	require.NoError(t, store.Delete("aa"))
	require.NoError(t, store.Delete("aa"), "deleting an absent record is not an error")

	fps, err = store.List()
	require.NoError(t, err)
	require.Equal(t, []string{"bb"}, fps)

	require.NoError(t, store.Clear())
	fps, err = store.List()
	require.NoError(t, err)
	require.Empty(t, fps)

	// Clear keeps the directory itself.
	_, err = os.Stat(dir)
	require.NoError(t, err)
}

func TestFileStorePermissions(t *testing.T) {
	store := NewFileStore(t.TempDir())
	require.NoError(t, store.Put("aa", []byte("secret")))

	info, err := os.Stat(filepath.Join(store.Dir(), "aa"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get("aa")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put("aa", []byte("record")))
	got, err := store.Get("aa")
	require.NoError(t, err)
	require.Equal(t, []byte("record"), got)

	// Mutating what Get returned must not change the stored record.
	got[0] = 'X'
	again, err := store.Get("aa")
	require.NoError(t, err)
	require.Equal(t, []byte("record"), again)

	require.NoError(t, store.Put("bb", []byte("2")))
	fps, err := store.List()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"aa", "bb"}, fps)

	require.NoError(t, store.Delete("aa"))
	require.NoError(t, store.Clear())
	fps, err = store.List()
	require.NoError(t, err)
	require.Empty(t, fps)
}
