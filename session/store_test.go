package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestStores_BatchAndClear(t *testing.T) {
	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   NewFileStore(filepath.Join(t.TempDir(), "session.json"), "https://pm.example", zerolog.Nop()),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			_, ok := store.Get(KeyToken)
			require.False(t, ok)

			require.NoError(t, store.Set(map[string]string{
				KeyToken:  "tok",
				KeyExpiry: "2030-01-01T00:00:00Z",
			}))

			v, ok := store.Get(KeyToken)
			require.True(t, ok)
			require.Equal(t, "tok", v)
			v, ok = store.Get(KeyExpiry)
			require.True(t, ok)
			require.Equal(t, "2030-01-01T00:00:00Z", v)

			require.Equal(t, map[string]string{
				KeyToken:  "tok",
				KeyExpiry: "2030-01-01T00:00:00Z",
			}, store.Snapshot(KeyToken, KeyExpiry, KeySessionID))

			require.NoError(t, store.Delete(KeyToken))
			_, ok = store.Get(KeyToken)
			require.False(t, ok)

			require.NoError(t, store.Clear())
			_, ok = store.Get(KeyExpiry)
			require.False(t, ok)
		})
	}
}

func TestFileStore_PreservesOtherApps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	landlord := NewFileStore(path, "https://landlord.example", zerolog.Nop())
	tenant := NewFileStore(path, "https://tenant.example", zerolog.Nop())

	require.NoError(t, landlord.Set(map[string]string{KeyToken: "landlord-token"}))
	require.NoError(t, tenant.Set(map[string]string{KeyToken: "tenant-token"}))

	v, _ := landlord.Get(KeyToken)
	require.Equal(t, "landlord-token", v)

	require.NoError(t, tenant.Clear())
	v, ok := landlord.Get(KeyToken)
	require.True(t, ok)
	require.Equal(t, "landlord-token", v)
	_, ok = tenant.Get(KeyToken)
	require.False(t, ok)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	const goroutines = 10
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			store := NewFileStore(path, fmt.Sprintf("app-%d", id), zerolog.Nop())
			err := store.Set(map[string]string{
				KeyToken:  fmt.Sprintf("token-%d", id),
				KeyExpiry: "2030-01-01T00:00:00Z",
			})
			if err != nil {
				t.Errorf("Goroutine %d: Failed to save session: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var sf storeFile
	require.NoError(t, json.Unmarshal(data, &sf))
	require.Len(t, sf.Apps, goroutines)
	for i := 0; i < goroutines; i++ {
		entries := sf.Apps[fmt.Sprintf("app-%d", i)]
		require.Equal(t, fmt.Sprintf("token-%d", i), entries[KeyToken])
		require.Equal(t, "2030-01-01T00:00:00Z", entries[KeyExpiry])
	}

	_, err = os.Stat(path + ".lock")
	require.True(t, os.IsNotExist(err), "lock file still exists after all saves completed")
}

func TestFileStore_CorruptFileIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := NewFileStore(path, "app", zerolog.Nop())
	_, ok := store.Get(KeyToken)
	require.False(t, ok)

	require.NoError(t, store.Set(map[string]string{KeyToken: "tok"}))
	v, ok := store.Get(KeyToken)
	require.True(t, ok)
	require.Equal(t, "tok", v)
}
