package relay

import (
	"testing"
	"time"
)

func TestInMemoryStore(t *testing.T) {
	store := NewInMemoryStore()
	sess := NewSession("/cam1.m3u8", t.TempDir(), time.Now().UTC())

	t.Run("get_missing", func(t *testing.T) {
		if _, ok := store.Get("/cam1.m3u8"); ok {
			t.Error("expected ok false for empty store")
		}
	})

	t.Run("set_then_get", func(t *testing.T) {
		store.Set(sess)
		got, ok := store.Get("/cam1.m3u8")
		if !ok || got.ID != sess.ID {
			t.Errorf("Get = (%v, %v)", got, ok)
		}
	})

	t.Run("list", func(t *testing.T) {
		other := NewSession("/cam2.m3u8", t.TempDir(), time.Now().UTC())
		store.Set(other)
		if got := store.List(); len(got) != 2 {
			t.Errorf("List returned %d sessions, want 2", len(got))
		}
	})

	t.Run("delete", func(t *testing.T) {
		store.Delete("/cam1.m3u8")
		if _, ok := store.Get("/cam1.m3u8"); ok {
			t.Error("session survived Delete")
		}
		// Deleting again is harmless.
		store.Delete("/cam1.m3u8")
	})
}
