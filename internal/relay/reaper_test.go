package relay

import (
	"testing"
	"time"
)

func newExpireRecorder() (func(string), chan string) {
	ch := make(chan string, 8)
	return func(id string) { ch <- id }, ch
}

func TestReaper_fires_after_idle_window(t *testing.T) {
	expire, fired := newExpireRecorder()
	rp := NewReaper(50*time.Millisecond, expire)

	rp.Schedule("s1")

	select {
	case id := <-fired:
		if id != "s1" {
			t.Errorf("fired for %q, want s1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("deadline never fired")
	}
}

func TestReaper_touch_extends_deadline(t *testing.T) {
	expire, fired := newExpireRecorder()
	rp := NewReaper(300*time.Millisecond, expire)

	rp.Schedule("s1")
	time.Sleep(150 * time.Millisecond)
	rp.Touch("s1")

	// The original deadline has passed, the extended one has not.
	select {
	case <-fired:
		t.Fatal("fired despite touch")
	case <-time.After(250 * time.Millisecond):
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("extended deadline never fired")
	}
}

func TestReaper_cancel_prevents_fire(t *testing.T) {
	expire, fired := newExpireRecorder()
	rp := NewReaper(50*time.Millisecond, expire)

	rp.Schedule("s1")
	rp.Cancel("s1")

	select {
	case <-fired:
		t.Error("cancelled deadline fired")
	case <-time.After(200 * time.Millisecond):
	}

	// Cancel is idempotent, and touching a cancelled id is a no-op.
	rp.Cancel("s1")
	rp.Touch("s1")
}

func TestReaper_schedule_is_idempotent(t *testing.T) {
	expire, fired := newExpireRecorder()
	rp := NewReaper(50*time.Millisecond, expire)

	rp.Schedule("s1")
	rp.Schedule("s1")

	<-fired
	select {
	case <-fired:
		t.Error("double schedule produced a second fire")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReaper_cancel_all(t *testing.T) {
	expire, fired := newExpireRecorder()
	rp := NewReaper(50*time.Millisecond, expire)

	rp.Schedule("s1")
	rp.Schedule("s2")
	rp.CancelAll()

	select {
	case id := <-fired:
		t.Errorf("deadline for %q fired after CancelAll", id)
	case <-time.After(200 * time.Millisecond):
	}
}
