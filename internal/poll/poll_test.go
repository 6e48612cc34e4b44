package poll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func pipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	t.Cleanup(func() { unix.Close(fds[0]); unix.Close(fds[1]) })
	return fds[0], fds[1]
}

func TestWait_ReadableAndWritable(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	r, w := pipe(t)
	set := []Interest{{Fd: r, Want: Readable}, {Fd: w, Want: Writable}}

	require.NoError(t, p.Wait(set, 0))
	require.Equal(t, Event(0), set[0].Got, "empty pipe should not be readable")
	require.Equal(t, Writable, set[1].Got)

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, p.Wait(set, time.Second))
	require.Equal(t, Readable, set[0].Got)
}

func TestWait_SharedDescriptor(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fds[0]); unix.Close(fds[1]) })

	_, err = unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)

	set := []Interest{{Fd: fds[0], Want: Readable}, {Fd: fds[0], Want: Writable}}
	require.NoError(t, p.Wait(set, time.Second))
	require.Equal(t, Readable, set[0].Got)
	require.Equal(t, Writable, set[1].Got)
}

func TestWait_Timeout(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	r, _ := pipe(t)
	set := []Interest{{Fd: r, Want: Readable}}

	start := time.Now()
	require.NoError(t, p.Wait(set, 30*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	require.Equal(t, Event(0), set[0].Got)
}

func TestWait_Hangup(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	t.Cleanup(func() { unix.Close(fds[0]) })
	require.NoError(t, unix.Close(fds[1]))

	set := []Interest{{Fd: fds[0], Want: Readable}}
	require.NoError(t, p.Wait(set, time.Second))
	require.NotZero(t, set[0].Got&Hangup)
}

func TestWake(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	r, _ := pipe(t)
	set := []Interest{{Fd: r, Want: Readable}}

	done := make(chan error, 1)
	go func() { done <- p.Wait(set, -1) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Wake())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Wake")
	}

	// The wake byte was drained, so a zero-timeout wait sees nothing.
	require.NoError(t, p.Wait(set, 0))
	require.Equal(t, Event(0), set[0].Got)
}

func TestWaitAfterClose(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.ErrorIs(t, p.Wait(nil, 0), ErrClosed)
	require.ErrorIs(t, p.Wake(), ErrClosed)
	require.NoError(t, p.Close())
}

func TestWakeConcurrentWithClose(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	var wakeErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if wakeErr = p.Wake(); wakeErr != nil {
				return
			}
		}
	}()
	require.NoError(t, p.Close())
	<-done
	if wakeErr != nil {
		require.ErrorIs(t, wakeErr, ErrClosed)
	}
}

func TestTimeoutMillis(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{-1, -1},
		{0, 0},
		{time.Microsecond, 1},
		{time.Millisecond, 1},
		{1500 * time.Microsecond, 2},
		{time.Second, 1000},
	}
	for _, tc := range tests {
		if got := timeoutMillis(tc.in); got != tc.want {
			t.Errorf("timeoutMillis(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestEventString(t *testing.T) {
	if s := (Readable | Failed).String(); s != "readable|failed" {
		t.Errorf("String() = %q", s)
	}
	if s := Event(0).String(); s != "none" {
		t.Errorf("String() = %q", s)
	}
}
