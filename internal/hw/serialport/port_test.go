package serialport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

type chunk struct {
	data string
	err  error
}

// fakeSerial plays scripted Read results. An empty script reads as a
// read timeout, like a real port with SetReadTimeout.
type fakeSerial struct {
	reads  chan chunk
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []byte
}

func newFakeSerial() *fakeSerial {
	return &fakeSerial{
		reads:  make(chan chunk, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeSerial) Read(b []byte) (int, error) {
	select {
	case c := <-f.reads:
		return copy(b, c.data), c.err
	case <-f.closed:
		return 0, errors.New("port closed")
	case <-time.After(5 * time.Millisecond):
		return 0, nil
	}
}

func (f *fakeSerial) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, b...)
	return len(b), nil
}

func (f *fakeSerial) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSerial) SetMode(*serial.Mode) error { return nil }
func (f *fakeSerial) Drain() error { return nil }
func (f *fakeSerial) ResetInputBuffer() error { return nil }
func (f *fakeSerial) ResetOutputBuffer() error { return nil }
func (f *fakeSerial) SetDTR(bool) error { return nil }
func (f *fakeSerial) SetRTS(bool) error { return nil }
func (f *fakeSerial) SetReadTimeout(time.Duration) error { return nil }
func (f *fakeSerial) Break(time.Duration) error { return nil }
func (f *fakeSerial) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func attached(t *testing.T) (*Port, *fakeSerial) {
	t.Helper()
	f := newFakeSerial()
	p := NewPort()
	p.mu.Lock()
	p.attachLocked("fake://"+t.Name(), f)
	p.mu.Unlock()
	t.Cleanup(func() { _ = p.Close() })
	return p, f
}

func TestPort_SplitsLinesAndStripsCR(t *testing.T) {
	p, f := attached(t)
	f.reads <- chunk{data: "Sistema ini"}
	f.reads <- chunk{data: "ciado... DONE\r\nDO"}
	f.reads <- chunk{data: "NE\n"}

	l, err := p.ReadLine(time.Second)
	require.NoError(t, err)
	require.Equal(t, "Sistema iniciado... DONE", l)

	l, err = p.ReadLine(time.Second)
	require.NoError(t, err)
	require.Equal(t, "DONE", l)
	require.Zero(t, p.BytesAvailable())
}

func TestPort_PartialLineCountsAsPending(t *testing.T) {
	p, f := attached(t)
	f.reads <- chunk{data: "DO"}
	require.Eventually(t, func() bool { return p.BytesAvailable() == 2 }, time.Second, time.Millisecond)

	_, err := p.ReadLine(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	_, err = p.ReadLine(0)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, 2, p.BytesAvailable())

	f.reads <- chunk{data: "NE\r\n"}
	l, err := p.ReadLine(time.Second)
	require.NoError(t, err)
	require.Equal(t, "DONE", l)
	require.Zero(t, p.BytesAvailable())
}

func TestPort_ReadErrorSurfaces(t *testing.T) {
	p, f := attached(t)
	unplugged := errors.New("device unplugged")
	f.reads <- chunk{data: "DONE\n"}
	f.reads <- chunk{err: unplugged}

	// Lines delivered before the failure are still handed out.
	l, err := p.ReadLine(time.Second)
	require.NoError(t, err)
	require.Equal(t, "DONE", l)

	// Nothing is pending, yet the broken reader is reported.
	_, err = p.ReadLine(time.Second)
	require.ErrorIs(t, err, unplugged)
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	require.Equal(t, "read", ioErr.Op)
	require.Zero(t, p.BytesAvailable())

	_, err = p.ReadLine(0)
	require.ErrorIs(t, err, unplugged)
	require.ErrorIs(t, p.Write([]byte("0,0,0.0,0,500\n")), unplugged)
}

func TestPort_WriteReachesDevice(t *testing.T) {
	p, f := attached(t)
	require.NoError(t, p.Write([]byte("45,-30,5.0,1,500\n")))
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Equal(t, "45,-30,5.0,1,500\n", string(f.written))
}

func TestPort_CloseWaitsForReader(t *testing.T) {
	p, f := attached(t)
	f.reads <- chunk{data: "DO"}
	require.Eventually(t, func() bool { return p.BytesAvailable() == 2 }, time.Second, time.Millisecond)

	p.mu.Lock()
	dead := p.dead
	p.mu.Unlock()

	require.NoError(t, p.Close())
	select {
	case <-dead:
	default:
		t.Fatal("Close returned while the reader was still running")
	}
	select {
	case <-f.closed:
	default:
		t.Fatal("OS handle not closed")
	}

	// A late chunk has no reader left to count it.
	f.reads <- chunk{data: "NE\n"}
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, p.BytesAvailable())
	_, err := p.ReadLine(time.Millisecond)
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, p.Close())
}
