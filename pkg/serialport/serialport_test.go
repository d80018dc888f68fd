package serialport

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRaw is an io.Pipe-backed stand-in for go.bug.st/serial's Port. It
// honors SetReadTimeout the way a real UART driver does: Read returns
// (0, nil) if no data arrives within the configured timeout, rather than
// blocking forever.
type fakeRaw struct {
	r io.Reader
	w io.Writer

	mu      sync.Mutex
	rts     bool
	dtr     bool
	closed  bool
	timeout time.Duration
}

func (f *fakeRaw) Read(p []byte) (int, error) {
	f.mu.Lock()
	timeout := f.timeout
	f.mu.Unlock()
	if timeout <= 0 {
		timeout = 5 * time.Millisecond
	}

	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := f.r.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(timeout):
		return 0, nil
	}
}

func (f *fakeRaw) Write(p []byte) (int, error) { return f.w.Write(p) }
func (f *fakeRaw) ResetInputBuffer() error      { return nil }
func (f *fakeRaw) ResetOutputBuffer() error     { return nil }

func (f *fakeRaw) SetDTR(v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dtr = v
	return nil
}

func (f *fakeRaw) SetRTS(v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rts = v
	return nil
}

func (f *fakeRaw) SetReadTimeout(d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeout = d
	return nil
}

func (f *fakeRaw) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestPort(t *testing.T) (*Port, *fakeRaw, *io.PipeWriter) {
	t.Helper()
	pr, pw := io.Pipe()
	raw := &fakeRaw{r: pr, w: io.Discard}
	p := newWithRaw(Config{Name: "fake", Baud: 115200}, raw)
	return p, raw, pw
}

func TestWriteAllWritesEverything(t *testing.T) {
	out := &captureWriter{}
	raw := &fakeRaw{r: strReader(""), w: out}
	p := newWithRaw(Config{}, raw)

	require.NoError(t, p.WriteAll([]byte{0x7F, 0xAA, 0xBB}))
	assert.Equal(t, []byte{0x7F, 0xAA, 0xBB}, out.buf)
}

func TestReadExactAccumulatesPartialReads(t *testing.T) {
	p, _, pw := newTestPort(t)
	go func() {
		pw.Write([]byte{0x01})
		time.Sleep(2 * time.Millisecond)
		pw.Write([]byte{0x02, 0x03})
	}()

	got, err := p.ReadExact(3, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, got)
}

func TestReadExactTimesOut(t *testing.T) {
	p, _, _ := newTestPort(t)
	_, err := p.ReadExact(1, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCloseIsIdempotent(t *testing.T) {
	p, raw, _ := newTestPort(t)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, raw.closed)
}

func TestCloseDeassertsModemLines(t *testing.T) {
	p, raw, _ := newTestPort(t)
	require.NoError(t, p.SetRTS(true))
	require.NoError(t, p.SetDTR(true))
	require.NoError(t, p.Close())
	assert.False(t, raw.rts)
	assert.False(t, raw.dtr)
}

func TestOperationsFailAfterClose(t *testing.T) {
	p, _, _ := newTestPort(t)
	require.NoError(t, p.Close())

	_, err := p.ReadExact(1, time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)

	err = p.WriteAll([]byte{0x00})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBytesWaitingCachesProbedBytes(t *testing.T) {
	p, _, pw := newTestPort(t)
	go pw.Write([]byte{0xAB, 0xCD})

	time.Sleep(5 * time.Millisecond)
	n, err := p.BytesWaiting()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	got, err := p.ReadExact(n, time.Second)
	require.NoError(t, err)
	assert.Len(t, got, n)
}

type captureWriter struct{ buf []byte }

func (c *captureWriter) Write(p []byte) (int, error) {
	c.buf = append(c.buf, p...)
	return len(p), nil
}

type strReader string

func (s strReader) Read(p []byte) (int, error) { return 0, io.EOF }
