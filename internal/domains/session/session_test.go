package session

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalis-ai/vocalis/pkg/Logger"
)

type fakeOutbound struct {
	mu     sync.Mutex
	jsons  []any
	audio  int
	closed bool
}

func (f *fakeOutbound) SendJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jsons = append(f.jsons, v)
	return nil
}

func (f *fakeOutbound) SendAudio(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio++
	return nil
}

func (f *fakeOutbound) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestSendAfterCloseIsNoop(t *testing.T) {
	out := &fakeOutbound{}
	s := New("s1", out)

	require.NoError(t, s.SendJSON(map[string]string{"type": "tts"}))
	s.Close()
	require.NoError(t, s.SendJSON(map[string]string{"type": "tts"}))
	require.NoError(t, s.SendAudio([]byte{1, 2, 3}))

	assert.Len(t, out.jsons, 1)
	assert.Zero(t, out.audio)
	assert.True(t, out.closed)
	assert.False(t, s.Open())
}

func TestCloseIdempotent(t *testing.T) {
	out := &fakeOutbound{}
	s := New("s1", out)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
	assert.True(t, out.closed)
}

func TestPendingReplyRoundTrip(t *testing.T) {
	s := New("s1", &fakeOutbound{})

	ch := s.RegisterPending(42)
	s.ResolvePending(42, json.RawMessage(`{"ok":true}`))

	payload, open := <-ch
	require.True(t, open)
	assert.JSONEq(t, `{"ok":true}`, string(payload))

	// unknown id is ignored
	s.ResolvePending(99, json.RawMessage(`{}`))
}

func TestCloseFailsPendingReplies(t *testing.T) {
	s := New("s1", &fakeOutbound{})
	ch := s.RegisterPending(7)
	s.Close()

	_, open := <-ch
	assert.False(t, open)
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry(Logger.Nop())
	s := New("s1", &fakeOutbound{})
	reg.Register(s)

	got, ok := reg.Get("s1")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, reg.Len())

	reg.Close("s1")
	_, ok = reg.Get("s1")
	assert.False(t, ok)
	assert.False(t, s.Open())

	// closed and unknown ids are no-ops
	reg.Close("s1")
	reg.Close("missing")
}

func TestAbortTurnAdvancesEpoch(t *testing.T) {
	s := New("s1", &fakeOutbound{})

	epoch := s.TurnEpoch()
	s.AbortTurn()
	assert.NotEqual(t, epoch, s.TurnEpoch())

	// each abort is distinct; an epoch never repeats
	second := s.TurnEpoch()
	s.AbortTurn()
	assert.NotEqual(t, second, s.TurnEpoch())
}

func TestRegistryCloseAll(t *testing.T) {
	reg := NewRegistry(Logger.Nop())
	a := New("a", &fakeOutbound{})
	b := New("b", &fakeOutbound{})
	reg.Register(a)
	reg.Register(b)

	reg.CloseAll()

	assert.Zero(t, reg.Len())
	assert.False(t, a.Open())
	assert.False(t, b.Open())
}
