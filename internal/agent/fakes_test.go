package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joescharf/scoutsync/internal/clock"
	"github.com/joescharf/scoutsync/internal/models"
	"github.com/joescharf/scoutsync/internal/normalize"
	"github.com/joescharf/scoutsync/internal/state"
)

var errOffline = errors.New("dial tcp: connection refused")

// relayClient is an in-process relay: requests go through the same envelope
// parsing and state store the HTTP server uses.
type relayClient struct {
	mu      sync.Mutex
	store   *state.Store
	clock   clock.Clock
	pushes  []*models.PutRequest
	fetches int
	fail    bool
	onPush  func(req *models.PutRequest)
}

func newRelayClient(t *testing.T, c clock.Clock) *relayClient {
	t.Helper()
	st, err := state.Open("", state.WithClock(c.Now), state.WithLogger(quietLogger()))
	require.NoError(t, err)
	return &relayClient{store: st, clock: c}
}

func (r *relayClient) Fetch(_ context.Context, includeLog bool) ([]byte, error) {
	r.mu.Lock()
	r.fetches++
	fail := r.fail
	r.mu.Unlock()
	if fail {
		return nil, errOffline
	}
	return json.Marshal(r.store.Snapshot(includeLog))
}

func (r *relayClient) Push(_ context.Context, req *models.PutRequest) ([]byte, error) {
	r.mu.Lock()
	r.pushes = append(r.pushes, req)
	fail := r.fail
	hook := r.onPush
	r.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	if fail {
		return nil, errOffline
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	u, err := normalize.Envelope(body, r.clock.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	snap, res, err := r.store.Apply(u)
	if err != nil {
		return nil, err
	}
	snap.LockResult = res
	return json.Marshal(snap)
}

func (r *relayClient) setFail(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = v
}

func (r *relayClient) pushCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pushes)
}

func (r *relayClient) lastPush() *models.PutRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pushes) == 0 {
		return nil
	}
	return r.pushes[len(r.pushes)-1]
}

// memStore is an in-memory LocalStore.
type memStore struct {
	mu      sync.Mutex
	targets models.Targets
	values  map[string]string
	saves   int
}

func newMemStore() *memStore {
	return &memStore{targets: models.Targets{}, values: map[string]string{}}
}

func (m *memStore) LoadTargets(context.Context) (models.Targets, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targets.Clone(), nil
}

func (m *memStore) SaveTargets(_ context.Context, t models.Targets) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = t.Clone()
	m.saves++
	return nil
}

func (m *memStore) GetValue(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memStore) SetValue(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// recordingVisitor remembers every visited coordinate.
type recordingVisitor struct {
	mu     sync.Mutex
	visits []string
}

func (v *recordingVisitor) Visit(_ context.Context, coord string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.visits = append(v.visits, coord)
	return nil
}

func (v *recordingVisitor) seen() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.visits...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEpoch() time.Time { return time.UnixMilli(1_700_000_000_000) }
