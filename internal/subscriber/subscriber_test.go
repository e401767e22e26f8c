package subscriber

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onchainScreener/internal/erc20"
	"onchainScreener/internal/model"
)

var (
	tokenA = common.HexToAddress("0x1000000000000000000000000000000000000001")
	alice  = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob    = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
)

type fakeSub struct {
	errCh chan error
}

func newFakeSub() *fakeSub { return &fakeSub{errCh: make(chan error, 1)} }

func (s *fakeSub) Unsubscribe()      {}
func (s *fakeSub) Err() <-chan error { return s.errCh }

type fakeClient struct {
	mu           sync.Mutex
	head         uint64
	headErr      error
	subscribeErr error
	headers      chan<- *types.Header
	sub          *fakeSub
	subscribed   chan struct{}
	queries      []ethereum.FilterQuery
	logsFor      func(q ethereum.FilterQuery) ([]types.Log, error)
	closed       atomic.Bool
}

func newFakeClient(head uint64) *fakeClient {
	return &fakeClient{head: head, subscribed: make(chan struct{}, 4)}
}

func (c *fakeClient) SubscribeNewHead(_ context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}
	c.headers = ch
	c.sub = newFakeSub()
	c.subscribed <- struct{}{}
	return c.sub, nil
}

func (c *fakeClient) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	c.queries = append(c.queries, q)
	logsFor := c.logsFor
	c.mu.Unlock()
	if logsFor == nil {
		return nil, nil
	}
	return logsFor(q)
}

func (c *fakeClient) BlockNumber(context.Context) (uint64, error) {
	return c.head, c.headErr
}

func (c *fakeClient) Close() { c.closed.Store(true) }

func (c *fakeClient) push(t *testing.T, number uint64) {
	t.Helper()
	c.mu.Lock()
	ch := c.headers
	c.mu.Unlock()
	require.NotNil(t, ch, "not subscribed")
	ch <- &types.Header{Number: new(big.Int).SetUint64(number)}
}

func (c *fakeClient) drop(err error) {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	sub.errCh <- err
}

func (c *fakeClient) waitSubscribed(t *testing.T) {
	t.Helper()
	select {
	case <-c.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not established")
	}
}

func (c *fakeClient) queriedBlocks() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, 0, len(c.queries))
	for _, q := range c.queries {
		out = append(out, q.FromBlock.Uint64())
	}
	return out
}

type recordingAlerter struct {
	mu       sync.Mutex
	titles   []string
	messages []string
}

func (a *recordingAlerter) SendErrorAlert(_ context.Context, title, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.titles = append(a.titles, title)
	a.messages = append(a.messages, message)
	return nil
}

func transferLog(block uint64, tx common.Hash, index uint, from, to common.Address, amount int64) types.Log {
	return types.Log{
		Address:     tokenA,
		Topics:      []common.Hash{erc20.TransferTopic, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
		BlockNumber: block,
		TxHash:      tx,
		Index:       index,
	}
}

func testConfig() Config {
	return Config{
		Chain:             "ethereum",
		Topics:            []common.Hash{erc20.TransferTopic},
		Tokens:            []common.Address{tokenA},
		ReconnectAttempts: 3,
		ReconnectDelay:    time.Millisecond,
	}
}

func staticDialer(clients ...*fakeClient) (Dialer, *atomic.Int32) {
	var calls atomic.Int32
	return func(context.Context) (Client, error) {
		n := int(calls.Add(1)) - 1
		if n >= len(clients) || clients[n] == nil {
			return nil, errors.New("dial refused")
		}
		return clients[n], nil
	}, &calls
}

type handled struct {
	mu  sync.Mutex
	txs map[common.Hash]model.TxEvents
}

func (h *handled) handler(_ context.Context, tx common.Hash, events model.TxEvents) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.txs == nil {
		h.txs = map[common.Hash]model.TxEvents{}
	}
	h.txs[tx] = events
}

func (h *handled) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.txs)
}

func (h *handled) get(tx common.Hash) model.TxEvents {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.txs[tx]
}

func runSubscribe(ctx context.Context, s *Subscriber, h Handler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Subscribe(ctx, h) }()
	return done
}

func TestSubscribeProcessesNewBlocks(t *testing.T) {
	client := newFakeClient(100)
	txA := common.HexToHash("0xa")
	txB := common.HexToHash("0xb")
	txC := common.HexToHash("0xc")
	client.logsFor = func(q ethereum.FilterQuery) ([]types.Log, error) {
		switch q.FromBlock.Uint64() {
		case 100:
			return []types.Log{transferLog(100, txA, 0, alice, bob, 10)}, nil
		case 101:
			bad := transferLog(101, txC, 3, alice, bob, 1)
			bad.Topics = bad.Topics[:1]
			return []types.Log{
				transferLog(101, txB, 1, alice, bob, 5),
				transferLog(101, txB, 2, bob, alice, 2),
				bad,
			}, nil
		}
		return nil, nil
	}
	dial, _ := staticDialer(client)
	s, err := New(context.Background(), testConfig(), dial, Deps{})
	require.NoError(t, err)
	assert.Equal(t, uint64(99), s.LastProcessed())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := &handled{}
	done := runSubscribe(ctx, s, h.handler)
	client.waitSubscribed(t)
	require.Eventually(t, func() bool { return s.State() == StateSubscribed }, time.Second, time.Millisecond)

	client.push(t, 101)
	require.Eventually(t, func() bool { return s.LastProcessed() == 101 && h.count() == 2 }, 2*time.Second, 5*time.Millisecond)

	events := h.get(txB)
	require.NotNil(t, events)
	assert.Equal(t, int64(3), events[tokenA][model.KindTransfer].Total.Int64())
	assert.Nil(t, h.get(txC))

	// A stale head does nothing.
	client.push(t, 101)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []uint64{100, 101}, client.queriedBlocks())
	assert.Equal(t, StateStopped, s.State())
}

func TestSubscribeCapsBacklogPerHead(t *testing.T) {
	client := newFakeClient(100)
	dial, _ := staticDialer(client)
	s, err := New(context.Background(), testConfig(), dial, Deps{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runSubscribe(ctx, s, func(context.Context, common.Hash, model.TxEvents) {})
	client.waitSubscribed(t)

	client.push(t, 120)
	require.Eventually(t, func() bool { return s.LastProcessed() == 104 }, 2*time.Second, 5*time.Millisecond)
	client.push(t, 121)
	require.Eventually(t, func() bool { return s.LastProcessed() == 109 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, []uint64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109}, client.queriedBlocks())
}

func TestFetchErrorMarksBlockProcessed(t *testing.T) {
	client := newFakeClient(100)
	tx := common.HexToHash("0x1")
	client.logsFor = func(q ethereum.FilterQuery) ([]types.Log, error) {
		if q.FromBlock.Uint64() == 100 {
			return nil, errors.New("payload too large")
		}
		return []types.Log{transferLog(101, tx, 0, alice, bob, 1)}, nil
	}
	dial, _ := staticDialer(client)
	s, err := New(context.Background(), testConfig(), dial, Deps{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := &handled{}
	done := runSubscribe(ctx, s, h.handler)
	client.waitSubscribed(t)
	client.push(t, 101)

	require.Eventually(t, func() bool { return s.LastProcessed() == 101 && h.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, []uint64{100, 101}, client.queriedBlocks())
}

func TestCancelledFetchLeavesBlockUnprocessed(t *testing.T) {
	client := newFakeClient(100)
	dial, _ := staticDialer(client)
	cp := &memCheckpoint{}
	s, err := New(context.Background(), testConfig(), dial, Deps{Checkpoint: cp})
	require.NoError(t, err)
	require.Equal(t, uint64(99), s.LastProcessed())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.logsFor = func(ethereum.FilterQuery) ([]types.Log, error) {
		cancel()
		return nil, context.Canceled
	}

	s.advance(ctx, client, 100, func(context.Context, common.Hash, model.TxEvents) {})
	assert.Equal(t, uint64(99), s.LastProcessed())
	assert.Zero(t, cp.saved.Load())
	assert.Equal(t, []uint64{100}, client.queriedBlocks())
}

func TestAddressBatchesPerBlock(t *testing.T) {
	client := newFakeClient(10)
	dial, _ := staticDialer(client)
	cfg := testConfig()
	cfg.Tokens = addresses(1200)
	s, err := New(context.Background(), cfg, dial, Deps{})
	require.NoError(t, err)

	logs, err := s.fetchLogs(context.Background(), client, 11, 11)
	require.NoError(t, err)
	assert.Empty(t, logs)

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.queries, 3)
	assert.Len(t, client.queries[0].Addresses, 500)
	assert.Len(t, client.queries[1].Addresses, 500)
	assert.Len(t, client.queries[2].Addresses, 200)
	assert.Equal(t, [][]common.Hash{{erc20.TransferTopic}}, client.queries[0].Topics)
}

func TestUpdateTokenAddressListDedupes(t *testing.T) {
	dial, _ := staticDialer(newFakeClient(10))
	s, err := New(context.Background(), testConfig(), dial, Deps{})
	require.NoError(t, err)

	other := common.HexToAddress("0x2")
	n := s.UpdateTokenAddressList([]common.Address{tokenA, other, tokenA, other})
	assert.Equal(t, 2, n)
	assert.Equal(t, []common.Address{tokenA, other}, s.Tokens())

	s.UpdateTokenAddressList(nil)
	assert.Empty(t, s.Tokens())
}

func TestReconnectExhaustedAlertsOnce(t *testing.T) {
	client := newFakeClient(100)
	dial, calls := staticDialer(client)
	alerter := &recordingAlerter{}
	s, err := New(context.Background(), testConfig(), dial, Deps{Alerter: alerter})
	require.NoError(t, err)

	done := runSubscribe(context.Background(), s, func(context.Context, common.Hash, model.TxEvents) {})
	client.waitSubscribed(t)
	client.drop(errors.New("websocket: close 1006"))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrReconnectExhausted)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not give up")
	}
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, StateFailed, s.State())

	alerter.mu.Lock()
	defer alerter.mu.Unlock()
	assert.Equal(t, []string{"BLOCK SUBSCRIPTION ERROR"}, alerter.titles)
	assert.Equal(t, []string{"ETHEREUM Max reconnect attempts reached"}, alerter.messages)
}

func TestReconnectResumesOnNewConnection(t *testing.T) {
	first := newFakeClient(100)
	second := newFakeClient(100)
	tx := common.HexToHash("0x2")
	second.logsFor = func(q ethereum.FilterQuery) ([]types.Log, error) {
		return []types.Log{transferLog(q.FromBlock.Uint64(), tx, 0, alice, bob, 7)}, nil
	}
	dial, _ := staticDialer(first, nil, second)
	s, err := New(context.Background(), testConfig(), dial, Deps{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := &handled{}
	done := runSubscribe(ctx, s, h.handler)
	first.waitSubscribed(t)
	first.drop(errors.New("connection reset"))

	second.waitSubscribed(t)
	assert.True(t, first.closed.Load())
	second.push(t, 100)
	require.Eventually(t, func() bool { return h.count() == 1 && s.LastProcessed() == 100 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNewFailsWhenHandshakeExhausted(t *testing.T) {
	dial, calls := staticDialer()
	cfg := testConfig()
	cfg.ConnectRetries = 2

	_, err := New(context.Background(), cfg, dial, Deps{})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	broken := newFakeClient(0)
	broken.headErr = errors.New("eth_blockNumber failed")
	dial, _ = staticDialer(broken)
	cfg.ConnectRetries = 0
	_, err = New(context.Background(), cfg, dial, Deps{})
	require.Error(t, err)
	assert.True(t, broken.closed.Load())
}

type memCheckpoint struct {
	block uint64
	ok    bool
	saved atomic.Uint64
}

func (m *memCheckpoint) Load(context.Context) (uint64, bool, error) { return m.block, m.ok, nil }

func (m *memCheckpoint) Save(_ context.Context, block uint64) error {
	m.saved.Store(block)
	return nil
}

func TestResumeFromCheckpoint(t *testing.T) {
	cases := []struct {
		name   string
		lag    uint64
		saved  uint64
		expect uint64
	}{
		{"within lag", 10, 95, 95},
		{"too far behind", 2, 95, 99},
		{"resume disabled", 0, 95, 99},
		{"ahead of head", 10, 150, 99},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dial, _ := staticDialer(newFakeClient(100))
			cfg := testConfig()
			cfg.ResumeMaxLag = tc.lag
			s, err := New(context.Background(), cfg, dial, Deps{Checkpoint: &memCheckpoint{block: tc.saved, ok: true}})
			require.NoError(t, err)
			assert.Equal(t, tc.expect, s.LastProcessed())
		})
	}
}

func TestCheckpointSavedPerBlock(t *testing.T) {
	client := newFakeClient(100)
	dial, _ := staticDialer(client)
	cp := &memCheckpoint{}
	s, err := New(context.Background(), testConfig(), dial, Deps{Checkpoint: cp})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runSubscribe(ctx, s, func(context.Context, common.Hash, model.TxEvents) {})
	client.waitSubscribed(t)
	client.push(t, 102)
	require.Eventually(t, func() bool { return cp.saved.Load() == 102 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestHandlerConcurrencyIsCapped(t *testing.T) {
	client := newFakeClient(100)
	client.logsFor = func(q ethereum.FilterQuery) ([]types.Log, error) {
		var logs []types.Log
		for i := 0; i < 8; i++ {
			tx := common.BigToHash(big.NewInt(int64(i + 1)))
			logs = append(logs, transferLog(100, tx, uint(i), alice, bob, 1))
		}
		return logs, nil
	}
	dial, _ := staticDialer(client)
	cfg := testConfig()
	cfg.MaxInFlight = 2
	s, err := New(context.Background(), cfg, dial, Deps{})
	require.NoError(t, err)

	var running, peak, total atomic.Int32
	handler := func(context.Context, common.Hash, model.TxEvents) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		total.Add(1)
	}

	err = s.Backfill(context.Background(), 100, 100, 10, handler)
	require.NoError(t, err)
	assert.Equal(t, int32(8), total.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestBackfillSplitsRanges(t *testing.T) {
	client := newFakeClient(200)
	client.logsFor = func(q ethereum.FilterQuery) ([]types.Log, error) {
		tx := common.BigToHash(q.FromBlock)
		return []types.Log{transferLog(q.FromBlock.Uint64(), tx, 0, alice, bob, 1)}, nil
	}
	dial, _ := staticDialer(client)
	s, err := New(context.Background(), testConfig(), dial, Deps{})
	require.NoError(t, err)

	h := &handled{}
	require.NoError(t, s.Backfill(context.Background(), 10, 14, 2, h.handler))
	assert.Equal(t, []uint64{10, 12, 14}, client.queriedBlocks())
	assert.Equal(t, 3, h.count())
	assert.Equal(t, uint64(14), s.LastProcessed())

	assert.Error(t, s.Backfill(context.Background(), 14, 10, 2, h.handler))
}
