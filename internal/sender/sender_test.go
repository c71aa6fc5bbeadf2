package sender

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// mockClient implements Broadcaster for testing.
type mockClient struct {
	delay     time.Duration
	failCount int32 // atomic
	sendCount int32 // atomic
	shouldErr bool
}

// Ensure mockClient implements Broadcaster
var _ Broadcaster = (*mockClient)(nil)

func (m *mockClient) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	atomic.AddInt32(&m.sendCount, 1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.shouldErr {
		atomic.AddInt32(&m.failCount, 1)
		return common.Hash{}, context.DeadlineExceeded
	}
	return common.BytesToHash(raw), nil
}

func TestSenderBasic(t *testing.T) {
	client := &mockClient{}
	s := New(Config{
		Client:      client,
		Concurrency: 10,
	})

	hash, err := s.Send(context.Background(), []byte{0x71})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if hash != common.BytesToHash([]byte{0x71}) {
		t.Errorf("Send() hash = %s, want 0x..71", hash.Hex())
	}
	if got := atomic.LoadInt32(&client.sendCount); got != 1 {
		t.Errorf("sendCount = %d, want 1", got)
	}
	if got := s.InFlight(); got != 0 {
		t.Errorf("InFlight() after Send = %d, want 0", got)
	}
}

func TestSenderAsync(t *testing.T) {
	client := &mockClient{}
	s := New(Config{Client: client, Concurrency: 10})

	var wg sync.WaitGroup
	var callbackCalled atomic.Bool

	wg.Add(1)
	ok := s.SendAsync(context.Background(), []byte("tx"), func(_ common.Hash, err error) {
		callbackCalled.Store(true)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		wg.Done()
	})
	if !ok {
		t.Error("SendAsync returned false, expected true")
	}

	wg.Wait()

	if !callbackCalled.Load() {
		t.Error("callback was not called")
	}
}

func TestSenderAtCapacity(t *testing.T) {
	client := &mockClient{delay: 100 * time.Millisecond}
	s := New(Config{
		Client:      client,
		Concurrency: 2,
	})

	// Fill up the sender
	for i := 0; i < 2; i++ {
		ok := s.SendAsync(context.Background(), []byte("tx"), nil)
		if !ok {
			t.Errorf("SendAsync %d returned false, expected true", i)
		}
	}

	// This one should fail (at capacity)
	if ok := s.SendAsync(context.Background(), []byte("tx"), nil); ok {
		t.Error("SendAsync returned true when at capacity, expected false")
	}

	// TrySend should return ErrAtCapacity
	if _, err := s.TrySend(context.Background(), []byte("tx")); !errors.Is(err, ErrAtCapacity) {
		t.Errorf("TrySend error = %v, want ErrAtCapacity", err)
	}

	// Send blocks until a slot frees.
	start := time.Now()
	if _, err := s.Send(context.Background(), []byte("tx")); err != nil {
		t.Errorf("Send() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Send() returned after %v, expected to wait for a slot", elapsed)
	}
}

func TestSenderSendContextCancelled(t *testing.T) {
	s := New(Config{Client: &mockClient{delay: 200 * time.Millisecond}, Concurrency: 1})
	s.SendAsync(context.Background(), []byte("tx"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := s.Send(ctx, []byte("tx")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send() error = %v, want DeadlineExceeded", err)
	}
}

func TestSenderCapacityMetrics(t *testing.T) {
	s := New(Config{
		Client:      &mockClient{delay: 50 * time.Millisecond},
		Concurrency: 5,
	})

	if got := s.Capacity(); got != 5 {
		t.Errorf("Capacity() = %d, want 5", got)
	}

	if got := s.Available(); got != 5 {
		t.Errorf("Available() = %d, want 5", got)
	}

	if got := s.InFlight(); got != 0 {
		t.Errorf("InFlight() = %d, want 0", got)
	}

	// Start 3 sends
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		s.SendAsync(context.Background(), []byte("tx"), func(common.Hash, error) { wg.Done() })
	}

	// Wait a bit for goroutines to start
	time.Sleep(10 * time.Millisecond)

	if got := s.InFlight(); got != 3 {
		t.Errorf("InFlight() = %d, want 3", got)
	}

	if got := s.Available(); got != 2 {
		t.Errorf("Available() = %d, want 2", got)
	}

	wg.Wait()
}

func TestSenderConcurrency(t *testing.T) {
	client := &mockClient{}
	s := New(Config{
		Client:      client,
		Concurrency: 8,
	})

	const numSends = 200
	var wg sync.WaitGroup
	wg.Add(numSends)

	for i := 0; i < numSends; i++ {
		go func() {
			defer wg.Done()
			if _, err := s.Send(context.Background(), []byte("tx")); err != nil {
				t.Errorf("Send() error = %v", err)
			}
		}()
	}

	wg.Wait()

	if got := atomic.LoadInt32(&client.sendCount); got != numSends {
		t.Errorf("sendCount = %d, want %d", got, numSends)
	}
}

func TestSenderError(t *testing.T) {
	client := &mockClient{shouldErr: true}
	s := New(Config{
		Client:      client,
		Concurrency: 10,
	})

	if _, err := s.Send(context.Background(), []byte("tx")); err == nil {
		t.Error("expected error from Send, got nil")
	}
	if got := atomic.LoadInt32(&client.failCount); got != 1 {
		t.Errorf("failCount = %d, want 1", got)
	}
}
