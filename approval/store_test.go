package approval

import (
	"context"
	"testing"
	"time"

	"github.com/parley-ai/parley/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateAndGet(t *testing.T) {
	s := NewStore(nil)

	req := s.Create("ap1", "c1", "u1", map[string]any{"action": "sign_contract"})
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, "c1", req.ConversationID)

	got, err := s.Get("ap1")
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, core.ErrApprovalNotFound)
}

func TestStore_CreateIsIdempotentPerID(t *testing.T) {
	s := NewStore(nil)

	first := s.Create("ap1", "c1", "u1", nil)
	second := s.Create("ap1", "c-other", "u-other", nil)
	assert.Equal(t, first, second, "existing request returned unchanged")
}

func TestStore_ApproveIdempotent(t *testing.T) {
	s := NewStore(nil)
	s.Create("ap1", "c1", "u1", nil)

	first, err := s.Approve("ap1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, first.Status)

	second, err := s.Approve("ap1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, second.Status)
	assert.Equal(t, first.ResolvedAt, second.ResolvedAt)
}

func TestStore_DenyAfterApproveIsNoOp(t *testing.T) {
	s := NewStore(nil)
	s.Create("ap1", "c1", "u1", nil)

	_, err := s.Approve("ap1")
	require.NoError(t, err)

	got, err := s.Deny("ap1")
	require.NoError(t, err, "terminal transition attempts are not errors")
	assert.Equal(t, StatusApproved, got.Status, "existing terminal state returned")
}

func TestStore_WaitUnblocksOnResolution(t *testing.T) {
	s := NewStore(nil)
	s.Create("ap1", "c1", "u1", nil)

	resultCh := make(chan Request, 1)
	go func() {
		req, err := s.Wait(context.Background(), "ap1")
		if err == nil {
			resultCh <- req
		}
	}()

	time.Sleep(10 * time.Millisecond)
	_, err := s.Deny("ap1")
	require.NoError(t, err)

	select {
	case req := <-resultCh:
		assert.Equal(t, StatusDenied, req.Status)
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after resolution")
	}
}

func TestStore_WaitCancellable(t *testing.T) {
	s := NewStore(nil)
	s.Create("ap1", "c1", "u1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Wait(ctx, "ap1")
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Wait did not observe cancellation")
	}
}

func TestStore_WaitOnResolvedReturnsImmediately(t *testing.T) {
	s := NewStore(nil)
	s.Create("ap1", "c1", "u1", nil)
	_, err := s.Approve("ap1")
	require.NoError(t, err)

	req, err := s.Wait(context.Background(), "ap1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, req.Status)
}

func TestStore_Pending(t *testing.T) {
	s := NewStore(nil)
	s.Create("ap1", "c1", "u1", nil)
	s.Create("ap2", "c2", "u1", nil)
	_, err := s.Approve("ap1")
	require.NoError(t, err)

	pending := s.Pending()
	assert.Equal(t, []string{"ap2"}, pending)
}
