package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu    sync.Mutex
	sends []string
}

func (n *recordingNotifier) SendText(_ context.Context, phone, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, phone)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sends)
}

func clockStore(t *testing.T, notifier Notifier) (*Store, *time.Time) {
	t.Helper()
	s := NewStore(Options{
		IdleTimeout: 10 * time.Minute,
		Notifier:    notifier,
	})
	t.Cleanup(s.Close)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestIdleSessionEvictedWithSingleNotice(t *testing.T) {
	n := &recordingNotifier{}
	s, now := clockStore(t, n)

	s.Get("5215550200")
	require.Equal(t, 1, s.Len())

	*now = now.Add(10*time.Minute + time.Second)
	s.sweep()
	require.Zero(t, s.Len())
	require.Equal(t, 1, n.count())

	// Further sweeps must not re-notify.
	s.sweep()
	require.Equal(t, 1, n.count())
}

func TestActivityReschedulesInsteadOfStacking(t *testing.T) {
	n := &recordingNotifier{}
	s, now := clockStore(t, n)

	s.Get("5215550201")
	// Repeated activity leaves multiple heap entries; only the newest
	// generation may fire.
	for i := 0; i < 5; i++ {
		*now = now.Add(2 * time.Minute)
		s.Touch("5215550201")
	}

	// Past the original deadline but inside the refreshed one.
	s.sweep()
	require.Equal(t, 1, s.Len())
	require.Zero(t, n.count())

	*now = now.Add(10*time.Minute + time.Second)
	s.sweep()
	require.Zero(t, s.Len())
	require.Equal(t, 1, n.count(), "exactly one expiry notice")
}

func TestClearSuppressesPendingEviction(t *testing.T) {
	n := &recordingNotifier{}
	s, now := clockStore(t, n)

	s.Get("5215550202")
	s.Clear("5215550202")

	*now = now.Add(time.Hour)
	s.sweep()
	require.Zero(t, n.count(), "cleared sessions never get a notice")
}

func TestGetCreatesAndPreservesData(t *testing.T) {
	s, _ := clockStore(t, nil)

	d := s.Get("5215550203")
	d.ActiveFlow = FlowTicketCreation
	d.Step = StepCategory

	again := s.Get("5215550203")
	require.Same(t, d, again)
	require.Equal(t, FlowTicketCreation, again.ActiveFlow)
}

func TestResetFlowStateKeepsPauseFlags(t *testing.T) {
	d := &Data{
		ActiveFlow:            FlowTicketCreation,
		Step:                  StepDescription,
		Category:              "internet",
		BotPaused:             true,
		ConversationWithAgent: true,
		CRMConversationID:     "conv-1",
	}
	d.ResetFlowState()
	require.Equal(t, FlowNone, d.ActiveFlow)
	require.Equal(t, StepNone, d.Step)
	require.Empty(t, d.Category)
	require.True(t, d.BotPaused, "agent pause survives flow reset")
	require.True(t, d.ConversationWithAgent)
	require.Equal(t, "conv-1", d.CRMConversationID)
}

func TestEndConversationClearsEverything(t *testing.T) {
	d := &Data{
		ActiveFlow:        FlowAgentHandover,
		BotPaused:         true,
		CRMConversationID: "conv-2",
	}
	d.EndConversation()
	require.Equal(t, FlowNone, d.ActiveFlow)
	require.False(t, d.BotPaused)
	require.Empty(t, d.CRMConversationID)
}
