package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"wabot/core/session"
)

func TestModeTransitionsAreLogged(t *testing.T) {
	r := New(session.FlowMainMenu)
	require.Equal(t, ModeRunning, r.Mode())

	r.SetMode(ModeMaintenance)
	require.Equal(t, ModeMaintenance, r.Mode())

	logs := r.Logs()
	require.NotEmpty(t, logs)
	require.Contains(t, logs[len(logs)-1].Message, "maintenance")
}

func TestFlowEnableDisable(t *testing.T) {
	r := New(session.FlowMainMenu, session.FlowTicketCreation)
	require.True(t, r.FlowEnabled(session.FlowTicketCreation))

	r.DisableFlow(session.FlowTicketCreation)
	require.False(t, r.FlowEnabled(session.FlowTicketCreation))
	require.True(t, r.FlowEnabled(session.FlowMainMenu))

	r.EnableFlow(session.FlowTicketCreation)
	require.True(t, r.FlowEnabled(session.FlowTicketCreation))
}

func TestMaintenanceResponseUsesCustomText(t *testing.T) {
	r := New()
	require.Contains(t, r.MaintenanceResponse(), "mantenimiento")

	r.SetMaintenanceMessage("Volvemos a las 3pm.")
	require.Contains(t, r.MaintenanceResponse(), "Volvemos a las 3pm.")
}

func TestLogRingCapped(t *testing.T) {
	r := New()
	for i := 0; i < logRingCap+50; i++ {
		r.AddLog("info", fmt.Sprintf("entry %d", i))
	}
	logs := r.Logs()
	require.Len(t, logs, logRingCap)
	// Oldest entries were dropped.
	require.Equal(t, "entry 50", logs[0].Message)
	require.Equal(t, fmt.Sprintf("entry %d", logRingCap+49), logs[len(logs)-1].Message)
}

func TestCounters(t *testing.T) {
	r := New()
	r.IncrementProcessed()
	r.IncrementProcessed()
	r.IncrementErrors()

	m := r.Snapshot()
	require.Equal(t, uint64(2), m.MessagesProcessed)
	require.Equal(t, uint64(1), m.ErrorsCount)

	r.ResetMetrics()
	m = r.Snapshot()
	require.Zero(t, m.MessagesProcessed)
	require.Zero(t, m.ErrorsCount)
}
