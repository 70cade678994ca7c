// Package session holds the per-user conversation scratchpad and its
// idle-timeout eviction. It is distinct from the security-layer session
// kept by the access gate: this state expires on inactivity, the other
// on an absolute deadline.
package session

import "time"

// FlowID identifies a registered conversation flow. Using a closed set of
// identifiers instead of free-form strings keeps dispatch markers
// typo-proof.
type FlowID string

const (
	// FlowNone means no flow currently owns the session.
	FlowNone FlowID = ""
	// FlowMainMenu is the authenticated main menu flow.
	FlowMainMenu FlowID = "mainMenu"
	// FlowAuthentication handles document-number login.
	FlowAuthentication FlowID = "authentication"
	// FlowTicketCreation is the guided self-help and ticket flow.
	FlowTicketCreation FlowID = "ticketCreation"
	// FlowAgentHandover transfers the conversation to a human agent.
	FlowAgentHandover FlowID = "agentHandover"
)

// Step enumerates positions inside a multi-step flow.
type Step string

const (
	StepNone            Step = ""
	StepCategory        Step = "category"
	StepSelfHelp        Step = "self_help_response"
	StepSelfHelpStep2   Step = "self_help_step2"
	StepProblemPersists Step = "problem_persists"
	StepDescription     Step = "description"
)

// Data is the per-user mutable scratchpad. At most one flow may claim
// ActiveFlow at a time; ResetFlowState clears it together with every
// flow-owned transient field so no orphaned state survives a flow change.
type Data struct {
	ActiveFlow FlowID
	Step       Step

	// Ticket flow scratch.
	Category    string
	Description string
	ClientName  string

	// Agent handover state.
	AdvisorAttempts       int
	HandoverTicketID      string
	BotPaused             bool
	ConversationWithAgent bool
	CRMConversationID     string
	AgentLastActivity     time.Time

	LastActivity time.Time
}

// ResetFlowState clears the active-flow marker and all flow-scoped
// transient fields. Handover pause flags are conversation state owned by
// the orchestrator and are not touched here.
func (d *Data) ResetFlowState() {
	d.ActiveFlow = FlowNone
	d.Step = StepNone
	d.Category = ""
	d.Description = ""
	d.ClientName = ""
	d.AdvisorAttempts = 0
	d.HandoverTicketID = ""
}

// EndConversation clears everything including the agent-handover state.
func (d *Data) EndConversation() {
	d.ResetFlowState()
	d.BotPaused = false
	d.ConversationWithAgent = false
	d.CRMConversationID = ""
	d.AgentLastActivity = time.Time{}
}
