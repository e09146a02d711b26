package model

import "time"

// Instance estado values. The estado of an instance only ever moves
// en_progreso -> {en_progreso (new step), aprobado, rechazado}; the latter
// two are absorbing.
const (
	EstadoEnProgreso = "en_progreso"
	EstadoAprobado   = "aprobado"
	EstadoRechazado  = "rechazado"
)

// Step tipo values.
const (
	StepInicio     = "inicio"
	StepAprobacion = "aprobacion"
	StepFin        = "fin"
)

// Historial accion values.
const (
	AccionIniciado  = "iniciado"
	AccionAprobado  = "aprobado"
	AccionRechazado = "rechazado"
)

// Approver resolution strategies for an aprobacion step.
const (
	StrategyRole       = "role"
	StrategySupervisor = "supervisor"
)

// Terminal actions a fin step can carry.
const (
	ActionCambiarEstado = "cambiar_estado"
)

// DefaultTimeoutHoras is used when an aprobacion step does not configure
// its own timeout.
const DefaultTimeoutHoras = 72

// WorkflowDefinition is an organization-scoped rule set describing when an
// approval is required for an entity type and which step graph to follow.
// Definitions are created by admin configuration and are read-only to the
// engine.
type WorkflowDefinition struct {
	ID         int64      `json:"id"`
	OrgID      string     `json:"org_id"`
	EntityType string     `json:"entity_type"`
	Name       string     `json:"name"`
	Condition  *Condition `json:"condition,omitempty"`
	Active     bool       `json:"active"`
}

// ApprovalConfig carries the typed configuration of an aprobacion step.
type ApprovalConfig struct {
	TimeoutHoras     int    `json:"timeout_horas,omitempty"`
	ApproverStrategy string `json:"approver_strategy"`
	ApproverRole     string `json:"approver_role,omitempty"`
	FallbackRole     string `json:"fallback_role,omitempty"`
}

// TerminalConfig carries the typed configuration of a fin step: the action
// applied to the bound entity once the instance reaches aprobado.
type TerminalConfig struct {
	Action      string `json:"action"`
	TargetState string `json:"target_state,omitempty"`
}

// WorkflowStep is one node in the approval graph. Config is a tagged union
// keyed by Tipo: Approval is set for aprobacion steps, Terminal for fin
// steps, and inicio steps carry neither. Outgoing edges reference other
// step ids; zero means no edge.
type WorkflowStep struct {
	ID         int64           `json:"id"`
	WorkflowID int64           `json:"workflow_id"`
	Tipo       string          `json:"tipo"`
	Nombre     string          `json:"nombre"`
	Approval   *ApprovalConfig `json:"approval,omitempty"`
	Terminal   *TerminalConfig `json:"terminal,omitempty"`
	Siguiente  int64           `json:"siguiente,omitempty"`
	Aprobar    int64           `json:"aprobar,omitempty"`
	Rechazar   int64           `json:"rechazar,omitempty"`
}

// TimeoutHoras returns the configured approval timeout for the step, or the
// engine default when unset.
func (s *WorkflowStep) TimeoutHoras() int {
	if s.Approval != nil && s.Approval.TimeoutHoras > 0 {
		return s.Approval.TimeoutHoras
	}
	return DefaultTimeoutHoras
}

// WorkflowInstance is one in-flight (or completed) execution of a definition
// against a specific entity. Created by the instantiator, mutated only by the
// approval processor, never deleted.
type WorkflowInstance struct {
	ID            string         `json:"id"`
	WorkflowID    int64          `json:"workflow_id"`
	OrgID         string         `json:"org_id"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	CurrentStepID int64          `json:"current_step_id"`
	Estado        string         `json:"estado"`
	Context       map[string]any `json:"context,omitempty"`
	RequestedBy   string         `json:"requested_by"`
	Deadline      time.Time      `json:"deadline"`
	Outcome       map[string]any `json:"outcome,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Version       int            `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// IsTerminal reports whether the instance has reached an absorbing estado.
func (i *WorkflowInstance) IsTerminal() bool {
	return i.Estado == EstadoAprobado || i.Estado == EstadoRechazado
}

// HistoryEntry is an append-only audit record of one state-affecting action.
// Exactly one entry is written per transition, in the same transaction as the
// instance mutation.
type HistoryEntry struct {
	ID         string         `json:"id"`
	InstanceID string         `json:"instance_id"`
	StepID     int64          `json:"step_id"`
	Accion     string         `json:"accion"`
	ActorID    string         `json:"actor_id"`
	Comment    string         `json:"comment,omitempty"`
	Snapshot   map[string]any `json:"snapshot,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Approver is a candidate user authorized to act on an aprobacion step.
type Approver struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	IsDelegate bool   `json:"is_delegate"`
}

// BranchAssignment links a user to a branch/location within an organization.
type BranchAssignment struct {
	BranchID  int64 `json:"branch_id"`
	IsManager bool  `json:"is_manager"`
	Active    bool  `json:"active"`
}
