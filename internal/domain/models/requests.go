package models

// Requests for the decision-core HTTP endpoints. Defined in domain for
// consistency and reuse.

type SubmitSignalRequest struct {
	AgentID    string            `json:"agent_id" validate:"required"`
	Type       string            `json:"type" validate:"required,oneof=entry_long entry_short exit_long exit_short hold risk_adjust"`
	Confidence float64           `json:"confidence" validate:"gte=0,lte=1"`
	Strength   float64           `json:"strength" validate:"gte=0"`
	Instrument string            `json:"instrument" validate:"required"`
	Rationale  string            `json:"rationale"`
	Extra      map[string]string `json:"extra"`
}

type RegisterAgentRequest struct {
	AgentID        string  `json:"agent_id" validate:"required"`
	AgentType      string  `json:"agent_type" validate:"required"`
	Specialization string  `json:"specialization"`
	BaseWeight     float64 `json:"base_weight" default:"1.0" validate:"gte=0.1,lte=3.0"`
}

type VoteRequest struct {
	Instrument string `query:"instrument" json:"instrument" validate:"required"`
}

type RegimeQueryRequest struct {
	Instrument string `query:"instrument" json:"instrument" validate:"required"`
}

type PlanQueryRequest struct {
	Instrument string `query:"instrument" json:"instrument" validate:"required"`
}

type ClosePositionRequest struct {
	Instrument string  `json:"instrument" validate:"required"`
	Price      float64 `json:"price" validate:"gt=0"`
}

type OutcomeRequest struct {
	Instrument string  `json:"instrument" validate:"required"`
	Outcome    float64 `json:"outcome"`
	Regime     string  `json:"regime" default:"unknown"`
}
