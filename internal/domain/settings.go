package domain

import "time"

type Strategy string

const (
	StrategyDefault    Strategy = "default"
	StrategyClientWins Strategy = "client_wins"
	StrategyServerWins Strategy = "server_wins"
	StrategyLWW        Strategy = "last_writer_wins"
)

type SyncSettings struct {
	UserID          string                  `json:"user_id"`
	CadenceSeconds  int                     `json:"cadence_seconds"`
	AutoSync        bool                    `json:"auto_sync"`
	PolicyOverrides map[EntityType]Strategy `json:"policy_overrides"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

func (s *SyncSettings) Cadence() time.Duration {
	return time.Duration(s.CadenceSeconds) * time.Second
}

func (s *SyncSettings) Override(t EntityType) Strategy {
	if s == nil || s.PolicyOverrides == nil {
		return StrategyDefault
	}
	if st, ok := s.PolicyOverrides[t]; ok {
		return st
	}
	return StrategyDefault
}

type UpdateSettingsRequest struct {
	CadenceSeconds  *int                    `json:"cadence_seconds" validate:"omitempty,gte=60,lte=86400"`
	AutoSync        *bool                   `json:"auto_sync"`
	PolicyOverrides map[EntityType]Strategy `json:"policy_overrides" validate:"omitempty,dive,keys,required,endkeys,oneof=default client_wins server_wins last_writer_wins"`
}
