package campaigns

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// killSwitchKey persists the process-wide kill switch across restarts.
const killSwitchKey = "campaigns:killswitch"

// KillSwitchState is the persisted kill-switch record.
type KillSwitchState struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason,omitempty"`
	ActivatedBy string    `json:"activated_by,omitempty"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
}

// SetKillSwitch activates or clears the global kill switch. While
// active, all start and resume operations are refused.
func (s *Service) SetKillSwitch(ctx context.Context, active bool, reason, actor string) error {
	if !active {
		return s.Redis.Del(ctx, killSwitchKey).Err()
	}
	state := KillSwitchState{
		Active:      true,
		Reason:      reason,
		ActivatedBy: actor,
		ActivatedAt: time.Now(),
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.Log.Warn("Kill switch activated", "reason", reason, "actor", actor)
	return s.Redis.Set(ctx, killSwitchKey, data, 0).Err()
}

// KillSwitch returns the current kill-switch state.
func (s *Service) KillSwitch(ctx context.Context) (*KillSwitchState, error) {
	raw, err := s.Redis.Get(ctx, killSwitchKey).Result()
	if err == redis.Nil {
		return &KillSwitchState{}, nil
	}
	if err != nil {
		return nil, err
	}
	var state KillSwitchState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return &KillSwitchState{Active: true}, nil
	}
	return &state, nil
}
