// Package store is the Schedule Store: a thin fetch/update facade over the
// backend's break-schedule resource.
package store

import (
	"context"
	stderrors "errors"
	"fmt"

	"break-scheduler/errors"
	"break-scheduler/models"

	"github.com/rs/zerolog/log"
)

// ScheduleAPI is the part of the backend the store needs.
type ScheduleAPI interface {
	GetBreakSchedule(ctx context.Context, agentID string) (*models.BreakSchedule, error)
	UpdateBreakSchedule(ctx context.Context, agentID string, update models.ScheduleUpdate) (*models.BreakSchedule, error)
}

// ScheduleStore fetches and updates break schedules.
type ScheduleStore struct {
	api ScheduleAPI
}

func New(api ScheduleAPI) *ScheduleStore {
	return &ScheduleStore{api: api}
}

// Fetch returns the agent's schedule. A schedule the backend has not
// created yet is not an error: the defaults are returned, and the backend
// creates the record on the first Update.
func (s *ScheduleStore) Fetch(ctx context.Context, agentID string) (*models.BreakSchedule, error) {
	if agentID == "" {
		return nil, errors.ErrMissingAgentID
	}
	schedule, err := s.api.GetBreakSchedule(ctx, agentID)
	if stderrors.Is(err, errors.ErrNotFound) {
		log.Debug().Str("agentId", agentID).Msg("No break schedule yet, using defaults")
		return models.DefaultSchedule(agentID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch break schedule for %s: %w", agentID, err)
	}
	if schedule.AgentID == "" {
		schedule.AgentID = agentID
	}
	return schedule, nil
}

// Update validates and applies a partial update, returning the full
// schedule as stored by the backend.
func (s *ScheduleStore) Update(ctx context.Context, agentID string, update models.ScheduleUpdate) (*models.BreakSchedule, error) {
	if agentID == "" {
		return nil, errors.ErrMissingAgentID
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}
	schedule, err := s.api.UpdateBreakSchedule(ctx, agentID, update)
	if err != nil {
		return nil, fmt.Errorf("update break schedule for %s: %w", agentID, err)
	}
	if schedule.AgentID == "" {
		schedule.AgentID = agentID
	}
	return schedule, nil
}

// ImportResult reports the outcome of one imported schedule.
type ImportResult struct {
	AgentID string
	Err     error
}

// Import writes a batch of full schedules, continuing past individual
// failures.
func (s *ScheduleStore) Import(ctx context.Context, schedules []models.BreakSchedule) []ImportResult {
	results := make([]ImportResult, 0, len(schedules))
	for i := range schedules {
		sched := schedules[i]
		_, err := s.Update(ctx, sched.AgentID, FullUpdate(&sched))
		if err != nil {
			log.Warn().Err(err).Str("agentId", sched.AgentID).Msg("Failed to import break schedule")
		}
		results = append(results, ImportResult{AgentID: sched.AgentID, Err: err})
	}
	return results
}

// FullUpdate converts a complete schedule into an update touching every field.
func FullUpdate(s *models.BreakSchedule) models.ScheduleUpdate {
	first, second, lunch, end := s.FirstBreak, s.SecondBreak, s.LunchTime, s.EndOfShift
	enabled, volume := s.AlarmEnabled, s.AlarmVolume
	return models.ScheduleUpdate{
		FirstBreak:   &first,
		SecondBreak:  &second,
		LunchTime:    &lunch,
		EndOfShift:   &end,
		AlarmEnabled: &enabled,
		AlarmVolume:  &volume,
	}
}
