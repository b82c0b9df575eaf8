package parser

import (
	"break-scheduler/errors"
	"break-scheduler/metrics"
	"break-scheduler/models"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Parse reads agent break schedules from CSV for a bulk import.
// Lines starting with '#' are headers/comments.
// Each row is: agentId, firstBreak, secondBreak, lunchTime, endOfShift[, alarmEnabled, alarmVolume].
// Times are "HH:MM" (24h) or "3:04AM"/"3AM". secondBreak and endOfShift may be
// left empty. Without the alarm columns the alarm is enabled at volume 100.
func Parse(r io.Reader) ([]models.BreakSchedule, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var schedules []models.BreakSchedule
	lineNum := 0

	for {
		record, err := reader.Read()
		lineNum++
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading CSV at line %d: %w", lineNum, err)
		}

		// Skip headers/comments
		if len(record) > 0 && strings.HasPrefix(strings.TrimSpace(record[0]), "#") {
			continue
		}

		s, err := parseRecord(record)
		if err != nil {
			metrics.ParserErrorsTotal.WithLabelValues(errorType(err)).Inc()
			return nil, &errors.ParseError{
				Line:   lineNum,
				Record: record,
				Err:    err,
			}
		}
		metrics.ParserRecordsTotal.Inc()
		schedules = append(schedules, s)
	}

	return schedules, nil
}

func parseRecord(record []string) (models.BreakSchedule, error) {
	if len(record) != 5 && len(record) != 7 {
		return models.BreakSchedule{}, errors.ErrInvalidFieldCount
	}

	s := models.BreakSchedule{
		AgentID:      strings.TrimSpace(record[0]),
		AlarmEnabled: true,
		AlarmVolume:  100,
	}
	if s.AgentID == "" {
		return s, errors.ErrMissingAgentID
	}

	var err error
	if s.FirstBreak, err = parseTime(record[1]); err != nil {
		return s, err
	}
	if s.SecondBreak, err = parseTime(record[2]); err != nil {
		return s, err
	}
	if s.LunchTime, err = parseTime(record[3]); err != nil {
		return s, err
	}
	if s.EndOfShift, err = parseTime(record[4]); err != nil {
		return s, err
	}
	if !s.FirstBreak.Valid {
		return s, errors.ErrMissingFirstBreak
	}
	if !s.LunchTime.Valid {
		return s, errors.ErrMissingLunch
	}

	if len(record) == 7 {
		if s.AlarmEnabled, err = strconv.ParseBool(strings.TrimSpace(record[5])); err != nil {
			return s, fmt.Errorf("%w: %v", errors.ErrInvalidBool, err)
		}
		if s.AlarmVolume, err = strconv.Atoi(strings.TrimSpace(record[6])); err != nil {
			return s, fmt.Errorf("%w: %v", errors.ErrInvalidVolume, err)
		}
		if s.AlarmVolume < 0 || s.AlarmVolume > 100 {
			return s, fmt.Errorf("%w: %d", errors.ErrInvalidVolume, s.AlarmVolume)
		}
	}

	return s, nil
}

// parseTime accepts "HH:MM" and falls back to the 12-hour "3:04PM"/"3PM" layouts.
func parseTime(value string) (models.TimeOfDay, error) {
	value = strings.TrimSpace(value)
	tod, err := models.ParseTimeOfDay(value)
	if err == nil {
		return tod, nil
	}
	for _, layout := range []string{"3:04PM", "3PM"} {
		if t, perr := time.Parse(layout, strings.ToUpper(value)); perr == nil {
			return models.Clock(t.Hour(), t.Minute()), nil
		}
	}
	return models.TimeOfDay{}, err
}

// errorType maps a parse error to its metrics label
func errorType(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrInvalidFieldCount):
		return "invalid_field_count"
	case stderrors.Is(err, errors.ErrInvalidTime):
		return "invalid_time"
	case stderrors.Is(err, errors.ErrInvalidVolume):
		return "invalid_volume"
	case stderrors.Is(err, errors.ErrInvalidBool):
		return "invalid_bool"
	case stderrors.Is(err, errors.ErrMissingAgentID), stderrors.Is(err, errors.ErrMissingFirstBreak), stderrors.Is(err, errors.ErrMissingLunch):
		return "missing_field"
	default:
		return "other"
	}
}
