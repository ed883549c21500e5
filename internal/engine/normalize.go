package engine

import (
	"time"

	"example.com/analysis/internal/domain"
)

// deviceTimeOffset computes the clock skew of the reporting device. Offsets
// within the inaccuracy margin are treated as noise and ignored.
func deviceTimeOffset(deviceNow, serverNow time.Time) time.Duration {
	offset := deviceNow.Sub(serverNow)
	if offset < 0 {
		if -offset <= DeviceTimeInaccuracyMargin {
			return 0
		}
	} else if offset <= DeviceTimeInaccuracyMargin {
		return 0
	}
	return offset
}

// buildAppPayload corrects one app activity for clock skew and validates
// its temporal sanity. A validation failure rejects only this event.
func (s *Service) buildAppPayload(user *domain.UserAnonymized, loc *time.Location, offset time.Duration, a AppActivity) (payload, *domain.ValidationError) {
	start := a.StartTime.Add(-offset).In(loc)
	end := a.EndTime.Add(-offset).In(loc)

	if verr := s.validateTimes(a.Application, start, end); verr != nil {
		return payload{}, verr
	}

	return payload{
		user:        user,
		loc:         loc,
		application: a.Application,
		start:       start,
		end:         end,
	}, nil
}

func (s *Service) validateTimes(application string, start, end time.Time) *domain.ValidationError {
	horizon := s.now().Add(DeviceTimeInaccuracyMargin)
	switch {
	case end.Before(start):
		return &domain.ValidationError{Code: domain.ValidationInvalidInterval, Application: application, StartTime: start, EndTime: end}
	case start.After(horizon):
		return &domain.ValidationError{Code: domain.ValidationFutureStart, Application: application, StartTime: start, EndTime: end}
	case end.After(horizon):
		return &domain.ValidationError{Code: domain.ValidationFutureEnd, Application: application, StartTime: start, EndTime: end}
	}
	return nil
}
