package memory

import "github.com/ignite/reviewloop/internal/domain"

// Snapshots in insertion order, for tests and the dev server.

// Enrollments returns every enrollment.
func (s *Store) Enrollments() []domain.Enrollment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Enrollment, 0, len(s.enrollmentOrder))
	for _, id := range s.enrollmentOrder {
		out = append(out, s.enrollments[id])
	}
	return out
}

// Touches returns every touch slot of an enrollment.
func (s *Store) Touches(enrollmentID string) []domain.ScheduledTouch {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ScheduledTouch
	for _, id := range s.touchOrder {
		if t := s.touches[id]; t.EnrollmentID == enrollmentID {
			out = append(out, t)
		}
	}
	return out
}

// SendLogs returns every send log of an enrollment.
func (s *Store) SendLogs(enrollmentID string) []domain.SendLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SendLog
	for _, id := range s.sendLogOrder {
		if l := s.sendLogs[id]; l.EnrollmentID == enrollmentID {
			out = append(out, l)
		}
	}
	return out
}

// RetryItems returns every retry item.
func (s *Store) RetryItems() []domain.RetryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RetryItem, 0, len(s.retryOrder))
	for _, id := range s.retryOrder {
		out = append(out, s.retries[id])
	}
	return out
}

// Ratings returns every rating.
func (s *Store) Ratings() []domain.Rating {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Rating(nil), s.ratings...)
}

// Feedback returns every feedback message.
func (s *Store) Feedback() []domain.Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Feedback(nil), s.feedback...)
}
