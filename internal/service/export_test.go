package service

// PendingTypingTimers reports how many typing expiries are armed.
func (s *PresenceService) PendingTypingTimers() int {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	return len(s.typingTimers)
}
