package ledger

// statusMap tracks, per event, which observers have satisfied it. Entries
// only move from pending (false) to satisfied (true).
type statusMap struct {
	entries map[string]map[string]bool
	// early holds satisfactions reported for observers not yet seeded.
	early map[string]map[string]struct{}
}

func newStatusMap() *statusMap {
	return &statusMap{
		entries: make(map[string]map[string]bool),
		early:   make(map[string]map[string]struct{}),
	}
}

// seed adds entries for observers that have none yet. An observer that
// already reported is seeded as satisfied.
func (m *statusMap) seed(eventID string, observers []string) {
	if len(observers) == 0 {
		return
	}
	entry := m.entries[eventID]
	if entry == nil {
		entry = make(map[string]bool, len(observers))
		m.entries[eventID] = entry
	}
	early := m.early[eventID]
	for _, observer := range observers {
		if _, ok := entry[observer]; ok {
			continue
		}
		_, done := early[observer]
		entry[observer] = done
		delete(early, observer)
	}
	if len(early) == 0 {
		delete(m.early, eventID)
	}
}

// satisfy flips a pending entry. Reports whether anything visible changed;
// satisfactions for untracked observers are kept for a later seed.
func (m *statusMap) satisfy(eventID, observer string) bool {
	entry := m.entries[eventID]
	done, tracked := entry[observer]
	if !tracked {
		early := m.early[eventID]
		if early == nil {
			early = make(map[string]struct{})
			m.early[eventID] = early
		}
		early[observer] = struct{}{}
		return false
	}
	if done {
		return false
	}
	entry[observer] = true
	return true
}

func (m *statusMap) snapshot(eventID string) map[string]bool {
	entry, ok := m.entries[eventID]
	if !ok {
		return nil
	}
	out := make(map[string]bool, len(entry))
	for observer, done := range entry {
		out[observer] = done
	}
	return out
}

func (m *statusMap) pending() int {
	count := 0
	for _, entry := range m.entries {
		for _, done := range entry {
			if !done {
				count++
			}
		}
	}
	return count
}
