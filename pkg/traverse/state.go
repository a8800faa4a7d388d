package traverse

// State records which entities and pages a traversal has visited. A
// fingerprint once recorded is never visited again in the same traversal.
type State struct {
	entities []string
	seen     map[string]bool
	pages    map[string][]string
	pageSeen map[string]map[string]bool
	current  string
}

// NewState creates an empty traversal state.
func NewState() *State {
	return &State{
		seen:     make(map[string]bool),
		pages:    make(map[string][]string),
		pageSeen: make(map[string]map[string]bool),
	}
}

// VisitEntity records key and reports whether it was new.
func (s *State) VisitEntity(key string) bool {
	if s.seen[key] {
		return false
	}
	s.seen[key] = true
	s.entities = append(s.entities, key)
	s.current = key
	return true
}

// VisitPage records a page fingerprint under entity and reports whether it
// was new. A repeat is the cycle signal.
func (s *State) VisitPage(entity, fingerprint string) bool {
	seen := s.pageSeen[entity]
	if seen == nil {
		seen = make(map[string]bool)
		s.pageSeen[entity] = seen
	}
	if seen[fingerprint] {
		return false
	}
	seen[fingerprint] = true
	s.pages[entity] = append(s.pages[entity], fingerprint)
	return true
}

// Entities returns visited entity keys in visit order.
func (s *State) Entities() []string {
	return append([]string(nil), s.entities...)
}

// Pages returns the page fingerprints visited for entity, in order.
func (s *State) Pages(entity string) []string {
	return append([]string(nil), s.pages[entity]...)
}

// PageCount returns the number of distinct pages visited across all
// entities.
func (s *State) PageCount() int {
	n := 0
	for _, fps := range s.pages {
		n += len(fps)
	}
	return n
}

// Current returns the entity being walked.
func (s *State) Current() string {
	return s.current
}

// Cursor returns the zero-based index of the last page visited for the
// current entity, or -1 before the first.
func (s *State) Cursor() int {
	return len(s.pages[s.current]) - 1
}
