package search

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Service is the facade that tries Meilisearch first and falls back to a scan
// of the last synced roster. Sync is fed from the live roster subscription,
// so the fallback never needs its own store access.
type Service struct {
	meili *Meili // nil when Meilisearch is not configured

	mu     sync.RWMutex
	roster []ChatRecord
}

// NewService creates a search service. meili may be nil.
func NewService(meili *Meili) *Service {
	return &Service{meili: meili}
}

// Sync replaces the cached roster and, when Meilisearch is up, re-indexes it.
func (s *Service) Sync(records []ChatRecord) {
	s.mu.Lock()
	s.roster = records
	s.mu.Unlock()

	if s.meili != nil && s.meili.Healthy() {
		if err := s.meili.IndexChats(records); err != nil {
			log.Warn().Err(err).Msg("search: index chats failed")
		}
	}
}

// Search tries Meilisearch if healthy, otherwise scans the cached roster.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: results, Total: total, Query: q.Text}
		}
		log.Warn().Err(err).Msg("search: meilisearch error, falling back to roster scan")
	}

	results := s.scan(q)
	return Response{Results: results, Total: len(results), Query: q.Text}
}

// scan filters the cached roster by substring match on name, reference and
// mobile, preserving roster order.
func (s *Service) scan(q Query) []ChatRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	results := make([]ChatRecord, 0, limit)
	for _, record := range s.roster {
		if q.Status != "" && q.Status != "all" && record.Status != q.Status {
			continue
		}
		if needle != "" && !matches(record, needle) {
			continue
		}
		results = append(results, record)
		if len(results) == limit {
			break
		}
	}
	return results
}

func matches(record ChatRecord, needle string) bool {
	return strings.Contains(strings.ToLower(record.UserName), needle) ||
		strings.Contains(strings.ToLower(record.Reference), needle) ||
		strings.Contains(strings.ToLower(record.Mobile), needle)
}
