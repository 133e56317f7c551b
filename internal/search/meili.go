package search

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog/log"
)

const idxChats = "chatsupport_chats"

// Meili indexes and searches chats via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the chats index. The
// caller may proceed even when the initial connection fails; the background
// monitor reconfigures the index once Meilisearch comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("search: meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxChats,
		PrimaryKey: "id",
	}); err != nil {
		log.Warn().Err(err).Msg("search: create chats index (may already exist)")
	}

	index := m.client.Index(idxChats)
	filterable := []interface{}{"status", "supportType"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Warn().Err(err).Msg("search: update filterable attrs")
	}
	searchable := []string{"userName", "reference", "mobile"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Warn().Err(err).Msg("search: update searchable attrs")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Info().Msg("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexChats bulk-upserts chat records.
func (m *Meili) IndexChats(records []ChatRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxChats).AddDocuments(records, nil)
	return err
}

// Search queries the chats index.
func (m *Meili) Search(q Query) ([]ChatRecord, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		Limit: limit,
	}
	if q.Status != "" && q.Status != "all" {
		sr.Filter = []string{fmt.Sprintf("status = %q", q.Status)}
	}

	resp, err := m.client.Index(idxChats).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]ChatRecord, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToRecord(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToRecord(hit meili.Hit) ChatRecord {
	return ChatRecord{
		ID:          decodeString(hit, "id"),
		UserName:    decodeString(hit, "userName"),
		Reference:   decodeString(hit, "reference"),
		Mobile:      decodeString(hit, "mobile"),
		SupportType: decodeString(hit, "supportType"),
		Status:      decodeString(hit, "status"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
