// Package search provides admin roster search: Meilisearch-backed full-text
// lookup over chats, with an in-memory scan fallback when Meilisearch is not
// configured or unhealthy.
package search

// ChatRecord is the data indexed per chat.
type ChatRecord struct {
	ID          string `json:"id"`
	UserName    string `json:"userName"`
	Reference   string `json:"reference"`
	Mobile      string `json:"mobile"`
	SupportType string `json:"supportType"`
	Status      string `json:"status"`
}

// Query describes a roster search request.
type Query struct {
	Text   string
	Status string // "", "all", "open" or "closed"
	Limit  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []ChatRecord `json:"results"`
	Total   int          `json:"total"`
	Query   string       `json:"query"`
}
