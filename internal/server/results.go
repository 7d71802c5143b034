package server

import (
	"net/http"
	"strconv"

	"proxyward/internal/model"
)

// summaryListItem is one row of the cross-run results view.
type summaryListItem struct {
	summaryJSON
	ProxyLabel   string `json:"proxy_label"`
	ProviderName string `json:"provider_name"`
}

type summaryRow struct {
	model.RunSummary
	ProxyLabel   string
	ProviderName string
}

// handleListSummaries is the comparison view: latest summaries across all
// runs, newest first. Simple offset-free listing, not cursor paged.
func (s *Server) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 20
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}

	query := s.db.WithContext(r.Context()).Model(&model.RunSummary{}).
		Select("run_summaries.*, proxy_endpoints.label AS proxy_label, providers.name AS provider_name").
		Joins("LEFT JOIN proxy_endpoints ON run_summaries.proxy_id = proxy_endpoints.id").
		Joins("LEFT JOIN providers ON proxy_endpoints.provider_id = providers.id").
		Order("run_summaries.computed_at DESC").
		Limit(limit)
	if proxyID := q.Get("proxy_id"); proxyID != "" {
		query = query.Where("run_summaries.proxy_id = ?", proxyID)
	}

	var rows []summaryRow
	if err := query.Find(&rows).Error; err != nil {
		respondError(w, r, err)
		return
	}

	items := make([]summaryListItem, len(rows))
	for i, row := range rows {
		items[i] = summaryListItem{
			summaryJSON:  summaryView(row.RunSummary),
			ProxyLabel:   row.ProxyLabel,
			ProviderName: row.ProviderName,
		}
	}
	respondData(w, http.StatusOK, items)
}
