package server

import (
	"net/http"
	"strings"

	"proxyward/internal/apperr"
	"proxyward/internal/logger"
	"proxyward/internal/model"
	"proxyward/internal/pagination"

	"gorm.io/gorm"
)

type providerRequest struct {
	Name    *string `json:"name"`
	Website *string `json:"website"`
	Notes   *string `json:"notes"`
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		respondError(w, r, apperr.Validation("name is required"))
		return
	}

	provider := model.Provider{Name: strings.TrimSpace(*req.Name)}
	if req.Website != nil {
		provider.Website = *req.Website
	}
	if req.Notes != nil {
		provider.Notes = *req.Notes
	}

	if err := s.db.WithContext(r.Context()).Create(&provider).Error; err != nil {
		if isUniqueViolation(err) {
			respondError(w, r, apperr.Conflict("provider name already exists"))
			return
		}
		respondError(w, r, err)
		return
	}

	logger.Log.Infow("Provider created", "provider_id", provider.ID, "name", provider.Name)
	respondData(w, http.StatusCreated, provider)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	params := pagination.Parse(r.URL.Query())

	query := s.db.WithContext(r.Context()).Model(&model.Provider{})
	rows, page, err := pagination.Page[model.Provider](query, params, "created_at", "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondPage(w, rows, page)
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	var provider model.Provider
	err := s.db.WithContext(r.Context()).First(&provider, "id = ?", r.PathValue("id")).Error
	if err == gorm.ErrRecordNotFound {
		respondError(w, r, apperr.NotFound("provider not found"))
		return
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, provider)
}

func (s *Server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Website != nil {
		updates["website"] = *req.Website
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}
	if len(updates) == 0 {
		respondError(w, r, apperr.Validation("no fields to update"))
		return
	}

	res := s.db.WithContext(r.Context()).Model(&model.Provider{}).
		Where("id = ?", r.PathValue("id")).
		Updates(updates)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			respondError(w, r, apperr.Conflict("provider name already exists"))
			return
		}
		respondError(w, r, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respondError(w, r, apperr.NotFound("provider not found"))
		return
	}

	var provider model.Provider
	if err := s.db.WithContext(r.Context()).First(&provider, "id = ?", r.PathValue("id")).Error; err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, provider)
}

// Provider deletion cascades to its proxies and transitively their runs,
// samples and summaries, in one transaction.
func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("id")

	err := s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var provider model.Provider
		if err := tx.First(&provider, "id = ?", providerID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("provider not found")
			}
			return err
		}

		var proxyIDs []string
		if err := tx.Model(&model.ProxyEndpoint{}).Where("provider_id = ?", providerID).Pluck("id", &proxyIDs).Error; err != nil {
			return err
		}
		if err := deleteProxiesCascade(tx, proxyIDs); err != nil {
			return err
		}
		return tx.Delete(&model.Provider{}, "id = ?", providerID).Error
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	logger.Log.Infow("Provider deleted", "provider_id", providerID)
	w.WriteHeader(http.StatusNoContent)
}

// deleteProxiesCascade removes proxies and everything hanging off them.
func deleteProxiesCascade(tx *gorm.DB, proxyIDs []string) error {
	if len(proxyIDs) == 0 {
		return nil
	}

	var runIDs []string
	if err := tx.Model(&model.TestRun{}).Where("proxy_id IN ?", proxyIDs).Pluck("id", &runIDs).Error; err != nil {
		return err
	}
	if len(runIDs) > 0 {
		if err := tx.Where("run_id IN ?", runIDs).Delete(&model.HttpSample{}).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id IN ?", runIDs).Delete(&model.RunSummary{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.TestRun{}, runIDs).Error; err != nil {
			return err
		}
	}
	return tx.Delete(&model.ProxyEndpoint{}, proxyIDs).Error
}
