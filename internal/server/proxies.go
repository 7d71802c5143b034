package server

import (
	"net/http"

	"proxyward/internal/apperr"
	"proxyward/internal/logger"
	"proxyward/internal/model"
	"proxyward/internal/pagination"

	"gorm.io/gorm"
)

// proxyJSON is the read shape: the encrypted blob never leaves the store,
// callers only learn whether a password exists.
type proxyJSON struct {
	model.ProxyEndpoint
	HasPassword bool `json:"has_password"`
}

func proxyView(p model.ProxyEndpoint) proxyJSON {
	return proxyJSON{ProxyEndpoint: p, HasPassword: p.AuthPassEnc != ""}
}

type proxyRequest struct {
	ProviderID      *string `json:"provider_id"`
	Label           *string `json:"label"`
	Host            *string `json:"host"`
	Port            *int    `json:"port"`
	Protocol        *string `json:"protocol"`
	AuthUser        *string `json:"auth_user"`
	AuthPass        *string `json:"auth_pass"`
	ExpectedCountry *string `json:"expected_country"`
	ExpectedCity    *string `json:"expected_city"`
	IsDedicated     *bool   `json:"is_dedicated"`
	IsActive        *bool   `json:"is_active"`
}

func (s *Server) handleCreateProxy(w http.ResponseWriter, r *http.Request) {
	var req proxyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	if req.ProviderID == nil || req.Label == nil || req.Host == nil || req.Port == nil {
		respondError(w, r, apperr.Validation("provider_id, label, host, port are required"))
		return
	}
	if *req.Port < 1 || *req.Port > 65535 {
		respondError(w, r, apperr.Validation("port must be between 1 and 65535"))
		return
	}

	protocol := model.ProtocolHTTP
	if req.Protocol != nil {
		protocol = *req.Protocol
	}
	if !model.IsValidProtocol(protocol) {
		respondError(w, r, apperr.Validation("protocol must be http, https or socks5"))
		return
	}

	var provider model.Provider
	if err := s.db.WithContext(r.Context()).Select("id").First(&provider, "id = ?", *req.ProviderID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			respondError(w, r, apperr.NotFound("provider not found"))
			return
		}
		respondError(w, r, err)
		return
	}

	proxy := model.ProxyEndpoint{
		ProviderID: *req.ProviderID,
		Label:      *req.Label,
		Host:       *req.Host,
		Port:       *req.Port,
		Protocol:   protocol,
		IsActive:   true,
	}
	if req.AuthUser != nil {
		proxy.AuthUser = *req.AuthUser
	}
	if req.ExpectedCountry != nil {
		proxy.ExpectedCountry = *req.ExpectedCountry
	}
	if req.ExpectedCity != nil {
		proxy.ExpectedCity = *req.ExpectedCity
	}
	if req.IsDedicated != nil {
		proxy.IsDedicated = *req.IsDedicated
	}
	if req.IsActive != nil {
		proxy.IsActive = *req.IsActive
	}

	if req.AuthPass != nil && *req.AuthPass != "" {
		enc, err := s.vault.Encrypt(*req.AuthPass, proxy.Label)
		if err != nil {
			respondError(w, r, err)
			return
		}
		proxy.AuthPassEnc = enc
	}

	if err := s.db.WithContext(r.Context()).Create(&proxy).Error; err != nil {
		respondError(w, r, err)
		return
	}

	logger.Log.Infow("Proxy created",
		"proxy_id", proxy.ID,
		"provider_id", proxy.ProviderID,
		"label", proxy.Label,
	)
	respondData(w, http.StatusCreated, proxyView(proxy))
}

func (s *Server) handleListProxies(w http.ResponseWriter, r *http.Request) {
	params := pagination.Parse(r.URL.Query())

	query := s.db.WithContext(r.Context()).Model(&model.ProxyEndpoint{})
	if providerID := r.URL.Query().Get("provider_id"); providerID != "" {
		query = query.Where("provider_id = ?", providerID)
	}

	rows, page, err := pagination.Page[model.ProxyEndpoint](query, params, "created_at", "id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	views := make([]proxyJSON, len(rows))
	for i, p := range rows {
		views[i] = proxyView(p)
	}
	respondPage(w, views, page)
}

func (s *Server) handleGetProxy(w http.ResponseWriter, r *http.Request) {
	var proxy model.ProxyEndpoint
	err := s.db.WithContext(r.Context()).First(&proxy, "id = ?", r.PathValue("id")).Error
	if err == gorm.ErrRecordNotFound {
		respondError(w, r, apperr.NotFound("proxy not found"))
		return
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, proxyView(proxy))
}

func (s *Server) handleUpdateProxy(w http.ResponseWriter, r *http.Request) {
	var req proxyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	updates := map[string]interface{}{}
	if req.Label != nil {
		updates["label"] = *req.Label
	}
	if req.Host != nil {
		updates["host"] = *req.Host
	}
	if req.Port != nil {
		if *req.Port < 1 || *req.Port > 65535 {
			respondError(w, r, apperr.Validation("port must be between 1 and 65535"))
			return
		}
		updates["port"] = *req.Port
	}
	if req.Protocol != nil {
		if !model.IsValidProtocol(*req.Protocol) {
			respondError(w, r, apperr.Validation("protocol must be http, https or socks5"))
			return
		}
		updates["protocol"] = *req.Protocol
	}
	if req.AuthUser != nil {
		updates["auth_user"] = *req.AuthUser
	}
	if req.AuthPass != nil {
		// Empty string clears the stored credential
		if *req.AuthPass == "" {
			updates["auth_pass_enc"] = ""
		} else {
			label := ""
			if req.Label != nil {
				label = *req.Label
			}
			enc, err := s.vault.Encrypt(*req.AuthPass, label)
			if err != nil {
				respondError(w, r, err)
				return
			}
			updates["auth_pass_enc"] = enc
		}
	}
	if req.ExpectedCountry != nil {
		updates["expected_country"] = *req.ExpectedCountry
	}
	if req.ExpectedCity != nil {
		updates["expected_city"] = *req.ExpectedCity
	}
	if req.IsDedicated != nil {
		updates["is_dedicated"] = *req.IsDedicated
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) == 0 {
		respondError(w, r, apperr.Validation("no fields to update"))
		return
	}

	res := s.db.WithContext(r.Context()).Model(&model.ProxyEndpoint{}).
		Where("id = ?", r.PathValue("id")).
		Updates(updates)
	if res.Error != nil {
		respondError(w, r, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respondError(w, r, apperr.NotFound("proxy not found"))
		return
	}

	var proxy model.ProxyEndpoint
	if err := s.db.WithContext(r.Context()).First(&proxy, "id = ?", r.PathValue("id")).Error; err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, proxyView(proxy))
}

func (s *Server) handleDeleteProxy(w http.ResponseWriter, r *http.Request) {
	proxyID := r.PathValue("id")

	err := s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var proxy model.ProxyEndpoint
		if err := tx.First(&proxy, "id = ?", proxyID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("proxy not found")
			}
			return err
		}
		return deleteProxiesCascade(tx, []string{proxyID})
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	logger.Log.Infow("Proxy deleted", "proxy_id", proxyID)
	w.WriteHeader(http.StatusNoContent)
}
