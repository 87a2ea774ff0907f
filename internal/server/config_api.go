package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thinkgate-dev/thinkgate/internal/config"
	"github.com/thinkgate-dev/thinkgate/internal/protocol"
	"github.com/thinkgate-dev/thinkgate/internal/reasoning"
)

// reveal reports whether the caller asked for plaintext secrets. The proxy
// binds to loopback by default, so this is a convenience, not a privilege
// boundary.
func reveal(c *gin.Context) bool {
	return c.Query("reveal") == "true"
}

func (s *Server) handleReasoningTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"types": reasoning.Catalog()})
}

func (s *Server) handleGetProxy(c *gin.Context) {
	settings := s.store.Proxy()
	if !reveal(c) {
		settings = settings.Masked()
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) handleUpdateProxy(c *gin.Context) {
	var settings config.ProxySettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		respondError(c, protocol.ErrTypeBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	restartRequired, err := s.store.UpdateProxy(settings)
	if err != nil {
		respondError(c, protocol.ErrTypeConfigInvalid, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "restart_required": restartRequired})
}

func (s *Server) handleListProfiles(c *gin.Context) {
	profiles := s.store.Profiles()
	if !reveal(c) {
		for i, p := range profiles {
			profiles[i] = p.Masked()
		}
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles, "default_profile": s.store.Snapshot().DefaultProfile})
}

func (s *Server) handleCreateProfile(c *gin.Context) {
	var profile config.Profile
	if err := c.ShouldBindJSON(&profile); err != nil {
		respondError(c, protocol.ErrTypeBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	created, err := s.store.CreateProfile(&profile)
	if err != nil {
		respondError(c, protocol.ErrTypeConfigInvalid, err.Error())
		return
	}
	if !reveal(c) {
		created = created.Masked()
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleGetProfile(c *gin.Context) {
	profile, err := s.store.Profile(c.Param("id"))
	if err != nil {
		respondError(c, protocol.ErrTypeNoProfileMatch, err.Error())
		return
	}
	if !reveal(c) {
		profile = profile.Masked()
	}
	c.JSON(http.StatusOK, profile)
}

func (s *Server) handleUpdateProfile(c *gin.Context) {
	var profile config.Profile
	if err := c.ShouldBindJSON(&profile); err != nil {
		respondError(c, protocol.ErrTypeBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	updated, err := s.store.UpdateProfile(c.Param("id"), &profile)
	if err != nil {
		if errors.Is(err, config.ErrProfileNotFound) {
			respondError(c, protocol.ErrTypeNoProfileMatch, err.Error())
			return
		}
		respondError(c, protocol.ErrTypeConfigInvalid, err.Error())
		return
	}
	if !reveal(c) {
		updated = updated.Masked()
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteProfile(c *gin.Context) {
	if err := s.store.DeleteProfile(c.Param("id")); err != nil {
		if errors.Is(err, config.ErrProfileNotFound) {
			respondError(c, protocol.ErrTypeNoProfileMatch, err.Error())
			return
		}
		respondError(c, protocol.ErrTypeConfigInvalid, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleTestProfiles dry-runs profile resolution for a model name: every
// matching profile in priority order plus the one routing would pick.
func (s *Server) handleTestProfiles(c *gin.Context) {
	var req struct {
		Model string `json:"model"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Model == "" {
		respondError(c, protocol.ErrTypeBadRequest, "model is required")
		return
	}

	all := s.store.ResolveAll(req.Model)
	matches := make([]*config.Profile, 0, len(all))
	for _, p := range all {
		matches = append(matches, p.Masked())
	}

	var matched *config.Profile
	if resolved, err := s.store.Resolve(req.Model); err == nil {
		matched = resolved.Masked()
	}
	c.JSON(http.StatusOK, gin.H{"matched": matched, "all_matches": matches})
}

func (s *Server) handleSetDefaultProfile(c *gin.Context) {
	var req struct {
		ProfileID string `json:"profile_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ProfileID == "" {
		respondError(c, protocol.ErrTypeBadRequest, "profile_id is required")
		return
	}

	if err := s.store.SetDefaultProfile(req.ProfileID); err != nil {
		respondError(c, protocol.ErrTypeNoProfileMatch, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleExportConfig returns the full document with secrets intact so the
// output round-trips through import.
func (s *Server) handleExportConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Export())
}

func (s *Server) handleImportConfig(c *gin.Context) {
	merge := c.Query("merge") == "true"

	var doc config.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		respondError(c, protocol.ErrTypeBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if err := s.store.Import(doc, merge); err != nil {
		respondError(c, protocol.ErrTypeConfigInvalid, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
