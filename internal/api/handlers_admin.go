// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"
	"strconv"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/ManuGH/tune2hls/internal/admission"
	"github.com/ManuGH/tune2hls/internal/audit"
	"github.com/ManuGH/tune2hls/internal/auth"
	"github.com/ManuGH/tune2hls/internal/segstore"
)

// requireAdmin guards the administrative routes. Without a configured
// admin key every request is refused.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.AuthorizeAdmin(r, s.cfg.AdminKey) {
			s.audit.Request(r, audit.Event{Type: audit.EventAdminDenied, Action: "admin key rejected", Result: audit.ResultDenied})
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// DiskUsage is the volume holding the cache.
type DiskUsage struct {
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// CacheReport is the body of GET /admin/cache.
type CacheReport struct {
	Cache segstore.Stats `json:"cache"`
	Jobs  admission.Load `json:"jobs"`
	Disk  *DiskUsage     `json:"disk,omitempty"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	logger := s.logger(r)
	stats, err := s.deps.Cache.Stats(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("cache stats failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	s.audit.Request(r, audit.Event{Type: audit.EventCacheStats, Action: "read cache stats", Result: audit.ResultSuccess})
	report := CacheReport{Cache: stats, Jobs: s.deps.Jobs.Load()}
	if usage, err := disk.UsageWithContext(r.Context(), s.deps.Cache.Root()); err == nil {
		report.Disk = &DiskUsage{TotalBytes: usage.Total, FreeBytes: usage.Free, UsedPercent: usage.UsedPercent}
	} else {
		logger.Debug().Err(err).Msg("disk usage unavailable")
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	removed, err := s.deps.Cache.Purge()
	ev := audit.Event{
		Type:    audit.EventCachePurge,
		Action:  "purged cache",
		Result:  audit.ResultSuccess,
		Details: map[string]string{"removed": strconv.Itoa(removed)},
	}
	if err != nil {
		ev.Result = audit.ResultFailure
		ev.Details["error"] = err.Error()
		s.audit.Request(r, ev)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "purge_incomplete", "removed": removed})
		return
	}
	s.audit.Request(r, ev)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
