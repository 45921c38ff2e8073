package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/pioneerbio/labelcache/internal/cacheerr"
	"github.com/pioneerbio/labelcache/internal/geometry"
)

// writeJSON encodes data to a buffer first so a marshal failure never
// writes a partial body after headers are sent, grounded on
// marmos91-dittofs's handlers.writeJSON.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps a cacheerr.Kind to the HTTP status spec.md §6's table
// names and writes a JSON error body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch cacheerr.KindOf(err) {
	case cacheerr.KindBadRequest:
		status = http.StatusBadRequest
	case cacheerr.KindUnauthorized:
		status = http.StatusUnauthorized
	case cacheerr.KindNotFound:
		status = http.StatusNotFound
	case cacheerr.KindTransport, cacheerr.KindIO, cacheerr.KindParse, cacheerr.KindOutOfMemory, cacheerr.KindUnknown:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// handleHealth serves GET /health.
func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats())
}

// handleLabels serves GET /labels: returns the health-stats object when
// bbox is absent (spec.md §6), or the matching label array when present.
func (s *Service) handleLabels(w http.ResponseWriter, r *http.Request) {
	blobPath := r.URL.Query().Get("blob_path")
	if blobPath == "" {
		writeError(w, cacheerr.New(cacheerr.KindBadRequest, "handleLabels", "", errors.New("blob_path is required")))
		return
	}

	bboxParam := r.URL.Query().Get("bbox")
	if bboxParam == "" {
		if _, err := s.ensureIndexed(r.Context(), blobPath); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.Stats())
		return
	}

	bbox, err := parseBBox(bboxParam)
	if err != nil {
		writeError(w, cacheerr.New(cacheerr.KindBadRequest, "handleLabels", blobPath, err))
		return
	}

	body, err := s.Query(r.Context(), blobPath, bbox)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, body)
}

// labelStatsResponse is the GET /labels/stats response body.
type labelStatsResponse struct {
	BlobPath         string  `json:"blob_path"`
	CompressedSizeMB float64 `json:"compressed_size_mb"`
	IsIndexed        bool    `json:"is_indexed"`
}

func (s *Service) handleLabelsStats(w http.ResponseWriter, r *http.Request) {
	blobPath := r.URL.Query().Get("blob_path")
	if blobPath == "" {
		writeError(w, cacheerr.New(cacheerr.KindBadRequest, "handleLabelsStats", "", errors.New("blob_path is required")))
		return
	}
	sizeMB, indexed := s.BlobStats(blobPath)
	writeJSON(w, http.StatusOK, labelStatsResponse{BlobPath: blobPath, CompressedSizeMB: sizeMB, IsIndexed: indexed})
}

type invalidateResponse struct {
	Invalidated bool `json:"invalidated"`
}

func (s *Service) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	blobPath := r.URL.Query().Get("blob_path")
	if blobPath == "" {
		writeError(w, cacheerr.New(cacheerr.KindBadRequest, "handleInvalidate", "", errors.New("blob_path is required")))
		return
	}
	s.Invalidate(blobPath)
	writeJSON(w, http.StatusOK, invalidateResponse{Invalidated: true})
}

// parseBBox parses "minX,minY,maxX,maxY" into a geometry.BBox.
func parseBBox(raw string) (geometry.BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return geometry.BBox{}, errors.New("bbox must have 4 comma-separated components: minX,minY,maxX,maxY")
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geometry.BBox{}, errors.New("bbox component is not a number: " + p)
		}
		vals[i] = v
	}
	bbox := geometry.BBox{MinX: vals[0], MinY: vals[1], MaxX: vals[2], MaxY: vals[3]}
	if bbox.MinX > bbox.MaxX || bbox.MinY > bbox.MaxY {
		return geometry.BBox{}, errors.New("bbox min must not exceed max")
	}
	return bbox, nil
}
