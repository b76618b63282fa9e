package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"strconv"

	"github.com/Picklezoid/Astrophotography-Toolkit/internal/astrometry"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/exposure"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/httputil"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/skymap"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/solve"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeUpstreamError maps plate-solving transport failures to 502. The
// upstream's own message is relayed when it sent one.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var apiErr *astrometry.APIError
	if errors.As(err, &apiErr) {
		writeError(w, http.StatusBadGateway, "plate-solving service error: "+apiErr.Message)
		return
	}
	writeError(w, http.StatusBadGateway, "plate-solving service unreachable: "+err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

type exposureRequest struct {
	FocalLength    float64  `json:"focal_length"`
	Aperture       float64  `json:"aperture"`
	PixelPitch     float64  `json:"pixel_pitch"`
	Declination    *float64 `json:"declination"`
	SensorWidthPx  float64  `json:"sensor_width_px"`
	SensorHeightPx float64  `json:"sensor_height_px"`
}

type exposureResponse struct {
	ExposureSeconds  float64 `json:"exposure_seconds"`
	AdjustedSeconds  float64 `json:"adjusted_seconds,omitempty"`
	PixelScaleArcsec float64 `json:"pixel_scale_arcsec"`
	FOVWidthDeg      float64 `json:"fov_width_deg,omitempty"`
	FOVHeightDeg     float64 `json:"fov_height_deg,omitempty"`
}

func (s *Server) handleExposure(w http.ResponseWriter, r *http.Request) {
	var req exposureRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := exposure.Compute(exposure.Params{
		FocalLength: req.FocalLength,
		Aperture:    req.Aperture,
		PixelPitch:  req.PixelPitch,
		Declination: req.Declination,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := exposureResponse{
		ExposureSeconds:  res.ExposureSeconds,
		AdjustedSeconds:  res.AdjustedSeconds,
		PixelScaleArcsec: res.PixelScaleArcsec,
	}
	if req.SensorWidthPx > 0 && req.SensorHeightPx > 0 {
		resp.FOVWidthDeg = exposure.FOVDegrees(req.PixelPitch, req.SensorWidthPx, req.FocalLength)
		resp.FOVHeightDeg = exposure.FOVDegrees(req.PixelPitch, req.SensorHeightPx, req.FocalLength)
	}
	writeJSON(w, http.StatusOK, resp)
}

type previewRequest struct {
	FocalLength    float64  `json:"focal_length"`
	SensorWidthPx  int      `json:"sensor_width_px"`
	SensorHeightPx int      `json:"sensor_height_px"`
	PixelPitch     float64  `json:"pixel_pitch"`
	RA             *float64 `json:"ra"`
	Dec            *float64 `json:"dec"`
	TargetName     string   `json:"target_name"`
	RotationDeg    float64  `json:"rotation"`

	// Observer location is accepted for payload compatibility but has no
	// effect: catalog positions are ICRS J2000.
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// resolveCenter picks the field center from explicit coordinates or a
// catalog name. The bool reports whether a response was already written.
func (s *Server) resolveCenter(w http.ResponseWriter, req previewRequest) (ra, dec float64, done bool) {
	switch {
	case req.RA != nil && req.Dec != nil:
		return *req.RA, *req.Dec, false
	case req.TargetName != "":
		target, ok := s.catalog.Lookup(req.TargetName)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("could not find coordinates for %q", req.TargetName))
			return 0, 0, true
		}
		return target.RADeg, target.DecDeg, false
	default:
		writeError(w, http.StatusBadRequest, "either ra/dec or target_name is required")
		return 0, 0, true
	}
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.FocalLength <= 0 || req.SensorWidthPx <= 0 || req.SensorHeightPx <= 0 || req.PixelPitch <= 0 {
		writeError(w, http.StatusBadRequest, "missing required camera parameters")
		return
	}
	if req.Latitude != nil || req.Longitude != nil {
		s.logger.Debug("observer location ignored; positions are ICRS J2000", "component", "api")
	}

	ra, dec, done := s.resolveCenter(w, req)
	if done {
		return
	}

	render := skymap.Request{
		RADeg:        ra,
		DecDeg:       dec,
		FOVWidthDeg:  exposure.FOVDegrees(req.PixelPitch, float64(req.SensorWidthPx), req.FocalLength),
		FOVHeightDeg: exposure.FOVDegrees(req.PixelPitch, float64(req.SensorHeightPx), req.FocalLength),
		RotationDeg:  req.RotationDeg,
		OutWidth:     req.SensorWidthPx,
		OutHeight:    req.SensorHeightPx,
	}

	img, err := s.renderer.Render(render)
	switch {
	case errors.Is(err, skymap.ErrNoCoverage):
		writeError(w, http.StatusNotFound, "no sky map coverage for this field")
		return
	case errors.Is(err, skymap.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "sky map asset is unavailable")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		s.logger.Error("encoding preview", "component", "api", "error", err)
	}
}

type declinationRequest struct {
	TargetName string   `json:"target_name"`
	RA         *float64 `json:"ra"`
	Dec        *float64 `json:"dec"`
}

func (s *Server) handleDeclination(w http.ResponseWriter, r *http.Request) {
	var req declinationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	// Explicit coordinates pass straight through, matching the lookup the
	// frontend does before a preview request.
	if req.RA != nil && req.Dec != nil {
		writeJSON(w, http.StatusOK, map[string]float64{
			"declination":     *req.Dec,
			"right_ascension": *req.RA,
		})
		return
	}
	if req.TargetName == "" {
		writeError(w, http.StatusBadRequest, "target_name is required")
		return
	}

	target, ok := s.catalog.Lookup(req.TargetName)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("could not find coordinates for %q", req.TargetName))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":            target.Name,
		"declination":     target.DecDeg,
		"right_ascension": target.RADeg,
	})
}

type targetEntry struct {
	Name   string  `json:"name"`
	RADeg  float64 `json:"ra_deg"`
	DecDeg float64 `json:"dec_deg"`
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	targets := s.catalog.Targets()
	entries := make([]targetEntry, 0, len(targets))
	for _, t := range targets {
		entries = append(entries, targetEntry{Name: t.Name, RADeg: t.RADeg, DecDeg: t.DecDeg})
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": entries})
}

// readUpload pulls the multipart "file" field, bounded by the configured
// upload size. The bool reports whether a response was already written.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds the %d byte limit", tooLarge.Limit))
			return "", nil, true
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return "", nil, true
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds the %d byte limit", tooLarge.Limit))
		} else {
			writeError(w, http.StatusBadRequest, "reading upload: "+err.Error())
		}
		return "", nil, true
	}
	return header.Filename, data, false
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ip := httputil.ClientIP(r, s.trustProxy)
	if !s.limiter.Acquire(ip) {
		writeError(w, http.StatusTooManyRequests, "too many concurrent analyses; try again shortly")
		return
	}
	defer s.limiter.Release(ip)

	filename, data, done := s.readUpload(w, r)
	if done {
		return
	}

	res, err := s.solver.Solve(r.Context(), filename, data)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnalyzeAsync(w http.ResponseWriter, r *http.Request) {
	filename, data, done := s.readUpload(w, r)
	if done {
		return
	}

	subID, err := s.solver.Submit(r.Context(), filename, data)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"sub_id": subID})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) handleAnalyzeStatus(w http.ResponseWriter, r *http.Request) {
	subID, ok := pathID(w, r, "sub_id")
	if !ok {
		return
	}

	res, err := s.solver.Snapshot(r.Context(), subID)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnnotations(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "job_id")
	if !ok {
		return
	}

	annotations, err := s.solver.Annotations(r.Context(), jobID)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	if annotations == nil {
		annotations = []astrometry.Annotation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"annotations": annotations})
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "job_id")
	if !ok {
		return
	}

	data, err := s.solver.Overlay(r.Context(), jobID)
	switch {
	case errors.Is(err, solve.ErrUploadGone):
		writeError(w, http.StatusNotFound, "original upload is no longer retained")
		return
	case err != nil:
		writeUpstreamError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}
