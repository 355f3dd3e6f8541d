package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"drivecast/internal"
)

var contentTypes = map[string]string{
	"flac": "audio/flac",
	"mp3":  "audio/mpeg",
}

type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"albums": len(s.library.Albums()),
	})
}

func (s *Server) handleAlbums(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"albums": s.library.Albums(),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.library.Reload(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"albums": len(s.library.Albums()),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	disc, track, err := trackParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	info, err := s.library.GetAudioInfo(r.Context(), r.PathValue("album"), disc, track)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// handleAudio streams a track. An inbound Range header is forwarded; when
// the backend confirms a bounded window the reply is 206 with Content-Range.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	disc, track, err := trackParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	album := r.PathValue("album")

	if r.Method == http.MethodHead {
		info, err := s.library.GetAudioInfo(r.Context(), album, disc, track)
		if err != nil {
			s.writeError(w, err)
			return
		}
		setAudioHeaders(w, info)
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	rng, err := internal.ParseRangeHeader(r.Header.Get("Range"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.library.GetAudio(r.Context(), album, disc, track, rng)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer res.Body.Close()

	setAudioHeaders(w, res.Info)
	window := res.Range
	if !rng.IsFull() && window.End == nil && res.Info.Size > 0 {
		// An open window runs to the end of the track
		total := uint64(res.Info.Size)
		if window.Start < total {
			end := total - 1
			window.End = &end
		}
		if window.Total == nil {
			window.Total = &total
		}
	}

	status := http.StatusOK
	if contentRange, ok := window.ContentRange(); ok && !rng.IsFull() {
		w.Header().Set("Content-Range", contentRange)
		if n, ok := window.Length(); ok {
			w.Header().Set("Content-Length", strconv.FormatUint(n, 10))
		}
		status = http.StatusPartialContent
	} else if rng.IsFull() {
		w.Header().Set("Content-Length", strconv.FormatInt(res.Info.Size, 10))
	}
	w.WriteHeader(status)

	if _, err := io.Copy(w, res.Body); err != nil {
		s.logger.Debug("stream of %s/%d/%d ended early: %v", album, disc, track, err)
	}
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	var disc uint8
	if raw := r.PathValue("disc"); raw != "" {
		n, err := parseNumber("disc", raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		disc = n
	}

	body, err := s.library.GetCover(r.Context(), r.PathValue("album"), disc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Debug("cover transfer ended early: %v", err)
	}
}

func setAudioHeaders(w http.ResponseWriter, info internal.AudioInfo) {
	contentType, ok := contentTypes[info.Extension]
	if !ok {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("X-Audio-Duration", strconv.FormatUint(info.Duration, 10))
}

func trackParams(r *http.Request) (disc, track uint8, err error) {
	if disc, err = parseNumber("disc", r.PathValue("disc")); err != nil {
		return 0, 0, err
	}
	if track, err = parseNumber("track", r.PathValue("track")); err != nil {
		return 0, 0, err
	}
	return disc, track, nil
}

func parseNumber(field, raw string) (uint8, error) {
	n, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return 0, internal.NewValidationErrorWithValue(field, "must be a number between 0 and 255", raw)
	}
	return uint8(n), nil
}

// statusFor maps provider error types onto HTTP statuses
func statusFor(err error) int {
	var ve *internal.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}

	errType, ok := internal.TypeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch errType {
	case internal.ErrInvalidPath:
		return http.StatusBadRequest
	case internal.ErrAuth:
		return http.StatusUnauthorized
	case internal.ErrNotFound:
		return http.StatusNotFound
	case internal.ErrBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: http.StatusText(status), Message: err.Error()}

	var pe *internal.ProviderError
	var ve *internal.ValidationError
	switch {
	case errors.As(err, &pe):
		body.Error = pe.Type.String()
		body.Message = pe.Message
		body.Suggestion = pe.Suggestion
		s.logger.Warn("request failed: %s", pe.DetailedError())
	case errors.As(err, &ve):
		body.Error = "Validation"
		body.Message = ve.Error()
	default:
		s.logger.Error("request failed: %v", err)
	}

	s.writeJSON(w, status, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response: %v", err)
	}
}
