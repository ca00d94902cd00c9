package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"llm-gateway/internal/apperr"
	"llm-gateway/models"
)

// HandleTranscribe accepts a multipart upload and returns the transcription
func (h *Handler) HandleTranscribe(w http.ResponseWriter, r *http.Request) {
	project := h.projectOrReject(w, r)
	if project == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBodyBytes())
	req, err := parseTranscriptionForm(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(req.File) == 0 {
		h.writeError(w, r, apperr.Validation("No file provided"))
		return
	}
	if limit := project.MaxFileSizeBytes(); int64(len(req.File)) > limit {
		h.writeError(w, r, apperr.Validation(fmt.Sprintf("File size %.2fMB exceeds limit of %dMB",
			float64(len(req.File))/(1024*1024), limit/(1024*1024))))
		return
	}

	result, err := h.transcriber.Transcribe(r.Context(), project, req, requestMetadata(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.jsonResponse(w, result)
}

// parseTranscriptionForm streams the multipart body into a request. Unknown
// fields are ignored.
func parseTranscriptionForm(r *http.Request) (*models.TranscriptionRequest, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, apperr.BadRequest("expected multipart/form-data body")
	}

	req := &models.TranscriptionRequest{}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, bodyError(err, "multipart field")
		}

		name := part.FormName()
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, bodyError(err, name)
		}

		if name == "file" {
			req.File = data
			req.FileName = part.FileName()
			if req.FileName == "" {
				req.FileName = models.DefaultAudioFileName
			}
			continue
		}

		value := strings.TrimSpace(string(data))
		switch name {
		case "model":
			req.Model = value
		case "language":
			req.Language = value
		case "prompt":
			req.Prompt = value
		case "response_format":
			if value == "" {
				continue
			}
			format, err := models.ParseResponseFormat(value)
			if err != nil {
				return nil, apperr.Validation(err.Error())
			}
			req.ResponseFormat = format
		case "temperature":
			if value == "" {
				continue
			}
			t, err := strconv.ParseFloat(value, 64)
			if err != nil || t < 0 || t > 1 {
				return nil, apperr.Validation("temperature must be a number between 0 and 1")
			}
			req.Temperature = &t
		case "timestamp_granularities":
			req.TimestampGranularities = models.ParseTimestampGranularities(value)
		case "llm_api_key_id":
			req.LLMAPIKeyID = value
		}
	}

	return req, nil
}
