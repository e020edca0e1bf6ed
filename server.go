package main

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/Tutortoise/facial-attribute-service/detections"
	"github.com/Tutortoise/facial-attribute-service/models"
	"github.com/Tutortoise/facial-attribute-service/pipeline"
	"github.com/Tutortoise/facial-attribute-service/publish"
	"github.com/Tutortoise/facial-attribute-service/render"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxFrameBytes = 10 << 20

type AppState struct {
	Pipeline  *pipeline.Pipeline
	Render    *render.Loop
	Hub       *render.Hub
	Mirror    *publish.Redis
	Ingest    *ingestLimiter
	CPU       detections.CPUFeatures
	Log       logrus.FieldLogger
	StartedAt time.Time
}

type FrameResponse struct {
	Accepted bool   `json:"accepted"`
	Seq      uint64 `json:"seq"`
	TraceID  string `json:"trace_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Message  string `json:"message"`
}

type ActiveRequest struct {
	Active *bool `json:"active"`
}

type ActiveResponse struct {
	Active  bool   `json:"active"`
	Changed bool   `json:"changed"`
	Message string `json:"message"`
}

type MetricsResponse struct {
	Pipeline         pipeline.Stats         `json:"pipeline"`
	CPU              detections.CPUFeatures `json:"cpu"`
	WebsocketClients int                    `json:"websocket_clients"`
	Redis            *publish.Stats         `json:"redis,omitempty"`
	UptimeSeconds    float64                `json:"uptime_seconds"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (s *AppState) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestID, requestLogger(s.Log))

	var frames http.Handler = http.HandlerFunc(s.handleFrame)
	if s.Ingest != nil {
		frames = s.Ingest.middleware(frames)
	}
	r.Handle("/frames", frames).Methods("POST")
	r.HandleFunc("/attributes", s.handleAttributes).Methods("GET")
	r.HandleFunc("/toggle", s.handleToggle).Methods("POST")
	r.HandleFunc("/active", s.handleSetActive).Methods("PUT")
	if s.Hub != nil {
		r.Handle("/ws", s.Hub).Methods("GET")
	}
	s.addMonitoringRoutes(r)
	return r
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

func (s *AppState) handleFrame(w http.ResponseWriter, r *http.Request) {
	if s.Pipeline.Detached() {
		sendErrorResponse(w, "detached", MsgDetached, http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFrameBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var imgBytes []byte
	var err error
	switch mediaType {
	case "application/json":
		imgBytes, err = handleJSONRequest(r)
	case "multipart/form-data":
		imgBytes, err = handleMultipartRequest(r)
	default:
		imgBytes, err = handleRawRequest(r)
	}
	if err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	img, err := decodeImage(imgBytes)
	if err != nil {
		sendErrorResponse(w, "invalid_image", "Failed to decode image", http.StatusBadRequest)
		return
	}

	frame := models.NewFrame(img, 0)
	frame.TraceID = requestIDFrom(r.Context())
	s.Pipeline.OnFrame(frame)

	writeJSON(w, http.StatusAccepted, FrameResponse{
		Accepted: true,
		Seq:      frame.Seq,
		TraceID:  frame.TraceID,
		Width:    frame.Width,
		Height:   frame.Height,
		Message:  MsgFrameAccepted,
	})
}

// handleAttributes serves the overlay of the last render tick, or the raw
// result store before the first tick.
func (s *AppState) handleAttributes(w http.ResponseWriter, _ *http.Request) {
	if s.Render != nil {
		if overlay, ok := s.Render.Latest(); ok {
			writeJSON(w, http.StatusOK, overlay)
			return
		}
	}

	result := s.Pipeline.Result()
	active := s.Pipeline.Active()
	attributes := result.Attributes
	if !active || attributes == nil {
		attributes = models.Attributes{}
	}
	writeJSON(w, http.StatusOK, models.Overlay{
		Version:     result.Version,
		Active:      active,
		Attributes:  attributes,
		FrameWidth:  result.FrameWidth,
		FrameHeight: result.FrameHeight,
	})
}

func (s *AppState) handleToggle(w http.ResponseWriter, _ *http.Request) {
	active := s.Pipeline.Toggle()
	writeJSON(w, http.StatusOK, ActiveResponse{
		Active:  active,
		Changed: true,
		Message: activeMessage(active),
	})
}

func (s *AppState) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Active == nil {
		sendErrorResponse(w, "invalid_request", `field "active" is required`, http.StatusBadRequest)
		return
	}

	changed := s.Pipeline.SetActive(*req.Active)
	message := activeMessage(*req.Active)
	if !changed {
		message = MsgUnchanged
	}
	writeJSON(w, http.StatusOK, ActiveResponse{
		Active:  s.Pipeline.Active(),
		Changed: changed,
		Message: message,
	})
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := MetricsResponse{
		Pipeline:      s.Pipeline.Stats(),
		CPU:           s.CPU,
		UptimeSeconds: time.Since(s.StartedAt).Seconds(),
	}
	if s.Hub != nil {
		response.WebsocketClients = s.Hub.Clients()
	}
	if s.Mirror != nil {
		stats := s.Mirror.Stats()
		response.Redis = &stats
	}
	writeJSON(w, http.StatusOK, response)
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	if req.Image == "" {
		return nil, errors.New(`field "image" is required`)
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func handleMultipartRequest(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxFrameBytes); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty request body")
	}
	return data, nil
}

func decodeImage(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
