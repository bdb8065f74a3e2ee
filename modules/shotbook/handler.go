package shotbook

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"shotbook-server/modules/assets"
	"shotbook-server/modules/common/model"
	"shotbook-server/modules/common/utils"
	"shotbook-server/modules/pipeline"
)

// maxImageBytes - 에셋 이미지 업로드 한도
const maxImageBytes = 20 << 20

// Handler - 샷북 HTTP 제어면
type Handler struct {
	svc *Service
	hub *Hub
}

func NewHandler(svc *Service, hub *Hub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// Response - 공통 응답
type Response struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/runs", h.HandleStartRun).Methods("POST", "OPTIONS")
	api.HandleFunc("/runs/cancel", h.HandleCancelRun).Methods("POST", "OPTIONS")

	api.HandleFunc("/project", h.HandleGetProject).Methods("GET")
	api.HandleFunc("/project/new", h.HandleNewProject).Methods("POST", "OPTIONS")
	api.HandleFunc("/project/export", h.HandleExport).Methods("POST", "OPTIONS")

	api.HandleFunc("/shots/{shotId}/regenerate", h.HandleRegenerate).Methods("POST", "OPTIONS")
	api.HandleFunc("/shots/{shotId}/refine", h.HandleRefine).Methods("POST", "OPTIONS")
	api.HandleFunc("/shots/{shotId}/assets/{assetId}/toggle", h.HandleToggleAsset).Methods("POST", "OPTIONS")
	api.HandleFunc("/shots/{shotId}/approve", h.HandleApprove).Methods("POST", "OPTIONS")
	api.HandleFunc("/shots/{shotId}/video", h.HandleStartVideo).Methods("POST", "OPTIONS")
	api.HandleFunc("/shots/{shotId}/keyframe", h.HandleKeyframe).Methods("GET")

	api.HandleFunc("/assets", h.HandleListAssets).Methods("GET")
	api.HandleFunc("/assets", h.HandleCreateAsset).Methods("POST", "OPTIONS")
	api.HandleFunc("/assets/extract", h.HandleExtractAssets).Methods("POST", "OPTIONS")
	api.HandleFunc("/assets/{assetId}", h.HandleDeleteAsset).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/assets/{assetId}/image", h.HandleAttachImage).Methods("POST", "OPTIONS")

	if h.hub != nil {
		r.HandleFunc("/ws", h.hub.HandleWebSocket)
	}
	log.Println("✅ Shotbook routes registered: /api/runs, /api/project, /api/shots, /api/assets, /ws")
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, Response{Success: true, Message: message, Data: data})
}

// writeError - 에러 종류별 상태 코드
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrShotNotFound), errors.Is(err, assets.ErrAssetNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrShotBusy), errors.Is(err, pipeline.ErrShotLocked),
		errors.Is(err, pipeline.ErrInvalidTransition), errors.Is(err, pipeline.ErrNoKeyframe),
		errors.Is(err, ErrRunActive), errors.Is(err, ErrNoActiveRun):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, assets.ErrInvalidAsset),
		errors.Is(err, pipeline.ErrAssetCapReached):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		log.Printf("❌ [Shotbook] %v", err)
	}
	writeJSON(w, status, Response{Success: false, Error: err.Error()})
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(ErrInvalidRequest, err)
	}
	return nil
}

// HandleStartRun - POST /api/runs
func (h *Handler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	var req RunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	runID, err := h.svc.StartRun(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusAccepted, "Run started", map[string]string{"runId": runID})
}

// HandleCancelRun - POST /api/runs/cancel
func (h *Handler) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := h.svc.CancelRun(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "Cancel requested", nil)
}

func (h *Handler) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, "", h.svc.Project())
}

func (h *Handler) HandleNewProject(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	state, err := h.svc.NewProject(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "New project created", state)
}

func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	location, err := h.svc.Export(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "Project exported", map[string]string{"location": location})
}

func (h *Handler) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := h.svc.RegenerateImage(r.Context(), mux.Vars(r)["shotId"]); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusAccepted, "Regeneration started", nil)
}

// RefineRequest - 감독 피드백
type RefineRequest struct {
	Feedback string `json:"feedback"`
}

func (h *Handler) HandleRefine(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	var req RefineRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.Refine(r.Context(), mux.Vars(r)["shotId"], req.Feedback); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusAccepted, "Refinement started", nil)
}

func (h *Handler) HandleToggleAsset(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	vars := mux.Vars(r)
	shot, err := h.svc.ToggleAsset(r.Context(), vars["shotId"], vars["assetId"])
	if err != nil {
		writeError(w, err)
		return
	}
	shot.KeyframeImage = nil
	writeOK(w, http.StatusOK, "", shot)
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	shot, err := h.svc.Approve(r.Context(), mux.Vars(r)["shotId"])
	if err != nil {
		writeError(w, err)
		return
	}
	shot.KeyframeImage = nil
	writeOK(w, http.StatusOK, "Shot approved", shot)
}

func (h *Handler) HandleStartVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := h.svc.StartVideo(r.Context(), mux.Vars(r)["shotId"]); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusAccepted, "Video submission started", nil)
}

// HandleKeyframe - GET /api/shots/{shotId}/keyframe (원본 이미지)
func (h *Handler) HandleKeyframe(w http.ResponseWriter, r *http.Request) {
	data, mime, err := h.svc.Keyframe(mux.Vars(r)["shotId"])
	if err != nil {
		if errors.Is(err, pipeline.ErrNoKeyframe) {
			writeJSON(w, http.StatusNotFound, Response{Success: false, Error: err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) HandleListAssets(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListAssets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "", list)
}

// AssetRequest - 에셋 생성 요청. image는 base64 또는 data URL
type AssetRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        model.AssetType `json:"type"`
	Image       string          `json:"image,omitempty"`
}

func (h *Handler) HandleCreateAsset(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	var req AssetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	asset := model.Asset{Name: req.Name, Description: req.Description, Type: req.Type}
	if req.Image != "" {
		data, err := utils.DecodeBase64Image(req.Image)
		if err != nil {
			writeError(w, errors.Join(ErrInvalidRequest, err))
			return
		}
		asset.Image = data
		asset.ImageMIME = utils.DetectImageMIME(data)
	}
	saved, err := h.svc.CreateAsset(r.Context(), asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, "Asset created", saved)
}

func (h *Handler) HandleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := h.svc.DeleteAsset(r.Context(), mux.Vars(r)["assetId"]); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "Asset deleted", nil)
}

// HandleAttachImage - JSON {"image": base64} 또는 이미지 바이너리 본문
func (h *Handler) HandleAttachImage(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	var data []byte
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Image string `json:"image"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		decoded, err := utils.DecodeBase64Image(req.Image)
		if err != nil {
			writeError(w, errors.Join(ErrInvalidRequest, err))
			return
		}
		data = decoded
	} else {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxImageBytes))
		if err != nil {
			writeError(w, errors.Join(ErrInvalidRequest, err))
			return
		}
		data = body
	}

	if err := h.svc.AttachAssetImage(r.Context(), mux.Vars(r)["assetId"], data); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "Image attached", nil)
}

// ExtractRequest - script가 비면 현재 프로젝트 스크립트를 쓴다
type ExtractRequest struct {
	Script string `json:"script"`
}

func (h *Handler) HandleExtractAssets(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	var req ExtractRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	added, err := h.svc.ExtractAssets(r.Context(), req.Script)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "Assets extracted", added)
}
