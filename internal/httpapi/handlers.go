package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"incomed/internal/core"
	"incomed/internal/engine"
	"incomed/internal/log"
	"incomed/internal/provider"
	"incomed/internal/settings"
	"incomed/internal/syncer"
)

type handler struct {
	engine *engine.Engine
	syncer *syncer.Coordinator
	store  *settings.Store
	log    *log.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type incomeResponse struct {
	Income        core.Money `json:"income"`
	Formatted     string     `json:"formatted"`
	WorkedMinutes int        `json:"workedMinutes"`
	WorkedPretty  string     `json:"workedPretty"`
	IsWorking     bool       `json:"isWorking"`
}

type snapshotResponse struct {
	Config    settings.Settings `json:"config"`
	DailyData core.DailyData    `json:"dailyData"`
	IsWorking bool              `json:"isWorking"`
}

type syncConfigRequest struct {
	Provider string            `json:"provider"`
	Config   syncer.SyncConfig `json:"config"`
}

type testConnectionRequest struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
}

func (h *handler) startWork(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.StartWork(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

func (h *handler) endWork(w http.ResponseWriter, r *http.Request) {
	frozen, err := h.engine.EndWork(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"income":        frozen.Income,
		"workedMinutes": frozen.WorkedMinutes,
	})
}

func (h *handler) resetToday(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResetToday(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.DailyData())
}

func (h *handler) income(w http.ResponseWriter, r *http.Request) {
	cfg := h.store.Snapshot()
	income := h.engine.CurrentIncome()
	minutes := h.engine.TodayWorkedMinutes()
	h.writeJSON(w, http.StatusOK, incomeResponse{
		Income:        income,
		Formatted:     core.FormatCurrency(income, cfg.PrecisionLevel),
		WorkedMinutes: minutes,
		WorkedPretty:  core.FormatMinutes(minutes),
		IsWorking:     h.engine.IsWorking(),
	})
}

func (h *handler) snapshot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, snapshotResponse{
		Config:    h.store.Snapshot(),
		DailyData: h.engine.DailyData(),
		IsWorking: h.engine.IsWorking(),
	})
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	data, err := h.engine.HistoryData(r.Context(), date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if data == nil {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "no record for " + date})
		return
	}
	h.writeJSON(w, http.StatusOK, data)
}

func (h *handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var patch settings.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid settings patch: " + err.Error()})
		return
	}
	if err := h.store.Update(r.Context(), patch); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.store.Snapshot())
}

func (h *handler) manualSync(w http.ResponseWriter, r *http.Request) {
	if err := h.syncer.ManualSync(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *handler) saveSyncConfig(w http.ResponseWriter, r *http.Request) {
	var req syncConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid sync config: " + err.Error()})
		return
	}
	if err := h.syncer.SaveSyncConfig(r.Context(), req.Provider, req.Config); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *handler) testConnection(w http.ResponseWriter, r *http.Request) {
	var draft *provider.Credentials
	body, err := io.ReadAll(r.Body)
	if err == nil && len(body) > 0 {
		var req testConnectionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid test request: " + err.Error()})
			return
		}
		draft = &provider.Credentials{
			Provider:  req.Provider,
			Endpoint:  req.Endpoint,
			Username:  req.Username,
			Password:  req.Password,
			Bucket:    req.Bucket,
			AccessKey: req.AccessKey,
			SecretKey: req.SecretKey,
		}
	}
	if err := h.syncer.TestConnection(r.Context(), draft); err != nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"reachable": false, "error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"reachable": true})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("encode response", log.FieldError, err)
	}
}

// writeError maps user-action conflicts to 409 and everything else to 500.
func (h *handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrAlreadyWorking),
		errors.Is(err, core.ErrNotWorking),
		errors.Is(err, syncer.ErrSyncInProgress):
		status = http.StatusConflict
	case errors.Is(err, provider.ErrUnknownProvider),
		errors.Is(err, provider.ErrIncompleteCredentials):
		status = http.StatusBadRequest
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}
