package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/logger"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
	"github.com/devicelab-dev/webtest-runner/pkg/service"
)

// Caller identity headers, set by the authentication layer in front of the API.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	svc *service.Service
}

func (h *handlers) createTest(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var in model.Test
	if !decode(w, r, &in, false) {
		return
	}
	t, err := h.svc.CreateTest(r.Context(), caller, &in)
	respond(w, http.StatusCreated, t, err)
}

func (h *handlers) listTests(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	tests, err := h.svc.ListTests(r.Context(), caller, r.URL.Query().Get("projectId"))
	if tests == nil && err == nil {
		tests = []*model.Test{}
	}
	respond(w, http.StatusOK, tests, err)
}

func (h *handlers) getTest(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	t, err := h.svc.GetTest(r.Context(), caller, r.PathValue("id"))
	respond(w, http.StatusOK, t, err)
}

func (h *handlers) updateTest(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var upd service.TestUpdate
	if !decode(w, r, &upd, false) {
		return
	}
	t, err := h.svc.UpdateTest(r.Context(), caller, r.PathValue("id"), upd)
	respond(w, http.StatusOK, t, err)
}

func (h *handlers) copyTest(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &body, true) {
		return
	}
	t, err := h.svc.CopyTest(r.Context(), caller, r.PathValue("id"), body.Name)
	respond(w, http.StatusCreated, t, err)
}

func (h *handlers) executeTest(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req service.ExecuteTestRequest
	if !decode(w, r, &req, true) {
		return
	}
	req.TestID = r.PathValue("id")
	tr, err := h.svc.ExecuteTest(r.Context(), caller, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"testId": tr.TestID, "testRunId": tr.ID})
}

func (h *handlers) listTestRuns(w http.ResponseWriter, r *http.Request) {
	trs, err := h.svc.ListTestRuns(r.Context(), r.PathValue("id"))
	if trs == nil && err == nil {
		trs = []*model.TestRun{}
	}
	respond(w, http.StatusOK, trs, err)
}

func (h *handlers) executeBatch(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req service.ExecuteBatchRequest
	if !decode(w, r, &req, false) {
		return
	}
	run, err := h.svc.ExecuteBatch(r.Context(), caller, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": run.ID})
}

func (h *handlers) batchStatus(w http.ResponseWriter, r *http.Request) {
	bs, err := h.svc.BatchStatus(r.Context(), r.PathValue("id"))
	respond(w, http.StatusOK, bs, err)
}

func (h *handlers) cancelBatch(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := h.svc.CancelRun(r.Context(), caller, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": id})
}

func (h *handlers) deleteBatch(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.DeleteRun(r.Context(), caller, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getTestRun(w http.ResponseWriter, r *http.Request) {
	tr, err := h.svc.GetTestRun(r.Context(), r.PathValue("id"))
	respond(w, http.StatusOK, tr, err)
}

func (h *handlers) cancelTestRun(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := h.svc.CancelTestRun(r.Context(), caller, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"testRunId": id})
}

func (h *handlers) deleteTestRun(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.DeleteTestRun(r.Context(), caller, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// callerFrom reads the caller identity. A missing role is a viewer.
func callerFrom(w http.ResponseWriter, r *http.Request) (service.Caller, bool) {
	role, err := model.ParseRole(r.Header.Get(HeaderUserRole))
	if err != nil {
		writeError(w, core.Validation("%v", err))
		return service.Caller{}, false
	}
	return service.Caller{ID: r.Header.Get(HeaderUserID), Role: role}, true
}

// decode reads a JSON body into v. An empty body is accepted when optional.
func decode(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	if errors.Is(err, io.EOF) {
		err = errors.New("request body is required")
	}
	writeError(w, core.Validation("invalid request body: %v", err))
	return false
}

func respond(w http.ResponseWriter, status int, v interface{}, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to write response: %v", err)
	}
}

// writeError maps an error kind to its status. Internal details stay in the log.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(core.KindOf(err))
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed: %v", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func statusFor(kind core.ErrorKind) int {
	switch kind {
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

