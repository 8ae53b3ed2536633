// Package ipc binds the four external-facing service surfaces spec.md
// §6 names (command interface, image stream, health stream,
// configuration interface) to concrete transports: gorilla/mux for
// commands, gorilla/websocket for the image stream, go-socket.io for
// the health stream. The command router's CORS-middleware/mux.Router
// shape is grounded directly on the teacher's internal/api/server.go.
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/holee9/hnvue/internal/calibration"
	"github.com/holee9/hnvue/internal/hal/generator"
	"github.com/holee9/hnvue/internal/hal/interlock"
	"github.com/holee9/hnvue/internal/workflow"
)

// ExposureController is the narrow slice of hal/generator.Generator
// the command router needs.
type ExposureController interface {
	SetExposureParams(generator.ExposureParams) error
	StartExposure(ctx context.Context) generator.ExposureResult
	AbortExposure(ctx context.Context) error
}

// CollimatorSetter validates a requested field size and exposes the
// interlock aggregator whose CollimatorValid bit the command router
// arms once the size is confirmed in range. The console has no standalone collimator HAL device: field size
// confirmation is itself the interlock condition.
type CollimatorSetter interface {
	ConfirmField(widthMm, heightMm float64) error
	Interlock() *interlock.Aggregator
}

// CalibrationRunner loads a calibration artifact from sourcePath and
// reports whether it was accepted. The artifact's own header names its
// type, so the request carries only a path.
type CalibrationRunner interface {
	LoadFile(sourcePath string) (*calibration.Artifact, error)
}

// Transitioner is the narrow slice of workflow.Machine the command
// router drives: it reads the current state for the system-state
// endpoint and, for StartExposure/AbortExposure, attempts the journalled
// transition before the request is allowed to touch the generator.
type Transitioner interface {
	CurrentState() workflow.State
	TryTransition(ctx context.Context, target workflow.State, trigger workflow.Trigger, operatorID string, rctx workflow.Context) workflow.TransitionOutcome
}

// DefaultCollimator is the reference CollimatorSetter: it confirms a
// requested field size falls within the detector's physical bounds
// and reports the console's own interlock aggregator.
type DefaultCollimator struct {
	Agg           *interlock.Aggregator
	MinFieldMm    float64
	MaxFieldMm    float64
}

// NewDefaultCollimator constructs a DefaultCollimator bounding
// requested field sizes to [minFieldMm, maxFieldMm].
func NewDefaultCollimator(agg *interlock.Aggregator, minFieldMm, maxFieldMm float64) *DefaultCollimator {
	return &DefaultCollimator{Agg: agg, MinFieldMm: minFieldMm, MaxFieldMm: maxFieldMm}
}

func (d *DefaultCollimator) ConfirmField(widthMm, heightMm float64) error {
	if widthMm < d.MinFieldMm || widthMm > d.MaxFieldMm || heightMm < d.MinFieldMm || heightMm > d.MaxFieldMm {
		return fmt.Errorf("field size %.1fx%.1fmm outside bounds [%.1f, %.1f]", widthMm, heightMm, d.MinFieldMm, d.MaxFieldMm)
	}
	return nil
}

func (d *DefaultCollimator) Interlock() *interlock.Aggregator { return d.Agg }

// CommandRouter exposes StartExposure, AbortExposure, SetCollimator,
// RunCalibration, and GetSystemState as an HTTP/JSON surface.
type CommandRouter struct {
	gen        ExposureController
	collimator CollimatorSetter
	cal        CalibrationRunner
	machine    Transitioner
}

// NewCommandRouter constructs a CommandRouter over its four
// dependencies.
func NewCommandRouter(gen ExposureController, collimator CollimatorSetter, cal CalibrationRunner, machine Transitioner) *CommandRouter {
	return &CommandRouter{gen: gen, collimator: collimator, cal: cal, machine: machine}
}

// Router builds the mux.Router, applying the same permissive CORS
// middleware the teacher's api.Server uses (the command channel runs
// behind the SPIFFE-identified transport process, not a public origin).
func (c *CommandRouter) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/command/start-exposure", c.handleStartExposure).Methods("POST")
	r.HandleFunc("/command/abort-exposure", c.handleAbortExposure).Methods("POST")
	r.HandleFunc("/command/set-collimator", c.handleSetCollimator).Methods("POST")
	r.HandleFunc("/command/run-calibration", c.handleRunCalibration).Methods("POST")
	r.HandleFunc("/command/system-state", c.handleGetSystemState).Methods("GET")

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type startExposureRequest struct {
	Params      generator.ExposureParams `json:"params"`
	OperatorID  string                   `json:"operator_id"`
	StudyUID    string                   `json:"study_uid"`
	PatientID   string                   `json:"patient_id"`
	BodyPart    string                   `json:"body_part"`
	Projection  string                   `json:"projection"`
	DeviceModel string                   `json:"device_model"`
}

// handleStartExposure enforces T-07 (PositionAndPreview->ExposureTrigger)
// before it will let a request reach the generator: the journalled
// transition's guards are the only place "interlock aggregate true at
// the moment of transition" is actually checked, so StartExposure must
// go through TryTransition first, not straight to c.gen.StartExposure.
// T-08/T-09 (ExposureTrigger->QcReview) follow once the exposure result
// is known, selecting AcquisitionComplete or AcquisitionFailed.
func (c *CommandRouter) handleStartExposure(w http.ResponseWriter, r *http.Request) {
	var req startExposureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.StudyUID == "" {
		req.StudyUID = uuid.NewString()
	}

	status, err := c.collimator.Interlock().CheckAll(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	outcome := c.machine.TryTransition(r.Context(), workflow.ExposureTrigger, workflow.TriggerOperatorReady, req.OperatorID, workflow.Context{
		HardwareInterlockOk: status.AllPassed,
		DetectorReady:       status.DetectorReady,
		DoseWithinLimits:    status.DoseWithinLimits,
		StudyUID:            req.StudyUID,
		PatientID:           req.PatientID,
		BodyPart:            req.BodyPart,
		Projection:          req.Projection,
		DeviceModel:         req.DeviceModel,
	})
	if !outcome.Accepted {
		slog.Warn("ipc: exposure trigger rejected", "reason", outcome.Reason.String(), "failed_guards", outcome.FailedGuards, "study_uid", req.StudyUID)
		http.Error(w, fmt.Sprintf("transition rejected: %s", outcome.Reason), http.StatusConflict)
		return
	}

	if err := c.gen.SetExposureParams(req.Params); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result := c.gen.StartExposure(r.Context())

	trigger := workflow.TriggerAcquisitionComplete
	if !result.Success {
		trigger = workflow.TriggerAcquisitionFailed
	}
	completion := c.machine.TryTransition(r.Context(), workflow.QcReview, trigger, req.OperatorID, workflow.Context{})
	if !completion.Accepted {
		slog.Error("ipc: post-exposure transition rejected", "reason", completion.Reason.String(), "study_uid", req.StudyUID)
	}

	writeJSON(w, result)
}

type abortExposureRequest struct {
	OperatorID string `json:"operator_id"`
}

// handleAbortExposure routes through T-19 (StudyAbortRequested, guarded
// by OperatorConfirmed) before calling into the generator: an HTTP
// abort request is itself the operator confirmation.
func (c *CommandRouter) handleAbortExposure(w http.ResponseWriter, r *http.Request) {
	var req abortExposureRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	outcome := c.machine.TryTransition(r.Context(), workflow.Idle, workflow.TriggerStudyAbortRequested, req.OperatorID, workflow.Context{
		OperatorConfirmed: true,
	})
	if !outcome.Accepted {
		slog.Warn("ipc: abort transition rejected", "reason", outcome.Reason.String())
		http.Error(w, fmt.Sprintf("transition rejected: %s", outcome.Reason), http.StatusConflict)
		return
	}

	if err := c.gen.AbortExposure(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]bool{"accepted": true})
}

type setCollimatorRequest struct {
	WidthMm  float64 `json:"width_mm"`
	HeightMm float64 `json:"height_mm"`
}

func (c *CommandRouter) handleSetCollimator(w http.ResponseWriter, r *http.Request) {
	var req setCollimatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := c.collimator.ConfirmField(req.WidthMm, req.HeightMm); err != nil {
		c.collimator.Interlock().Set(interlock.CollimatorValid, false)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.collimator.Interlock().Set(interlock.CollimatorValid, true)
	writeJSON(w, map[string]bool{"applied": true})
}

type runCalibrationRequest struct {
	SourcePath string `json:"source_path"`
}

func (c *CommandRouter) handleRunCalibration(w http.ResponseWriter, r *http.Request) {
	var req runCalibrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	art, err := c.cal.LoadFile(req.SourcePath)
	if err != nil {
		slog.Warn("ipc: calibration run rejected", "error", err, "path", req.SourcePath)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, map[string]any{"success": true, "type": art.Header.Type, "acquired_at": art.Header.AcquiredAt})
}

func (c *CommandRouter) handleGetSystemState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"workflow_state": c.machine.CurrentState().String()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("ipc: failed to encode response", "error", err)
	}
}

// ListenAndServe starts the command router on addr, matching the
// teacher's one-liner ListenAndServe at the bottom of Start.
func (c *CommandRouter) ListenAndServe(addr string) error {
	slog.Info("ipc: command router listening", "addr", addr)
	return http.ListenAndServe(addr, c.Router())
}
