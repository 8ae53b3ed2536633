package ipc

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holee9/hnvue/internal/calibration"
	"github.com/holee9/hnvue/internal/hal/generator"
	"github.com/holee9/hnvue/internal/hal/interlock"
	"github.com/holee9/hnvue/internal/workflow"
)

type fakeExposureController struct {
	params       generator.ExposureParams
	setErr       error
	startResult  generator.ExposureResult
	abortErr     error
	abortCalled  bool
}

func (f *fakeExposureController) SetExposureParams(p generator.ExposureParams) error {
	f.params = p
	return f.setErr
}

func (f *fakeExposureController) StartExposure(ctx context.Context) generator.ExposureResult {
	return f.startResult
}

func (f *fakeExposureController) AbortExposure(ctx context.Context) error {
	f.abortCalled = true
	return f.abortErr
}

type fakeCollimator struct {
	agg    *interlock.Aggregator
	rejErr error
}

func (f *fakeCollimator) ConfirmField(widthMm, heightMm float64) error {
	if widthMm <= 0 || heightMm <= 0 {
		return assertError("field size must be positive")
	}
	return f.rejErr
}

func (f *fakeCollimator) Interlock() *interlock.Aggregator { return f.agg }

type assertError string

func (e assertError) Error() string { return string(e) }

// fakeTransitioner stands in for *workflow.Machine: it accepts every
// TryTransition call by default (recording each one for assertions) and
// can be told to reject a given target state, so tests can exercise
// both the happy path and the T-07/T-19 guard-rejected path without a
// real matrix/journal.
type fakeTransitioner struct {
	state    workflow.State
	rejected map[workflow.State]bool
	calls    []fakeTransitionCall
}

type fakeTransitionCall struct {
	Target     workflow.State
	Trigger    workflow.Trigger
	OperatorID string
	Ctx        workflow.Context
}

func (f *fakeTransitioner) CurrentState() workflow.State { return f.state }

func (f *fakeTransitioner) TryTransition(ctx context.Context, target workflow.State, trigger workflow.Trigger, operatorID string, rctx workflow.Context) workflow.TransitionOutcome {
	f.calls = append(f.calls, fakeTransitionCall{Target: target, Trigger: trigger, OperatorID: operatorID, Ctx: rctx})
	if f.rejected[target] {
		return workflow.TransitionOutcome{Accepted: false, Reason: workflow.RejectGuardFailed}
	}
	f.state = target
	return workflow.TransitionOutcome{Accepted: true}
}

func newTestRouter() (*CommandRouter, *fakeExposureController, *fakeCollimator, *calibration.Manager, *fakeTransitioner) {
	gen := &fakeExposureController{}
	agg := interlock.New(nil, nil)
	collimator := &fakeCollimator{agg: agg}
	cal := calibration.NewManager(0)
	machine := &fakeTransitioner{state: workflow.State(0)}
	return NewCommandRouter(gen, collimator, cal, machine), gen, collimator, cal, machine
}

func TestStartExposureAppliesParamsAndReturnsResult(t *testing.T) {
	router, gen, _, _, machine := newTestRouter()
	gen.startResult = generator.ExposureResult{Success: true, ActualKVp: 80}

	body := bytes.NewBufferString(`{"params":{"KVp":80,"MA":200,"MS":50},"operator_id":"tech-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/command/start-exposure", body)
	rec := httptest.NewRecorder()

	router.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 80.0, gen.params.KVp)
	require.Len(t, machine.calls, 2)
	assert.Equal(t, workflow.ExposureTrigger, machine.calls[0].Target)
	assert.Equal(t, workflow.QcReview, machine.calls[1].Target)
	assert.Equal(t, workflow.TriggerAcquisitionComplete, machine.calls[1].Trigger)
}

func TestStartExposureRejectsInvalidParams(t *testing.T) {
	router, gen, _, _, _ := newTestRouter()
	gen.setErr = assertError("kvp out of range")

	body := bytes.NewBufferString(`{"params":{"KVp":999}}`)
	req := httptest.NewRequest(http.MethodPost, "/command/start-exposure", body)
	rec := httptest.NewRecorder()

	router.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartExposureRejectedWhenTransitionGuardFails(t *testing.T) {
	router, gen, _, _, machine := newTestRouter()
	machine.rejected = map[workflow.State]bool{workflow.ExposureTrigger: true}

	body := bytes.NewBufferString(`{"params":{"KVp":80,"MA":200,"MS":50}}`)
	req := httptest.NewRequest(http.MethodPost, "/command/start-exposure", body)
	rec := httptest.NewRecorder()

	router.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, gen.abortCalled)
	assert.Zero(t, gen.params.KVp)
}

func TestAbortExposureInvokesGenerator(t *testing.T) {
	router, gen, _, _, machine := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/command/abort-exposure", nil)
	rec := httptest.NewRecorder()

	router.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gen.abortCalled)
	require.Len(t, machine.calls, 1)
	assert.True(t, machine.calls[0].Ctx.OperatorConfirmed)
}

func TestAbortExposureRejectedWhenTransitionGuardFails(t *testing.T) {
	router, gen, _, _, machine := newTestRouter()
	machine.rejected = map[workflow.State]bool{workflow.Idle: true}

	req := httptest.NewRequest(http.MethodPost, "/command/abort-exposure", nil)
	rec := httptest.NewRecorder()

	router.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, gen.abortCalled)
}

func TestSetCollimatorArmsInterlockOnSuccess(t *testing.T) {
	router, _, collimator, _, _ := newTestRouter()

	body := bytes.NewBufferString(`{"width_mm":200,"height_mm":200}`)
	req := httptest.NewRequest(http.MethodPost, "/command/set-collimator", body)
	rec := httptest.NewRecorder()

	router.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, collimator.Interlock().CheckOne(interlock.CollimatorValid))
}

func TestSetCollimatorClearsInterlockOnRejection(t *testing.T) {
	router, _, collimator, _, _ := newTestRouter()
	collimator.Interlock().Set(interlock.CollimatorValid, true)

	body := bytes.NewBufferString(`{"width_mm":-1,"height_mm":200}`)
	req := httptest.NewRequest(http.MethodPost, "/command/set-collimator", body)
	rec := httptest.NewRecorder()

	router.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, collimator.Interlock().CheckOne(interlock.CollimatorValid))
}

func TestRunCalibrationRejectsMissingFile(t *testing.T) {
	router, _, _, _, _ := newTestRouter()

	body := bytes.NewBufferString(`{"source_path":"/nonexistent/artifact.bin"}`)
	req := httptest.NewRequest(http.MethodPost, "/command/run-calibration", body)
	rec := httptest.NewRecorder()

	router.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRunCalibrationAcceptsValidArtifact(t *testing.T) {
	router, _, _, cal, _ := newTestRouter()
	require.NotNil(t, cal)

	path := writeTestArtifact(t)
	body := bytes.NewBufferString(`{"source_path":"` + path + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/command/run-calibration", body)
	rec := httptest.NewRecorder()

	router.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetSystemStateReportsWorkflowState(t *testing.T) {
	router, _, _, _, machine := newTestRouter()
	machine.state = workflow.State(0)

	req := httptest.NewRequest(http.MethodGet, "/command/system-state", nil)
	rec := httptest.NewRecorder()

	router.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "workflow_state")
}

func TestDefaultCollimatorRejectsOutOfBoundsField(t *testing.T) {
	agg := interlock.New(nil, nil)
	c := NewDefaultCollimator(agg, 50, 430)

	assert.NoError(t, c.ConfirmField(200, 200))
	assert.Error(t, c.ConfirmField(500, 200))
	assert.Error(t, c.ConfirmField(200, 10))
	assert.Same(t, agg, c.Interlock())
}

func writeTestArtifact(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/dark.cal"
	payload := calibration.EncodeFloatPayload([]float64{1, 2, 3, 4})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, calibration.WriteArtifact(f, calibration.TypeDarkFrame, 2, 2, time.Now(), payload))
	return path
}
