package ipc

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigStoreSetRunsValidatorBeforeCommit(t *testing.T) {
	store := NewConfigStore(map[string]string{"dose.warning_pct": "0.8"})
	store.RegisterValidator("dose.warning_pct", func(v string) error {
		if v == "bad" {
			return assertError("must be a fraction")
		}
		return nil
	})

	assert.Error(t, store.Set("dose.warning_pct", "bad"))
	value, _ := store.Get("dose.warning_pct")
	assert.Equal(t, "0.8", value) // rejected value did not commit

	assert.NoError(t, store.Set("dose.warning_pct", "0.9"))
	value, _ = store.Get("dose.warning_pct")
	assert.Equal(t, "0.9", value)
}

func TestConfigStoreNotifiesSubscribersOnlyAfterCommit(t *testing.T) {
	store := NewConfigStore(nil)
	var seen []string
	store.Subscribe(func(key, value string) { seen = append(seen, key+"="+value) })

	store.RegisterValidator("generator.transport", func(v string) error {
		return assertError("rejected")
	})
	_ = store.Set("generator.transport", "tcp")
	assert.Empty(t, seen)

	_ = store.Set("detector.plugin_path", "/opt/plugin.so")
	assert.Equal(t, []string{"detector.plugin_path=/opt/plugin.so"}, seen)
}

func TestConfigRouterGetUnknownKeyReturns404(t *testing.T) {
	router := NewConfigRouter(NewConfigStore(nil))
	req := httptest.NewRequest(http.MethodGet, "/config/unknown", nil)
	rec := httptest.NewRecorder()
	router.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigRouterSetAppliesAndSnapshotReflectsIt(t *testing.T) {
	router := NewConfigRouter(NewConfigStore(nil))

	body := bytes.NewBufferString(`{"value":"sim"}`)
	req := httptest.NewRequest(http.MethodPut, "/config/generator.transport", body)
	rec := httptest.NewRecorder()
	router.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	snapReq := httptest.NewRequest(http.MethodGet, "/config", nil)
	snapRec := httptest.NewRecorder()
	router.Router().ServeHTTP(snapRec, snapReq)
	assert.Contains(t, snapRec.Body.String(), "generator.transport")
}
