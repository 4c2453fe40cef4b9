package errcode

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorCodesRegistered(t *testing.T) {
	descs := AllDescriptors()
	require.NotEmpty(t, descs)

	for _, d := range descs {
		require.Equal(t, d, d.Code.Descriptor())
		require.NotZero(t, d.HTTPStatusCode)
	}
}

func TestServeJSONUsesRegisteredStatus(t *testing.T) {
	w := httptest.NewRecorder()
	err := ServeJSON(w, ErrorCodeConflict.WithMessage("version 1.0.0 already published"))
	require.NoError(t, err)
	require.Equal(t, http.StatusConflict, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "version 1.0.0 already published", body["error"])
}

func TestServeJSONDefaultsToInternal(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, ServeJSON(w, errPlain("boom")))
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
