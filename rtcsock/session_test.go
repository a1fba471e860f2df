// SPDX-License-Identifier: GPL-3.0-or-later

package rtcsock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validOffer = `{"type":"offer","sdp":"v=0\r\n"}`

// newTestHandler returns a [*sessionHandler] using the given answer function.
func newTestHandler(answer answerFunc) *sessionHandler {
	return &sessionHandler{answer: answer, timeNow: time.Now}
}

// serve runs a request against the handler.
func serve(handler http.Handler, method, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, DefaultSessionPath, strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestSessionHandler(t *testing.T) {
	neverCalled := func(context.Context, webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
		panic("should not be called")
	}

	t.Run("preflight", func(t *testing.T) {
		rr := serve(newTestHandler(neverCalled), http.MethodOptions, "")
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "POST, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("method not allowed", func(t *testing.T) {
		rr := serve(newTestHandler(neverCalled), http.MethodGet, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
		assert.Equal(t, "POST, OPTIONS", rr.Header().Get("Allow"))
	})

	t.Run("malformed offer", func(t *testing.T) {
		for _, body := range []string{
			"",
			"{",
			`{"type":"answer","sdp":"v=0\r\n"}`,
			`{"type":"offer","sdp":""}`,
		} {
			rr := serve(newTestHandler(neverCalled), http.MethodPost, body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, body)
		}
	})

	t.Run("offer too large", func(t *testing.T) {
		body := `{"type":"offer","sdp":"` + strings.Repeat("a", maxOfferSize) + `"}`
		rr := serve(newTestHandler(neverCalled), http.MethodPost, body)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("answer errors", func(t *testing.T) {
		expectations := []struct {
			err    error
			status int
		}{
			{errInvalidOffer, http.StatusBadRequest},
			{errTooManySessions, http.StatusServiceUnavailable},
			{net.ErrClosed, http.StatusServiceUnavailable},
			{context.DeadlineExceeded, http.StatusInternalServerError},
			{errors.New("mocked error"), http.StatusInternalServerError},
		}
		for _, expect := range expectations {
			handler := newTestHandler(func(context.Context, webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
				return nil, expect.err
			})
			rr := serve(handler, http.MethodPost, validOffer)
			assert.Equal(t, expect.status, rr.Code, expect.err.Error())
			assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
		}
	})

	t.Run("success", func(t *testing.T) {
		var gotOffer webrtc.SessionDescription
		handler := newTestHandler(func(_ context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
			gotOffer = offer
			return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"}, nil
		})
		rr := serve(handler, http.MethodPost, validOffer)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		assert.Equal(t, webrtc.SDPTypeOffer, gotOffer.Type)

		var answer webrtc.SessionDescription
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &answer))
		assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
		assert.Equal(t, "v=0\r\n", answer.SDP)
	})

	t.Run("logging", func(t *testing.T) {
		var buf bytes.Buffer
		handler := newTestHandler(func(context.Context, webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
			return nil, errTooManySessions
		})
		handler.logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{}))
		serve(handler, http.MethodPost, validOffer)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		var start, done map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &start))
		require.NoError(t, json.Unmarshal([]byte(lines[1]), &done))
		assert.Equal(t, "sessionStart", start["msg"])
		assert.Equal(t, "sessionDone", done["msg"])
		assert.Equal(t, float64(http.StatusServiceUnavailable), done["status"])
		assert.Equal(t, errTooManySessions.Error(), done["err"])
	})
}
