//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// HTTP session endpoint.
//

package rtcsock

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rbmk-project/rtsock/errclass"
)

// maxOfferSize is the maximum size of an offer request body.
const maxOfferSize = 64 << 10

var (
	// errTooManySessions indicates we reached the sessions limit.
	errTooManySessions = errors.New("rtcsock: too many sessions")

	// errInvalidOffer indicates the remote offer is not acceptable.
	errInvalidOffer = errors.New("rtcsock: invalid offer")
)

// answerFunc answers a remote offer.
type answerFunc func(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)

// sessionHandler is the [http.Handler] exchanging a JSON-encoded
// remote offer for a JSON-encoded local answer.
type sessionHandler struct {
	answer  answerFunc
	logger  *slog.Logger
	timeNow func() time.Time
}

var _ http.Handler = &sessionHandler{}

// ServeHTTP implements [http.Handler].
func (sh *sessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Browsers fetch the endpoint from pages served by other origins.
	w.Header().Set("Access-Control-Allow-Origin", "*")

	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
		// fallthrough
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	t0 := sh.timeNow()
	sh.log(r.Context(), slog.LevelInfo, "sessionStart",
		slog.String("remoteAddr", r.RemoteAddr),
		slog.Time("t", t0),
	)

	status, answer, err := sh.exchange(w, r)

	sh.log(r.Context(), slog.LevelInfo, "sessionDone",
		slog.Any("err", err),
		slog.String("errClass", errclass.New(err)),
		slog.String("remoteAddr", r.RemoteAddr),
		slog.Int("status", status),
		slog.Time("t0", t0),
		slog.Time("t", sh.timeNow()),
	)

	if err != nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(answer)
}

// exchange reads the offer, creates the answer and maps errors
// to the corresponding HTTP status code.
func (sh *sessionHandler) exchange(w http.ResponseWriter, r *http.Request) (int, *webrtc.SessionDescription, error) {
	var offer webrtc.SessionDescription
	body := http.MaxBytesReader(w, r.Body, maxOfferSize)
	if err := json.NewDecoder(body).Decode(&offer); err != nil {
		return http.StatusBadRequest, nil, err
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return http.StatusBadRequest, nil, errInvalidOffer
	}

	answer, err := sh.answer(r.Context(), offer)
	switch {
	case errors.Is(err, errInvalidOffer):
		return http.StatusBadRequest, nil, err
	case errors.Is(err, errTooManySessions) || errors.Is(err, net.ErrClosed):
		return http.StatusServiceUnavailable, nil, err
	case err != nil:
		return http.StatusInternalServerError, nil, err
	default:
		return http.StatusOK, answer, nil
	}
}

func (sh *sessionHandler) log(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	if sh.logger != nil {
		sh.logger.LogAttrs(ctx, level, msg, attrs...)
	}
}
