package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callsignal-backend/internal/domain"
	apperrors "callsignal-backend/pkg/errors"
)

func writeEnvelope(w http.ResponseWriter, status int, data interface{}, code, message string) {
	body := map[string]interface{}{"success": code == ""}
	if data != nil {
		body["data"] = data
	}
	if code != "" {
		body["error"] = map[string]string{"code": code, "message": message}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func TestClient_SubmitOffer(t *testing.T) {
	callID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/calls/"+callID.String()+"/offer", r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))

		raw, _ := io.ReadAll(r.Body)
		var body map[string]string
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "v=0", body["payload"])

		writeEnvelope(w, http.StatusOK, domain.SignalingState{CallID: callID, Status: domain.CallStatusRinging, Offer: "v=0", OfferVersion: 1}, "", "")
	}))
	defer server.Close()

	c := New(server.URL, "token-123")
	state, err := c.SubmitOffer(context.Background(), callID, "v=0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.OfferVersion)
	assert.Equal(t, domain.CallStatusRinging, state.Status)
}

func TestClient_DecodesAppError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusConflict, nil, string(apperrors.ErrCodeIllegalState), apperrors.MsgCallNotAvailable)
	}))
	defer server.Close()

	_, err := New(server.URL, "t").Accept(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIllegalState))
	assert.Equal(t, http.StatusConflict, apperrors.GetAppError(err).StatusCode)
	assert.False(t, IsTransient(err))
}

func TestClient_CandidatesQuery(t *testing.T) {
	callID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("after"))
		assert.Equal(t, "true", r.URL.Query().Get("exclude_own"))
		writeEnvelope(w, http.StatusOK, []domain.ICECandidate{{CallID: callID, Sequence: 8, Payload: "c"}}, "", "")
	}))
	defer server.Close()

	candidates, err := New(server.URL, "t").Candidates(context.Background(), callID, 7, true)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, int64(8), candidates[0].Sequence)
}

func TestClient_ActiveCallNone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, nil, "", "")
	}))
	defer server.Close()

	view, err := New(server.URL, "t").ActiveCall(context.Background())
	require.NoError(t, err)
	assert.Nil(t, view)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(apperrors.DatabaseError(errors.New("down"))))
	assert.True(t, IsTransient(apperrors.RateLimitExceededError()))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(apperrors.CallNotFoundError()))
	assert.False(t, IsTransient(nil))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := New(url, "t").Signaling(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
