package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/room-booking/backend/internal/storage"
	"github.com/room-booking/backend/internal/storage/models"
)

type fakeTokenSaver struct {
	saved map[string]string
	err   error
}

func (f *fakeTokenSaver) Save(_ context.Context, userID, token string) error {
	if f.err != nil {
		return f.err
	}
	if f.saved == nil {
		f.saved = make(map[string]string)
	}
	f.saved[userID] = token
	return nil
}

func TestSaveToken(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		saveErr    error
		wantStatus int
		wantSaved  map[string]string
	}{
		{
			name:       "personal account id is normalized",
			body:       `{"userId":"00000000-0000-0000-1A2B-3C4D5E6F7A8B.9188040d-6c67-4c5b-b112-36a304b66dad","accessToken":"tok"}`,
			wantStatus: http.StatusOK,
			wantSaved:  map[string]string{"1a2b3c4d5e6f7a8b": "tok"},
		},
		{
			name:       "missing token",
			body:       `{"userId":"u1"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `userId=u1`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "store failure",
			body:       `{"userId":"u1","accessToken":"tok"}`,
			saveErr:    errors.New("locked"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saver := &fakeTokenSaver{err: tt.saveErr}
			rec := httptest.NewRecorder()

			SaveToken(saver).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantSaved, saver.saved)
		})
	}
}

type fakeTokenAdmin struct {
	tokens []models.AccessToken
	err    error
}

func (f *fakeTokenAdmin) List(context.Context) ([]models.AccessToken, error) {
	return f.tokens, f.err
}

func (f *fakeTokenAdmin) Delete(_ context.Context, userID string) error {
	if f.err != nil {
		return f.err
	}
	for i, tok := range f.tokens {
		if tok.UserID == userID {
			f.tokens = append(f.tokens[:i], f.tokens[i+1:]...)
			return nil
		}
	}
	return storage.ErrTokenNotFound
}

func TestListTokens(t *testing.T) {
	admin := &fakeTokenAdmin{tokens: []models.AccessToken{{UserID: "u1", Token: "secret"}}}
	rec := httptest.NewRecorder()

	ListTokens(admin).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tokens", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user_id":"u1"`)
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = httptest.NewRecorder()
	ListTokens(&fakeTokenAdmin{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tokens", nil))
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestDeleteToken(t *testing.T) {
	tests := []struct {
		name       string
		userID     string
		err        error
		wantStatus int
	}{
		{name: "stored token", userID: "u1", wantStatus: http.StatusNoContent},
		{name: "unknown user", userID: "u9", wantStatus: http.StatusNotFound},
		{name: "store failure", userID: "u1", err: errors.New("locked"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin := &fakeTokenAdmin{tokens: []models.AccessToken{{UserID: "u1"}}, err: tt.err}
			req := mux.SetURLVars(httptest.NewRequest(http.MethodDelete, "/api/tokens/"+tt.userID, nil),
				map[string]string{"userId": tt.userID})
			rec := httptest.NewRecorder()

			DeleteToken(admin).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
