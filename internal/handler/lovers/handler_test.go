package lovers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/companion/internal/backend"
	"github.com/zhouzirui/z-tavern/companion/internal/model/chat"
	"github.com/zhouzirui/z-tavern/companion/internal/model/companion"
	"github.com/zhouzirui/z-tavern/companion/internal/service/conversation"
)

func setupRouter() (*chi.Mux, companion.Store, *conversation.Service) {
	store := companion.NewMemoryStore(companion.Seed("u1"))
	conversations := conversation.NewService()
	handler := New(store, conversations, zap.NewNop())

	r := chi.NewRouter()
	r.Route("/lovers", handler.RegisterRoutes)
	return r, store, conversations
}

func decodeEnvelope(t *testing.T, resp *httptest.ResponseRecorder, data any) backend.Envelope {
	t.Helper()
	var env backend.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return env
}

func TestListCompanions(t *testing.T) {
	r, _, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/lovers/list?user_id=u1", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var profiles []backend.ProfileDTO
	env := decodeEnvelope(t, resp, &profiles)
	if env.Code != 200 {
		t.Fatalf("expected code 200, got %d", env.Code)
	}
	if len(profiles) != 2 || profiles[0].LoverID != "xiaoyu" {
		t.Fatalf("unexpected profiles: %+v", profiles)
	}
}

func TestListRequiresUser(t *testing.T) {
	r, _, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/lovers/list", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if env := decodeEnvelope(t, resp, nil); env.Code != http.StatusBadRequest {
		t.Fatalf("expected envelope code 400, got %d", env.Code)
	}
}

func TestCreateCompanion(t *testing.T) {
	r, store, _ := setupRouter()
	payload, _ := json.Marshal(backend.CreateRequest{UserID: "u2", Name: "  星星 ", Personality: 5, Hobbies: []string{"天文"}})

	req := httptest.NewRequest(http.MethodPost, "/lovers/create", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var created backend.ProfileDTO
	if env := decodeEnvelope(t, resp, &created); env.Code != 200 {
		t.Fatalf("expected code 200, got %d (%s)", env.Code, env.Message)
	}
	if created.Name != "星星" || created.LoverID == "" {
		t.Fatalf("unexpected created profile: %+v", created)
	}
	if _, ok := store.FindByID("u2", created.LoverID); !ok {
		t.Fatalf("expected profile to be stored")
	}
}

func TestCreateCompanionMissingName(t *testing.T) {
	r, _, _ := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/lovers/create", bytes.NewReader([]byte(`{"user_id":"u1"}`)))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestDeleteCompanionDropsHistory(t *testing.T) {
	r, store, conversations := setupRouter()
	if _, err := conversations.SaveMessage(t.Context(), "u1", "ahao", chat.Message{Content: "hi"}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/lovers/delete", bytes.NewReader([]byte(`{"user_id":"u1","lover_id":"ahao"}`)))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if env := decodeEnvelope(t, resp, nil); env.Code != 200 {
		t.Fatalf("expected code 200, got %d", env.Code)
	}
	if _, ok := store.FindByID("u1", "ahao"); ok {
		t.Fatalf("expected companion to be removed")
	}
	if history, _ := conversations.LoadTranscript(t.Context(), "u1", "ahao"); len(history) != 0 {
		t.Fatalf("expected history to be removed")
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/lovers/delete", bytes.NewReader([]byte(`{"user_id":"u1","lover_id":"ahao"}`))))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.Code)
	}
}

func TestHistory(t *testing.T) {
	r, _, conversations := setupRouter()
	for _, content := range []string{"早", "早安"} {
		if _, err := conversations.SaveMessage(t.Context(), "u1", "xiaoyu", chat.Message{Sender: chat.SenderHuman, Content: content}); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/lovers/history?user_id=u1&lover_id=xiaoyu", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var messages []backend.MessageDTO
	if env := decodeEnvelope(t, resp, &messages); env.Code != 200 {
		t.Fatalf("expected code 200, got %d", env.Code)
	}
	if len(messages) != 2 || messages[0].Content != "早" || messages[1].Sender != "human" {
		t.Fatalf("unexpected history: %+v", messages)
	}
}
