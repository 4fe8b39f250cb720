package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/companion/internal/config"
	"github.com/zhouzirui/z-tavern/companion/internal/model/chat"
	"github.com/zhouzirui/z-tavern/companion/internal/model/companion"
)

func writeEnvelope(w http.ResponseWriter, code int, message string, data any) {
	raw, _ := json.Marshal(data)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Envelope{Code: code, Message: message, Data: raw})
}

func setupClient(t *testing.T, r chi.Router, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	client, err := NewClient(config.BackendConfig{BaseURL: srv.URL, Token: token, Timeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestHistoryDecodesEntries(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/lovers/history", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("user_id") != "u1" || req.URL.Query().Get("lover_id") != "c1" {
			writeEnvelope(w, 400, "bad pair", nil)
			return
		}
		if req.Header.Get("x-user-id") != "u1" || req.Header.Get("x-token") != "secret" {
			writeEnvelope(w, 401, "unauthorized", nil)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":200,"message":"ok","data":[
			{"id":"m1","sender":"human","content":"hi","timestamp":"2026-05-04T08:00:00Z","type":"text"},
			{"id":"m2","sender":"lover","content":"你好","timestamp":1777881600000,"type":"care"},
			{"sender":"ai","content":"no id","timestamp":null,"type":"weird"}
		]}`))
	})
	client := setupClient(t, r, "secret")

	messages, err := client.History(context.Background(), "u1", "c1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	if messages[0].Sender != chat.SenderHuman || messages[0].Content != "hi" {
		t.Fatalf("unexpected first message: %+v", messages[0])
	}
	if !messages[0].Timestamp.Equal(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp: %v", messages[0].Timestamp)
	}
	if messages[1].Sender != chat.SenderAI || messages[1].Kind != chat.KindCare {
		t.Fatalf("unexpected second message: %+v", messages[1])
	}
	if messages[1].Timestamp.UnixMilli() != 1777881600000 {
		t.Fatalf("millis timestamp not decoded: %v", messages[1].Timestamp)
	}
	if messages[2].ID == "" || messages[2].Kind != chat.KindText {
		t.Fatalf("expected generated id and text kind, got %+v", messages[2])
	}
}

func TestHistoryAPIError(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/lovers/history", func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, 500, "boom", nil)
	})
	client := setupClient(t, r, "")

	_, err := client.History(context.Background(), "u1", "c1")
	if !errors.Is(err, ErrAPI) {
		t.Fatalf("expected ErrAPI, got %v", err)
	}
}

func TestHistoryTransportError(t *testing.T) {
	client, err := NewClient(config.BackendConfig{BaseURL: "http://127.0.0.1:1/", Timeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.History(context.Background(), "u1", "c1"); err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestTokenHeaderOmittedWhenUnset(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/lovers/list", func(w http.ResponseWriter, req *http.Request) {
		if _, ok := req.Header["X-Token"]; ok {
			writeEnvelope(w, 400, "unexpected token", nil)
			return
		}
		writeEnvelope(w, 200, "ok", []ProfileDTO{})
	})
	client := setupClient(t, r, "")

	profiles, err := client.ListCompanions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(profiles) != 0 {
		t.Fatalf("expected no profiles, got %d", len(profiles))
	}
}

func TestCompanionLifecycle(t *testing.T) {
	store := companion.NewMemoryStore(nil)

	r := chi.NewRouter()
	r.Route("/lovers", func(r chi.Router) {
		r.Get("/list", func(w http.ResponseWriter, req *http.Request) {
			var out []ProfileDTO
			for _, p := range store.List(req.URL.Query().Get("user_id")) {
				out = append(out, ProfileDTOFrom(p))
			}
			writeEnvelope(w, 200, "ok", out)
		})
		r.Post("/create", func(w http.ResponseWriter, req *http.Request) {
			var body CreateRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeEnvelope(w, 400, "bad body", nil)
				return
			}
			p := companion.Profile{
				ID:          "c-new",
				UserID:      body.UserID,
				Name:        body.Name,
				Personality: companion.Personality(body.Personality),
				Interests:   body.Hobbies,
			}
			store.Save(p)
			writeEnvelope(w, 200, "ok", ProfileDTOFrom(p))
		})
		r.Post("/delete", func(w http.ResponseWriter, req *http.Request) {
			var body PairRequest
			json.NewDecoder(req.Body).Decode(&body)
			if !store.Delete(body.UserID, body.LoverID) {
				writeEnvelope(w, 404, "not found", nil)
				return
			}
			writeEnvelope(w, 200, "ok", nil)
		})
	})
	client := setupClient(t, r, "")
	ctx := context.Background()

	created, err := client.CreateCompanion(ctx, CreateRequest{
		UserID:      "u1",
		Name:        "小雨",
		Personality: int(companion.Romantic),
		Hobbies:     []string{"音乐"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "c-new" || created.Personality != companion.Romantic {
		t.Fatalf("unexpected created profile: %+v", created)
	}

	list, err := client.ListCompanions(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Name != "小雨" || len(list[0].Interests) != 1 {
		t.Fatalf("unexpected list: %+v", list)
	}

	if err := client.DeleteCompanion(ctx, "u1", "c-new"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := client.DeleteCompanion(ctx, "u1", "c-new"); !errors.Is(err, ErrAPI) {
		t.Fatalf("expected ErrAPI on second delete, got %v", err)
	}
}

func TestProfileDTOPrefersLoverID(t *testing.T) {
	p := ProfileDTO{ID: "row-7", LoverID: "c1", Name: "x"}.ToProfile()
	if p.ID != "c1" {
		t.Fatalf("expected lover id, got %q", p.ID)
	}
	p = ProfileDTO{ID: "row-7"}.ToProfile()
	if p.ID != "row-7" {
		t.Fatalf("expected row id fallback, got %q", p.ID)
	}
}
