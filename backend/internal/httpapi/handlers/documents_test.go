package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"collabdoc/backend/internal/entity"
	"collabdoc/backend/internal/httpapi/middleware"
	"collabdoc/backend/internal/lock"
	"collabdoc/backend/internal/presence"
	"collabdoc/backend/internal/store"
)

func TestCreateShareAndHistory(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/documents", "5", "erin", map[string]string{"title": "notes", "content": "draft"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	created := decode(t, w)
	id, _ := created["id"].(string)
	if id == "" || created["owner_id"] != "5" || created["version"] != float64(1) {
		t.Fatalf("created = %v", created)
	}
	if w = s.do(t, http.MethodPost, "/documents", "5", "erin", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Fatalf("create without title = %d, want 400", w.Code)
	}

	// frank cannot see the document until it is shared
	if w = s.do(t, http.MethodGet, "/documents/"+id+"/content", "6", "frank", nil); w.Code != http.StatusForbidden {
		t.Fatalf("content before share = %d, want 403", w.Code)
	}
	if w = s.do(t, http.MethodPost, "/documents/"+id+"/collaborators", "6", "frank", map[string]string{"user_id": "6"}); w.Code != http.StatusForbidden {
		t.Fatalf("self share = %d, want 403", w.Code)
	}
	if w = s.do(t, http.MethodPost, "/documents/"+id+"/collaborators", "5", "erin", map[string]string{"user_id": "6", "role": "owner"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad role = %d, want 400", w.Code)
	}
	if w = s.do(t, http.MethodPost, "/documents/"+id+"/collaborators", "5", "erin", map[string]string{"user_id": "6", "role": "viewer"}); w.Code != http.StatusCreated {
		t.Fatalf("share = %d %s", w.Code, w.Body.String())
	}
	if w = s.do(t, http.MethodPost, "/documents/"+id+"/collaborators", "5", "erin", map[string]string{"user_id": "6"}); w.Code != http.StatusConflict {
		t.Fatalf("duplicate share = %d, want 409", w.Code)
	}

	w = s.do(t, http.MethodGet, "/documents/"+id+"/content", "6", "frank", nil)
	if w.Code != http.StatusOK || decode(t, w)["content"] != "draft" {
		t.Fatalf("content after share = %d %s", w.Code, w.Body.String())
	}
	if w = s.do(t, http.MethodPost, "/documents/"+id+"/lock", "6", "frank", nil); w.Code != http.StatusForbidden {
		t.Fatalf("viewer lock = %d, want 403", w.Code)
	}

	w = s.do(t, http.MethodGet, "/documents/"+id+"/history?limit=1", "6", "frank", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history = %d %s", w.Code, w.Body.String())
	}
	var hist struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hist.Items) != 1 || hist.Items[0]["action"] != "update" {
		t.Fatalf("history = %v", hist.Items)
	}
	if w = s.do(t, http.MethodGet, "/documents/"+id+"/history?limit=0", "6", "frank", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("history limit=0 = %d, want 400", w.Code)
	}
}

type noHistory struct{ *store.Memory }

func (noHistory) AppendHistory(context.Context, *entity.DocumentEditHistory) error {
	return errors.New("history table gone")
}

func TestCreateLogsHistoryFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mem := store.NewMemory()
	docs := noHistory{mem}
	var out bytes.Buffer
	h := NewDocumentHandler(docs, lock.NewManager(docs, zerolog.Nop()), presence.NewTracker(mem, nil, 20*time.Second, nil, zerolog.Nop()), zerolog.New(&out))
	r := gin.New()
	h.Register(r.Group("/", middleware.AuthMiddleware(secret)))
	s := &testServer{router: r, mem: mem}

	w := s.do(t, http.MethodPost, "/documents", "5", "erin", map[string]string{"title": "notes"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	id, _ := decode(t, w)["id"].(string)
	if w = s.do(t, http.MethodPost, "/documents/"+id+"/collaborators", "5", "erin", map[string]string{"user_id": "6"}); w.Code != http.StatusCreated {
		t.Fatalf("share = %d %s", w.Code, w.Body.String())
	}
	for _, action := range []string{entity.ActionCreate, entity.ActionUpdate} {
		if !bytes.Contains(out.Bytes(), []byte(`"action":"`+action+`"`)) {
			t.Fatalf("log = %s, want a %s history failure", out.String(), action)
		}
	}
	if !bytes.Contains(out.Bytes(), []byte(`"level":"warn"`)) {
		t.Fatalf("log = %s, want warn level", out.String())
	}
}
