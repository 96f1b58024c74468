package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/negotiator/internal/adapter/classifier"
	"github.com/xiaot623/gogo/negotiator/internal/config"
	"github.com/xiaot623/gogo/negotiator/internal/domain"
	"github.com/xiaot623/gogo/negotiator/internal/realtime"
	"github.com/xiaot623/gogo/negotiator/internal/repository"
	"github.com/xiaot623/gogo/negotiator/internal/service"
	"github.com/xiaot623/gogo/negotiator/policy"
	"github.com/xiaot623/gogo/negotiator/tests/helpers"
)

func newTestHandler(t *testing.T) (*Handler, store.Store, *classifier.MockClient) {
	cfg := &config.Config{ClassifierTimeout: time.Second}
	db := helpers.NewTestSQLiteStore(t)
	mock := classifier.NewMockClient()
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	svc := service.New(db, realtime.NewBroker(0, nil), mock, policyEngine, cfg, nil)
	t.Cleanup(svc.Wait)
	return NewHandler(svc, "https://negotiator.example/", nil), db, mock
}

func newJSONContext(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestCreateSessionValidation(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t)

	c, rec := newJSONContext(e, http.MethodPost, "/v1/sessions", `{"case_name":"  "}`)
	if err := h.CreateSession(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateSessionReturnsInviteLink(t *testing.T) {
	e := echo.New()
	h, db, _ := newTestHandler(t)

	c, rec := newJSONContext(e, http.MethodPost, "/v1/sessions", `{"case_name":"Smith v. Jones","role":"party_a"}`)
	if err := h.CreateSession(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Session    domain.Session `json:"session"`
		Role       domain.Role    `json:"role"`
		InviteLink string         `json:"invite_link"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	want := "https://negotiator.example/?role=party_b&session=" + resp.Session.ID
	if resp.InviteLink != want {
		t.Fatalf("expected invite %q, got %q", want, resp.InviteLink)
	}

	stored, err := db.GetSession(context.Background(), resp.Session.ID)
	if err != nil || stored == nil {
		t.Fatalf("session not stored: %v", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t)

	c, rec := newJSONContext(e, http.MethodGet, "/v1/sessions/missing", "")
	c.SetParamNames("session_id")
	c.SetParamValues("missing")

	if err := h.GetSession(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSendMessageAndList(t *testing.T) {
	e := echo.New()
	h, db, _ := newTestHandler(t)
	helpers.SeedSession(t, db, "s1")

	c, rec := newJSONContext(e, http.MethodPost, "/v1/sessions/s1/messages",
		`{"sender_role":"party_a","content":"I offer 5000","language_code":"en"}`)
	c.SetParamNames("session_id")
	c.SetParamValues("s1")
	if err := h.SendMessage(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	h.service.Wait()

	c, rec = newJSONContext(e, http.MethodGet, "/v1/sessions/s1/messages", "")
	c.SetParamNames("session_id")
	c.SetParamValues("s1")
	if err := h.GetMessages(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	var resp struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(resp.Messages))
	}
	if resp.Messages[0].ContentTranslated == nil || resp.Messages[0].Intent != domain.IntentOffer {
		t.Fatalf("message not annotated: %+v", resp.Messages[0])
	}
}

func TestSendEmptyMessageRejected(t *testing.T) {
	e := echo.New()
	h, db, _ := newTestHandler(t)
	helpers.SeedSession(t, db, "s1")

	c, rec := newJSONContext(e, http.MethodPost, "/v1/sessions/s1/messages",
		`{"sender_role":"party_a","content":"   ","language_code":"en"}`)
	c.SetParamNames("session_id")
	c.SetParamValues("s1")
	if err := h.SendMessage(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTermStatusFlow(t *testing.T) {
	e := echo.New()
	h, db, _ := newTestHandler(t)
	helpers.SeedSession(t, db, "s1")

	c, rec := newJSONContext(e, http.MethodPost, "/v1/sessions/s1/terms",
		`{"proposed_by":"party_a","clause_title":"Payment","clause_content":"5000 in 30 days"}`)
	c.SetParamNames("session_id")
	c.SetParamValues("s1")
	if err := h.ProposeTerm(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var term domain.SettlementTerm
	if err := json.Unmarshal(rec.Body.Bytes(), &term); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	patch := func(body string) *httptest.ResponseRecorder {
		c, rec := newJSONContext(e, http.MethodPatch, "/v1/terms/"+term.ID, body)
		c.SetParamNames("term_id")
		c.SetParamValues(term.ID)
		if err := h.UpdateTermStatus(c); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		return rec
	}

	if rec := patch(`{"role":"party_b","status":"accepted","expected_version":3}`); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on stale version, got %d", rec.Code)
	}
	if rec := patch(`{"role":"judge","status":"accepted"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown role, got %d", rec.Code)
	}
	if rec := patch(`{"role":"party_b"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without status, got %d", rec.Code)
	}
	if rec := patch(`{"role":"party_b","status":"accepted","expected_version":1}`); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := patch(`{"role":"party_b","status":"disputed"}`); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for accepted -> disputed, got %d", rec.Code)
	}

	c, rec = newJSONContext(e, http.MethodPost, "/v1/sessions/s1/ratify", `{"role":"party_a"}`)
	c.SetParamNames("session_id")
	c.SetParamValues("s1")
	if err := h.Ratify(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var res domain.RatifyResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !res.Ratified || res.Session.Status != domain.SessionStatusRatified {
		t.Fatalf("expected ratified session, got %+v", res)
	}

	c, rec = newJSONContext(e, http.MethodGet, "/v1/sessions/s1/contract", "")
	c.SetParamNames("session_id")
	c.SetParamValues("s1")
	if err := h.GetContract(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var contract domain.Contract
	if err := json.Unmarshal(rec.Body.Bytes(), &contract); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(contract.Articles) != 1 || contract.Articles[0].Title != "Payment" {
		t.Fatalf("unexpected contract: %+v", contract)
	}
}

func TestJoinResolvesInviteLink(t *testing.T) {
	e := echo.New()
	h, db, _ := newTestHandler(t)
	helpers.SeedSession(t, db, "s1")

	c, rec := newJSONContext(e, http.MethodGet, "/v1/join?session=s1&role=party_b", "")
	if err := h.Join(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Role     domain.Role            `json:"role"`
		Snapshot domain.SessionSnapshot `json:"snapshot"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Role != domain.RolePartyB || resp.Snapshot.Session == nil || resp.Snapshot.Session.ID != "s1" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	c, rec = newJSONContext(e, http.MethodGet, "/v1/join?session=s1&role=judge", "")
	if err := h.Join(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTranslateErrorBodies(t *testing.T) {
	e := echo.New()
	h, _, mock := newTestHandler(t)

	cases := []struct {
		err    error
		status int
		body   string
	}{
		{classifier.ErrRateLimited, http.StatusTooManyRequests, "Rate limited, try again later"},
		{classifier.ErrQuotaExceeded, http.StatusPaymentRequired, "Payment required"},
		{classifier.ErrUnavailable, http.StatusInternalServerError, "AI gateway error"},
	}
	for _, tc := range cases {
		mock.Err = tc.err
		c, rec := newJSONContext(e, http.MethodPost, "/v1/translate",
			`{"messageId":"m1","content":"hello","sourceLanguage":"en"}`)
		if err := h.Translate(c); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		if rec.Code != tc.status {
			t.Fatalf("expected %d, got %d", tc.status, rec.Code)
		}
		var resp map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp["error"] != tc.body {
			t.Fatalf("expected error %q, got %q", tc.body, resp["error"])
		}
	}

	mock.Err = nil
	c, rec := newJSONContext(e, http.MethodPost, "/v1/translate",
		`{"messageId":"m1","content":"hello","sourceLanguage":"en"}`)
	if err := h.Translate(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var resp domain.TranslateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Translation != "[hi] hello" || resp.MessageID != "m1" || resp.Intent != domain.IntentInquiry {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHealth(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t)

	c, rec := newJSONContext(e, http.MethodGet, "/health", "")
	if err := h.Health(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
