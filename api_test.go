package main

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*APIServer, *Ledger) {
	t.Helper()
	ledger := NewLedger(DemoAccounts()...)
	controller := NewController(ledger, PlainPINMatcher{}, zap.NewNop())
	s := NewAPIServer(":0", controller, EnvConfig{JWTSecret: "test-secret"}, zap.NewNop())
	t.Cleanup(func() { s.hub.Close() })
	return s, ledger
}

func doRequest(router *mux.Router, method, url, token string, body any) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = strings.NewReader(string(b))
	} else {
		reader = strings.NewReader("")
	}
	req, _ := http.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeAction(t *testing.T, w *httptest.ResponseRecorder) ActionResponse {
	t.Helper()
	var res ActionResponse
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return res
}

func loginToken(t *testing.T, router *mux.Router, username, pin string) string {
	t.Helper()
	w := doRequest(router, http.MethodPost, "/login", "", map[string]string{"username": username, "pin": pin})
	if w.Code != http.StatusOK {
		t.Fatalf("login status=%d body=%s", w.Code, w.Body.String())
	}
	res := decodeAction(t, w)
	if !res.Outcome.Succeeded() || res.Token == "" {
		t.Fatalf("login failed: %+v", res)
	}
	return res.Token
}

func TestHealthCheck(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(s.Router(), http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()
	loginToken(t, router, "js", "1111")

	w := doRequest(router, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"bankist_actions_total", "bankist_http_requests_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output is missing %s", name)
		}
	}
}

func TestLoginEndpoint(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		expectedStatus int
		expectedResult Status
		expectedReason Reason
	}{
		{
			name:           "success",
			body:           map[string]string{"username": "js", "pin": "1111"},
			expectedStatus: http.StatusOK,
			expectedResult: StatusSucceeded,
		},
		{
			name:           "wrong pin is a silent rejection",
			body:           map[string]string{"username": "js", "pin": "9999"},
			expectedStatus: http.StatusOK,
			expectedResult: StatusRejected,
			expectedReason: ReasonWrongPIN,
		},
		{
			name:           "missing fields are rejected",
			body:           map[string]string{},
			expectedStatus: http.StatusOK,
			expectedResult: StatusRejected,
			expectedReason: ReasonInvalidRequest,
		},
		{
			name:           "pin must be text",
			body:           map[string]any{"username": "js", "pin": 1111},
			expectedStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t)
			w := doRequest(s.Router(), http.MethodPost, "/login", "", tt.body)
			if w.Code != tt.expectedStatus {
				t.Fatalf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}

			res := decodeAction(t, w)
			if res.Outcome.Status != tt.expectedResult || res.Outcome.Reason != tt.expectedReason {
				t.Fatalf("outcome=%+v", res.Outcome)
			}
			if tt.expectedResult == StatusSucceeded {
				if res.Token == "" || !res.View.Visible || res.View.Balance != 3840 {
					t.Fatalf("response=%+v", res)
				}
				return
			}
			if res.Token != "" || res.View.Visible {
				t.Fatalf("rejected login leaked a session: %+v", res)
			}
		})
	}
}

func TestLoginValidationDetails(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(s.Router(), http.MethodPost, "/login", "", map[string]string{"pin": "1111"})

	res := decodeAction(t, w)
	if res.Outcome.Details["Username"] == "" {
		t.Fatalf("details=%v", res.Outcome.Details)
	}
}

func TestActionsRequireToken(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	for _, path := range []string{"/transfer", "/deposit", "/withdraw", "/close", "/sort"} {
		w := doRequest(router, http.MethodPost, path, "", map[string]string{"amount": "10"})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401 got %d", path, w.Code)
		}
		w = doRequest(router, http.MethodPost, path, "garbage", map[string]string{"amount": "10"})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s with bad token: expected 401 got %d", path, w.Code)
		}
	}
	if w := doRequest(router, http.MethodGet, "/view", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("/view: expected 401 got %d", w.Code)
	}
}

func TestTransferEndpoint(t *testing.T) {
	s, ledger := newTestServer(t)
	router := s.Router()
	token := loginToken(t, router, "js", "1111")

	w := doRequest(router, http.MethodPost, "/transfer", token, map[string]string{"amount": "3840", "to": "jd"})
	res := decodeAction(t, w)
	if w.Code != http.StatusOK || res.Outcome.Reason != ReasonInsufficientBalance {
		t.Fatalf("status=%d outcome=%+v", w.Code, res.Outcome)
	}
	if res.View.Balance != 3840 {
		t.Fatalf("balance=%v want=3840", res.View.Balance)
	}

	w = doRequest(router, http.MethodPost, "/transfer", token, map[string]string{"amount": "840", "to": "jd"})
	res = decodeAction(t, w)
	if !res.Outcome.Succeeded() || res.View.Balance != 3000 {
		t.Fatalf("outcome=%+v balance=%v", res.Outcome, res.View.Balance)
	}
	jd, _ := ledger.FindByUsername("jd")
	if got := ComputeBalance(jd); got != 12560 {
		t.Fatalf("jd balance=%v want=12560", got)
	}
}

func TestDepositWithdrawSortEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()
	token := loginToken(t, router, "ss", "4444")

	res := decodeAction(t, doRequest(router, http.MethodPost, "/deposit", token, map[string]string{"amount": "10000"}))
	if res.Outcome.Reason != ReasonLoanNotEligible {
		t.Fatalf("deposit outcome=%+v", res.Outcome)
	}

	res = decodeAction(t, doRequest(router, http.MethodPost, "/deposit", token, map[string]string{"amount": "2000"}))
	if !res.Outcome.Succeeded() || res.View.Balance != 4270 {
		t.Fatalf("deposit outcome=%+v balance=%v", res.Outcome, res.View.Balance)
	}

	res = decodeAction(t, doRequest(router, http.MethodPost, "/withdraw", token, map[string]string{"amount": "270"}))
	if !res.Outcome.Succeeded() || res.View.Balance != 4000 {
		t.Fatalf("withdraw outcome=%+v balance=%v", res.Outcome, res.View.Balance)
	}

	res = decodeAction(t, doRequest(router, http.MethodPost, "/sort", token, nil))
	if !res.Outcome.Succeeded() || !res.View.Sorted {
		t.Fatalf("sort outcome=%+v", res.Outcome)
	}
	if first := res.View.Movements[0].Amount; first != -270 {
		t.Fatalf("first sorted movement=%v want=-270", first)
	}

	w := doRequest(router, http.MethodGet, "/view", token, nil)
	var view View
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if !view.Sorted || view.Balance != 4000 {
		t.Fatalf("view=%+v", view)
	}
}

func TestInfiniteBalanceStillRenders(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()
	token := loginToken(t, router, "js", "1111")

	w := doRequest(router, http.MethodPost, "/withdraw", token, map[string]string{"amount": "-Infinity"})
	if w.Code != http.StatusOK {
		t.Fatalf("withdraw status=%d body=%s", w.Code, w.Body.String())
	}
	res := decodeAction(t, w)
	if !res.Outcome.Succeeded() || !math.IsInf(float64(res.View.Balance), 1) {
		t.Fatalf("withdraw outcome=%+v balance=%v", res.Outcome, res.View.Balance)
	}

	w = doRequest(router, http.MethodGet, "/view", token, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"balance":"Infinity"`) {
		t.Fatalf("view status=%d body=%s", w.Code, w.Body.String())
	}
	var view View
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if !view.Visible || !math.IsInf(float64(view.Balance), 1) {
		t.Fatalf("view=%+v", view)
	}

	res = decodeAction(t, doRequest(router, http.MethodPost, "/sort", token, nil))
	last := res.View.Movements[len(res.View.Movements)-1]
	if !res.Outcome.Succeeded() || !math.IsInf(float64(last.Amount), 1) {
		t.Fatalf("sort outcome=%+v last=%+v", res.Outcome, last)
	}

	token = loginToken(t, router, "js", "1111")
	w = doRequest(router, http.MethodGet, "/view", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("view after relogin status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestWriteJSONFailureKeepsStatusFree(t *testing.T) {
	handler := makeHTTPHanleFunc(func(w http.ResponseWriter, r *http.Request) error {
		return WriteJSON(w, http.StatusOK, math.Inf(1))
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want=%d", w.Code, http.StatusBadRequest)
	}
	var apiErr APIError
	if err := json.NewDecoder(w.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
		t.Fatalf("body=%q err=%v", w.Body.String(), err)
	}
}

func TestNewLoginInvalidatesOldToken(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	old := loginToken(t, router, "js", "1111")
	current := loginToken(t, router, "jd", "2222")

	if w := doRequest(router, http.MethodPost, "/sort", old, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("old token: expected 401 got %d", w.Code)
	}
	if w := doRequest(router, http.MethodPost, "/sort", current, nil); w.Code != http.StatusOK {
		t.Fatalf("current token: expected 200 got %d", w.Code)
	}
}

func TestCloseEndpoint(t *testing.T) {
	s, ledger := newTestServer(t)
	router := s.Router()
	token := loginToken(t, router, "js", "1111")

	res := decodeAction(t, doRequest(router, http.MethodPost, "/close", token, map[string]string{"username": "js", "pin": "1234"}))
	if res.Outcome.Reason != ReasonIdentityMismatch || !res.View.Visible {
		t.Fatalf("outcome=%+v", res.Outcome)
	}

	res = decodeAction(t, doRequest(router, http.MethodPost, "/close", token, map[string]string{"username": "js", "pin": "1111"}))
	if !res.Outcome.Succeeded() || res.View.Visible || res.View.Welcome != LoggedOutWelcome {
		t.Fatalf("outcome=%+v view=%+v", res.Outcome, res.View)
	}
	if _, err := ledger.FindByUsername("js"); err == nil {
		t.Fatal("js should be closed")
	}

	if w := doRequest(router, http.MethodPost, "/deposit", token, map[string]string{"amount": "10"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("token after close: expected 401 got %d", w.Code)
	}
}

func TestMalformedBody(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()
	token := loginToken(t, router, "js", "1111")

	req, _ := http.NewRequest(http.MethodPost, "/deposit", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", w.Code)
	}
}

func TestTokenExpiry(t *testing.T) {
	token, err := createJWT([]byte("k"), time.Millisecond, "js", "sid")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(1100 * time.Millisecond)
	if _, err := validateJWT(token, []byte("k")); err == nil {
		t.Fatal("expired token accepted")
	}

	token, err = createJWT([]byte("k"), 0, "js", "sid")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := validateJWT(token, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if claims.Username != "js" || claims.ID != "sid" || claims.ExpiresAt != nil {
		t.Fatalf("claims=%+v", claims)
	}
	if _, err := validateJWT(token, []byte("other")); err == nil {
		t.Fatal("token signed with another key accepted")
	}
}

func readView(t *testing.T, conn *websocket.Conn) View {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var v View
	if err := conn.ReadJSON(&v); err != nil {
		t.Fatalf("reading view: %v", err)
	}
	return v
}

func TestViewStream(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()
	router := s.Router()

	token := loginToken(t, router, "js", "1111")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if v := readView(t, conn); v.Welcome != "Welcome back, Jonas" || v.Balance != 3840 {
		t.Fatalf("initial view=%+v", v)
	}

	res := decodeAction(t, doRequest(router, http.MethodPost, "/deposit", token, map[string]string{"amount": "1000"}))
	if !res.Outcome.Succeeded() {
		t.Fatalf("deposit outcome=%+v", res.Outcome)
	}
	if v := readView(t, conn); v.Balance != 4840 {
		t.Fatalf("pushed view balance=%v want=4840", v.Balance)
	}

	decodeAction(t, doRequest(router, http.MethodPost, "/close", token, map[string]string{"username": "js", "pin": "1111"}))
	if v := readView(t, conn); v.Visible {
		t.Fatalf("view after close=%+v", v)
	}
}

func TestViewStreamRejectsStaleToken(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()
	router := s.Router()

	old := loginToken(t, router, "js", "1111")
	loginToken(t, router, "jd", "2222")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + old
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("stale token opened a stream")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp=%v", resp)
	}
}
