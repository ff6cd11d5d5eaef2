package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// APIServer exposes one Controller over HTTP. Every action runs under mu,
// so actions are applied one at a time and in arrival order.
type APIServer struct {
	listenAddr string
	secret     []byte
	tokenTTL   time.Duration
	log        *zap.Logger
	validate   *validator.Validate
	hub        *ViewHub

	mu         sync.Mutex
	controller *Controller
	sessionID  string
	publishSID string
}

func NewAPIServer(listenAddr string, controller *Controller, cfg EnvConfig, logger *zap.Logger) *APIServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &APIServer{
		listenAddr: listenAddr,
		secret:     []byte(cfg.JWTSecret),
		tokenTTL:   cfg.TokenTTL,
		log:        logger,
		validate:   validator.New(),
		controller: controller,
	}
	s.hub = NewViewHub(s.sessionView, logger)
	controller.SetPublisher(sessionPublisher{s})
	return s
}

func (s *APIServer) Router() *mux.Router {
	router := mux.NewRouter()

	router.Use(MetricMiddleware)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET").Name("metrics")
	router.HandleFunc("/health", makeHTTPHanleFunc(handleHealthCheck)).Name("health_check")
	router.HandleFunc("/login", makeHTTPHanleFunc(s.handleLogin)).Methods("POST").Name("login")
	router.HandleFunc("/view", withJWTAuth(makeHTTPHanleFunc(s.handleGetView), s.secret)).Methods("GET").Name("view")
	router.HandleFunc("/transfer", withJWTAuth(makeHTTPHanleFunc(s.handleTransfer), s.secret)).Methods("POST").Name("transfer")
	router.HandleFunc("/deposit", withJWTAuth(makeHTTPHanleFunc(s.handleDeposit), s.secret)).Methods("POST").Name("deposit")
	router.HandleFunc("/withdraw", withJWTAuth(makeHTTPHanleFunc(s.handleWithdraw), s.secret)).Methods("POST").Name("withdraw")
	router.HandleFunc("/close", withJWTAuth(makeHTTPHanleFunc(s.handleCloseAccount), s.secret)).Methods("POST").Name("close")
	router.HandleFunc("/sort", withJWTAuth(makeHTTPHanleFunc(s.handleSort), s.secret)).Methods("POST").Name("sort")
	router.HandleFunc("/ws", withJWTAuth(s.handleViewStream, s.secret)).Methods("GET").Name("view_stream")

	return router
}

func (s *APIServer) Run() error {
	s.log.Info("JSON API server running", zap.String("addr", s.listenAddr))
	defer s.hub.Close()

	return http.ListenAndServe(s.listenAddr, s.Router())
}

func handleHealthCheck(w http.ResponseWriter, r *http.Request) error {
	healthResponse := struct {
		Timestamp time.Time `json:"timestamp"`
	}{
		Timestamp: time.Now(),
	}
	return WriteJSON(w, http.StatusOK, healthResponse)
}

type ActionResponse struct {
	Outcome Outcome `json:"outcome"`
	View    View    `json:"view"`
	Token   string  `json:"token,omitempty"`
}

func (s *APIServer) handleLogin(w http.ResponseWriter, r *http.Request) error {
	loginReq := &LoginRequest{}
	if err := decodeJSON(r, loginReq); err != nil {
		return err
	}

	req := Request{Kind: ActionLogin, Username: loginReq.Username, PIN: loginReq.PIN}
	return s.runAction(w, nil, req, s.check(ActionLogin, loginReq))
}

func (s *APIServer) handleTransfer(w http.ResponseWriter, r *http.Request) error {
	transferReq := &TransferRequest{}
	if err := decodeJSON(r, transferReq); err != nil {
		return err
	}

	req := Request{Kind: ActionTransfer, Amount: transferReq.Amount, Recipient: transferReq.To}
	return s.runAction(w, claimsFromContext(r.Context()), req, s.check(ActionTransfer, transferReq))
}

func (s *APIServer) handleDeposit(w http.ResponseWriter, r *http.Request) error {
	amountReq := &AmountRequest{}
	if err := decodeJSON(r, amountReq); err != nil {
		return err
	}

	req := Request{Kind: ActionDeposit, Amount: amountReq.Amount}
	return s.runAction(w, claimsFromContext(r.Context()), req, s.check(ActionDeposit, amountReq))
}

func (s *APIServer) handleWithdraw(w http.ResponseWriter, r *http.Request) error {
	amountReq := &AmountRequest{}
	if err := decodeJSON(r, amountReq); err != nil {
		return err
	}

	req := Request{Kind: ActionWithdraw, Amount: amountReq.Amount}
	return s.runAction(w, claimsFromContext(r.Context()), req, s.check(ActionWithdraw, amountReq))
}

func (s *APIServer) handleCloseAccount(w http.ResponseWriter, r *http.Request) error {
	closeReq := &CloseAccountRequest{}
	if err := decodeJSON(r, closeReq); err != nil {
		return err
	}

	req := Request{Kind: ActionClose, Username: closeReq.Username, PIN: closeReq.PIN}
	return s.runAction(w, claimsFromContext(r.Context()), req, s.check(ActionClose, closeReq))
}

func (s *APIServer) handleSort(w http.ResponseWriter, r *http.Request) error {
	return s.runAction(w, claimsFromContext(r.Context()), Request{Kind: ActionSort}, nil)
}

func (s *APIServer) handleGetView(w http.ResponseWriter, r *http.Request) error {
	view, ok := s.sessionView(claimsFromContext(r.Context()).ID)
	if !ok {
		return WriteJSON(w, http.StatusUnauthorized, APIError{Error: "User not authorized"})
	}
	return WriteJSON(w, http.StatusOK, view)
}

func (s *APIServer) handleViewStream(w http.ResponseWriter, r *http.Request) {
	sid := claimsFromContext(r.Context()).ID
	if _, ok := s.sessionView(sid); !ok {
		WriteJSON(w, http.StatusUnauthorized, APIError{Error: "User not authorized"})
		return
	}
	if err := s.hub.HandleWS(w, r, sid); err != nil {
		s.log.Warn("upgrading view stream", zap.Error(err))
	}
}

// runAction applies req unless invalid is set, and always answers 200 with
// the outcome and the resulting view. Only a token that belongs to a
// replaced or closed session gets 401.
func (s *APIServer) runAction(w http.ResponseWriter, claims *SessionClaims, req Request, invalid *Outcome) error {
	res, authorized, err := func() (ActionResponse, bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if req.Kind != ActionLogin && !s.sessionMatches(claims) {
			return ActionResponse{}, false, nil
		}

		var out Outcome
		if invalid != nil {
			out = *invalid
		} else {
			out = s.dispatch(req)
		}

		res := ActionResponse{Outcome: out, View: s.controller.View()}
		if out.Succeeded() {
			switch req.Kind {
			case ActionLogin:
				s.sessionID = s.publishSID
				token, err := createJWT(s.secret, s.tokenTTL, req.Username, s.sessionID)
				if err != nil {
					return ActionResponse{}, true, err
				}
				res.Token = token
			case ActionClose:
				s.sessionID = ""
			}
		}
		return res, true, nil
	}()
	if err != nil {
		return err
	}
	if !authorized {
		return WriteJSON(w, http.StatusUnauthorized, APIError{Error: "User not authorized"})
	}

	recordOutcome(res.Outcome)
	return WriteJSON(w, http.StatusOK, res)
}

// dispatch must be called with mu held. A login is published under the id
// the session will get if it succeeds, so clients of the replaced session
// never see the new account.
func (s *APIServer) dispatch(req Request) Outcome {
	s.publishSID = s.sessionID
	if req.Kind == ActionLogin {
		s.publishSID = uuid.New().String()
	}
	return s.controller.Dispatch(req)
}

func (s *APIServer) sessionMatches(claims *SessionClaims) bool {
	return claims != nil && s.sessionID != "" && claims.ID == s.sessionID
}

func (s *APIServer) sessionView(sid string) (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessionID == "" || sid != s.sessionID {
		return View{}, false
	}
	return s.controller.View(), true
}

// check turns validation failures into a rejected outcome so a bad form
// behaves like any other refused action.
func (s *APIServer) check(action ActionKind, req any) *Outcome {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	out := rejected(action, ReasonInvalidRequest)
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		out.Details = formatValidationErrors(validationErrs)
	}
	return &out
}

type sessionPublisher struct {
	s *APIServer
}

// Publish runs inside dispatch, with mu held.
func (p sessionPublisher) Publish(v View) {
	p.s.hub.Publish(p.s.publishSID, v)
}

type SessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

func claimsFromContext(ctx context.Context) *SessionClaims {
	claims, _ := ctx.Value(claimsKey{}).(*SessionClaims)
	if claims == nil {
		return &SessionClaims{}
	}
	return claims
}

// withJWTAuth accepts the token from the Authorization header, with or
// without a Bearer prefix, or from the token query parameter, which is the
// only option a browser websocket has.
func withJWTAuth(handlerFunc http.HandlerFunc, secret []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := strings.TrimPrefix(r.Header.Get("authorization"), "Bearer ")
		if tokenStr == "" {
			tokenStr = r.URL.Query().Get("token")
		}

		claims, err := validateJWT(tokenStr, secret)
		if err != nil {
			WriteJSON(w, http.StatusUnauthorized, APIError{Error: "User not authorized"})
			return
		}

		handlerFunc(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	}
}

func validateJWT(tokenStr string, secret []byte) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func createJWT(secret []byte, ttl time.Duration, username, sessionID string) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       sessionID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

type APIError struct {
	Error string `json:"error"`
}

// WriteJSON encodes before writing the header, so an encoding failure
// still leaves the caller free to answer with an error status.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}

	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	errors := make(map[string]string)

	for _, e := range errs {
		var msg string

		switch e.Tag() {
		case "required":
			msg = fmt.Sprintf("%s is required", e.Field())
		case "max":
			msg = fmt.Sprintf("%s must be at most %s characters", e.Field(), e.Param())
		default:
			msg = fmt.Sprintf("%s is invalid", e.Field())
		}

		errors[e.Field()] = msg
	}

	return errors
}

type apiFunc func(http.ResponseWriter, *http.Request) error

func makeHTTPHanleFunc(f apiFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := f(w, r); err != nil {
			WriteJSON(w, http.StatusBadRequest, APIError{Error: err.Error()})
		}
	}
}
