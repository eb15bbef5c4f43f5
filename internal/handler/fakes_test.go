package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/config"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/metrics"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// memStore is an in-memory Store with the same error contract as the
// Postgres repository.
type memStore struct {
	mu sync.Mutex

	users       map[int64]*domain.User
	lists       map[int64]*domain.List
	assignments []*domain.Assignment

	nextUserID       int64
	nextListID       int64
	nextAssignmentID int64
	clock            time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[int64]*domain.User),
		lists: make(map[int64]*domain.List),
		clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) Ping(ctx context.Context) error { return nil }

func (s *memStore) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *memStore) agentIDs() []int64 {
	ids := make([]int64, 0)
	for id, u := range s.users {
		if u.Role == domain.RoleAgent {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *memStore) GetAllAgents(ctx context.Context) ([]*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agents := make([]*domain.User, 0)
	for _, id := range s.agentIDs() {
		cp := *s.users[id]
		agents = append(agents, &cp)
	}
	return agents, nil
}

func (s *memStore) insertUser(user *domain.User) error {
	for _, u := range s.users {
		if u.Email == user.Email {
			return &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
		}
	}

	s.nextUserID++
	user.ID = s.nextUserID
	user.CreatedAt = s.tick()
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *memStore) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertUser(user)
}

func (s *memStore) CreateInitialAdmin(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Role == domain.RoleAdmin {
			return repository.ErrAdminExists
		}
	}
	user.Role = domain.RoleAdmin
	return s.insertUser(user)
}

func (s *memStore) AdminExists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Role == domain.RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) DeleteAgent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok || u.Role != domain.RoleAgent {
		return sql.ErrNoRows
	}
	delete(s.users, id)
	return nil
}

func (s *memStore) CreateDistributedList(ctx context.Context, list *domain.List, distribute repository.DistributeFunc) ([]domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	assignments, err := distribute(s.agentIDs())
	if err != nil {
		return nil, err
	}
	if len(assignments) != len(list.Rows) {
		return nil, fmt.Errorf("distribution produced %d assignments for %d rows", len(assignments), len(list.Rows))
	}

	s.nextListID++
	list.ID = s.nextListID
	list.CreatedAt = s.tick()
	list.RowCount = len(list.Rows)
	stored := *list
	stored.Rows = append([]domain.Row(nil), list.Rows...)
	s.lists[list.ID] = &stored

	for i := range assignments {
		s.nextAssignmentID++
		assignments[i].ID = s.nextAssignmentID
		assignments[i].ListID = list.ID
		assignments[i].ListName = list.Name
		assignments[i].CreatedAt = list.CreatedAt
		cp := assignments[i]
		s.assignments = append(s.assignments, &cp)
	}

	return assignments, nil
}

func (s *memStore) withUploader(l *domain.List) *domain.List {
	cp := *l
	if cp.UploadedBy != nil {
		if u, ok := s.users[*cp.UploadedBy]; ok {
			cp.Uploader = &domain.Uploader{Name: u.Name, Email: u.Email}
		}
	}
	return &cp
}

func (s *memStore) GetAllLists(ctx context.Context) ([]*domain.List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lists := make([]*domain.List, 0, len(s.lists))
	for _, l := range s.lists {
		cp := s.withUploader(l)
		cp.Rows = nil
		lists = append(lists, cp)
	}
	sort.Slice(lists, func(i, j int) bool { return lists[i].ID > lists[j].ID })
	return lists, nil
}

func (s *memStore) GetListByID(ctx context.Context, id int64) (*domain.List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lists[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s.withUploader(l), nil
}

func (s *memStore) DeleteList(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lists[id]; !ok {
		return sql.ErrNoRows
	}
	kept := s.assignments[:0]
	for _, a := range s.assignments {
		if a.ListID != id {
			kept = append(kept, a)
		}
	}
	s.assignments = kept
	delete(s.lists, id)
	return nil
}

func (s *memStore) GetAssignmentsByAgent(ctx context.Context, agentID int64) ([]*domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Assignment, 0)
	for _, a := range s.assignments {
		if a.AgentID == agentID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) GetAssignmentsByList(ctx context.Context, listID int64, agentID *int64) ([]*domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Assignment, 0)
	for _, a := range s.assignments {
		if a.ListID != listID {
			continue
		}
		if agentID != nil && a.AgentID != *agentID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) assignmentCount(listID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, a := range s.assignments {
		if a.ListID == listID {
			n++
		}
	}
	return n
}

func (s *memStore) listCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.lists)
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []domain.MailMessage
	err      error
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	if key != MailQueue {
		return errors.New("unexpected routing key " + key)
	}

	var m domain.MailMessage
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		return err
	}
	p.messages = append(p.messages, m)
	return nil
}

func (p *fakePublisher) byType(t domain.MailType) []domain.MailMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []domain.MailMessage
	for _, m := range p.messages {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type fakeLimiter struct {
	mu       sync.Mutex
	max      int
	failures map[string]int
	err      error
}

func newFakeLimiter(max int) *fakeLimiter {
	return &fakeLimiter{max: max, failures: make(map[string]int)}
}

func (l *fakeLimiter) Blocked(ctx context.Context, subject string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return false, l.err
	}
	return l.failures[subject] >= l.max, nil
}

func (l *fakeLimiter) Fail(ctx context.Context, subject string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return l.err
	}
	l.failures[subject]++
	return nil
}

func (l *fakeLimiter) Reset(ctx context.Context, subject string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return l.err
	}
	delete(l.failures, subject)
	return nil
}

type testEnv struct {
	h         *Handler
	store     *memStore
	publisher *fakePublisher
	limiter   *fakeLimiter
}

func newTestEnv(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	cfg.Environment = "test"
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.Expiration = 86400
	cfg.Upload.MaxBytes = 1 << 20
	cfg.RabbitMQ.PublishTimeout = 1
	cfg.NewUser.PasswordLength = 12
	cfg.Server.AllowedOrigins = []string{"http://localhost:5173"}
	cfg.Server.RateLimit = 1000
	for _, opt := range opts {
		opt(cfg)
	}

	env := &testEnv{
		store:     newMemStore(),
		publisher: &fakePublisher{},
		limiter:   newFakeLimiter(5),
	}

	h, err := NewHandler(cfg, env.store, env.publisher, env.limiter, metrics.New())
	require.NoError(t, err)
	h.bcryptCost = bcrypt.MinCost
	h.RegisterRoutes()
	env.h = h

	return env
}

func (e *testEnv) addUser(t *testing.T, role domain.Role, email, password string) *domain.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	user := &domain.User{
		Name:         strings.Split(email, "@")[0],
		Email:        email,
		Mobile:       "5550000",
		PasswordHash: string(hash),
		Role:         role,
	}
	require.NoError(t, e.store.CreateUser(context.Background(), user))
	return user
}

func (e *testEnv) addAgents(t *testing.T, n int) []*domain.User {
	t.Helper()

	agents := make([]*domain.User, n)
	for i := range agents {
		agents[i] = e.addUser(t, domain.RoleAgent, fmt.Sprintf("agent%d@example.com", i), "agent-password")
	}
	return agents
}

func (e *testEnv) token(t *testing.T, user *domain.User) string {
	t.Helper()

	token, _, err := e.h.tokens.Issue(user)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	rec := httptest.NewRecorder()
	e.h.Mux.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	return e.do(t, method, path, token, reader, "application/json")
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) envelope {
	t.Helper()

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data), string(env.Data))
	}
	return env
}

func multipartBody(t *testing.T, name, filename string, content []byte) (io.Reader, string) {
	t.Helper()

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	if name != "" {
		require.NoError(t, mw.WriteField("name", name))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	return buf, mw.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, token, name, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := multipartBody(t, name, filename, content)
	return e.do(t, http.MethodPost, "/lists/upload", token, body, contentType)
}
