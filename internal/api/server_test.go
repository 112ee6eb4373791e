package api

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/mnnllm/internal/catalog"
	"github.com/samcharles93/mnnllm/internal/mnn"
	"github.com/samcharles93/mnnllm/internal/native"
)

type testServer struct {
	e      *echo.Echo
	stub   *native.Stub
	handle *mnn.Handle
	server *Server
}

func newTestServer(t *testing.T, stub *native.Stub, cfg catalog.Config) *testServer {
	t.Helper()
	handle := mnn.New(stub)
	server := NewServer(handle, catalog.New(cfg))
	t.Cleanup(func() {
		_ = server.Close()
		_ = handle.Close()
	})
	e := echo.New()
	server.Register(e)
	return &testServer{e: e, stub: stub, handle: handle, server: server}
}

func newLoadedServer(t *testing.T, stub *native.Stub) *testServer {
	t.Helper()
	ts := newTestServer(t, stub, catalog.Config{})
	rec := doJSON(t, ts.e, http.MethodPost, "/v1/model/load", `{"model":"/models/qwen/config.json"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("load status: got %d body=%s", rec.Code, rec.Body.String())
	}
	return ts
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody[map[string]APIError](t, rec)
	return body["error"].Type
}

func TestModelLoadUnloadLifecycle(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &native.Stub{}, catalog.Config{})

	rec := doJSON(t, ts.e, http.MethodGet, "/v1/model", "")
	if got := decodeBody[ModelStatus](t, rec); got.State != "unloaded" {
		t.Fatalf("initial state: got %q", got.State)
	}

	rec = doJSON(t, ts.e, http.MethodPost, "/v1/model/load", `{"model":"/models/qwen/config.json"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("load status: got %d body=%s", rec.Code, rec.Body.String())
	}
	status := decodeBody[ModelStatus](t, rec)
	if status.State != "loaded" || status.Path != "/models/qwen/config.json" {
		t.Fatalf("unexpected status after load: %+v", status)
	}

	rec = doJSON(t, ts.e, http.MethodPost, "/v1/model/unload", "")
	if got := decodeBody[ModelStatus](t, rec); got.State != "unloaded" {
		t.Fatalf("state after unload: got %q", got.State)
	}
	if ts.stub.ReleaseCalls() != 1 {
		t.Fatalf("release calls: got %d", ts.stub.ReleaseCalls())
	}
}

func TestModelLoadFailure(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &native.Stub{FailLoad: true}, catalog.Config{})
	rec := doJSON(t, ts.e, http.MethodPost, "/v1/model/load", `{"model":"/models/broken.mnn"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := errorType(t, rec); got != "load_failed" {
		t.Fatalf("error type: got %q", got)
	}
}

func TestModelLoadRequiresModel(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &native.Stub{}, catalog.Config{})
	rec := doJSON(t, ts.e, http.MethodPost, "/v1/model/load", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if ts.stub.LoadCalls() != 0 {
		t.Fatalf("native load called %d times", ts.stub.LoadCalls())
	}
}

func TestModelLoadAsyncJob(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &native.Stub{LoadDelay: 10 * time.Millisecond}, catalog.Config{})
	rec := doJSON(t, ts.e, http.MethodPost, "/v1/model/load", `{"model":"/models/qwen.mnn","async":true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	job := decodeBody[Job](t, rec)
	if job.Kind != "load" || !strings.HasPrefix(job.ID, "job_") {
		t.Fatalf("unexpected job: %+v", job)
	}

	got := waitJob(t, ts.e, job.ID)
	if got.Status != JobCompleted {
		t.Fatalf("job status: got %q error=%+v", got.Status, got.Error)
	}
	if !ts.handle.IsLoaded() {
		t.Fatal("model not loaded after job completed")
	}
}

func TestModelsListing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tiny.mnn"), []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "qwen"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "qwen", "config.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	ts := newTestServer(t, &native.Stub{}, catalog.Config{ModelsPath: dir})
	rec := doJSON(t, ts.e, http.MethodPost, "/v1/model/load", `{"model":"qwen"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("load status: got %d body=%s", rec.Code, rec.Body.String())
	}

	list := decodeBody[ModelList](t, doJSON(t, ts.e, http.MethodGet, "/v1/models", ""))
	if len(list.Data) != 2 {
		t.Fatalf("models: got %+v", list.Data)
	}
	if list.Data[0].ID != "qwen" || !list.Data[0].Loaded {
		t.Fatalf("first model: got %+v", list.Data[0])
	}
	if list.Data[1].ID != "tiny" || list.Data[1].Loaded || list.Data[1].Size != 3 {
		t.Fatalf("second model: got %+v", list.Data[1])
	}
}

func TestChat(t *testing.T) {
	t.Parallel()

	ts := newLoadedServer(t, &native.Stub{Tokens: []string{"Hi", ", there", ". Bye"}})
	rec := doJSON(t, ts.e, http.MethodPost, "/v1/chat", `{"question":"hello","sentences":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[ChatResponse](t, rec)
	if !strings.HasPrefix(resp.ID, "chat-") {
		t.Fatalf("id: got %q", resp.ID)
	}
	if resp.Text != "Hi, there. Bye" || resp.Tokens != 3 {
		t.Fatalf("unexpected reply: %+v", resp)
	}
	want := []string{"Hi,", " there.", " Bye"}
	if strings.Join(resp.Sentences, "|") != strings.Join(want, "|") {
		t.Fatalf("sentences: got %q want %q", resp.Sentences, want)
	}
}

func TestChatErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		loaded bool
		body   string
		status int
		errTyp string
	}{
		{"not loaded", false, `{"question":"hello"}`, http.StatusConflict, "model_not_loaded"},
		{"empty question", true, `{"question":"   "}`, http.StatusBadRequest, "invalid_request_error"},
		{"unknown field", true, `{"prompt":"hello"}`, http.StatusBadRequest, "invalid_request_error"},
		{"missing body", true, ``, http.StatusBadRequest, "invalid_request_error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var ts *testServer
			if tc.loaded {
				ts = newLoadedServer(t, &native.Stub{})
			} else {
				ts = newTestServer(t, &native.Stub{}, catalog.Config{})
			}
			rec := doJSON(t, ts.e, http.MethodPost, "/v1/chat", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status: got %d want %d body=%s", rec.Code, tc.status, rec.Body.String())
			}
			if got := errorType(t, rec); got != tc.errTyp {
				t.Fatalf("error type: got %q want %q", got, tc.errTyp)
			}
		})
	}
}

func TestChatEmptyReply(t *testing.T) {
	t.Parallel()

	ts := newLoadedServer(t, &native.Stub{Tokens: []string{}})
	rec := doJSON(t, ts.e, http.MethodPost, "/v1/chat", `{"question":"hello"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
}

func readEvents(t *testing.T, body string) ([]StreamEvent, bool) {
	t.Helper()
	var (
		events []StreamEvent
		done   bool
	)
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			done = true
			continue
		}
		var ev StreamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			t.Fatalf("decode event %q: %v", payload, err)
		}
		events = append(events, ev)
	}
	return events, done
}

func TestChatStream(t *testing.T) {
	t.Parallel()

	ts := newLoadedServer(t, &native.Stub{Tokens: []string{"你好", "，世界", "。"}})
	rec := doJSON(t, ts.e, http.MethodPost, "/v1/chat", `{"question":"hello","stream":true,"sentences":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type: got %q", ct)
	}

	events, done := readEvents(t, rec.Body.String())
	if !done {
		t.Fatal("missing [DONE] terminator")
	}
	var (
		types     []string
		deltas    strings.Builder
		sentences []string
	)
	for i, ev := range events {
		if ev.Seq != i+1 {
			t.Fatalf("event %d sequence: got %d", i, ev.Seq)
		}
		types = append(types, ev.Type)
		switch ev.Type {
		case "chat.token":
			deltas.WriteString(ev.Delta)
		case "chat.sentence":
			sentences = append(sentences, ev.Sentence)
		}
	}
	if types[0] != "chat.started" || types[len(types)-1] != "chat.completed" {
		t.Fatalf("event order: %v", types)
	}
	if deltas.String() != "你好，世界。" {
		t.Fatalf("deltas: got %q", deltas.String())
	}
	if strings.Join(sentences, "|") != "你好，|世界。" {
		t.Fatalf("sentences: got %q", sentences)
	}
	last := events[len(events)-1]
	if last.Response == nil || last.Response.Text != "你好，世界。" || last.Response.Tokens != 3 {
		t.Fatalf("completed payload: %+v", last.Response)
	}
}

func TestChatStreamFailure(t *testing.T) {
	t.Parallel()

	ts := newLoadedServer(t, &native.Stub{Tokens: []string{}})
	rec := doJSON(t, ts.e, http.MethodPost, "/v1/chat", `{"question":"hello","stream":true}`)
	events, done := readEvents(t, rec.Body.String())
	if !done || len(events) != 2 {
		t.Fatalf("events: got %+v done=%v", events, done)
	}
	if events[1].Type != "chat.failed" || events[1].Error == nil || events[1].Error.Type != "empty_reply" {
		t.Fatalf("failure event: %+v", events[1])
	}
}

func waitJob(t *testing.T, e *echo.Echo, id string) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec := doJSON(t, e, http.MethodGet, "/v1/jobs/"+id, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("get job status: got %d body=%s", rec.Code, rec.Body.String())
		}
		job := decodeBody[Job](t, rec)
		if job.terminal() {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s still %s", id, job.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChatJob(t *testing.T) {
	t.Parallel()

	ts := newLoadedServer(t, &native.Stub{Tokens: []string{"O", "K"}})
	rec := doJSON(t, ts.e, http.MethodPost, "/v1/chat/jobs", `{"question":"status?"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	job := decodeBody[Job](t, rec)
	if job.Kind != "chat" || job.Question != "status?" {
		t.Fatalf("unexpected job: %+v", job)
	}

	got := waitJob(t, ts.e, job.ID)
	if got.Status != JobCompleted || got.Result == nil || got.Result.Text != "OK" {
		t.Fatalf("job: %+v result=%+v", got, got.Result)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
}

func TestChatJobCancel(t *testing.T) {
	t.Parallel()

	stub := &native.Stub{Tokens: []string{"a", "b", "c"}, TokenDelay: 100 * time.Millisecond}
	ts := newLoadedServer(t, stub)
	job := decodeBody[Job](t, doJSON(t, ts.e, http.MethodPost, "/v1/chat/jobs", `{"question":"long"}`))

	rec := doJSON(t, ts.e, http.MethodDelete, "/v1/jobs/"+job.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[Job](t, rec); got.Status != JobCancelled {
		t.Fatalf("cancel response status: got %q", got.Status)
	}

	// The outcome of the interrupted generation must not overwrite the
	// cancellation.
	time.Sleep(50 * time.Millisecond)
	if got := waitJob(t, ts.e, job.ID); got.Status != JobCancelled {
		t.Fatalf("job status after cancel: got %q", got.Status)
	}
}

func TestJobNotFound(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &native.Stub{}, catalog.Config{})
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := doJSON(t, ts.e, method, "/v1/jobs/job_missing", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s status: got %d", method, rec.Code)
		}
	}
}

func TestJobStoreEvictsFinishedJobs(t *testing.T) {
	t.Parallel()

	store := NewJobStore(2)
	now := time.Unix(1700000000, 0)
	first := store.Create(Job{Kind: "chat"}, nil)
	store.Finish(first.ID, &ChatResponse{Text: "done"}, nil, now)
	second := store.Create(Job{Kind: "chat"}, nil)
	third := store.Create(Job{Kind: "chat"}, nil)

	if _, ok := store.Get(first.ID); ok {
		t.Fatal("finished job was not evicted")
	}
	for _, id := range []string{second.ID, third.ID} {
		if _, ok := store.Get(id); !ok {
			t.Fatalf("running job %s evicted", id)
		}
	}
	if store.Len() != 2 {
		t.Fatalf("len: got %d", store.Len())
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(RateLimit(0.001, 1))
	e.GET("/ping", func(c *echo.Context) error { return c.String(http.StatusOK, "pong") })

	if rec := doJSON(t, e, http.MethodGet, "/ping", ""); rec.Code != http.StatusOK {
		t.Fatalf("first request: got %d", rec.Code)
	}
	rec := doJSON(t, e, http.MethodGet, "/ping", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}
