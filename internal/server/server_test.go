package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/photofingerprint/internal/config"
	"github.com/cwbudde/photofingerprint/internal/fingerprint/backend"
	"github.com/cwbudde/photofingerprint/internal/fingerprint/kernel"
	"github.com/cwbudde/photofingerprint/internal/index"
	"github.com/cwbudde/photofingerprint/internal/store"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Search.MinScore = 0
	if mutate != nil {
		mutate(cfg)
	}

	st, err := store.NewStore(cfg.Store, cfg.DataDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	s, err := NewServer(cfg, st, index.New(), backend.NewCPU())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.cancel()
	})
	return s, ts
}

func encodePNG(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

func upload(t *testing.T, ts *httptest.Server, source string, body []byte) (*http.Response, store.Record) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/v1/fingerprints?source="+source, "image/png", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	var rec store.Record
	if resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			t.Fatalf("Failed to decode record: %v", err)
		}
	}
	return resp, rec
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestServer_CreateFingerprint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, rec := upload(t, ts, "red.png", encodePNG(t, color.NRGBA{R: 255, A: 255}))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", resp.StatusCode)
	}
	if rec.ID == "" || rec.Source != "red.png" || rec.Width != 4 || rec.Height != 4 {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if rec.Backend != "cpu" {
		t.Errorf("Expected cpu backend, got %q", rec.Backend)
	}
	// one color over four quadrants
	if rec.Fingerprint.Len() != 4 {
		t.Errorf("Expected 4 populated keys, got %d", rec.Fingerprint.Len())
	}
}

func TestServer_CreateFingerprintDeduplicates(t *testing.T) {
	_, ts := newTestServer(t, nil)
	body := encodePNG(t, color.NRGBA{G: 128, A: 255})

	_, first := upload(t, ts, "a", body)
	resp, second := upload(t, ts, "b", body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 for duplicate upload, got %d", resp.StatusCode)
	}
	if second.ID != first.ID {
		t.Errorf("Duplicate upload created new record %s (first %s)", second.ID, first.ID)
	}
}

func TestServer_CreateFingerprintRejectsBadInput(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) { c.Server.MaxUploadBytes = 64 })

	tests := []struct {
		name string
		body []byte
		want int
	}{
		{"empty", nil, http.StatusBadRequest},
		{"not an image", []byte("hello"), http.StatusUnsupportedMediaType},
		{"too large", bytes.Repeat([]byte{0}, 1024), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := upload(t, ts, "x", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestServer_GetListDelete(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) { c.Store = store.KindBadger })

	_, rec := upload(t, ts, "blue", encodePNG(t, color.NRGBA{B: 255, A: 255}))

	var loaded store.Record
	if code := getJSON(t, ts.URL+"/api/v1/fingerprints/"+rec.ID, &loaded); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if loaded.ID != rec.ID {
		t.Errorf("Loaded %s, expected %s", loaded.ID, rec.ID)
	}

	var infos []store.RecordInfo
	getJSON(t, ts.URL+"/api/v1/fingerprints", &infos)
	if len(infos) != 1 || infos[0].Keys != 4 {
		t.Errorf("Unexpected listing: %+v", infos)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/fingerprints/"+rec.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", resp.StatusCode)
	}

	if code := getJSON(t, ts.URL+"/api/v1/fingerprints/"+rec.ID, nil); code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", code)
	}
}

func TestServer_Similar(t *testing.T) {
	s, ts := newTestServer(t, nil)

	_, red := upload(t, ts, "red", encodePNG(t, color.NRGBA{R: 255, A: 255}))
	_, redish := upload(t, ts, "redish", encodePNG(t, color.NRGBA{R: 240, G: 10, A: 255}))
	upload(t, ts, "blue", encodePNG(t, color.NRGBA{B: 255, A: 255}))

	if s.index.Len() != 3 {
		t.Fatalf("Expected 3 indexed fingerprints, got %d", s.index.Len())
	}

	var res SearchResponse
	if code := getJSON(t, ts.URL+"/api/v1/fingerprints/"+red.ID+"/similar?k=5", &res); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("Expected 1 match (blue shares no key), got %+v", res.Matches)
	}
	if res.Matches[0].ID != redish.ID || res.Matches[0].Score < 0.999 {
		t.Errorf("Unexpected match: %+v", res.Matches[0])
	}

	if code := getJSON(t, ts.URL+"/api/v1/fingerprints/"+red.ID+"/similar?k=-1", nil); code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for negative k, got %d", code)
	}
	if code := getJSON(t, ts.URL+"/api/v1/fingerprints/missing/similar", nil); code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", code)
	}
}

func TestServer_Search(t *testing.T) {
	s, ts := newTestServer(t, nil)
	upload(t, ts, "red", encodePNG(t, color.NRGBA{R: 255, A: 255}))

	resp, err := http.Post(ts.URL+"/api/v1/search", "image/png", bytes.NewReader(encodePNG(t, color.NRGBA{R: 250, A: 255})))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	var res SearchResponse
	json.NewDecoder(resp.Body).Decode(&res)
	if len(res.Matches) != 1 || res.Matches[0].Source != "red" {
		t.Errorf("Unexpected matches: %+v", res.Matches)
	}
	if s.index.Len() != 1 {
		t.Error("Search should not store the query image")
	}
}

func TestServer_Compare(t *testing.T) {
	_, ts := newTestServer(t, nil)

	_, a := upload(t, ts, "a", encodePNG(t, color.NRGBA{R: 255, A: 255}))
	_, b := upload(t, ts, "b", encodePNG(t, color.NRGBA{B: 255, A: 255}))

	post := func(body string) (*http.Response, CompareResponse) {
		resp, err := http.Post(ts.URL+"/api/v1/compare", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		defer resp.Body.Close()
		var out CompareResponse
		json.NewDecoder(resp.Body).Decode(&out)
		return resp, out
	}

	resp, out := post(`{"a":"` + a.ID + `","b":"` + a.ID + `"}`)
	if resp.StatusCode != http.StatusOK || out.Score < 0.999999 {
		t.Errorf("Self compare: status %d score %f", resp.StatusCode, out.Score)
	}

	_, out = post(`{"a":"` + a.ID + `","b":"` + b.ID + `"}`)
	if out.Score != 0 {
		t.Errorf("Disjoint compare score = %f, expected 0", out.Score)
	}

	if resp, _ := post(`{"a":"` + a.ID + `"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
	if resp, _ := post(`{"a":"` + a.ID + `","b":"nope"}`); resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
}

func waitForJob(t *testing.T, ts *httptest.Server, id string) Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var job Job
		getJSON(t, ts.URL+"/api/v1/jobs/"+id, &job)
		if job.Done() {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Job %s did not finish", id)
	return Job{}
}

func TestServer_Jobs(t *testing.T) {
	s, ts := newTestServer(t, nil)

	imgDir := t.TempDir()
	createTestImage(t, filepath.Join(imgDir, "a.png"), color.NRGBA{R: 10, A: 255})
	createTestImage(t, filepath.Join(imgDir, "b.png"), color.NRGBA{R: 200, A: 255})

	body, _ := json.Marshal(JobConfig{Dir: imgDir})
	resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	var created Job
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || created.ID == "" {
		t.Fatalf("Expected 201 with job ID, got %d", resp.StatusCode)
	}

	job := waitForJob(t, ts, created.ID)
	if job.State != StateCompleted || job.Processed != 2 {
		t.Errorf("Unexpected job: %+v", job)
	}
	if s.index.Len() != 2 {
		t.Errorf("Expected 2 indexed fingerprints, got %d", s.index.Len())
	}

	var entries []store.JournalEntry
	if code := getJSON(t, ts.URL+"/api/v1/jobs/"+created.ID+"/journal", &entries); code != http.StatusOK {
		t.Fatalf("Expected status 200 for journal, got %d", code)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 journal entries, got %d", len(entries))
	}

	var jobs []Job
	getJSON(t, ts.URL+"/api/v1/jobs", &jobs)
	if len(jobs) != 1 {
		t.Errorf("Expected 1 job, got %d", len(jobs))
	}
}

func TestServer_JobValidation(t *testing.T) {
	_, ts := newTestServer(t, nil)

	for _, body := range []string{`{`, `{"dir":""}`} {
		resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Body %q: expected status 400, got %d", body, resp.StatusCode)
		}
	}

	if code := getJSON(t, ts.URL+"/api/v1/jobs/nonexistent", nil); code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", code)
	}
	if code := getJSON(t, ts.URL+"/api/v1/jobs/nonexistent/journal", nil); code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", code)
	}
}

func TestServer_JobStream_Finished(t *testing.T) {
	_, ts := newTestServer(t, nil)

	imgDir := t.TempDir()
	createTestImage(t, filepath.Join(imgDir, "a.png"), color.NRGBA{G: 90, A: 255})

	body, _ := json.Marshal(JobConfig{Dir: imgDir})
	resp, _ := http.Post(ts.URL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	var created Job
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	waitForJob(t, ts, created.ID)

	// A finished job yields its final state and closes the stream
	resp, err := http.Get(ts.URL + "/api/v1/jobs/" + created.ID + "/stream")
	if err != nil {
		t.Fatalf("GET stream failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	var event ProgressEvent
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				t.Fatalf("Bad event %q: %v", data, err)
			}
			break
		}
	}
	if event.State != StateCompleted || event.Processed != 1 {
		t.Errorf("Unexpected event: %+v", event)
	}

	if code := getJSON(t, ts.URL+"/api/v1/jobs/nonexistent/stream", nil); code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", code)
	}
}

func TestServer_RateLimit(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) {
		c.Server.RateLimitRPS = 0.001
		c.Server.RateLimitBurst = 1
	})

	first := getJSON(t, ts.URL+"/healthz", nil)
	second := getJSON(t, ts.URL+"/healthz", nil)

	if first != http.StatusOK {
		t.Errorf("First request: expected 200, got %d", first)
	}
	if second != http.StatusTooManyRequests {
		t.Errorf("Second request: expected 429, got %d", second)
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	_, ts := newTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/fingerprints", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Missing CORS header")
	}
}

func TestServer_Metrics(t *testing.T) {
	_, ts := newTestServer(t, nil)
	getJSON(t, ts.URL+"/healthz", nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "photofp_http_requests_total") {
		t.Error("Expected HTTP request counter in metrics output")
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job1")
	eb.Broadcast(ProgressEvent{JobID: "job1", State: StateRunning, Processed: 3})
	eb.Broadcast(ProgressEvent{JobID: "job2", State: StateRunning})

	select {
	case event := <-ch:
		if event.Processed != 3 {
			t.Errorf("Expected 3 processed, got %d", event.Processed)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}

	select {
	case event := <-ch:
		t.Errorf("Received event for another job: %+v", event)
	default:
	}

	// Late subscribers get the last event replayed
	late := eb.Subscribe("job1")
	if event := <-late; event.Processed != 3 {
		t.Errorf("Replayed event has %d processed, expected 3", event.Processed)
	}

	eb.Unsubscribe("job1", ch)
	eb.Unsubscribe("job1", late)
	if _, ok := <-ch; ok {
		t.Error("Channel should be closed after unsubscribe")
	}
}

type noCompilerDevice struct{}

func (noCompilerDevice) Name() string                  { return "no-compiler" }
func (noCompilerDevice) Capability() kernel.Capability { return kernel.UniformOnly }
func (noCompilerDevice) Close() error                  { return nil }

func (noCompilerDevice) NewPipeline(string) (kernel.Pipeline, error) {
	return nil, errors.New("no compiler")
}

func TestServer_CreateFingerprintRecordsFallbackBackend(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	st, err := store.NewStore(cfg.Store, cfg.DataDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer st.Close()

	degraded := backend.NewKernelBuilder(backend.BackendOpenCL, kernel.NewKernel(noCompilerDevice{}), nil)
	s, err := NewServer(cfg, st, index.New(), degraded)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	defer func() {
		ts.Close()
		s.cancel()
	}()

	resp, rec := upload(t, ts, "red", encodePNG(t, color.NRGBA{R: 255, A: 255}))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", resp.StatusCode)
	}
	if rec.Backend != string(backend.BackendCPU) {
		t.Errorf("Backend = %q, expected cpu for a degraded opencl builder", rec.Backend)
	}
}
