package offline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type origin struct {
	mu      sync.Mutex
	hits    map[string]int
	failing map[string]bool
	down    bool
}

func newOrigin() *origin {
	return &origin{hits: map[string]int{}, failing: map[string]bool{}}
}

func (o *origin) handler(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	o.hits[r.URL.RequestURI()]++
	fail, down := o.failing[r.URL.Path], o.down
	o.mu.Unlock()

	switch {
	case down:
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	case fail:
		http.NotFound(w, r)
	default:
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "network "+r.Method+" "+r.URL.RequestURI())
	}
}

func (o *origin) count(uri string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[uri]
}

func (o *origin) set(fn func(o *origin)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(o)
}

type failingStore struct {
	Store
	err error
}

func (s failingStore) PutAll(context.Context, string, []Entry) error {
	return s.err
}

func newTestCache(t *testing.T, store Store, precache []string) (*Cache, *origin) {
	t.Helper()
	o := newOrigin()
	server := httptest.NewServer(http.HandlerFunc(o.handler))
	t.Cleanup(server.Close)

	c, err := New(Config{
		Name:         "test-cache-v1",
		Origin:       server.URL,
		Precache:     precache,
		APIPrefixes:  DefaultAPIPrefixes,
		FetchTimeout: time.Second,
	}, store, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	return c, o
}

func get(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestNew_InvalidOrigin(t *testing.T) {
	for _, o := range []string{"", "not a url", "/relative"} {
		if _, err := New(Config{Origin: o}, nil, zap.NewNop()); err == nil {
			t.Errorf("Origin %q: expected error", o)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{Origin: "http://localhost:5000"}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if c.Name() != DefaultCacheName {
		t.Errorf("Expected default name %s, got %s", DefaultCacheName, c.Name())
	}
	if c.Phase() != PhaseInstalling {
		t.Errorf("Expected installing phase, got %s", c.Phase())
	}
}

func TestInstall_StoresEverything(t *testing.T) {
	store, _ := openTestStore(t)
	c, o := newTestCache(t, store, []string{"/", "/static/css/style.css"})

	if err := c.Install(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if c.Phase() != PhaseActive {
		t.Errorf("Expected active phase, got %s", c.Phase())
	}

	keys, err := store.Keys(context.Background(), c.Name())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Expected 2 stored entries, got %v", keys)
	}
	if o.count("/") != 1 || o.count("/static/css/style.css") != 1 {
		t.Error("Expected each precache entry fetched once")
	}
}

func TestInstall_AllOrNothing(t *testing.T) {
	store, _ := openTestStore(t)
	c, o := newTestCache(t, store, []string{"/", "/static/images/de.png", "/history/distance"})
	o.set(func(o *origin) { o.failing["/static/images/de.png"] = true })

	if err := c.Install(context.Background()); err == nil {
		t.Fatal("Expected install to fail")
	}
	if c.Phase() != PhaseInstalling {
		t.Errorf("Expected installing phase, got %s", c.Phase())
	}
	keys, err := store.Keys(context.Background(), c.Name())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Expected nothing stored, got %v", keys)
	}
}

func TestInstall_StoreFailure(t *testing.T) {
	store, _ := openTestStore(t)
	c, _ := newTestCache(t, failingStore{Store: store, err: errors.New("disk full")}, []string{"/"})

	if err := c.Install(context.Background()); err == nil {
		t.Fatal("Expected install to fail")
	}
	if c.Phase() != PhaseInstalling {
		t.Errorf("Expected installing phase, got %s", c.Phase())
	}
}

func TestInstall_CrossOriginEntry(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "cdn css")
	}))
	defer cdn.Close()

	store, _ := openTestStore(t)
	cdnURL := cdn.URL + "/ajax/libs/font-awesome/6.4.2/css/all.min.css"
	c, _ := newTestCache(t, store, []string{"/", cdnURL})

	if err := c.Install(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	entry, err := store.Get(context.Background(), c.Name(), cdnURL)
	if err != nil {
		t.Fatalf("Expected cross-origin entry keyed by absolute URL, got: %v", err)
	}
	if string(entry.Body) != "cdn css" {
		t.Errorf("Expected cdn body, got %q", entry.Body)
	}
}

func TestInstall_CrossOriginEntryBlocksActivation(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer cdn.Close()

	store, _ := openTestStore(t)
	c, _ := newTestCache(t, store, []string{"/", cdn.URL + "/css/all.min.css"})

	if err := c.Install(context.Background()); err == nil {
		t.Fatal("Expected install to fail while the CDN is down")
	}
	if c.Phase() != PhaseInstalling {
		t.Errorf("Expected installing phase, got %s", c.Phase())
	}
}

func TestServeHTTP_PassthroughWhileInstalling(t *testing.T) {
	store, _ := openTestStore(t)
	c, o := newTestCache(t, store, []string{"/"})

	rec := get(t, c, http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Cache") != "" {
		t.Error("Expected response from network")
	}
	if o.count("/") != 1 {
		t.Errorf("Expected one network request, got %d", o.count("/"))
	}
}

func TestServeHTTP_CacheFirst(t *testing.T) {
	store, _ := openTestStore(t)
	c, o := newTestCache(t, store, []string{"/", "/static/js/script.js"})
	if err := c.Install(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	o.set(func(o *origin) { o.down = true })

	rec := get(t, c, http.MethodGet, "/static/js/script.js")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from cache, got %d", rec.Code)
	}
	if rec.Header().Get("X-Cache") != "HIT" {
		t.Error("Expected cache hit")
	}
	if body := rec.Body.String(); body != "network GET /static/js/script.js" {
		t.Errorf("Expected stored body, got %q", body)
	}
	if o.count("/static/js/script.js") != 1 {
		t.Errorf("Expected only the install fetch, got %d", o.count("/static/js/script.js"))
	}

	head := get(t, c, http.MethodHead, "/")
	if head.Code != http.StatusOK || head.Body.Len() != 0 {
		t.Errorf("Expected HEAD hit without body, got %d %q", head.Code, head.Body.String())
	}
}

func TestServeHTTP_APIIsNetworkOnly(t *testing.T) {
	store, _ := openTestStore(t)
	c, o := newTestCache(t, store, []string{"/", "/data"})
	if err := c.Install(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	tests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/data"},
		{http.MethodGet, "/getdistance"},
		{http.MethodGet, "/api/view"},
		{http.MethodPost, "/control/heater/ON"},
		{http.MethodPost, "/toggle_mode"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			before := o.count(tt.target)
			rec := get(t, c, tt.method, tt.target)
			if rec.Header().Get("X-Cache") != "" {
				t.Error("Expected API request to bypass the cache")
			}
			if o.count(tt.target) != before+1 {
				t.Error("Expected request to reach the network")
			}
		})
	}
}

func TestServeHTTP_MissIsNotStored(t *testing.T) {
	store, _ := openTestStore(t)
	c, o := newTestCache(t, store, []string{"/"})
	if err := c.Install(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	for i := 0; i < 2; i++ {
		rec := get(t, c, http.MethodGet, "/static/images/other.png")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200 from network, got %d", rec.Code)
		}
	}
	if o.count("/static/images/other.png") != 2 {
		t.Errorf("Expected both misses to reach the network, got %d", o.count("/static/images/other.png"))
	}
	if _, err := store.Get(context.Background(), c.Name(), "/static/images/other.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected miss not stored, got %v", err)
	}
}

func TestServeHTTP_OriginDownOnMiss(t *testing.T) {
	c, err := New(Config{Origin: "http://127.0.0.1:1", Precache: nil}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	rec := get(t, c, http.MethodGet, "/")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", rec.Code)
	}
}

func TestRestore(t *testing.T) {
	store, path := openTestStore(t)
	precache := []string{"/", "/static/css/style.css"}
	c, _ := newTestCache(t, store, precache)

	ok, err := c.Restore(context.Background())
	if err != nil || ok {
		t.Fatalf("Expected nothing to restore, got ok=%v err=%v", ok, err)
	}
	if err := c.Install(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	restarted, o := newTestCache(t, reopened, precache)
	ok, err = restarted.Restore(context.Background())
	if err != nil || !ok {
		t.Fatalf("Expected restore, got ok=%v err=%v", ok, err)
	}
	if restarted.Phase() != PhaseActive {
		t.Errorf("Expected active phase, got %s", restarted.Phase())
	}

	o.set(func(o *origin) { o.down = true })
	rec := get(t, restarted, http.MethodGet, "/static/css/style.css")
	if rec.Header().Get("X-Cache") != "HIT" {
		t.Error("Expected restored entry served from cache")
	}
}

func TestRestore_OtherCacheName(t *testing.T) {
	store, _ := openTestStore(t)
	err := store.PutAll(context.Background(), "old-cache-v0", []Entry{{URL: "/", Status: http.StatusOK, Body: []byte("old")}})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	c, _ := newTestCache(t, store, []string{"/"})
	ok, err := c.Restore(context.Background())
	if err != nil || ok {
		t.Errorf("Expected entries of another cache ignored, got ok=%v err=%v", ok, err)
	}
}

func TestRunInstaller_RetriesUntilInstalled(t *testing.T) {
	store, _ := openTestStore(t)
	c, o := newTestCache(t, store, []string{"/"})
	o.set(func(o *origin) { o.down = true })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.RunInstaller(ctx, 20*time.Millisecond)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if c.Phase() != PhaseInstalling {
		t.Error("Expected installing while origin is down")
	}
	o.set(func(o *origin) { o.down = false })

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("Expected installer to finish")
	}
	if c.Phase() != PhaseActive {
		t.Errorf("Expected active phase, got %s", c.Phase())
	}
	if !strings.HasPrefix(get(t, c, http.MethodGet, "/").Body.String(), "network GET /") {
		t.Error("Expected stored root page")
	}
}

func TestRunInstaller_StopsOnCancel(t *testing.T) {
	store, _ := openTestStore(t)
	c, o := newTestCache(t, store, []string{"/"})
	o.set(func(o *origin) { o.down = true })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunInstaller(ctx, time.Hour)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected installer to stop on cancel")
	}
}
