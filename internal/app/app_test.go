package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sentinelmarket/sentinel-sync/internal/app"
	"github.com/sentinelmarket/sentinel-sync/internal/config"
	"github.com/sentinelmarket/sentinel-sync/internal/service"
	"github.com/sentinelmarket/sentinel-sync/internal/status"
)

// fakeBackend serves the analytics endpoints the test views read
type fakeBackend struct {
	*httptest.Server
	failStocks   atomic.Bool
	pipelineRuns atomic.Int32
	statusReads  atomic.Int32

	mu          sync.Mutex
	stockQuotes []string
}

func (b *fakeBackend) quotedTickers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.stockQuotes...)
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"message":"SentinelMarket API","version":"1.4.0"}`)
	})
	mux.HandleFunc("GET /api/stocks", func(w http.ResponseWriter, _ *http.Request) {
		if b.failStocks.Load() {
			http.Error(w, "upstream timeout", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"stocks":[{"symbol":"RELIANCE","risk_score":42}],"total":1}`)
	})
	mux.HandleFunc("GET /api/stocks/{ticker}", func(w http.ResponseWriter, r *http.Request) {
		ticker := r.PathValue("ticker")
		b.mu.Lock()
		b.stockQuotes = append(b.stockQuotes, ticker+"@"+r.URL.Query().Get("exchange"))
		b.mu.Unlock()
		_, _ = fmt.Fprintf(w, `{"ticker":%q,"risk_score":12.5,"risk_level":"LOW"}`, ticker)
	})
	mux.HandleFunc("GET /api/alerts", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"alerts":[{"id":"a1","severity":"HIGH"}]}`)
	})
	mux.HandleFunc("GET /api/pipeline/status", func(w http.ResponseWriter, _ *http.Request) {
		n := b.statusReads.Add(1)
		_, _ = fmt.Fprintf(w, `{"status":"idle","reads":%d}`, n)
	})
	mux.HandleFunc("POST /api/pipeline/run/{name}", func(w http.ResponseWriter, r *http.Request) {
		b.pipelineRuns.Add(1)
		_, _ = fmt.Fprintf(w, `{"status":"started","pipeline":%q}`, r.PathValue("name"))
	})
	b.Server = httptest.NewServer(mux)
	return b
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		API:           config.APIConfig{BaseURL: baseURL, MinVersion: "1.2.0"},
		Retry:         config.RetryConfig{MaxAttempts: 1},
		Notifications: config.NotificationsConfig{TTL: "1h", Max: 5},
		Views: []config.ViewConfig{
			{
				ID:       "dashboard",
				Title:    "Market Overview",
				Interval: "1h",
				Sources: []config.SourceConfig{
					{ID: "stocks", Path: "/api/stocks", Required: true, Validate: []string{"stocks", "total"}},
					{ID: "alerts", Path: "/api/alerts", Validate: []string{"alerts"}},
				},
			},
			{
				ID:       "pipelines",
				Interval: "1h",
				Sources: []config.SourceConfig{
					{ID: "pipeline_status", Path: "/api/pipeline/status", Required: true},
				},
			},
			{
				ID:       "stock",
				Interval: "1h",
				Params: []config.ParamConfig{
					{Name: "ticker"},
					{Name: "exchange", Default: "nse"},
				},
				Sources: []config.SourceConfig{
					{
						ID:       "stock_detail",
						Path:     "/api/stocks/{ticker}",
						Query:    map[string]string{"exchange": "{exchange}"},
						Required: true,
						Validate: []string{"ticker", "risk_score"},
					},
				},
			},
		},
	}
}

var _ = Describe("SyncApp", func() {
	var (
		backend *fakeBackend
		syncApp *app.SyncApp
		baseURL string
		served  chan error
	)

	do := func(method, path string, body any) (*http.Response, []byte) {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(context.Background(), method, baseURL+path, reader)
		Expect(err).NotTo(HaveOccurred())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, data
	}

	getSession := func(id string) service.Session {
		resp, data := do(http.MethodGet, "/api/v1/sessions/"+id, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK), string(data))
		var sess service.Session
		Expect(json.Unmarshal(data, &sess)).To(Succeed())
		return sess
	}

	// settledLive reports a live view with no cycle in flight, so a manual
	// refresh cannot collide with the initial one
	settledLive := func(id string) func() bool {
		return func() bool {
			st := getSession(id).State
			return st.IsLive && !st.IsRefreshing
		}
	}

	mount := func(viewID string) service.Session {
		resp, data := do(http.MethodPost, "/api/v1/views/"+viewID+"/sessions", map[string]any{"polling": false})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated), string(data))
		var sess service.Session
		Expect(json.Unmarshal(data, &sess)).To(Succeed())
		return sess
	}

	BeforeEach(func() {
		backend = newFakeBackend()

		var err error
		syncApp, err = app.NewSyncApp(context.Background(),
			app.WithConfig(testConfig(backend.URL)),
			app.WithAddress("127.0.0.1:0"),
		)
		Expect(err).NotTo(HaveOccurred())

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		baseURL = "http://" + ln.Addr().String()

		served = make(chan error, 1)
		go func() { served <- syncApp.Serve(ln) }()
	})

	AfterEach(func() {
		Expect(syncApp.Stop(5 * time.Second)).To(Succeed())
		Eventually(served).Should(Receive(BeNil()))
		backend.Close()
	})

	It("reports health and readiness", func() {
		resp, _ := do(http.MethodGet, "/health", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp, data := do(http.MethodGet, "/readiness", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(string(data)).To(ContainSubstring("ready"))
	})

	It("lists the configured views", func() {
		resp, data := do(http.MethodGet, "/api/v1/views", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var list struct {
			Views []service.ViewInfo `json:"views"`
		}
		Expect(json.Unmarshal(data, &list)).To(Succeed())
		Expect(list.Views).To(HaveLen(3))
		Expect(list.Views[0].ID).To(Equal("dashboard"))
		Expect(list.Views[0].Liveness).To(Equal(config.LivenessSticky))
	})

	It("serves seed data on mount and live data after the first cycle", func() {
		sess := mount("dashboard")
		Expect(sess.State.Data).To(HaveKey("stocks"))
		Expect(sess.State.Data).To(HaveKey("alerts"))

		Eventually(settledLive(sess.ID)).Should(BeTrue())

		st := getSession(sess.ID).State
		Expect(st.Label).To(Equal(status.LabelLive))
		Expect(string(st.Data["stocks"])).To(ContainSubstring("RELIANCE"))
		Expect(st.Sources["stocks"].LastSuccess).NotTo(BeNil())
	})

	It("keeps a live view live and raises a notification when a required source fails", func() {
		sess := mount("dashboard")
		Eventually(settledLive(sess.ID)).Should(BeTrue())

		backend.failStocks.Store(true)
		resp, data := do(http.MethodPost, "/api/v1/sessions/"+sess.ID+"/refresh", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK), string(data))

		var refreshed service.Session
		Expect(json.Unmarshal(data, &refreshed)).To(Succeed())
		Expect(refreshed.State.IsLive).To(BeTrue())
		Expect(refreshed.State.Sources["stocks"].ConsecutiveFailures).To(Equal(1))
		Expect(string(refreshed.State.Data["stocks"])).To(ContainSubstring("RELIANCE"))
		Expect(refreshed.State.Notifications).To(HaveLen(1))

		notification := refreshed.State.Notifications[0]
		Expect(notification.SourceID).To(Equal("stocks"))

		resp, _ = do(http.MethodDelete, "/api/v1/sessions/"+sess.ID+"/notifications/"+notification.ID, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		Expect(getSession(sess.ID).State.Notifications).To(BeEmpty())

		resp, _ = do(http.MethodDelete, "/api/v1/sessions/"+sess.ID+"/notifications/"+notification.ID, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("toggles polling", func() {
		sess := mount("dashboard")
		Expect(sess.Polling).To(BeFalse())

		resp, data := do(http.MethodPut, "/api/v1/sessions/"+sess.ID+"/polling", map[string]any{"enabled": true, "interval": "30m"})
		Expect(resp.StatusCode).To(Equal(http.StatusOK), string(data))

		updated := getSession(sess.ID)
		Expect(updated.Polling).To(BeTrue())
		Expect(updated.Interval).To(Equal("30m0s"))
	})

	It("runs a pipeline and refreshes pipeline views", func() {
		sess := mount("pipelines")
		Eventually(settledLive(sess.ID)).Should(BeTrue())
		readsBefore := backend.statusReads.Load()

		resp, data := do(http.MethodPost, "/api/v1/pipelines/ingest/run", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted), string(data))
		Expect(string(data)).To(ContainSubstring(`"pipeline":"ingest"`))
		Expect(backend.pipelineRuns.Load()).To(Equal(int32(1)))

		Eventually(backend.statusReads.Load).Should(BeNumerically(">", readsBefore))
	})

	It("reports the upstream version", func() {
		resp, data := do(http.MethodGet, "/api/v1/upstream", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var st service.UpstreamStatus
		Expect(json.Unmarshal(data, &st)).To(Succeed())
		Expect(st.Reachable).To(BeTrue())
		Expect(st.Version).To(Equal("1.4.0"))
		Expect(st.Supported).To(BeTrue())
	})

	It("unmounts sessions", func() {
		sess := mount("dashboard")

		resp, _ := do(http.MethodDelete, "/api/v1/sessions/"+sess.ID, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

		resp, _ = do(http.MethodGet, "/api/v1/sessions/"+sess.ID, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("mounts a stock view for the requested ticker", func() {
		resp, data := do(http.MethodPost, "/api/v1/views/stock/sessions", map[string]any{
			"polling": false,
			"params":  map[string]string{"ticker": "TCS"},
		})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated), string(data))
		var sess service.Session
		Expect(json.Unmarshal(data, &sess)).To(Succeed())
		Expect(sess.Params).To(Equal(map[string]string{"ticker": "TCS", "exchange": "nse"}))

		Eventually(settledLive(sess.ID)).Should(BeTrue())
		Expect(string(getSession(sess.ID).State.Data["stock_detail"])).To(ContainSubstring(`"TCS"`))
		Expect(backend.quotedTickers()).To(ContainElement("TCS@nse"))

		resp, _ = do(http.MethodPost, "/api/v1/views/stock/sessions", map[string]any{"polling": false})
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("rejects unknown views", func() {
		resp, _ := do(http.MethodPost, "/api/v1/views/portfolio/sessions", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})
})
