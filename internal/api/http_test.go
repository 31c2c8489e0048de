package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/teresa-solution/guild-relay-service/internal/api"
	"github.com/teresa-solution/guild-relay-service/internal/model"
	"github.com/teresa-solution/guild-relay-service/internal/service"
	"github.com/teresa-solution/guild-relay-service/internal/store"
)

type mockConfigReader struct {
	getFn func(ctx context.Context, tenantID string) (*model.TenantConfig, error)
}

func (m *mockConfigReader) Get(ctx context.Context, tenantID string) (*model.TenantConfig, error) {
	if m.getFn != nil {
		return m.getFn(ctx, tenantID)
	}
	return model.NewTenantConfig(tenantID), nil
}

type mockPoller struct {
	result *service.CommandResult
	calls  int
}

func (m *mockPoller) TriggerPoll(context.Context) *service.CommandResult {
	m.calls++
	return m.result
}

var _ = Describe("Ops router", func() {
	var (
		router  *gin.Engine
		configs *mockConfigReader
		poller  *mockPoller
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		configs = &mockConfigReader{}
		poller = &mockPoller{result: &service.CommandResult{OK: true, Code: service.CodeOK}}
		router = api.NewRouter(api.RouterConfig{}, configs, poller)
	})

	serve := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("reports health", func() {
		w := serve(http.MethodGet, "/health")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal("OK"))
	})

	It("serves prometheus metrics", func() {
		w := serve(http.MethodGet, "/metrics")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring("go_goroutines"))
	})

	It("returns the tenant config", func() {
		configs.getFn = func(_ context.Context, tenantID string) (*model.TenantConfig, error) {
			cfg := model.NewTenantConfig(tenantID)
			cfg.FeedEnabled = true
			cfg.AdminRecipients = []string{"100"}
			return cfg, nil
		}

		w := serve(http.MethodGet, "/v1/tenants/guild-1/config")

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["tenant_id"]).To(Equal("guild-1"))
		Expect(resp["feed_enabled"]).To(BeTrue())
		Expect(resp["admin_recipients"]).To(ConsistOf("100"))
	})

	It("returns 404 for a tenant without a config", func() {
		configs.getFn = func(context.Context, string) (*model.TenantConfig, error) {
			return nil, store.ErrNotFound
		}

		w := serve(http.MethodGet, "/v1/tenants/guild-9/config")

		Expect(w.Code).To(Equal(http.StatusNotFound))
	})

	It("returns 500 when the store fails", func() {
		configs.getFn = func(context.Context, string) (*model.TenantConfig, error) {
			return nil, errors.New("connection refused")
		}

		w := serve(http.MethodGet, "/v1/tenants/guild-1/config")

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["error"]).To(Equal("connection refused"))
	})

	It("accepts a manual poll", func() {
		w := serve(http.MethodPost, "/v1/feed/poll")
		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(poller.calls).To(Equal(1))
	})

	It("returns 409 when a cycle is already running", func() {
		poller.result = &service.CommandResult{Code: service.CodeSkipped, Message: "A poll cycle is already running."}

		w := serve(http.MethodPost, "/v1/feed/poll")

		Expect(w.Code).To(Equal(http.StatusConflict))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["code"]).To(Equal("skipped"))
	})

	It("returns 503 when the feed is not configured", func() {
		poller.result = &service.CommandResult{Code: service.CodeUnavailable}
		Expect(serve(http.MethodPost, "/v1/feed/poll").Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("returns 502 when the cycle aborts", func() {
		poller.result = &service.CommandResult{Code: string(service.KindUpstreamAuth), Message: "feed authentication failed"}
		Expect(serve(http.MethodPost, "/v1/feed/poll").Code).To(Equal(http.StatusBadGateway))
	})
})
