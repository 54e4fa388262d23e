package integrationtests

import (
	bidding "auction-tracker/internal/biddingService"
	"auction-tracker/internal/keylock"
	"auction-tracker/internal/ledger"
	"auction-tracker/internal/lifecycle"
	model "auction-tracker/internal/models"
	"auction-tracker/internal/notifier"
	"auction-tracker/internal/repository"
	"auction-tracker/internal/scheduler"
	"auction-tracker/internal/server"
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// TestApp bundles the router with the pieces tests need to drive time-based transitions.
type TestApp struct {
	Router    *gin.Engine
	Repo      *repository.MemoryRepo
	Scheduler *scheduler.Scheduler
	Notifier  *notifier.Notifier
}

// SetupTestApp wires the full stack over an in-memory repository and seeds it with auctions.
func SetupTestApp(auctions ...model.Auction) *TestApp {
	gin.SetMode(gin.TestMode)
	repo := repository.NewMemoryRepo()
	for _, a := range auctions {
		repo.AddAuction(a)
	}

	n := notifier.New(0, nil)
	locks := keylock.New()
	l := ledger.New(repo, n, locks, decimal.NewFromInt(10))
	engine := lifecycle.NewEngine(repo, l, n, locks, nil)
	service := bidding.NewBiddingService(repo, l, engine, n)

	return &TestApp{
		Router:    server.SetupRouter(service, server.Options{}),
		Repo:      repo,
		Scheduler: scheduler.New(repo, engine, nil, scheduler.Config{}),
		Notifier:  n,
	}
}

// SetupTestRouter initializes the router with in-memory repository for integration testing.
func SetupTestRouter() *gin.Engine {
	return SetupTestApp().Router
}

// SetupTestRouterWithAuctions initializes the router and seeds the repo with auctions.
func SetupTestRouterWithAuctions(auctions ...model.Auction) *gin.Engine {
	return SetupTestApp(auctions...).Router
}

// ExecuteRequest executes an HTTP request and returns the response recorder.
func ExecuteRequest(t *testing.T, router *gin.Engine, method, url string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := ExecuteRequest(t, router, method, url, reqBody)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		err := json.Unmarshal(w.Body.Bytes(), &resp)
		if err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}

		if w.Code == 201 {
			resp = resp["data"].(map[string]any)
		}
	}

	return resp, w
}
