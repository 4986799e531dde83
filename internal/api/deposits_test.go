package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivlasenkov/requiroute/internal/api"
	"github.com/ivlasenkov/requiroute/internal/domain"
	"github.com/ivlasenkov/requiroute/internal/service"
	"github.com/ivlasenkov/requiroute/internal/stats"
	"github.com/ivlasenkov/requiroute/internal/store"
)

const testUsdtRate = 90

type testEnv struct {
	pool   *pgxpool.Pool
	server *httptest.Server
	client *http.Client
}

type allocationResponse struct {
	Deposit   domain.Deposit   `json:"deposit"`
	Requisite domain.Requisite `json:"requisite"`
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("db connection: %v", err)
	}

	applySchema(t, pool)
	resetDB(t, pool)

	st := store.New(pool)
	logger := log.New(io.Discard, "", 0)
	srv := api.NewServer(
		st,
		service.NewAllocationService(pool, st),
		service.NewDepositService(pool, testUsdtRate),
		service.NewRequisiteService(pool, testUsdtRate),
		service.NewLimitService(st, testUsdtRate),
		stats.NewMemoryRecorder(),
		nil,
		logger,
	)
	ts := httptest.NewServer(srv.Routes())

	return &testEnv{
		pool:   pool,
		server: ts,
		client: &http.Client{Timeout: 3 * time.Second},
	}
}

func (e *testEnv) close() {
	e.server.Close()
	e.pool.Close()
}

func (e *testEnv) doRequest(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	return e.doOwnerRequest(t, method, path, body, 0)
}

func (e *testEnv) doOwnerRequest(t *testing.T, method, path, body string, ownerID int64) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ownerID > 0 {
		req.Header.Set("X-Owner-ID", fmt.Sprintf("%d", ownerID))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestCreateDepositSuccess(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	ownerID := seedOwner(t, env.pool, "alice", true, 1000)
	reqID := seedRequisite(t, env.pool, ownerID, "pay/alice-1", 10000, 5)

	resp := env.doRequest(t, http.MethodPost, "/api/v1/deposits", `{"amount":1500}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected %d, got %d", http.StatusCreated, resp.StatusCode)
	}

	var got allocationResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if got.Deposit.Status != domain.DepositActive {
		t.Fatalf("expected status %s, got %s", domain.DepositActive, got.Deposit.Status)
	}
	if got.Deposit.RequisiteID != reqID {
		t.Fatalf("expected requisite %d, got %d", reqID, got.Deposit.RequisiteID)
	}
	if got.Deposit.Amount != 1500 {
		t.Fatalf("expected amount 1500, got %v", got.Deposit.Amount)
	}

	used, current, active, _ := getRequisiteState(t, env.pool, reqID)
	if used != 0 {
		t.Fatalf("expected used 0 before settlement, got %v", used)
	}
	if current != 1 {
		t.Fatalf("expected 1 current request, got %d", current)
	}
	if !active {
		t.Fatal("expected requisite to stay active")
	}
}

func TestCreateDepositNoEligibleChannel(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	ownerID := seedOwner(t, env.pool, "alice", true, 1000)
	seedRequisite(t, env.pool, ownerID, "pay/alice-1", 1000, 5)

	resp := env.doRequest(t, http.MethodPost, "/api/v1/deposits", `{"amount":1500}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
	if n := countDeposits(t, env.pool); n != 0 {
		t.Fatalf("expected 0 deposits, got %d", n)
	}
}

func TestCreateDepositInvalidAmount(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	for _, body := range []string{`{"amount":0}`, `{"amount":-5}`, `{}`} {
		resp := env.doRequest(t, http.MethodPost, "/api/v1/deposits", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("body %s: expected %d, got %d", body, http.StatusUnprocessableEntity, resp.StatusCode)
		}
	}
}

func TestCreateDepositOwnerScope(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	alice := seedOwner(t, env.pool, "alice", true, 1000)
	bob := seedOwner(t, env.pool, "bob", true, 1000)
	seedRequisite(t, env.pool, alice, "pay/alice-1", 10000, 5)
	bobReq := seedRequisite(t, env.pool, bob, "pay/bob-1", 10000, 5)

	resp := env.doOwnerRequest(t, http.MethodPost, "/api/v1/deposits", `{"amount":500}`, bob)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected %d, got %d", http.StatusCreated, resp.StatusCode)
	}
	var got allocationResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Requisite.ID != bobReq {
		t.Fatalf("expected allocation on requisite %d, got %d", bobReq, got.Requisite.ID)
	}
}

func TestCreateDepositRouteHeld(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	ownerID := seedOwner(t, env.pool, "alice", true, 1000)
	seedRequisite(t, env.pool, ownerID, "pay/alice-1", 10000, 5)

	resp1 := env.doRequest(t, http.MethodPost, "/api/v1/deposits", `{"amount":100,"custom_route":"order-77"}`)
	resp1.Body.Close()
	if resp1.StatusCode != http.StatusCreated {
		t.Fatalf("expected %d, got %d", http.StatusCreated, resp1.StatusCode)
	}

	resp2 := env.doRequest(t, http.MethodPost, "/api/v1/deposits", `{"amount":200,"custom_route":"order-77"}`)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("expected %d, got %d", http.StatusConflict, resp2.StatusCode)
	}
	if n := countDeposits(t, env.pool); n != 1 {
		t.Fatalf("expected 1 deposit, got %d", n)
	}
}

func TestConfirmDepositSuccess(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	ownerID := seedOwner(t, env.pool, "alice", true, 1000)
	reqID := seedRequisite(t, env.pool, ownerID, "pay/alice-1", 10000, 5)

	dep := allocate(t, env, 1500)

	resp := env.doRequest(t, http.MethodPost, fmt.Sprintf("/api/v1/deposits/%d/confirm", dep.ID), `{"amount":1500}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var confirmed domain.Deposit
	if err := json.NewDecoder(resp.Body).Decode(&confirmed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if confirmed.Status != domain.DepositCompleted {
		t.Fatalf("expected status %s, got %s", domain.DepositCompleted, confirmed.Status)
	}

	used, _, active, _ := getRequisiteState(t, env.pool, reqID)
	if used != 1500 {
		t.Fatalf("expected used 1500, got %v", used)
	}
	if !active {
		t.Fatal("expected requisite to stay active")
	}

	usdt, rub := getOwnerBalances(t, env.pool, ownerID)
	if rub != -1500 {
		t.Fatalf("expected rub balance -1500, got %v", rub)
	}
	wantUsdt := 1000 - 1500.0/testUsdtRate
	if math.Abs(usdt-wantUsdt) > 1e-9 {
		t.Fatalf("expected usdt balance %v, got %v", wantUsdt, usdt)
	}
}

func TestConfirmDepositSettledAmountOverwrites(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	ownerID := seedOwner(t, env.pool, "alice", true, 1000)
	reqID := seedRequisite(t, env.pool, ownerID, "pay/alice-1", 10000, 5)

	dep := allocate(t, env, 1500)

	// The payer actually sent less than requested.
	resp := env.doRequest(t, http.MethodPost, fmt.Sprintf("/api/v1/deposits/%d/confirm", dep.ID), `{"amount":1200}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var confirmed domain.Deposit
	if err := json.NewDecoder(resp.Body).Decode(&confirmed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if confirmed.Amount != 1200 {
		t.Fatalf("expected settled amount 1200, got %v", confirmed.Amount)
	}

	used, _, _, _ := getRequisiteState(t, env.pool, reqID)
	if used != 1200 {
		t.Fatalf("expected used 1200, got %v", used)
	}
}

func TestConfirmBeyondLimitRejected(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	ownerID := seedOwner(t, env.pool, "alice", true, 1000)
	reqID := seedRequisite(t, env.pool, ownerID, "pay/alice-1", 1000, 5)

	first := allocate(t, env, 600)
	second := allocate(t, env, 500)

	resp1 := env.doRequest(t, http.MethodPost, fmt.Sprintf("/api/v1/deposits/%d/confirm", first.ID), `{"amount":600}`)
	resp1.Body.Close()
	if resp1.StatusCode != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, resp1.StatusCode)
	}

	// 600 already settled, so 500 more would overdraw the limit of 1000.
	resp2 := env.doRequest(t, http.MethodPost, fmt.Sprintf("/api/v1/deposits/%d/confirm", second.ID), `{"amount":500}`)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected %d, got %d", http.StatusUnprocessableEntity, resp2.StatusCode)
	}

	used, _, _, _ := getRequisiteState(t, env.pool, reqID)
	if used != 600 {
		t.Fatalf("expected used 600, got %v", used)
	}
	if status := getDepositStatus(t, env.pool, second.ID); status != domain.DepositActive {
		t.Fatalf("expected second deposit to stay active, got %s", status)
	}
}

func TestAllocateAfterPartialSettlement(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	ownerID := seedOwner(t, env.pool, "alice", true, 1000)
	seedRequisite(t, env.pool, ownerID, "pay/alice-1", 1000, 5)

	dep := allocate(t, env, 600)
	confirm := env.doRequest(t, http.MethodPost, fmt.Sprintf("/api/v1/deposits/%d/confirm", dep.ID), `{"amount":600}`)
	confirm.Body.Close()
	if confirm.StatusCode != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, confirm.StatusCode)
	}

	// 400 remaining is not enough for 500.
	resp := env.doRequest(t, http.MethodPost, "/api/v1/deposits", `{"amount":500}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected %d, got %d", http.StatusNotFound, resp.StatusCode)
	}

	fits := env.doRequest(t, http.MethodPost, "/api/v1/deposits", `{"amount":400}`)
	defer fits.Body.Close()
	if fits.StatusCode != http.StatusCreated {
		t.Fatalf("expected %d, got %d", http.StatusCreated, fits.StatusCode)
	}
}

func TestConfirmRetiresExhaustedRequisite(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	ownerID := seedOwner(t, env.pool, "alice", true, 1000)
	reqID := seedRequisite(t, env.pool, ownerID, "pay/alice-1", 1000, 5)

	dep := allocate(t, env, 1000)

	resp := env.doRequest(t, http.MethodPost, fmt.Sprintf("/api/v1/deposits/%d/confirm", dep.ID), `{"amount":1000}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, resp.StatusCode)
	}

	used, _, active, status := getRequisiteState(t, env.pool, reqID)
	if used != 1000 {
		t.Fatalf("expected used 1000, got %v", used)
	}
	if active {
		t.Fatal("expected requisite to be retired")
	}
	if status != domain.StatusCompleted {
		t.Fatalf("expected status %s, got %s", domain.StatusCompleted, status)
	}
}

func TestConfirmAlreadySettled(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	ownerID := seedOwner(t, env.pool, "alice", true, 1000)
	reqID := seedRequisite(t, env.pool, ownerID, "pay/alice-1", 10000, 5)

	dep := allocate(t, env, 500)

	resp1 := env.doRequest(t, http.MethodPost, fmt.Sprintf("/api/v1/deposits/%d/confirm", dep.ID), `{"amount":500}`)
	resp1.Body.Close()

	resp2 := env.doRequest(t, http.MethodPost, fmt.Sprintf("/api/v1/deposits/%d/confirm", dep.ID), `{"amount":500}`)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("expected %d, got %d", http.StatusConflict, resp2.StatusCode)
	}

	used, _, _, _ := getRequisiteState(t, env.pool, reqID)
	if used != 500 {
		t.Fatalf("expected used 500 after double confirm, got %v", used)
	}
}

func TestConfirmNotFound(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	resp := env.doRequest(t, http.MethodPost, "/api/v1/deposits/999/confirm", `{"amount":100}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
}

func TestPendingThenConfirm(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	ownerID := seedOwner(t, env.pool, "alice", true, 1000)
	seedRequisite(t, env.pool, ownerID, "pay/alice-1", 10000, 5)

	dep := allocate(t, env, 500)

	pending := env.doRequest(t, http.MethodPost, fmt.Sprintf("/api/v1/deposits/%d/pending", dep.ID), "")
	defer pending.Body.Close()
	if pending.StatusCode != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, pending.StatusCode)
	}
	var d domain.Deposit
	if err := json.NewDecoder(pending.Body).Decode(&d); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if d.Status != domain.DepositPending {
		t.Fatalf("expected status %s, got %s", domain.DepositPending, d.Status)
	}

	confirm := env.doRequest(t, http.MethodPost, fmt.Sprintf("/api/v1/deposits/%d/confirm", dep.ID), `{"amount":500}`)
	defer confirm.Body.Close()
	if confirm.StatusCode != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, confirm.StatusCode)
	}
}

func TestCancelKeepsUsage(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	ownerID := seedOwner(t, env.pool, "alice", true, 1000)
	reqID := seedRequisite(t, env.pool, ownerID, "pay/alice-1", 10000, 5)

	dep := allocate(t, env, 500)

	resp := env.doRequest(t, http.MethodPost, fmt.Sprintf("/api/v1/deposits/%d/cancel", dep.ID), "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, resp.StatusCode)
	}
	var d domain.Deposit
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if d.Status != domain.DepositCanceled {
		t.Fatalf("expected status %s, got %s", domain.DepositCanceled, d.Status)
	}

	// Cancellation releases nothing: the request slot stays consumed and
	// no usage was recorded to undo.
	used, current, active, _ := getRequisiteState(t, env.pool, reqID)
	if used != 0 {
		t.Fatalf("expected used 0, got %v", used)
	}
	if current != 1 {
		t.Fatalf("expected 1 current request, got %d", current)
	}
	if !active {
		t.Fatal("expected requisite to stay active")
	}

	usdt, rub := getOwnerBalances(t, env.pool, ownerID)
	if usdt != 1000 || rub != 0 {
		t.Fatalf("expected untouched balances, got usdt %v rub %v", usdt, rub)
	}

	// Cancel again: terminal deposits are returned as they are.
	again := env.doRequest(t, http.MethodPost, fmt.Sprintf("/api/v1/deposits/%d/cancel", dep.ID), "")
	defer again.Body.Close()
	if again.StatusCode != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, again.StatusCode)
	}
}

func TestConfirmCanceledDepositIsNoOp(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	ownerID := seedOwner(t, env.pool, "alice", true, 1000)
	reqID := seedRequisite(t, env.pool, ownerID, "pay/alice-1", 10000, 5)

	dep := allocate(t, env, 500)

	cancel := env.doRequest(t, http.MethodPost, fmt.Sprintf("/api/v1/deposits/%d/cancel", dep.ID), "")
	cancel.Body.Close()

	confirm := env.doRequest(t, http.MethodPost, fmt.Sprintf("/api/v1/deposits/%d/confirm", dep.ID), `{"amount":500}`)
	defer confirm.Body.Close()
	if confirm.StatusCode != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, confirm.StatusCode)
	}
	var d domain.Deposit
	if err := json.NewDecoder(confirm.Body).Decode(&d); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if d.Status != domain.DepositCanceled {
		t.Fatalf("expected status %s, got %s", domain.DepositCanceled, d.Status)
	}

	used, _, _, _ := getRequisiteState(t, env.pool, reqID)
	if used != 0 {
		t.Fatalf("expected used 0, got %v", used)
	}
}

func TestConcurrentAllocationsRespectRequestCap(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	ownerID := seedOwner(t, env.pool, "alice", true, 1000)
	reqID := seedRequisite(t, env.pool, ownerID, "pay/alice-1", 10000, 1)

	type result struct {
		status int
		err    error
	}

	var wg sync.WaitGroup
	results := make(chan result, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/deposits", strings.NewReader(`{"amount":500}`))
			if err != nil {
				results <- result{err: err}
				return
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := env.client.Do(req)
			if err != nil {
				results <- result{err: err}
				return
			}
			resp.Body.Close()
			results <- result{status: resp.StatusCode}
		}()
	}

	wg.Wait()
	close(results)

	created := 0
	rejected := 0
	for res := range results {
		if res.err != nil {
			t.Fatalf("request error: %v", res.err)
		}
		switch res.status {
		case http.StatusCreated:
			created++
		case http.StatusNotFound, http.StatusConflict:
			rejected++
		default:
			t.Fatalf("unexpected status: %d", res.status)
		}
	}

	if created != 1 || rejected != 1 {
		t.Fatalf("expected 1 created and 1 rejected, got %d and %d", created, rejected)
	}

	_, current, _, _ := getRequisiteState(t, env.pool, reqID)
	if current != 1 {
		t.Fatalf("expected 1 current request, got %d", current)
	}
	if n := countDeposits(t, env.pool); n != 1 {
		t.Fatalf("expected 1 deposit, got %d", n)
	}
}

func TestConcurrentConfirmsNoOverdraw(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	ownerID := seedOwner(t, env.pool, "alice", true, 1000)
	reqID := seedRequisite(t, env.pool, ownerID, "pay/alice-1", 1000, 5)

	first := allocate(t, env, 700)
	second := allocate(t, env, 700)

	type result struct {
		status int
		err    error
	}

	var wg sync.WaitGroup
	results := make(chan result, 2)

	for _, id := range []int64{first.ID, second.ID} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			url := fmt.Sprintf("%s/api/v1/deposits/%d/confirm", env.server.URL, id)
			req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(`{"amount":700}`))
			if err != nil {
				results <- result{err: err}
				return
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := env.client.Do(req)
			if err != nil {
				results <- result{err: err}
				return
			}
			resp.Body.Close()
			results <- result{status: resp.StatusCode}
		}(id)
	}

	wg.Wait()
	close(results)

	settled := 0
	overdrawn := 0
	for res := range results {
		if res.err != nil {
			t.Fatalf("request error: %v", res.err)
		}
		switch res.status {
		case http.StatusOK:
			settled++
		case http.StatusUnprocessableEntity:
			overdrawn++
		default:
			t.Fatalf("unexpected status: %d", res.status)
		}
	}

	if settled != 1 || overdrawn != 1 {
		t.Fatalf("expected 1 settled and 1 rejected, got %d and %d", settled, overdrawn)
	}

	used, _, _, _ := getRequisiteState(t, env.pool, reqID)
	if used != 700 {
		t.Fatalf("expected used 700, got %v", used)
	}
}

func TestListDeposits(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	ownerID := seedOwner(t, env.pool, "alice", true, 1000)
	seedRequisite(t, env.pool, ownerID, "pay/alice-1", 10000, 5)

	first := allocate(t, env, 100)
	allocate(t, env, 200)

	cancel := env.doRequest(t, http.MethodPost, fmt.Sprintf("/api/v1/deposits/%d/cancel", first.ID), "")
	cancel.Body.Close()

	resp := env.doOwnerRequest(t, http.MethodGet, "/api/v1/deposits?status=active", "", ownerID)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var deposits []domain.Deposit
	if err := json.NewDecoder(resp.Body).Decode(&deposits); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(deposits) != 1 {
		t.Fatalf("expected 1 active deposit, got %d", len(deposits))
	}
	if deposits[0].Amount != 200 {
		t.Fatalf("expected amount 200, got %v", deposits[0].Amount)
	}

	noAuth := env.doRequest(t, http.MethodGet, "/api/v1/deposits", "")
	defer noAuth.Body.Close()
	if noAuth.StatusCode != http.StatusForbidden {
		t.Fatalf("expected %d, got %d", http.StatusForbidden, noAuth.StatusCode)
	}
}

func allocate(t *testing.T, env *testEnv, amount float64) domain.Deposit {
	t.Helper()

	body := fmt.Sprintf(`{"amount":%v}`, amount)
	resp := env.doRequest(t, http.MethodPost, "/api/v1/deposits", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("allocate: expected %d, got %d", http.StatusCreated, resp.StatusCode)
	}
	var got allocationResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("allocate: decode response: %v", err)
	}
	return got.Deposit
}

func seedOwner(t *testing.T, pool *pgxpool.Pool, login string, walletEnabled bool, usdtBalance float64) int64 {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var id int64
	err := pool.QueryRow(ctx, `
		INSERT INTO owners (login, wallet_enabled, usdt_balance)
		VALUES ($1, $2, $3) RETURNING id`,
		login, walletEnabled, usdtBalance).Scan(&id)
	if err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	return id
}

func seedRequisite(t *testing.T, pool *pgxpool.Pool, ownerID int64, route string, limit float64, maxRequests int32) int64 {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var id int64
	err := pool.QueryRow(ctx, `
		INSERT INTO requisites (owner_id, name, bank, requisites, custom_route, limit_amount, max_requests, is_active, status)
		VALUES ($1, $2, 'Test Bank', '2200 1234 5678 9012', $3, $4, $5, TRUE, 'available')
		RETURNING id`,
		ownerID, "req-"+route, route, limit, maxRequests).Scan(&id)
	if err != nil {
		t.Fatalf("seed requisite: %v", err)
	}
	return id
}

func getRequisiteState(t *testing.T, pool *pgxpool.Pool, id int64) (used float64, currentRequests int32, isActive bool, status string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := pool.QueryRow(ctx, `
		SELECT used_amount, current_requests, is_active, status
		FROM requisites WHERE id = $1`,
		id).Scan(&used, &currentRequests, &isActive, &status)
	if err != nil {
		t.Fatalf("get requisite state: %v", err)
	}
	return used, currentRequests, isActive, status
}

func getOwnerBalances(t *testing.T, pool *pgxpool.Pool, id int64) (usdt, rub float64) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := pool.QueryRow(ctx, "SELECT usdt_balance, rub_balance FROM owners WHERE id = $1", id).Scan(&usdt, &rub)
	if err != nil {
		t.Fatalf("get owner balances: %v", err)
	}
	return usdt, rub
}

func getDepositStatus(t *testing.T, pool *pgxpool.Pool, id int64) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var status string
	err := pool.QueryRow(ctx, "SELECT status FROM deposits WHERE id = $1", id).Scan(&status)
	if err != nil {
		t.Fatalf("get deposit status: %v", err)
	}
	return status
}

func countDeposits(t *testing.T, pool *pgxpool.Pool) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM deposits").Scan(&count); err != nil {
		t.Fatalf("count deposits: %v", err)
	}
	return count
}

func applySchema(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	schema := loadSchema(t)
	statements := strings.Split(schema, ";")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, stmt := range statements {
		s := strings.TrimSpace(stmt)
		if s == "" {
			continue
		}
		if _, err := pool.Exec(ctx, s); err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
}

func resetDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, "TRUNCATE deposits, requisites, owners RESTART IDENTITY CASCADE"); err != nil {
		t.Fatalf("reset db: %v", err)
	}
}

func loadSchema(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	dir := wd
	for i := 0; i < 6; i++ {
		path := filepath.Join(dir, "schema.sql")
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read schema: %v", err)
			}
			return string(data)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	t.Fatalf("schema.sql not found from %s", wd)
	return ""
}
