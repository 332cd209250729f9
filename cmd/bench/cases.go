// README: Fulfillment scenarios: seeding, order flow, last-unit contention, concurrent accept and ledger consistency.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"dropmart/internal/infra"
	"dropmart/migrations"
)

// Tokens use the dev verifier format "uid:role"; the API must run without
// Firebase configured.
const (
	adminToken    = "bench-admin:admin"
	customerToken = "bench-customer:customer"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	run     string
	storeA  string
	storeB  string
	product string
	scarce  string
	orderID string
	pin     string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	run := fmt.Sprintf("%d", time.Now().UnixNano()%1_000_000_000)
	return &Runner{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		run:     run,
		storeA:  "bench-a-" + run,
		storeB:  "bench-b-" + run,
		product: "bench-p-" + run,
		scarce:  "bench-last-" + run,
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: checkDB},
		{Name: "Env: Redis connect", Run: checkRedis},
		{Name: "Migration: apply (optional)", Run: applyMigrations},
		{Name: "Migration: tables exist", Run: tablesExist},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			start := time.Now()
			code, _, err := r.call(ctx, http.MethodGet, "/health", "", nil)
			return expect(code, err, time.Since(start), http.StatusOK)
		}},
		{Name: "Seed: vendors and products", Run: seed},
		{Name: "Order: place single-store order", Run: placeOrder},
		{Name: "Order: invalid cart -> 400", Run: func(ctx context.Context, r *Runner) Result {
			code, _, err := r.call(ctx, http.MethodPost, "/api/orders", customerToken, map[string]any{
				"items":         []map[string]any{{"productId": r.product, "quantity": 0}},
				"paymentMethod": "cash",
			})
			return expect(code, err, 0, http.StatusBadRequest)
		}},
		{Name: "Order: vendor prepares", Run: vendorPrepares},
		{Name: "Concurrency: multi agent accept same order", Run: concurrentAccept},
		{Name: "Pickup: wrong PIN -> 403", Run: func(ctx context.Context, r *Runner) Result {
			if r.orderID == "" {
				return Result{Status: "SKIP", Note: "no order"}
			}
			code, _, err := r.call(ctx, http.MethodPost, "/api/orders/"+r.orderID+"/pickup", "bench-agent-0:agent", map[string]any{
				"storeId": r.storeB, "pin": "0000", "lat": 12.9352, "lng": 77.6245,
			})
			return expect(code, err, 0, http.StatusForbidden)
		}},
		{Name: "Concurrency: last unit placement", Run: lastUnit},
		{Name: "Consistency: ledger sums match stock", Run: ledgerConsistent},
		{Name: "Consistency: vendor GEO index populated", Run: geoIndexed},
		{Name: "Perf: availability lookups", Run: func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, http.MethodGet, "/api/inventory/availability?productId="+r.product, nil)
		}},
	}
}

func checkDB(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: "SKIP", Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	return Result{Status: "PASS"}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: "SKIP", Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	return Result{Status: "PASS"}
}

func applyMigrations(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: "SKIP", Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: "FAIL", Note: "db not configured"}
	}
	if err := infra.Migrate(ctx, r.db, migrations.FS); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	return Result{Status: "PASS"}
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: "SKIP", Note: "db not configured"}
	}
	tables, err := extractTables(migrations.FS)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: "FAIL", Note: err.Error()}
		}
		if !exists {
			return Result{Status: "FAIL", Note: "missing table: " + t}
		}
	}
	return Result{Status: "PASS", Note: fmt.Sprintf("tables=%d", len(tables))}
}

func seed(ctx context.Context, r *Runner) Result {
	steps := []struct {
		path  string
		token string
		body  map[string]any
	}{
		{"/api/admin/vendors", adminToken, map[string]any{"id": r.storeA, "name": "Bench A", "kind": "grocery", "lat": 12.9716, "lng": 77.5946}},
		{"/api/admin/vendors", adminToken, map[string]any{"id": r.storeB, "name": "Bench B", "kind": "grocery", "lat": 12.9352, "lng": 77.6245}},
		{"/api/admin/products", adminToken, map[string]any{"id": r.product, "name": "Bench milk", "price": 150, "currency": "INR"}},
		{"/api/admin/products", adminToken, map[string]any{"id": r.scarce, "name": "Last loaf", "price": 90, "currency": "INR"}},
		{"/api/inventory/transactions", r.storeA + ":vendor", map[string]any{"storeId": r.storeA, "productId": r.product, "quantity": 2, "type": "restock"}},
		{"/api/inventory/transactions", r.storeB + ":vendor", map[string]any{"storeId": r.storeB, "productId": r.product, "quantity": 500, "type": "restock"}},
		{"/api/inventory/transactions", r.storeA + ":vendor", map[string]any{"storeId": r.storeA, "productId": r.scarce, "quantity": 1, "type": "restock"}},
	}
	start := time.Now()
	for _, s := range steps {
		code, _, err := r.call(ctx, http.MethodPost, s.path, s.token, s.body)
		if err != nil || code != http.StatusCreated {
			return Result{Status: "FAIL", Note: fmt.Sprintf("%s status=%d err=%v", s.path, code, err)}
		}
	}
	return Result{Status: "PASS", Latency: time.Since(start)}
}

func (r *Runner) orderBody(product string, qty int) map[string]any {
	return map[string]any{
		"items":           []map[string]any{{"productId": product, "quantity": qty}},
		"deliveryAddress": map[string]any{"addressLine": "221 MG Road", "lat": 12.95, "lng": 77.60},
		"paymentMethod":   "cash",
	}
}

func placeOrder(ctx context.Context, r *Runner) Result {
	start := time.Now()
	code, body, err := r.call(ctx, http.MethodPost, "/api/orders", customerToken, r.orderBody(r.product, 3))
	latency := time.Since(start)
	if err != nil || code != http.StatusCreated {
		return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d err=%v", code, err)}
	}
	r.orderID, _ = body["id"].(string)
	r.pin, _ = body["verificationPin"].(string)
	items, _ := body["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["storeId"] != r.storeB {
		return Result{Status: "FAIL", Latency: latency, Note: "expected single-store allocation to B"}
	}
	return Result{Status: "PASS", Latency: latency, Note: "order=" + r.orderID}
}

func vendorPrepares(ctx context.Context, r *Runner) Result {
	if r.orderID == "" {
		return Result{Status: "SKIP", Note: "no order"}
	}
	for _, s := range []string{"ACCEPTED_BY_VENDOR", "PREPARING", "READY_FOR_PICKUP"} {
		code, _, err := r.call(ctx, http.MethodPost, "/api/orders/"+r.orderID+"/transitions", r.storeB+":vendor", map[string]any{"status": s})
		if err != nil || code != http.StatusOK {
			return Result{Status: "FAIL", Note: fmt.Sprintf("%s status=%d err=%v", s, code, err)}
		}
	}
	return Result{Status: "PASS"}
}

// concurrentAccept fires one accept per agent; exactly one may win.
func concurrentAccept(ctx context.Context, r *Runner) Result {
	if r.orderID == "" {
		return Result{Status: "SKIP", Note: "no order"}
	}
	codes := r.fanOut(ctx, func(i int) (int, error) {
		code, _, err := r.call(ctx, http.MethodPost, "/api/orders/"+r.orderID+"/transitions",
			fmt.Sprintf("bench-agent-%d:agent", i), map[string]any{"status": "ACCEPTED_BY_AGENT"})
		return code, err
	})
	succ := codes[http.StatusOK]
	if succ == 1 && codes[http.StatusConflict]+codes[http.StatusForbidden] == r.cfg.Concurrency-1 {
		return Result{Status: "PASS", Note: fmt.Sprintf("codes=%v", codes)}
	}
	return Result{Status: "FAIL", Note: fmt.Sprintf("codes=%v", codes)}
}

// lastUnit races placements for a product with one unit in stock.
func lastUnit(ctx context.Context, r *Runner) Result {
	start := time.Now()
	codes := r.fanOut(ctx, func(i int) (int, error) {
		code, _, err := r.call(ctx, http.MethodPost, "/api/orders",
			fmt.Sprintf("bench-customer-%d:customer", i), r.orderBody(r.scarce, 1))
		return code, err
	})
	latency := time.Since(start)
	if codes[http.StatusCreated] == 1 && codes[http.StatusConflict] == r.cfg.Concurrency-1 {
		return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("codes=%v", codes)}
	}
	return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("codes=%v", codes)}
}

func ledgerConsistent(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: "SKIP", Note: "db not configured"}
	}
	var mismatched int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM store_stock s
		LEFT JOIN (
			SELECT store_id, product_id, SUM(delta) AS total
			FROM inventory_transactions
			GROUP BY store_id, product_id
		) t ON t.store_id = s.store_id AND t.product_id = s.product_id
		WHERE s.quantity <> COALESCE(t.total, 0)`,
	).Scan(&mismatched)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if mismatched > 0 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("mismatched records=%d", mismatched)}
	}
	return Result{Status: "PASS"}
}

func geoIndexed(ctx context.Context, r *Runner) Result {
	code, body, err := r.call(ctx, http.MethodGet, "/api/vendors/nearby?lat=12.9352&lng=77.6245&radiusKm=1", customerToken, nil)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if code == http.StatusServiceUnavailable {
		return Result{Status: "SKIP", Note: "vendor index not configured"}
	}
	vendors, _ := body["vendors"].([]any)
	for _, v := range vendors {
		if v.(map[string]any)["vendorId"] == r.storeB {
			return Result{Status: "PASS", Note: fmt.Sprintf("nearby=%d", len(vendors))}
		}
	}
	return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d store B missing", code)}
}

func perfLoad(ctx context.Context, r *Runner, method, path string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				code, _, err := r.call(ctx, method, path, customerToken, payload)
				mu.Lock()
				if err != nil || code >= 500 {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

// fanOut runs fn once per configured client and tallies status codes.
func (r *Runner) fanOut(ctx context.Context, fn func(i int) (int, error)) map[int]int {
	codes := map[int]int{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code, err := fn(i)
			if err != nil {
				code = -1
			}
			mu.Lock()
			codes[code]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	return codes
}

func (r *Runner) call(ctx context.Context, method, path, token string, body any) (int, map[string]any, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out, nil
}

func expect(code int, err error, latency time.Duration, want int) Result {
	if err != nil {
		return Result{Status: "FAIL", Latency: latency, Note: err.Error()}
	}
	if code != want {
		return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d want=%d", code, want)}
	}
	return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", code)}
}

func extractTables(fsys fs.FS) ([]string, error) {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	var tables []string
	for _, f := range files {
		b, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, err
		}
		for _, m := range re.FindAllStringSubmatch(string(b), -1) {
			tables = append(tables, m[1])
		}
	}
	return tables, nil
}
