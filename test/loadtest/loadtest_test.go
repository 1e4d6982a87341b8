package loadtest_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	vegeta "github.com/tsenart/vegeta/v12/lib"

	"authgate/internal/gateway/adapter/inmem"
	"authgate/internal/gateway/adapter/jwks"
	"authgate/internal/gateway/adapter/proxy"
	"authgate/internal/gateway/auth"
	"authgate/internal/gateway/router"
	"authgate/internal/platform/server"
	"authgate/internal/testutil"
)

// testEnv holds all the infrastructure needed for a load test.
type testEnv struct {
	baseURL string
	issue   func(subject string, ttl time.Duration) string
}

type rlConfig struct {
	perIPRate  float64
	perIPBurst int
}

// setupTestEnv serves the full gateway on a loopback listener. Every subject
// named in known resolves to a fresh internal id.
func setupTestEnv(t *testing.T, rl rlConfig, known ...string) *testEnv {
	t.Helper()

	kid, priv, pub := testutil.GenerateTestKeyPair(t)
	jwksSrv := httptest.NewServer(testutil.MockJWKSHandler(kid, pub))
	t.Cleanup(jwksSrv.Close)
	backend := httptest.NewServer(testutil.MockBackendHandler("api"))
	t.Cleanup(backend.Close)

	fwd, err := proxy.NewForwarder(backend.URL, "api", nil)
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}
	store := inmem.NewIdentityStore()
	for _, sub := range known {
		store.Put(sub, uuid.New())
	}

	handler := router.New(router.Deps{
		Verifier:       auth.NewVerifier(jwks.NewClient(jwksSrv.URL, time.Minute, nil)),
		Lookup:         store,
		Limiter:        inmem.NewRateLimiter(rl.perIPRate, rl.perIPBurst, time.Now),
		Backend:        fwd,
		Logger:         slog.New(slog.NewJSONHandler(io.Discard, nil)),
		LookupTimeout:  time.Second,
		HandlerTimeout: 5 * time.Second,
		MaxBodyBytes:   1 << 20,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	srv := server.New(ln.Addr().String(), handler, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testEnv{
		baseURL: "http://" + ln.Addr().String(),
		issue: func(subject string, ttl time.Duration) string {
			return testutil.IssueTestToken(t, kid, priv, subject, "", ttl)
		},
	}
}

func (e *testEnv) target(method, path, token string) vegeta.Target {
	return vegeta.Target{
		Method: method,
		URL:    e.baseURL + path,
		Header: http.Header{
			"Authorization": []string{"Bearer " + token},
		},
	}
}

func loadtestDuration() time.Duration {
	if d := os.Getenv("LOADTEST_DURATION"); d != "" {
		dur, err := time.ParseDuration(d)
		if err == nil {
			return dur
		}
	}
	if testing.Short() {
		return 2 * time.Second
	}
	return 5 * time.Second
}

func loadtestRate() int {
	if r := os.Getenv("LOADTEST_RATE"); r != "" {
		rate, err := strconv.Atoi(r)
		if err == nil {
			return rate
		}
	}
	if testing.Short() {
		return 50
	}
	return 100
}

func attack(targeter vegeta.Targeter, freq int, duration time.Duration, name string) *vegeta.Metrics {
	attacker := vegeta.NewAttacker()
	var metrics vegeta.Metrics
	for res := range attacker.Attack(targeter, vegeta.Rate{Freq: freq, Per: time.Second}, duration, name) {
		metrics.Add(res)
	}
	metrics.Close()
	return &metrics
}

func printReport(t *testing.T, name string, metrics *vegeta.Metrics) {
	t.Helper()
	t.Logf("\n=== %s ===", name)
	t.Logf("  Requests:    %d", metrics.Requests)
	t.Logf("  Rate:        %.1f req/s", metrics.Rate)
	t.Logf("  Throughput:  %.1f req/s", metrics.Throughput)
	t.Logf("  Duration:    %s", metrics.Duration)
	t.Logf("  Latencies:")
	t.Logf("    Mean:    %s", metrics.Latencies.Mean)
	t.Logf("    P50:     %s", metrics.Latencies.P50)
	t.Logf("    P95:     %s", metrics.Latencies.P95)
	t.Logf("    P99:     %s", metrics.Latencies.P99)
	t.Logf("    Max:     %s", metrics.Latencies.Max)
	t.Logf("  Status Codes:")
	for code, count := range metrics.StatusCodes {
		t.Logf("    %s: %d", code, count)
	}
	if len(metrics.Errors) > 0 {
		t.Logf("  Errors (first 5):")
		for i, e := range metrics.Errors {
			if i >= 5 {
				break
			}
			t.Logf("    %s", e)
		}
	}
	t.Logf("  Success:     %.1f%%", metrics.Success*100)
}

func TestBaselineResolvedPrincipal(t *testing.T) {
	env := setupTestEnv(t, rlConfig{perIPRate: 10000, perIPBurst: 10000}, "loadtest-user")
	token := env.issue("loadtest-user", 30*time.Minute)

	targeter := vegeta.NewStaticTargeter(env.target(http.MethodGet, "/v1/pets", token))
	metrics := attack(targeter, loadtestRate(), loadtestDuration(), "baseline")

	printReport(t, "Baseline Resolved Principal", metrics)

	if metrics.Success < 0.99 {
		t.Errorf("expected >99%% success rate, got %.1f%%", metrics.Success*100)
	}
	if metrics.Latencies.P99 > 100*time.Millisecond {
		t.Errorf("P99 latency too high: %s", metrics.Latencies.P99)
	}
}

func TestRampUp(t *testing.T) {
	env := setupTestEnv(t, rlConfig{perIPRate: 10000, perIPBurst: 10000}, "loadtest-user")
	token := env.issue("loadtest-user", 30*time.Minute)

	duration := loadtestDuration()
	stages := []struct {
		name string
		rate int
	}{
		{"low", loadtestRate() / 2},
		{"medium", loadtestRate()},
		{"high", loadtestRate() * 3},
	}

	targeter := vegeta.NewStaticTargeter(env.target(http.MethodGet, "/v1/pets", token))

	for _, stage := range stages {
		t.Run(stage.name, func(t *testing.T) {
			metrics := attack(targeter, stage.rate, duration/time.Duration(len(stages)), stage.name)

			printReport(t, fmt.Sprintf("Ramp Up - %s (%d req/s)", stage.name, stage.rate), metrics)

			if metrics.Success < 0.95 {
				t.Errorf("expected >95%% success, got %.1f%%", metrics.Success*100)
			}
		})
	}
}

func TestRateLimitBehavior(t *testing.T) {
	// Low per-IP rate and burst so the attack rate trips the limiter.
	env := setupTestEnv(t, rlConfig{perIPRate: 5, perIPBurst: 10}, "loadtest-user")
	token := env.issue("loadtest-user", 30*time.Minute)

	targeter := vegeta.NewStaticTargeter(env.target(http.MethodGet, "/v1/pets", token))
	metrics := attack(targeter, loadtestRate(), loadtestDuration(), "rate-limit")

	printReport(t, "Rate Limit Behavior", metrics)

	if metrics.StatusCodes["200"] == 0 {
		t.Error("expected some 200 responses (initial burst)")
	}
	if metrics.StatusCodes["429"] == 0 {
		t.Error("expected some 429 responses (rate limited)")
	}
}

func TestRejectedCredentials(t *testing.T) {
	env := setupTestEnv(t, rlConfig{perIPRate: 10000, perIPBurst: 10000})

	targeter := vegeta.NewStaticTargeter(
		env.target(http.MethodGet, "/v1/pets", env.issue("loadtest-user", -time.Minute)),
		env.target(http.MethodGet, "/v1/pets", env.issue("unregistered-user", 30*time.Minute)),
	)
	metrics := attack(targeter, loadtestRate(), loadtestDuration(), "rejected")

	printReport(t, "Rejected Credentials", metrics)

	if metrics.StatusCodes["401"] == 0 {
		t.Error("expected 401 responses for expired tokens")
	}
	if metrics.StatusCodes["404"] == 0 {
		t.Error("expected 404 responses for unregistered principals")
	}
	if metrics.StatusCodes["200"] != 0 {
		t.Errorf("expected no successful requests, got %d", metrics.StatusCodes["200"])
	}
}

func TestMixedTraffic(t *testing.T) {
	env := setupTestEnv(t, rlConfig{perIPRate: 10000, perIPBurst: 10000}, "mixed-user")
	valid := env.issue("mixed-user", 30*time.Minute)

	// 7 reads, 2 registrations, 1 invalid
	targets := make([]vegeta.Target, 0, 10)
	for range 7 {
		targets = append(targets, env.target(http.MethodGet, "/v1/pets", valid))
	}
	for range 2 {
		targets = append(targets, env.target(http.MethodPost, "/v1/users", env.issue("new-user", 30*time.Minute)))
	}
	targets = append(targets, env.target(http.MethodGet, "/v1/pets", "invalid.token.here"))

	metrics := attack(vegeta.NewStaticTargeter(targets...), loadtestRate(), loadtestDuration(), "mixed")

	printReport(t, "Mixed Traffic (70% read, 20% registration, 10% invalid)", metrics)

	if metrics.StatusCodes["200"] == 0 {
		t.Error("expected some 200 responses")
	}
	if metrics.StatusCodes["401"] == 0 {
		t.Error("expected some 401 responses from invalid tokens")
	}

	successRate := float64(metrics.StatusCodes["200"]) / float64(metrics.Requests)
	if successRate < 0.80 {
		t.Errorf("expected >80%% success rate, got %.1f%%", successRate*100)
	}
}
