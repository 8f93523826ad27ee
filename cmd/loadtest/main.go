// Команда loadtest нагружает REST API каталога: чтение агрегатов,
// конкурентное изменение цен и создание брендов.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	idempotencyHeader = "Idempotency-Key"
	scenarioMethod    = "scenario"
)

type loadMode string

const (
	modeRead        loadMode = "read"
	modeUpdatePrice loadMode = "update-price"
	modeMixed       loadMode = "mixed"
	modeCreateBrand loadMode = "create-brand"
)

type config struct {
	baseURL        string
	total          int
	totalSet       bool
	duration       time.Duration
	concurrency    int
	timeout        time.Duration
	mode           loadMode
	writeRate      int
	productIDs     []int64
	minPrice       int64
	maxPrice       int64
	brandTag       string
	allowConflicts bool
	outputPath     string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	Conflicts int64            `json:"conflicts"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	Conflicts         int64                   `json:"conflicts"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

// outcome — результат одного HTTP-вызова. status равен 0, если ответа не было.
type outcome struct {
	status int
	err    error
}

func (o outcome) code() string {
	if o.err != nil && o.status == 0 {
		return "transport_error"
	}
	return strconv.Itoa(o.status)
}

func (o outcome) success() bool {
	return o.err == nil && o.status >= 200 && o.status < 300
}

func (o outcome) conflict() bool {
	return o.status == http.StatusConflict
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	conflicts int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

func (c *collector) record(method string, latency time.Duration, result outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if result.success() {
		stats.success++
	} else {
		stats.failed++
	}
	if result.conflict() {
		stats.conflicts++
	}
	stats.codes[result.code()]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (s *methodStats) report() methodReport {
	codesCopy := make(map[string]int64, len(s.codes))
	for code, count := range s.codes {
		codesCopy[code] = count
	}
	return methodReport{
		Calls:     s.calls,
		Success:   s.success,
		Failed:    s.failed,
		Conflicts: s.conflicts,
		ErrorRate: ratio(s.failed, s.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods[scenarioMethod]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		if name != scenarioMethod {
			result.Conflicts += stats.conflicts
		}
		result.Methods[name] = stats.report()
	}

	return result
}

func parseConfig(args []string) (config, error) {
	var (
		cfg           config
		modeValue     string
		productIDsRaw string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "catalog REST API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 1m, 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeMixed), "load mode: read | update-price | mixed | create-brand")
	fs.IntVar(&cfg.writeRate, "write-rate", 20, "share of price updates in percent for mixed mode (0..100)")
	fs.StringVar(&productIDsRaw, "product-ids", "1", "comma-separated product ids to update")
	fs.Int64Var(&cfg.minPrice, "min-price", 1000, "lowest price to set")
	fs.Int64Var(&cfg.maxPrice, "max-price", 20000, "highest price to set")
	fs.StringVar(&cfg.brandTag, "brand-tag", "load", "brand name prefix for create-brand mode")
	fs.BoolVar(&cfg.allowConflicts, "allow-conflicts", true, "do not fail scenarios on 409 Conflict")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	productIDs, err := parseProductIDs(productIDsRaw)
	if err != nil {
		return cfg, err
	}
	cfg.productIDs = productIDs
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	if cfg.baseURL == "" {
		return cfg, errors.New("addr is required")
	}
	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.writeRate < 0 || cfg.writeRate > 100 {
		return cfg, errors.New("write-rate must be between 0 and 100")
	}
	if cfg.minPrice < 0 || cfg.maxPrice < cfg.minPrice {
		return cfg, errors.New("price range must satisfy 0 <= min-price <= max-price")
	}
	if strings.TrimSpace(cfg.brandTag) == "" {
		return cfg, errors.New("brand-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeRead:
		return modeRead, nil
	case modeUpdatePrice:
		return modeUpdatePrice, nil
	case modeMixed:
		return modeMixed, nil
	case modeCreateBrand:
		return modeCreateBrand, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func parseProductIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, chunk := range strings.Split(raw, ",") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		id, err := strconv.ParseInt(chunk, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid product id %q", chunk)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("product-ids must contain at least one id")
	}
	return ids, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency,
			MaxIdleConnsPerHost: cfg.concurrency,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	result := runLoad(client, cfg)
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// httpDoer — часть *http.Client, которой пользуется нагрузка.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func runLoad(client httpDoer, cfg config) report {
	startedAt := time.Now()
	runID := uuid.NewString()[:8]
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(client, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func runScenario(client httpDoer, cfg config, index int, runID string, col *collector) error {
	scenarioStart := time.Now()
	var result outcome
	defer func() {
		if cfg.allowConflicts && result.conflict() {
			result = outcome{status: http.StatusOK}
		}
		col.record(scenarioMethod, time.Since(scenarioStart), result)
	}()

	switch {
	case cfg.mode == modeCreateBrand:
		result = callCreateBrand(client, cfg, index, runID, col)
	case cfg.mode == modeUpdatePrice, cfg.mode == modeMixed && isWrite(index, cfg.writeRate):
		result = callUpdatePrice(client, cfg, index, col)
	default:
		result = callRead(client, cfg, index, col)
	}

	if result.success() || (cfg.allowConflicts && result.conflict()) {
		return nil
	}
	if result.err != nil {
		return result.err
	}
	return fmt.Errorf("unexpected status %d", result.status)
}

// callRead чередует агрегаты, которые отдаются из кеша view.
func callRead(client httpDoer, cfg config, index int, col *collector) outcome {
	paths := [...]struct{ method, path string }{
		{"GET lowest-price", "/api/products/lowest-price"},
		{"GET brand-lowest-price", "/api/brands/lowest-price"},
		{"GET category-prices", "/api/products/category/TOP"},
	}
	target := paths[index%len(paths)]
	return call(client, cfg, target.method, http.MethodGet, target.path, nil, "", col)
}

func callUpdatePrice(client httpDoer, cfg config, index int, col *collector) outcome {
	productID := cfg.productIDs[index%len(cfg.productIDs)]
	body, err := json.Marshal(map[string]int64{"price": priceFor(index, cfg.minPrice, cfg.maxPrice)})
	if err != nil {
		return outcome{err: err}
	}
	path := fmt.Sprintf("/api/products/%d", productID)
	return call(client, cfg, "PUT product", http.MethodPut, path, body, "", col)
}

func callCreateBrand(client httpDoer, cfg config, index int, runID string, col *collector) outcome {
	body, err := json.Marshal(map[string]string{"name": fmt.Sprintf("%s-%s-%d", cfg.brandTag, runID, index)})
	if err != nil {
		return outcome{err: err}
	}
	key := fmt.Sprintf("lt-brand-%s-%d", runID, index)
	return call(client, cfg, "POST brand", http.MethodPost, "/api/brands", body, key, col)
}

func call(client httpDoer, cfg config, name, method, path string, body []byte, idempotencyKey string, col *collector) outcome {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	result := doRequest(ctx, client, method, cfg.baseURL+path, body, idempotencyKey)
	col.record(name, time.Since(start), result)
	return result
}

func doRequest(ctx context.Context, client httpDoer, method, url string, body []byte, idempotencyKey string) outcome {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return outcome{err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return outcome{err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return outcome{status: resp.StatusCode}
}

func isWrite(index, writeRate int) bool {
	if writeRate <= 0 {
		return false
	}
	if writeRate >= 100 {
		return true
	}
	return index%100 < writeRate
}

// priceFor детерминированно раскладывает цены по диапазону.
func priceFor(index int, minPrice, maxPrice int64) int64 {
	span := maxPrice - minPrice + 1
	if span <= 1 {
		return minPrice
	}
	return minPrice + (int64(index)*7919)%span
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d conflicts=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.Conflicts,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == scenarioMethod {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w,
			"%s: calls=%d success=%d failed=%d conflicts=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.Conflicts,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
