package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/wuyi-market/internal/config"
	"github.com/ksred/wuyi-market/internal/database"
	"github.com/ksred/wuyi-market/internal/metrics"
	"github.com/ksred/wuyi-market/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

var (
	itemNames  = []string{"旧书", "台灯", "自行车", "吉他", "显示器", "书桌", "电饭煲"}
	buyerNames = []string{"张三", "李四", "王五", "赵六", "测试", "小明"}
	places     = []string{"图书馆门口", "东门", "三食堂", "体育馆", "测试地址123号"}
)

var opts struct {
	addr     string
	listings int
	buyers   int
	debug    bool
}

var rootCmd = &cobra.Command{
	Use:   "simulation",
	Short: "Drive concurrent reservations and sales against the market API",
	Long: `simulation puts works on sale, lets several buyers reserve each one at
the same time and then races every buyer's trade confirmation. Each work must
be sold exactly once.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		if opts.debug {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		baseURL := opts.addr
		if baseURL == "" {
			addr, stop, err := startServer()
			if err != nil {
				return err
			}
			defer stop()
			baseURL = "http://" + addr
		}
		return run(newSimulationClient(baseURL))
	},
}

func main() {
	rootCmd.Flags().StringVar(&opts.addr, "addr", "", "base URL of a running server; empty starts one in-process")
	rootCmd.Flags().IntVar(&opts.listings, "listings", 5, "number of works to put on sale")
	rootCmd.Flags().IntVar(&opts.buyers, "buyers", 4, "concurrent buyers per work")
	rootCmd.Flags().BoolVar(&opts.debug, "debug", false, "log every response body")

	if err := rootCmd.Execute(); err != nil {
		color.Red("simulation failed: %v", err)
		os.Exit(1)
	}
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration, failed bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if failed {
		rs.failures++
	}
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the market API
type simulationClient struct {
	baseURL string
	client  *http.Client
	order   []string
	stats   map[string]*routeStats
}

func newSimulationClient(baseURL string) *simulationClient {
	return &simulationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		order:   []string{"list", "reserve", "trade", "history", "statistics"},
		stats: map[string]*routeStats{
			"list":       {name: "Create Listing"},
			"reserve":    {name: "Reserve"},
			"trade":      {name: "Confirm Trade"},
			"history":    {name: "History"},
			"statistics": {name: "Statistics"},
		},
	}
}

// call sends the request and returns status and body. Any status other than
// the expected ones counts as a failure for the route.
func (sc *simulationClient) call(route string, req *http.Request, expected ...int) (int, string, error) {
	start := time.Now()
	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[route].addDuration(time.Since(start), true)
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	failed := err != nil || !lo.Contains(expected, resp.StatusCode)
	sc.stats[route].addDuration(time.Since(start), failed)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("route", route).Int("status", resp.StatusCode).Str("response", string(body)).Msg("response")
	return resp.StatusCode, string(body), nil
}

func (sc *simulationClient) postForm(route, path string, form url.Values, headers map[string]string, expected ...int) (int, string, error) {
	req, err := http.NewRequest(http.MethodPost, sc.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return sc.call(route, req, expected...)
}

func (sc *simulationClient) get(route, path string) (int, string, error) {
	req, err := http.NewRequest(http.MethodGet, sc.baseURL+path, nil)
	if err != nil {
		return 0, "", err
	}
	return sc.call(route, req, http.StatusOK)
}

// createListing puts a random work on sale and returns its id
func (sc *simulationClient) createListing() (string, error) {
	form := url.Values{
		"work_status":      {"available"},
		"work_name":        {itemNames[rand.Intn(len(itemNames))]},
		"work_description": {"simulation"},
		"work_price":       {fmt.Sprintf("%d.%02d", rand.Intn(500)+10, rand.Intn(100))},
		"work_image":       {"sim.jpg"},
	}
	status, body, err := sc.postForm("list", "/api/v1/works", form, nil, http.StatusCreated)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("create listing failed with status %d: %s", status, body)
	}
	return gjson.Get(body, "data.work.work_id").String(), nil
}

// reserve submits a buyer form and returns the order id
func (sc *simulationClient) reserve(workID string) (string, error) {
	form := url.Values{
		"work_id":           {workID},
		"buyer_name":        {buyerNames[rand.Intn(len(buyerNames))]},
		"buyer_phonenumber": {fmt.Sprintf("138%08d", rand.Intn(100000000))},
		"trading_address":   {places[rand.Intn(len(places))]},
		"trading_time":      {time.Now().Add(24 * time.Hour).Format("2006-01-02T15:04")},
	}
	headers := map[string]string{"Idempotency-Key": uuid.New().String()}
	status, body, err := sc.postForm("reserve", "/api/v1/reservations", form, headers, http.StatusCreated)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("reserve failed with status %d: %s", status, body)
	}
	return gjson.Get(body, "data.order_id").String(), nil
}

// trade confirms the sale to one buyer. A 409 means another buyer won.
func (sc *simulationClient) trade(orderID string) (bool, error) {
	status, body, err := sc.postForm("trade", "/api/v1/reservations/"+orderID+"/trade", nil, nil,
		http.StatusCreated, http.StatusConflict)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusCreated:
		return true, nil
	case http.StatusConflict:
		return false, nil
	default:
		return false, fmt.Errorf("trade failed with status %d: %s", status, body)
	}
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	color.Cyan("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, key := range sc.order {
		stats := sc.stats[key]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

type outcome struct {
	workID    string
	reserved  int
	sold      int
	conflicts int
	failures  int
}

// run lists the works, then for each work reserves and races confirmations
func run(sc *simulationClient) error {
	start := time.Now()
	log.Info().Int("listings", opts.listings).Int("buyers", opts.buyers).Str("addr", sc.baseURL).Msg("Starting simulation")

	outcomes := make([]*outcome, 0, opts.listings)
	for i := 0; i < opts.listings; i++ {
		workID, err := sc.createListing()
		if err != nil {
			return err
		}
		outcomes = append(outcomes, &outcome{workID: workID})
		log.Info().Str("work_id", workID).Msg("Listing created")
	}

	var wg sync.WaitGroup
	for _, o := range outcomes {
		wg.Add(1)
		go func(o *outcome) {
			defer wg.Done()
			simulateWork(sc, o)
		}(o)
	}
	wg.Wait()

	_, history, err := sc.get("history", "/api/v1/orders")
	if err != nil {
		return err
	}
	_, statistics, err := sc.get("statistics", "/api/v1/statistics")
	if err != nil {
		return err
	}

	return printSummary(sc, outcomes, history, statistics, time.Since(start))
}

func simulateWork(sc *simulationClient, o *outcome) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		orderIDs []string
	)
	for i := 0; i < opts.buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			orderID, err := sc.reserve(o.workID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Error().Err(err).Str("work_id", o.workID).Msg("Failed to reserve")
				o.failures++
				return
			}
			orderIDs = append(orderIDs, orderID)
			o.reserved++
		}()
	}
	wg.Wait()

	for _, id := range orderIDs {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			won, err := sc.trade(orderID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				log.Error().Err(err).Str("order_id", orderID).Msg("Failed to confirm trade")
				o.failures++
			case won:
				o.sold++
				log.Info().Str("work_id", o.workID).Str("order_id", orderID).Msg("Trade confirmed")
			default:
				o.conflicts++
			}
		}(id)
	}
	wg.Wait()
}

func printSummary(sc *simulationClient, outcomes []*outcome, history, statistics string, duration time.Duration) error {
	fmt.Println("\n" + strings.Repeat("=", 80))
	color.New(color.Bold).Println("MARKET SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	var reserved, sold, conflicts, failures int
	oversold := false
	fmt.Printf("%-8s %10s %10s %10s %10s\n", "Work", "Reserved", "Sold", "Rejected", "Errors")
	for _, o := range outcomes {
		reserved += o.reserved
		sold += o.sold
		conflicts += o.conflicts
		failures += o.failures
		line := fmt.Sprintf("%-8s %10d %10d %10d %10d", o.workID, o.reserved, o.sold, o.conflicts, o.failures)
		switch {
		case o.sold > 1:
			oversold = true
			color.Red("%s", line)
		case o.sold == 1:
			color.Green("%s", line)
		default:
			color.Yellow("%s", line)
		}
	}

	fmt.Printf(`
Listings:        %d
Reservations:    %d
Sales:           %d
Rejected sales:  %d
Errors:          %d
Orders on file:  %d
Total amount:    %s
Duration:        %v
`, len(outcomes), reserved, sold, conflicts, failures,
		len(gjson.Get(history, "data").Array()),
		gjson.Get(statistics, "data.formatted_total_amount").String(),
		duration.Round(time.Millisecond))

	sc.printPerformanceStats()

	if oversold {
		return fmt.Errorf("a work was sold more than once")
	}
	color.Green("\nEvery work was sold at most once")
	log.Info().Int("sales", sold).Int("rejected", conflicts).Dur("duration", duration).Msg("Simulation completed")
	return nil
}

// startServer runs the API on a free local port backed by an in-memory store
func startServer() (string, func(), error) {
	cfg := config.Default()
	cfg.Database.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	cfg.Trade.RequestsPerMinute = 1e9

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		return "", nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{Handler: server.NewRouter(cfg, db, metrics.New())}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return ln.Addr().String(), stop, nil
}
