package main

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
)

// testSummary aggregates the outcome of one load-test run against the
// router. Distribution is keyed by the X-Backend-Server header.
type testSummary struct {
	Total      int
	Success    int
	Failure    int
	PerBackend map[string]int
}

func newTestCmd() *cobra.Command {
	var (
		requests    int
		concurrency int
		timeout     time.Duration
		targetURL   string
	)

	testCmd := &cobra.Command{
		Use:   "test",
		Short: "Send test requests through the router and report the backend distribution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url := targetURL
			if url == "" {
				a, err := newApp()
				if err != nil {
					return err
				}
				url = routerURL(a.cfg)
			}

			client := &http.Client{Timeout: timeout}
			summary := runLoadTest(cmd.Context(), client, url, requests, concurrency)

			cmd.Print(summary.render())

			if summary.Failure > 0 {
				return fmt.Errorf("%d of %d requests failed", summary.Failure, summary.Total)
			}

			return nil
		},
	}

	testCmd.Flags().IntVar(&requests, "requests", 20, "Total number of requests to send")
	testCmd.Flags().IntVar(&concurrency, "concurrency", 4, "Number of concurrent workers")
	testCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Per-request timeout")
	testCmd.Flags().StringVar(&targetURL, "url", "", "Target URL (defaults to the configured router address)")

	return testCmd
}

func runLoadTest(ctx context.Context, client *http.Client, url string, requests, concurrency int) testSummary {
	summary := testSummary{
		PerBackend: make(map[string]int),
	}

	jobs := make(chan int)
	results := make(chan string, requests)

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				results <- doRequest(ctx, client, url)
			}
		}()
	}

	for i := 0; i < requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(results)

	for backendID := range results {
		summary.Total++
		if backendID == "" {
			summary.Failure++
			continue
		}
		summary.Success++
		summary.PerBackend[backendID]++
	}

	return summary
}

// doRequest returns the serving backend's id, or "" on any failure.
func doRequest(ctx context.Context, client *http.Client, url string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}

	res, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		return ""
	}

	backendID := res.Header.Get("X-Backend-Server")
	if backendID == "" {
		backendID = "unknown"
	}

	return backendID
}

func (s testSummary) render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "requests: %d  success: %d  failure: %d\n", s.Total, s.Success, s.Failure)

	backends := make([]string, 0, len(s.PerBackend))
	for id := range s.PerBackend {
		backends = append(backends, id)
	}
	sort.Strings(backends)

	for _, id := range backends {
		fmt.Fprintf(&sb, "  %-12s %d\n", id, s.PerBackend[id])
	}

	return sb.String()
}
