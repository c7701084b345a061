package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Sends every generated external id -dup times concurrently, the way a
// provider retrying a slow webhook would. After the workers drain the stream,
// the messages table should hold exactly one row per external id.
func main() {
	targetURL := flag.String("url", "http://localhost:8080/webhooks/accounts/1/inbound", "Webhook URL of the target account")
	inboxID := flag.Int64("inbox", 1, "Inbox id of the deliveries")
	ids := flag.Int("ids", 100, "Number of distinct external ids")
	dup := flag.Int("dup", 5, "Concurrent deliveries per external id")
	senders := flag.Int("senders", 10, "Number of distinct senders")
	rps := flag.Int("rps", 200, "Requests per second limit")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall deadline")
	flag.Parse()

	log.Printf("Starting duplicate delivery test on %s", *targetURL)
	log.Printf("External ids: %d, Duplicates: %d, Senders: %d, RPS: %d", *ids, *dup, *senders, *rps)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), *dup)
	client := &http.Client{Timeout: 5 * time.Second}
	run := uuid.NewString()[:8]

	var accepted, duplicate, inFlight, failed atomic.Int64
	start := time.Now()

	for i := 0; i < *ids; i++ {
		externalID := fmt.Sprintf("wamid.%s.%d", run, i)
		payload := fmt.Sprintf(`{"inbox_id": %d, "external_id": %q, "sender_id": "load-%d", "sender_name": "Load Tester", "content": "delivery %d"}`,
			*inboxID, externalID, i%*senders, i)

		var wg sync.WaitGroup
		for d := 0; d < *dup; d++ {
			if err := limiter.Wait(ctx); err != nil {
				log.Printf("stopping early: %v", err)
				break
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, *targetURL, bytes.NewBufferString(payload))
				if err != nil {
					failed.Add(1)
					return
				}
				req.Header.Set("Content-Type", "application/json")

				resp, err := client.Do(req)
				if err != nil {
					failed.Add(1)
					return
				}
				defer resp.Body.Close()

				switch resp.StatusCode {
				case http.StatusAccepted:
					accepted.Add(1)
				case http.StatusOK:
					var body struct {
						Status string `json:"status"`
					}
					_ = json.NewDecoder(resp.Body).Decode(&body)
					if body.Status == "in_flight" {
						inFlight.Add(1)
					} else {
						duplicate.Add(1)
					}
				default:
					failed.Add(1)
				}
			}()
		}
		wg.Wait()
	}

	elapsed := time.Since(start)
	total := accepted.Load() + duplicate.Load() + inFlight.Load() + failed.Load()

	log.Println("Duplicate delivery test finished.")
	log.Printf("Total Requests: %d in %s (%.2f rps)", total, elapsed.Round(time.Millisecond), float64(total)/elapsed.Seconds())
	log.Printf("Accepted (202): %d", accepted.Load())
	log.Printf("Duplicate (200): %d", duplicate.Load())
	log.Printf("In flight (200): %d", inFlight.Load())
	log.Printf("Errors: %d", failed.Load())
	log.Printf("Expect %d message rows for run %s once the workers drain", *ids, run)
}
