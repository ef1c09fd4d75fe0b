package dummy

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

type ServerConfig struct {
	Port int
}

// Start runs a local stand-in for a replay target. The catch-all handler
// answers anything shaped like an Elasticsearch search (`/{index}/_search`)
// so a slowlog can be replayed without a real cluster; the named endpoints
// exercise specific latency and failure shapes.
func Start(cfg ServerConfig) {
	mux := http.NewServeMux()

	// 1. Fast Endpoint (10-50ms)
	mux.HandleFunc("/fast", func(w http.ResponseWriter, r *http.Request) {
		jitter := time.Duration(rand.Intn(40)+10) * time.Millisecond
		time.Sleep(jitter)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Fast response"))
	})

	// 2. Slow Endpoint (1s-2s) - Good for exercising timeouts and draining
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		jitter := time.Duration(rand.Intn(1000)+1000) * time.Millisecond
		time.Sleep(jitter)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Slow response"))
	})

	// 3. Error Endpoint (Random failures)
	mux.HandleFunc("/error", func(w http.ResponseWriter, r *http.Request) {
		rnd := rand.Float32()
		if rnd < 0.2 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("500 Internal Server Error"))
		} else if rnd < 0.4 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("429 Too Many Requests"))
		} else {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		}
	})

	// 4. Catch-all search endpoint: /{index}/_search
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/_search") {
			http.NotFound(w, r)
			return
		}
		took := rand.Intn(90) + 10
		time.Sleep(time.Duration(took) * time.Millisecond)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"took":      took,
			"timed_out": false,
			"hits":      map[string]any{"total": map[string]any{"value": 0}},
		})
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	fmt.Printf("Dummy target running on http://localhost%s\n", addr)
	fmt.Println("   Endpoints: /fast, /slow, /error, /{index}/_search")

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Server failed: %v\n", err)
		}
	}()
}
