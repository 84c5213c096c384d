// Command positionfeed is the on-board GPS bridge: it reads position fixes as
// JSON lines on stdin and keeps the driver's member of the Redis GEO set
// current, where the driver agent picks them up.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/driver-session/internal/auth"
	"github.com/example/driver-session/internal/config"
	"github.com/example/driver-session/internal/geo"
	"github.com/example/driver-session/internal/models"
)

var (
	fixesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "positionfeed_fixes_read_total",
		Help: "Total position fixes read",
	})
	fixesInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "positionfeed_fixes_invalid_total",
		Help: "Total invalid fixes received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "positionfeed_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "positionfeed_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(fixesRead, fixesInvalid, redisUpdates, redisErrors)
}

func main() {
	// allow some flags for local runs
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.LoadDriverConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	driverID := cfg.DriverID
	if driverID == 0 {
		id, err := auth.IdentityFromToken(cfg.DriverToken, cfg.JWTSecret)
		if err != nil {
			log.Fatalf("identity: %v", err)
		}
		driverID = id.DriverID
	}
	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	src := geo.NewRedisSource(redisAddr, cfg.RedisPassword, cfg.RedisGeoKey, driverID)
	defer src.Close()

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: check redis connectivity
			if err := src.Ping(r.Context()); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("positionfeed writing driver=%d key=%s redis=%s", driverID, cfg.RedisGeoKey, redisAddr)
	if err := feed(ctx, os.Stdin, src); err != nil {
		log.Printf("feed stopped: %v", err)
	}
}

// feed copies fixes from r into src until r is exhausted or ctx ends.
func feed(ctx context.Context, r io.Reader, src geo.Source) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fixesRead.Inc()
		var u models.LocationUpdate
		if err := json.Unmarshal(sc.Bytes(), &u); err != nil {
			fixesInvalid.Inc()
			log.Printf("invalid fix: %v", err)
			continue
		}
		c := models.Coord{Lat: u.Latitude, Lon: u.Longitude}
		if err := upsertWithRetry(ctx, src, c, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			log.Printf("redis update failed: %v", err)
			continue
		}
		redisUpdates.Inc()
	}
	return sc.Err()
}

// upsertWithRetry writes one fix with retry/backoff.
func upsertWithRetry(ctx context.Context, src geo.Source, c models.Coord, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = src.Upsert(ctx, c); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
