// Command stampauth-loadtest measures the redis credential store under
// concurrent reads and conditional stamp rotations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/stampauth/credential"
	"github.com/MrEthical07/stampauth/internal"
	"github.com/MrEthical07/stampauth/store/redisstore"
)

const tenantID = "load"

type userState struct {
	id    string
	stamp string
	mu    sync.Mutex
}

func main() {
	var (
		users       = flag.Int("users", 10000, "number of credential records to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "sa-load", "key prefix")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := redisstore.New(client, *prefix)

	states := make([]userState, *users)
	fmt.Printf("seeding %d records...\n", *users)
	startSeed := time.Now()
	for i := range states {
		stamp, err := internal.NewSecurityStamp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "stamp: %v\n", err)
			os.Exit(1)
		}
		rec, err := store.Create(ctx, tenantID, credential.Record{
			ID:            fmt.Sprintf("u-%d", i),
			Email:         fmt.Sprintf("user%d@load.test", i),
			PasswordHash:  "unused",
			SecurityStamp: stamp,
			Status:        credential.StatusActive,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
			os.Exit(1)
		}
		states[i].id, states[i].stamp = rec.ID, rec.SecurityStamp
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	readStats := runPhase(*ops, *concurrency, func(r *rand.Rand) (bool, error) {
		_, err := store.GetByID(ctx, tenantID, states[r.Intn(len(states))].id)
		return false, err
	})

	rotateStats := runPhase(*ops, *concurrency, func(r *rand.Rand) (bool, error) {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()
		next, err := rotate(ctx, store, state.id, state.stamp)
		if err == nil {
			state.stamp = next
		}
		return false, err
	})

	// Contended rotations share a handful of records without local locking;
	// losing the stamp race is the expected outcome, not a failure.
	hot := states[:min(8, len(states))]
	contendStats := runPhase(*ops, *concurrency, func(r *rand.Rand) (bool, error) {
		id := hot[r.Intn(len(hot))].id
		rec, err := store.GetByID(ctx, tenantID, id)
		if err != nil {
			return false, err
		}
		_, err = rotate(ctx, store, id, rec.SecurityStamp)
		if errors.Is(err, credential.ErrStampConflict) || errors.Is(err, redisstore.ErrContention) {
			return true, nil
		}
		return false, err
	})

	fmt.Println("---- results ----")
	printStats("read", readStats)
	printStats("rotate", rotateStats)
	printStats("contend", contendStats)
}

func rotate(ctx context.Context, store *redisstore.Store, id, current string) (string, error) {
	next, err := internal.NewSecurityStamp()
	if err != nil {
		return "", err
	}
	_, err = store.Update(ctx, tenantID, id, credential.Patch{SecurityStamp: &next, IfStamp: current})
	return next, err
}

// runPhase runs op ops times across concurrency workers. op reports whether
// the call lost a stamp race.
func runPhase(ops, concurrency int, op func(r *rand.Rand) (bool, error)) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		conflicts int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				lost, err := op(r)
				d := time.Since(t0)
				switch {
				case err != nil:
					atomic.AddInt64(&failures, 1)
				case lost:
					atomic.AddInt64(&conflicts, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	s := computeStats(time.Since(start), latencies, failures)
	s.conflicts = conflicts
	return s
}

type phaseStats struct {
	total     time.Duration
	ops       int
	failures  int64
	conflicts int64
	p50       time.Duration
	p95       time.Duration
	p99       time.Duration
	opsPerS   float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d conflicts=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.conflicts,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
