package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	benchSessions    int
	benchConcurrency int
	benchOps         int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure session create, resume and update latency",
	Long: `bench seeds sessions and then runs concurrent resume and set-data
phases against the session store. Without --redis-addr or
GOGATE_REDIS_ADDR it uses an in-process Redis.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if benchSessions <= 0 || benchConcurrency <= 0 || benchOps <= 0 {
			return fmt.Errorf("sessions, concurrency and ops must be > 0")
		}
		return runBench(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	f := benchCmd.Flags()
	f.IntVar(&benchSessions, "sessions", 10000, "sessions to seed")
	f.IntVar(&benchConcurrency, "concurrency", 64, "concurrent workers")
	f.IntVar(&benchOps, "ops", 50000, "operations per phase")
	rootCmd.AddCommand(benchCmd)
}

func runBench(ctx context.Context, out io.Writer) error {
	var rdb redis.UniversalClient
	if firstNonEmpty(redisAddr, os.Getenv(goGate.EnvPrefix+"REDIS_ADDR")) == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start in-process redis: %w", err)
		}
		defer mr.Close()
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Fprintf(out, "using in-process redis at %s\n", mr.Addr())
	} else {
		var err error
		if rdb, err = openRedis(ctx); err != nil {
			return err
		}
	}
	defer func() { _ = rdb.Close() }()

	store := session.NewStore(rdb, session.Config{Prefix: "gsbench", Sliding: true})

	sids := make([]string, benchSessions)
	createStats := runPhase(benchSessions, benchConcurrency, func(_ *rand.Rand, i int) error {
		sess, err := store.Create(ctx, "bench", "user-"+strconv.Itoa(i%1000), time.Hour, session.Metadata{
			UserType: "System User",
			FullName: "Bench User",
			Device:   "desktop",
			IP:       "192.0.2.1",
		})
		if err != nil {
			return err
		}
		sids[i] = sess.ID
		return nil
	})

	resumeStats := runPhase(benchOps, benchConcurrency, func(r *rand.Rand, _ int) error {
		_, err := store.Resume(ctx, "bench", sids[r.Intn(len(sids))])
		return err
	})

	setStats := runPhase(benchOps, benchConcurrency, func(r *rand.Rand, i int) error {
		return store.SetData(ctx, "bench", sids[r.Intn(len(sids))], "counter", strconv.Itoa(i))
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "create", createStats)
	printStats(out, "resume", resumeStats)
	printStats(out, "set-data", setStats)
	return nil
}

// runPhase calls op ops times across concurrency workers, passing each
// call its sequence number.
func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, ops)
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
				if err := op(r, i); err != nil {
					atomic.AddInt64(&failures, 1)
				}
				latencies[i] = time.Since(t0)
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
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

func percentile(sorted []time.Duration, p int) time.Duration {
	switch {
	case len(sorted) == 0:
		return 0
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	return sorted[(len(sorted)-1)*p/100]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%-8s ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
