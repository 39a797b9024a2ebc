// ============================================================================
// Thread Pool CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides user-friendly command line interface based on Cobra framework
//
// Command Structure:
//   threadpoolctl                    # Root command
//   ├── run                         # Start a pool and drive a synthetic workload
//   │   └── --config, -c           # Specify config file
//   ├── bench                      # Measure post-to-completion throughput/latency
//   │   └── --config, -c           # Specify config file
//   │   └── --tasks                # Number of tasks to post
//   ├── status                     # View live CPU/load and config snapshot
//   ├── --version                  # Display version information
//   └── --help                     # Display help information
//
// Configuration Management:
//   Uses YAML format config file (default: configs/default.yaml)
//   Configuration items include:
//   - pool: thread counts, reclaim time, MayBlock threshold
//   - metrics: Prometheus monitoring configuration
//
// run Command:
//   Starts a ThreadPool and keeps it alive under a synthetic mixed-priority
//   workload until a shutdown signal arrives:
//   1. Load config file
//   2. Construct and Start a ThreadPool
//   3. Start Metrics HTTP server (if enabled)
//   4. Listen for system signals (SIGINT, SIGTERM)
//   5. Gracefully Shutdown
//
//   Examples:
//     ./threadpoolctl run
//     ./threadpoolctl run -c custom-config.yaml
//
// bench Command:
//   Posts a fixed number of UserBlocking tasks through a TaskRunner and
//   reports completion latency percentiles once every task has drained.
//
//   Examples:
//     ./threadpoolctl bench --tasks 10000
//
// status Command:
//   Display host capacity and the config that would be used to size a pool:
//   - Config file path
//   - Logical CPU count and load average (via gopsutil)
//   - Configured thread counts as written in the config file (a 0 means
//     the pool picks its own default at Start; that default is not shown)
//
//   Examples:
//     ./threadpoolctl status
//
// Signal Handling:
//   run command captures following signals and gracefully shuts down:
//   - SIGINT (Ctrl+C): User interrupt
//   - SIGTERM: System terminate request
//
// Metrics Service:
//   If enabled in config, starts HTTP service in separate goroutine:
//   - Port: metrics.port from the config file
//   - Path: /metrics
//   - Format: Prometheus format
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	threadpool "github.com/ChuLiYu/threadpool"
	"github.com/ChuLiYu/threadpool/internal/metrics"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config represents the complete system configuration structure.
// Maps config file fields through YAML tags.
type Config struct {
	Pool struct {
		ForegroundThreads    int           `yaml:"foreground_threads"`
		BackgroundThreads    int           `yaml:"background_threads"`
		BestEffortThreads    int           `yaml:"best_effort_threads"`
		SuggestedReclaimTime time.Duration `yaml:"suggested_reclaim_time"`
		MayBlockThreshold    time.Duration `yaml:"may_block_threshold"`
	} `yaml:"pool"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "threadpoolctl",
		Short: "threadpoolctl: drive and inspect an in-process thread pool scheduler",
		Long: `threadpoolctl hosts a ThreadPool and exposes it from the command line:
- Chromium-style priority/fence scheduling
- Dynamic max_tasks adjustment on blocking calls
- Prometheus metrics`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildBenchCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a thread pool and drive a synthetic workload",
		Long:  "Start the pool from the config file and keep it alive, posting a mixed-priority workload, until a shutdown signal arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSystem()
		},
	}
	return cmd
}

func runSystem() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.Printf("Starting threadpoolctl with config: %s\n", configFile)

	collector := metrics.NewCollector()
	pool := newPoolFromConfig(cfg, collector)

	if cfg.Metrics.Enabled {
		go func() {
			log.Printf("Starting metrics server on :%d\n", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Printf("Metrics server error: %v\n", err)
			}
		}()
	}

	stopWorkload := driveSyntheticWorkload(pool)
	defer stopWorkload()

	reportTicker := time.NewTicker(5 * time.Second)
	defer reportTicker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Println("System started successfully")
	for {
		select {
		case <-reportTicker.C:
			pool.CollectMetrics(collector)
		case <-sigChan:
			log.Println("Received shutdown signal, stopping gracefully...")
			stopWorkload()
			pool.Shutdown()
			log.Println("System stopped. Goodbye!")
			return nil
		}
	}
}

// driveSyntheticWorkload posts a steady trickle of mixed-priority tasks
// so run's metrics and status output have something to show; returns a
// function that stops posting.
func driveSyntheticWorkload(pool *threadpool.ThreadPool) func() {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		runner := pool.CreateTaskRunner(threadpool.Traits{Priority: threadpool.UserVisible})
		beRunner := pool.CreateTaskRunner(threadpool.Traits{Priority: threadpool.BestEffort})
		n := 0
		for {
			select {
			case <-ticker.C:
				n++
				if n%3 == 0 {
					beRunner.PostTask(func(context.Context) { time.Sleep(time.Millisecond) })
				} else {
					runner.PostTask(func(context.Context) { time.Sleep(time.Millisecond) })
				}
			case <-stop:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
		})
	}
}

func buildBenchCommand() *cobra.Command {
	var taskCount int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure post-to-completion throughput and latency",
		Long:  "Posts --tasks UserBlocking tasks through a single TaskRunner and reports completion latency percentiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(taskCount)
		},
	}

	cmd.Flags().IntVar(&taskCount, "tasks", 10000, "number of tasks to post")
	return cmd
}

func runBench(taskCount int) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool := newPoolFromConfig(cfg, nil)
	runner := pool.CreateTaskRunner(threadpool.Traits{Priority: threadpool.UserBlocking})

	latencies := make([]time.Duration, taskCount)
	var completed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(taskCount)

	start := time.Now()
	for i := 0; i < taskCount; i++ {
		i := i
		postedAt := time.Now()
		if !runner.PostTask(func(context.Context) {
			latencies[i] = time.Since(postedAt)
			completed.Add(1)
			wg.Done()
		}) {
			wg.Done()
		}
	}
	wg.Wait()
	elapsed := time.Since(start)
	pool.JoinForTesting()

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p50 := percentile(latencies, 0.50)
	p95 := percentile(latencies, 0.95)
	p99 := percentile(latencies, 0.99)

	fmt.Printf("posted:     %d\n", taskCount)
	fmt.Printf("completed:  %d\n", completed.Load())
	fmt.Printf("elapsed:    %s\n", elapsed)
	fmt.Printf("throughput: %.0f tasks/sec\n", float64(taskCount)/elapsed.Seconds())
	fmt.Printf("latency p50: %s  p95: %s  p99: %s\n", p50, p95, p99)
	return nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status: host capacity and the config that would size a pool",
		Long:  "Display the config file path, the configured thread counts, live CPU/load, and the metrics settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
	return cmd
}

func showStatus() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("\n=== threadpoolctl status ===")
	fmt.Println()

	fmt.Println("Configuration:")
	fmt.Printf("  - Config File:         %s\n", configFile)
	fmt.Printf("  - Foreground Threads:  %d\n", cfg.Pool.ForegroundThreads)
	fmt.Printf("  - Background Threads:  %d\n", cfg.Pool.BackgroundThreads)
	fmt.Printf("  - Best-Effort Threads: %d\n", cfg.Pool.BestEffortThreads)
	fmt.Printf("  - MayBlock Threshold:  %s\n", cfg.Pool.MayBlockThreshold)
	fmt.Println()

	fmt.Println("Host capacity:")
	if counts, err := cpu.Counts(true); err == nil {
		fmt.Printf("  - Logical CPUs: %d\n", counts)
	} else {
		fmt.Printf("  - Logical CPUs: unavailable (%v)\n", err)
	}
	if avg, err := load.Avg(); err == nil {
		fmt.Printf("  - Load Average: %.2f %.2f %.2f (1m 5m 15m)\n", avg.Load1, avg.Load5, avg.Load15)
	} else {
		fmt.Printf("  - Load Average: unavailable (%v)\n", err)
	}
	fmt.Println()

	fmt.Println("Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Printf("  - Status: enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Println("  - Status: disabled")
	}
	fmt.Println()

	return nil
}

// newPoolFromConfig builds and starts a ThreadPool sized by cfg. When
// cfg leaves a thread count at zero, gopsutil's live logical CPU count
// feeds the foreground default instead of a hardcoded constant.
func newPoolFromConfig(cfg *Config, collector *metrics.Collector) *threadpool.ThreadPool {
	fg := cfg.Pool.ForegroundThreads
	if fg <= 0 {
		if counts, err := cpu.Counts(true); err == nil && counts > 0 {
			fg = counts
		}
	}

	pool := threadpool.New()
	pool.Start(threadpool.Config{
		MaxNumForegroundThreads: fg,
		MaxNumBackgroundThreads: cfg.Pool.BackgroundThreads,
		MaxBestEffortThreads:    cfg.Pool.BestEffortThreads,
		SuggestedReclaimTime:    cfg.Pool.SuggestedReclaimTime,
		MayBlockThreshold:       cfg.Pool.MayBlockThreshold,
		Metrics:                 collector,
	})
	return pool
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return &cfg, nil
}
