package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/rawbytedev/tamer"
	"github.com/rawbytedev/tamer/pkg/config"
	"github.com/rawbytedev/tamer/pkg/metrics"
	"github.com/rawbytedev/tamer/pkg/observability"
	"github.com/rawbytedev/tamer/pkg/sinks"
)

func run(c *cli.Context) error {
	cfg, err := config.NewLoader(config.WithConfigFile(c.String("config"))).Load()
	if err != nil {
		return err
	}
	log, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := c.String("pprof"); addr != "" {
		go func() {
			log.Info("pprof listening", zap.String("addr", addr))
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Warn("pprof server", zap.Error(err))
			}
		}()
	}
	if c.String("heap-profile") != "" {
		runtime.MemProfileRate = 1
	}

	opts := []tamer.Option{
		tamer.WithLogger(log),
		tamer.WithMaxSnapshotBytes(cfg.Recorder.MaxSnapshotBytes),
		tamer.WithInitialBuffer(cfg.Recorder.InitialBufferBytes),
		tamer.WithRejectLogRate(cfg.Recorder.RejectLogRate, cfg.Recorder.RejectLogBurst),
	}
	if cfg.Metrics.Enable {
		reg := prometheus.NewRegistry()
		rec, err := metrics.NewRecorder(cfg.Metrics.Namespace, reg)
		if err != nil {
			return err
		}
		opts = append(opts, tamer.WithObserver(rec.Observer))
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, log); err != nil {
				log.Warn("metrics server", zap.Error(err))
			}
		}()
	}

	set, err := sinks.Open(ctx, cfg.Sinks, cfg.Log.Rotation, log)
	if err != nil {
		return err
	}
	registry := tamer.NewRegistry(opts...)
	for _, s := range set.Sinks {
		registry.AddDefaultSink(s)
	}

	bench, err := newLoad(registry.Channel("bench"), c.Int("values"))
	if err != nil {
		return errors.Join(err, set.Close())
	}
	res := bench.run(ctx, c.Int("snapshots"), c.Duration("period"))
	closeErr := set.Close()

	fmt.Printf("snapshots: %d\n", res.count)
	fmt.Printf("rejected:  %d\n", res.rejected)
	fmt.Printf("payload:   %d bytes\n", res.payload)
	if res.count > 0 {
		fmt.Printf("average:   %s\n", res.total/time.Duration(res.count))
	}
	fmt.Printf("max:       %s\n", res.max)
	log.Info("benchmark done",
		zap.Int("snapshots", res.count),
		zap.Int("rejected", res.rejected),
		zap.Duration("total", res.total),
		zap.Duration("max", res.max))

	if path := c.String("heap-profile"); path != "" {
		if err := writeHeapProfile(path); err != nil {
			return errors.Join(err, closeErr)
		}
	}
	if d := c.Duration("linger"); d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
	}
	return closeErr
}

func writeHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}

// load owns the values bound to the benchmark channel.
type load struct {
	ch  *tamer.Channel
	f64 []float64
	f32 []float32
	i32 []int32
	i16 []int16
}

func newLoad(ch *tamer.Channel, n int) (*load, error) {
	l := &load{
		ch:  ch,
		f64: make([]float64, n),
		f32: make([]float32, n),
		i32: make([]int32, n),
		i16: make([]int16, n),
	}
	for i := 0; i < n; i++ {
		id := strconv.Itoa(i)
		if _, err := tamer.RegisterValue(ch, "f64_"+id, &l.f64[i]); err != nil {
			return nil, err
		}
		if _, err := tamer.RegisterValue(ch, "f32_"+id, &l.f32[i]); err != nil {
			return nil, err
		}
		if _, err := tamer.RegisterValue(ch, "i32_"+id, &l.i32[i]); err != nil {
			return nil, err
		}
		if _, err := tamer.RegisterValue(ch, "i16_"+id, &l.i16[i]); err != nil {
			return nil, err
		}
	}
	return l, nil
}

type result struct {
	count    int
	rejected int
	payload  int
	total    time.Duration
	max      time.Duration
}

func (l *load) run(ctx context.Context, snapshots int, period time.Duration) result {
	var res result
	res.payload = l.ch.Schema().FixedSize
	next := time.Now()
	for i := 0; i < snapshots; i++ {
		if ctx.Err() != nil {
			break
		}
		l.step(i)
		start := time.Now()
		err := l.ch.TakeSnapshot(start)
		d := time.Since(start)
		res.count++
		res.total += d
		res.max = max(res.max, d)
		if err != nil {
			res.rejected++
		}
		next = next.Add(period)
		if wait := time.Until(next); wait > 0 {
			time.Sleep(wait)
		}
	}
	return res
}

func (l *load) step(i int) {
	for j := range l.f64 {
		l.f64[j] = float64(i) + float64(j)*0.001
		l.f32[j] = float32(i) * 0.5
		l.i32[j] = int32(i + j)
		l.i16[j] = int16(i - j)
	}
}
