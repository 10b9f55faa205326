package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

type socketStat struct {
	frames int64
	bytes  int64
}

var (
	sockets    sync.Map // exchange -> *socketStat
	warnCount  sync.Map // component -> *int64
	errorCount sync.Map // component -> *int64
)

func bump(m *sync.Map, key string) {
	v, _ := m.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordWarn(component string)  { bump(&warnCount, component) }
func recordError(component string) { bump(&errorCount, component) }

// RecordSocketFrame counts one inbound frame of size bytes for an exchange.
func RecordSocketFrame(exchange string, size int) {
	v, _ := sockets.LoadOrStore(exchange, &socketStat{})
	s := v.(*socketStat)
	atomic.AddInt64(&s.frames, 1)
	atomic.AddInt64(&s.bytes, int64(size))
}

func counts(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

func socketCounts() map[string]map[string]int64 {
	out := map[string]map[string]int64{}
	sockets.Range(func(k, v any) bool {
		s := v.(*socketStat)
		out[k.(string)] = map[string]int64{
			"frames": atomic.LoadInt64(&s.frames),
			"bytes":  atomic.LoadInt64(&s.bytes),
		}
		return true
	})
	return out
}

// StartReport logs a runtime report every interval until ctx is done.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	memMB := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memMB = float64(vm.Used) / 1024 / 1024
	}
	var sent, recv uint64
	if io, err := gnet.IOCounters(false); err == nil && len(io) > 0 {
		sent, recv = io[0].BytesSent, io[0].BytesRecv
	}

	socketData := socketCounts()
	warns := counts(&warnCount)
	errs := counts(&errorCount)

	log.WithComponent("report").WithFields(Fields{
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memMB),
		"net_bytes_sent": sent,
		"net_bytes_recv": recv,
		"sockets":        socketData,
		"warns":          warns,
		"errors":         errs,
	}).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(memMB)},
		{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(recv))},
	}
	for exchange, s := range socketData {
		dims := []cwtypes.Dimension{{Name: aws.String("Exchange"), Value: aws.String(exchange)}}
		data = append(data,
			cwtypes.MetricDatum{MetricName: aws.String("SocketFrames"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(s["frames"]))},
			cwtypes.MetricDatum{MetricName: aws.String("SocketBytes"), Unit: cwtypes.StandardUnitBytes, Dimensions: dims, Value: aws.Float64(float64(s["bytes"]))},
		)
	}
	for component, n := range errs {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("StreamErrors"),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{{Name: aws.String("Component"), Value: aws.String(component)}},
			Value:      aws.Float64(float64(n)),
		})
	}
	publishMetrics(ctx, data)
}
