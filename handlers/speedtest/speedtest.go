// Package speedtest provides the built-in "speedtest" job type: a bandwidth
// probe whose measurements become the run's result payload.
package speedtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/showwin/speedtest-go/speedtest"

	"jobtick/internal/job"
	"jobtick/internal/registry"
	logx "jobtick/pkg/logx"
)

type Options struct {
	Log logx.Logger
}

// New returns the speedtest handler. Job config keys:
//
//	server_count: closest-server candidates to ping (default 5)
//
// One candidate (best latency) gets the full download/upload test.
func New(opts Options) registry.Handler {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return func(ctx context.Context, j job.Job) (map[string]any, error) {
		candidateN := intConfig(j.Config, "server_count", 5)

		// A fresh client per run: the package-level default client retains
		// large snapshots across runs.
		st := speedtest.New()
		defer func() {
			st.Snapshots().Clean()
			st.Reset()
		}()

		user, err := st.FetchUserInfoContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch user info: %w", err)
		}
		servers, err := st.FetchServerListContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch server list: %w", err)
		}
		if a := servers.Available(); a != nil {
			servers = *a
		}
		if len(servers) == 0 {
			return nil, fmt.Errorf("no speedtest servers available")
		}

		sort.Slice(servers, func(i, k int) bool {
			return servers[i].Distance < servers[k].Distance
		})
		if candidateN > len(servers) {
			candidateN = len(servers)
		}

		var best *speedtest.Server
		for _, s := range servers[:candidateN] {
			if err := s.PingTestContext(ctx, nil); err != nil || s.Latency <= 0 {
				continue
			}
			if best == nil || s.Latency < best.Latency {
				best = s
			}
		}
		if best == nil {
			return nil, fmt.Errorf("latency test failed for all %d candidates", candidateN)
		}

		start := time.Now()
		if err := best.DownloadTestContext(ctx); err != nil {
			return nil, fmt.Errorf("download test (%s): %w", best.Host, err)
		}
		if err := best.UploadTestContext(ctx); err != nil {
			return nil, fmt.Errorf("upload test (%s): %w", best.Host, err)
		}

		res := map[string]any{
			"download_mbps":  best.DLSpeed.Mbps(),
			"upload_mbps":    best.ULSpeed.Mbps(),
			"ping_ms":        best.Latency.Milliseconds(),
			"jitter_ms":      best.Jitter.Milliseconds(),
			"isp":            user.Isp,
			"server_name":    best.Sponsor,
			"server_country": best.Country,
			"duration_ms":    time.Since(start).Milliseconds(),
		}
		log.Info("speedtest completed",
			logx.String("job", j.Name),
			logx.Float64("download_mbps", best.DLSpeed.Mbps()),
			logx.Float64("upload_mbps", best.ULSpeed.Mbps()),
			logx.Int64("ping_ms", best.Latency.Milliseconds()),
		)
		return res, nil
	}
}

func intConfig(cfg map[string]any, key string, def int) int {
	switch v := cfg[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64: // JSON numbers decode as float64
		if v > 0 {
			return int(v)
		}
	}
	return def
}
