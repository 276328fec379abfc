// Command ionic-sim runs the engine against the simulated device: it brings
// the LIF up, raises link, pushes UDP frames through the loopback path and
// prints the engine metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"go.uber.org/ratelimit"

	"github.com/ehrlich-b/go-ionic"
	"github.com/ehrlich-b/go-ionic/internal/config"
	"github.com/ehrlich-b/go-ionic/internal/dma"
	"github.com/ehrlich-b/go-ionic/internal/logging"
	"github.com/ehrlich-b/go-ionic/internal/sim"
	"github.com/ehrlich-b/go-ionic/internal/telemetry"
)

var simMAC = [6]byte{0x00, 0xae, 0xcd, 0x10, 0x20, 0x30}

func main() {
	fs := pflag.NewFlagSet("ionic-sim", pflag.ExitOnError)
	config.SetupFlags(fs)
	frames := fs.Int("frames", 1000, "Frames to transmit (0 runs until interrupted)")
	rate := fs.Int("rate", 10000, "Frames per second")
	payload := fs.Int("payload", 512, "UDP payload bytes per frame")
	linkSpeed := fs.Uint32("link-speed", 100000, "Simulated link speed in Mbps")
	_ = fs.Parse(os.Args[1:])

	if path, _ := fs.GetString("write-config"); path != "" {
		if err := config.WriteDefault(path); err != nil {
			fmt.Fprintf(os.Stderr, "write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", path)
		return
	}

	cfg, err := config.Load("", fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	level, _ := cfg.LogLevel()
	logConfig := logging.DefaultConfig()
	logConfig.Level = level
	logConfig.Format = cfg.Log.Format
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)
	defer logger.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, runOptions{
		frames:    *frames,
		rate:      *rate,
		payload:   *payload,
		linkSpeed: *linkSpeed,
	}); err != nil {
		logger.WithError(err).Error("ionic-sim failed")
		os.Exit(1)
	}
}

type runOptions struct {
	frames    int
	rate      int
	payload   int
	linkSpeed uint32
}

func paramsFromConfig(cfg *config.Config) ionic.Params {
	p := ionic.DefaultParams()
	p.LIFIndex = cfg.LIF.Index
	p.MTU = cfg.LIF.MTU
	p.VLANID = cfg.LIF.VLANID
	p.VLANEnabled = cfg.LIF.VLANEnabled
	p.AdminQDepth = cfg.Rings.AdminQ
	p.NotifyQDepth = cfg.Rings.NotifyQ
	p.TxQDepth = cfg.Rings.TxQ
	p.RxQDepth = cfg.Rings.RxQ
	p.DevCmdTimeout = cfg.Timeouts.DevCmdSeconds
	p.AdminTimeout = cfg.Timeouts.AdminSeconds
	p.PollInterval = cfg.PollInterval()
	p.RetryCount = cfg.Retry.Count
	p.RetryDelay = cfg.RetryDelay()
	p.PollRate = cfg.Poll.RateHz
	return p
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts runOptions) (err error) {
	arena := dma.NewArena(false)
	defer func() { err = errors.Join(err, arena.Close()) }()

	dev, err := sim.New(sim.Config{
		Memory:     arena,
		MAC:        simMAC,
		Loopback:   cfg.Sim.Loopback,
		TxCoalesce: cfg.Sim.TxCoalesce,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("create simulated device: %w", err)
	}

	pool, err := dma.NewPool(arena, cfg.Buffers.Count, cfg.Buffers.Size)
	if err != nil {
		return fmt.Errorf("create buffer pool: %w", err)
	}
	defer func() { err = errors.Join(err, pool.Close()) }()

	engOpts := &ionic.Options{Logger: logger}
	if cfg.Telemetry.OTLPEndpoint != "" {
		provider, err := telemetry.NewProvider(ctx, telemetry.Config{
			Endpoint:       cfg.Telemetry.OTLPEndpoint,
			ServiceName:    "ionic-sim",
			ServiceVersion: ionic.Version,
			InstanceID:     net.HardwareAddr(simMAC[:]).String(),
		})
		if err != nil {
			return fmt.Errorf("set up telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("telemetry shutdown")
			}
		}()
		obs, err := ionic.NewOTelObserver(provider.Meter("github.com/ehrlich-b/go-ionic"))
		if err != nil {
			return fmt.Errorf("create otel observer: %w", err)
		}
		engOpts.Observer = obs
		logger.Info("exporting metrics", "endpoint", cfg.Telemetry.OTLPEndpoint)
	}

	nd := ionic.NewRecordingNetDevice(pool)
	eng, err := ionic.New(ionic.Resources{
		BAR0:      dev.BAR0(),
		Doorbells: dev.Doorbells(),
		Memory:    arena,
		Buffers:   pool,
		NetDevice: nd,
	}, paramsFromConfig(cfg), engOpts)
	if err != nil {
		return err
	}
	if err := eng.Open(); err != nil {
		return err
	}
	defer func() { err = errors.Join(err, eng.Close()) }()

	dev.RaiseLinkChange(true, opts.linkSpeed)
	eng.Poll()
	if !eng.LinkUp() {
		return errors.New("link did not come up")
	}
	ident := eng.Identity()
	fmt.Printf("Device:   %s (fw %s, serial %s)\n", eng.MAC(), eng.DeviceInfo().FwVersion, eng.DeviceInfo().SerialNum)
	fmt.Printf("Identity: type %d, %d LIFs\n", ident.Type, ident.NLIFs)
	fmt.Printf("Link:     up at %s\n", humanize.SIWithDigits(float64(eng.LinkSpeed())*1e6, 0, "b/s"))

	frame, err := sim.UDPFrame{
		SrcMAC:  net.HardwareAddr(simMAC[:]),
		DstMAC:  eng.MAC(),
		SrcIP:   net.IPv4(192, 168, 0, 1),
		DstIP:   net.IPv4(192, 168, 0, 2),
		SrcPort: 40000,
		DstPort: 9,
		Payload: make([]byte, opts.payload),
	}.Build()
	if err != nil {
		return fmt.Errorf("build frame: %w", err)
	}

	start := time.Now()
	sent, dropped := send(ctx, eng, dev, nd, pool, frame, opts)
	dev.FlushTx()
	eng.Poll()
	elapsed := time.Since(start)

	snap := eng.Metrics().Snapshot()
	fmt.Printf("\nSent %s frames in %s (%s dropped for lack of buffers)\n",
		humanize.Comma(int64(sent)), elapsed.Round(time.Millisecond), humanize.Comma(int64(dropped)))
	fmt.Printf("TX: %s packets, %s, %d errors\n",
		humanize.Comma(int64(snap.TxPackets)), humanize.IBytes(snap.TxBytes), snap.TxErrors)
	fmt.Printf("RX: %s packets, %s, %d errors\n",
		humanize.Comma(int64(snap.RxPackets)), humanize.IBytes(snap.RxBytes), snap.RxErrors)
	fmt.Printf("Commands: %d devcmd (%d retries), %d admin, p99 %s\n",
		snap.DevCmds, snap.DevCmdRetries, snap.AdminCmds, time.Duration(snap.LatencyP99Ns))
	fmt.Printf("Events: %d (%d drained), %d link changes\n", snap.Events, snap.EventsDrained, snap.LinkChanges)
	return nil
}

// send transmits frame until opts.frames have gone out or ctx is done,
// polling the engine between frames so completions return buffers. The
// recorded frames are discarded periodically; the metrics keep the totals.
func send(ctx context.Context, eng *ionic.Engine, dev *sim.Device, nd *ionic.RecordingNetDevice, pool *dma.Pool, frame []byte, opts runOptions) (sent, dropped int) {
	rl := ratelimit.New(opts.rate)
	for opts.frames == 0 || sent < opts.frames {
		if ctx.Err() != nil {
			return sent, dropped
		}
		rl.Take()
		eng.Poll()

		buf, ok := pool.Get()
		if !ok {
			dev.FlushTx()
			dropped++
			continue
		}
		if _, err := buf.Write(frame); err != nil {
			pool.Put(buf)
			return sent, dropped
		}
		if err := eng.Transmit(buf, ionic.TxOptions{}); err != nil {
			pool.Put(buf)
			dropped++
			continue
		}
		sent++
		if sent%4096 == 0 {
			nd.Reset()
		}
	}
	return sent, dropped
}
