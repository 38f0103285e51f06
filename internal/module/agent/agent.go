// Package agent assembles the update subsystem of one boom module and runs
// its control loop. All flash work happens on the loop goroutine; the
// network servers only feed it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/robotsgofarming/abls/internal/module/backup"
	"github.com/robotsgofarming/abls/internal/module/command"
	"github.com/robotsgofarming/abls/internal/module/diag"
	"github.com/robotsgofarming/abls/internal/module/flash"
	"github.com/robotsgofarming/abls/internal/module/hal"
	"github.com/robotsgofarming/abls/internal/module/metrics"
	"github.com/robotsgofarming/abls/internal/module/protocol"
	"github.com/robotsgofarming/abls/internal/module/safety"
	"github.com/robotsgofarming/abls/internal/module/update"
	versionmgr "github.com/robotsgofarming/abls/internal/module/version"
	"github.com/robotsgofarming/abls/pkg/log"
	"github.com/robotsgofarming/abls/pkg/mqtt"
	"github.com/robotsgofarming/abls/pkg/options"
	fw "github.com/robotsgofarming/abls/pkg/version"
)

// statusTelemetryEvery is the cadence of unsolicited status publishes to the
// telemetry broker. Operator STATUS_QUERY packets are answered immediately
// regardless.
const statusTelemetryEvery = 10 * time.Second

// provisionImageSize is the synthetic firmware image the simulator commits
// on first boot, standing in for the code the hardware actually runs.
const provisionImageSize = 512 * 1024

// Config is everything needed to build an Agent.
type Config struct {
	Role     hal.Role
	SenderID uint8

	UdpOptions    *options.UdpOptions
	HttpOptions   *options.HttpOptions
	MqttOptions   *options.MqttOptions
	SafetyOptions *options.SafetyOptions
}

// Agent is one module's update subsystem.
type Agent struct {
	cfg *Config

	dev      flash.Device
	hw       hal.HAL
	safety   *safety.Manager
	backups  *backup.Manager
	versions *versionmgr.Manager
	orch     *update.Orchestrator

	cmdServer  *command.Server
	httpServer *metrics.Server
	sink       *diag.Sink
	pub        mqtt.Publisher
}

// NewAgent builds the module from its configuration. The flash device is the
// in-memory simulator; the hardware build swaps in the real primitives
// behind the same interface.
func (c *Config) NewAgent() (*Agent, error) {
	geom := flash.Teensy41()
	dev, err := flash.NewMemDevice(geom)
	if err != nil {
		return nil, err
	}

	current := fw.Current()
	codeEnd, err := provision(dev, current)
	if err != nil {
		return nil, fmt.Errorf("provision firmware: %w", err)
	}

	hw := hal.NewSimHAL(c.Role, codeEnd)
	versions := versionmgr.NewManager(current, c.SenderID)
	sm := safety.NewManager(hw, c.SafetyOptions)
	bm, err := backup.NewManager(dev, versions.Current)
	if err != nil {
		return nil, err
	}
	orch := update.NewOrchestrator(dev, hw, sm, bm, versions)

	var pub mqtt.Publisher
	sink := diag.NewSink(hw.ModuleID(), c.MqttOptions.TopicRoot, nil)
	if c.MqttOptions.Broker != "" {
		clientID := c.MqttOptions.ClientID
		if clientID == "" {
			clientID = hw.ModuleID()
		}
		offline, _ := (&protocol.StatusPacket{
			SenderID: c.SenderID,
			Status:   protocol.StatusOffline,
			Version:  current.String(),
		}).MarshalBinary()
		pub, err = mqtt.NewPublisher(mqtt.Config{
			BrokerURL:          c.MqttOptions.Broker,
			ClientID:           clientID,
			Username:           c.MqttOptions.Username,
			Password:           c.MqttOptions.Password,
			KeepAlive:          uint16(c.MqttOptions.KeepAlive / time.Second),
			ConnectTimeout:     c.MqttOptions.ConnectTimeout,
			InsecureSkipVerify: c.MqttOptions.InsecureSkipVerify,
			WillTopic:          c.MqttOptions.TopicRoot + "/" + hw.ModuleID() + "/status",
			WillPayload:        offline,
		})
		if err != nil {
			return nil, err
		}
		sink = diag.NewSink(hw.ModuleID(), c.MqttOptions.TopicRoot, pub)
	}

	return &Agent{
		cfg:        c,
		dev:        dev,
		hw:         hw,
		safety:     sm,
		backups:    bm,
		versions:   versions,
		orch:       orch,
		cmdServer:  command.NewServer(c.UdpOptions),
		httpServer: metrics.NewServer(c.HttpOptions, func() protocol.StatusPacket { return versions.BuildStatusPacket(freeMemory()) }),
		sink:       sink,
		pub:        pub,
	}, nil
}

// provision commits a synthetic firmware image into an empty current bank so
// the simulator boots with something to back up. Returns the code end
// address.
func provision(dev flash.Device, v fw.Version) (uint32, error) {
	geom := dev.Geometry()
	cur, err := flash.NewRegion(dev, geom.CurrentBankBase(), geom.BankSize)
	if err != nil {
		return 0, err
	}

	if sentinel, ok, err := cur.ReadSentinel(); err == nil && ok {
		return geom.CurrentBankBase() + geom.AlignUp(sentinel.Size), nil
	}

	img := make([]byte, provisionImageSize)
	for i := range img {
		img[i] = byte(i*37 + 11)
	}
	copy(img[64:], flash.TargetID)

	if err := cur.EraseSectors(geom.SectorsFor(provisionImageSize)); err != nil {
		return 0, err
	}
	if err := cur.WriteAt(0, img); err != nil {
		return 0, err
	}
	crc, err := cur.CRC32(provisionImageSize)
	if err != nil {
		return 0, err
	}
	err = cur.WriteSentinel(flash.Sentinel{
		Size:      provisionImageSize,
		CRC:       crc,
		Major:     v.Major,
		Minor:     v.Minor,
		Patch:     v.Patch,
		Build:     v.Build,
		FlashedAt: uint32(time.Now().Unix()),
	})
	if err != nil {
		return 0, err
	}
	return geom.CurrentBankBase() + geom.AlignUp(provisionImageSize), nil
}

// Run starts the servers and the control loop, blocking until ctx is
// cancelled or a component fails.
func (a *Agent) Run(ctx context.Context) error {
	log.Info("Module starting",
		"module", a.hw.ModuleID(),
		"role", string(a.hw.ModuleRole()),
		"version", a.versions.Current().String(),
		"backup", a.backups.HasValidBackup(),
	)

	g, ctx := errgroup.WithContext(ctx)

	if a.pub != nil {
		if err := a.pub.Start(ctx); err != nil {
			return fmt.Errorf("telemetry publisher: %w", err)
		}
		defer a.pub.Disconnect(context.Background())
		g.Go(func() error { return a.sink.Run(ctx) })
	}

	g.Go(func() error { return a.cmdServer.Run(ctx) })
	g.Go(func() error { return a.httpServer.Run(ctx) })
	g.Go(func() error { return a.loop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// CommandPort returns the bound command port once Run has started the
// command server.
func (a *Agent) CommandPort() int {
	return a.cmdServer.LocalPort()
}

// loop is the module control loop. Commands and safety ticks are processed
// strictly one at a time; an update session occupies the loop for its whole
// duration, which is why the orchestrator re-runs safety checks itself
// between chunks.
func (a *Agent) loop(ctx context.Context) error {
	safetyTick := time.NewTicker(a.cfg.SafetyOptions.CheckInterval)
	defer safetyTick.Stop()
	statusTick := time.NewTicker(statusTelemetryEvery)
	defer statusTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-safetyTick.C:
			a.safety.Tick()
			metrics.UpdateProgress.Set(float64(a.versions.Session().Progress))

		case <-statusTick.C:
			a.sink.PublishStatus(ctx, a.versions.BuildStatusPacket(freeMemory()))

		case pkt := <-a.cmdServer.Commands():
			a.handleCommand(ctx, pkt)
		}
	}
}

// handleCommand dispatches one operator command on the loop goroutine.
func (a *Agent) handleCommand(ctx context.Context, pkt protocol.CommandPacket) {
	a.versions.CountReceived()

	switch pkt.Command {
	case protocol.CmdStatusQuery:
		a.sendStatus(ctx)

	case protocol.CmdStartUpdate:
		a.handleStartUpdate(ctx, pkt)

	case protocol.CmdAbortUpdate:
		a.sink.Log(diag.LevelWarn, "command", "Update abort requested by operator")
		a.orch.Abort()
		a.sendStatus(ctx)

	case protocol.CmdRollback:
		a.handleRollback(ctx)

	default:
		log.Warn("Unknown command ignored", "command", pkt.Command)
	}
}

func (a *Agent) handleStartUpdate(ctx context.Context, pkt protocol.CommandPacket) {
	if a.orch.Busy() {
		a.sink.Log(diag.LevelWarn, "command",
			fmt.Sprintf("START_UPDATE rejected: session already %s", a.orch.State()))
		a.sendStatus(ctx)
		return
	}

	req := update.Request{
		URL:    pkt.FirmwareURL,
		SHA256: pkt.FirmwareHash,
		Size:   pkt.FirmwareSize,
		Version: fw.Version{
			Major: pkt.VersionMajor,
			Minor: pkt.VersionMinor,
			Patch: pkt.VersionPatch,
		},
	}
	if err := update.ValidateRequest(req); err != nil {
		a.sink.Log(diag.LevelError, "command", fmt.Sprintf("START_UPDATE rejected: %v", err))
		a.versions.SetError(err)
		a.sendStatus(ctx)
		return
	}

	a.sink.Log(diag.LevelInfo, "update",
		fmt.Sprintf("Starting update to %s (%d bytes)", req.Version.String(), req.Size))

	err := a.orch.StartUpdate(ctx, req)
	switch {
	case err == nil:
		metrics.UpdateSessionsTotal.WithLabelValues("success").Inc()
		metrics.FlashBytesWrittenTotal.Add(float64(req.Size))
	case errors.Is(err, update.ErrAborted):
		metrics.UpdateSessionsTotal.WithLabelValues("aborted").Inc()
	case errors.Is(err, update.ErrSafetyCheckFailed):
		metrics.UpdateSessionsTotal.WithLabelValues("failed").Inc()
		metrics.SafetyRefusalsTotal.WithLabelValues(a.safety.LastResult().String()).Inc()
	default:
		metrics.UpdateSessionsTotal.WithLabelValues("failed").Inc()
	}
	if err != nil {
		a.sink.Log(diag.LevelError, "update", fmt.Sprintf("Update failed: %v", err))
	}
	a.sendStatus(ctx)
}

func (a *Agent) handleRollback(ctx context.Context) {
	a.sink.Log(diag.LevelWarn, "update", "Rollback to backup firmware requested")
	if err := a.orch.Rollback(ctx); err != nil {
		metrics.UpdateSessionsTotal.WithLabelValues("rollback_failed").Inc()
		a.sink.Log(diag.LevelError, "update", fmt.Sprintf("Rollback failed: %v", err))
	} else {
		metrics.UpdateSessionsTotal.WithLabelValues("rollback").Inc()
	}
	a.sendStatus(ctx)
}

// sendStatus answers the operator console and mirrors the packet to the
// telemetry broker.
func (a *Agent) sendStatus(ctx context.Context) {
	p := a.versions.BuildStatusPacket(freeMemory())
	if err := a.cmdServer.SendStatus(p); err != nil {
		log.Warn("Failed to send status packet", "err", err)
		return
	}
	a.versions.CountSent()
	a.sink.PublishStatus(ctx, p)
}

// freeMemory approximates the free-memory field of the status packet from
// the Go runtime's view of the heap.
func freeMemory() uint32 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	free := ms.HeapSys - ms.HeapInuse
	if free > 1<<32-1 {
		free = 1<<32 - 1
	}
	return uint32(free)
}
