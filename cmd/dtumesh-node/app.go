package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"dtumesh/pkg/channel"
	"dtumesh/pkg/config"
	"dtumesh/pkg/node"
	"dtumesh/pkg/observability"
	"dtumesh/pkg/provider/udp"
)

func main() {
	os.Exit(run(ParseFlags(os.Args[1:])))
}

// logStore is the default content sink: the binary has no application layer,
// so delivered payloads are just logged.
type logStore struct{}

func (logStore) OnReceive(payload []byte, structured any, from channel.Kind) {
	zap.L().Info("content received",
		zap.Int("bytes", len(payload)), zap.Bool("structured", structured != nil),
		zap.Stringer("channel", from))
}

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("dtumesh-node started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	n := node.New(node.Options{
		ID:            cfg.NodeID,
		RelayWilling:  cfg.Mesh.Relay,
		RelayCapacity: cfg.Mesh.RelayCapacity,
		RelayHold:     cfg.Mesh.RelayHold(),
		SendTimeout:   cfg.Mesh.SendTimeout(),
		GossipSeed:    cfg.Mesh.GossipSeed,
		Content:       logStore{},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Providers.UDP.Enable {
		prov, err := udp.New(cfg.Providers.UDP.Listen)
		if err != nil {
			zap.L().Error("failed to start udp provider", zap.Error(err))
			return 1
		}
		for _, entry := range cfg.Providers.UDP.Peers {
			// static peers as "nodeid=host:port"
			id, addr, ok := strings.Cut(entry, "=")
			if !ok {
				zap.L().Warn("ignoring malformed udp peer entry", zap.String("entry", entry))
				continue
			}
			if err := prov.AddPeer(id, addr); err != nil {
				zap.L().Warn("failed to add udp peer", zap.String("entry", entry), zap.Error(err))
			}
		}
		n.RegisterProvider(prov)
		n.Channels().SetAvailable(channel.KindInternet, true)
		go prov.Serve(ctx, func(frame []byte) {
			_ = n.Receive(frame, channel.KindInternet)
		})
	}

	zap.L().Info("node is running; press Ctrl+C to exit", zap.String("node_id", n.ID()))
	n.Run(ctx, cfg.Mesh.Heartbeat())
	return 0
}
