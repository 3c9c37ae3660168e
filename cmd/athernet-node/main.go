// Command athernet-node wires a sample stream through the PHY, MAC, and IP
// broker layers for one non-gateway Athernet node, reading its addressing
// and channel settings from a YAML config file.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/doismellburning/athernet/internal/config"
	"github.com/doismellburning/athernet/internal/ipservice"
	macpkg "github.com/doismellburning/athernet/internal/mac"
	"github.com/doismellburning/athernet/internal/metrics"
	"github.com/doismellburning/athernet/internal/modem"
	"github.com/doismellburning/athernet/internal/netlog"
	"github.com/doismellburning/athernet/internal/phy"
	"github.com/doismellburning/athernet/internal/sample"
	"github.com/doismellburning/athernet/internal/version"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to node YAML config file (required).")
	metricsAddr := pflag.String("metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9100).")
	verbose := pflag.BoolP("verbose", "v", false, "Enable debug logging.")
	showVersion := pflag.Bool("version", false, "Print version information and exit.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -c <config.yaml> [-v] [--metrics-addr :9100]\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *showVersion {
		info, _ := version.Read()
		fmt.Println(info.String())
		return
	}

	if *verbose {
		netlog.SetLevel(log.DebugLevel)
	}

	if *configPath == "" {
		pflag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, *metricsAddr); err != nil {
		fmt.Fprintf(os.Stderr, "athernet-node: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	selfAddr, err := macpkg.NewAddr(cfg.Address)
	if err != nil {
		return err
	}
	peerAddr, err := macpkg.NewAddr(cfg.Peer)
	if err != nil {
		return err
	}

	m, phyProfile, err := buildModem(cfg)
	if err != nil {
		return err
	}

	stream, err := sample.OpenPortAudioStream()
	if err != nil {
		return fmt.Errorf("opening audio device: %w", err)
	}
	defer stream.Close()

	sender := phy.NewSender(stream, m)
	receiver := phy.NewReceiver(stream, m, phyProfile)
	defer receiver.Close()

	mc := macpkg.New(selfAddr, sender, receiver, m.BytesPerPacket())
	defer mc.Close()

	registry := metrics.NewRegistry()

	ipcPath := filepath.Join(cfg.IPCSocketDir, fmt.Sprintf("athernet-%d.sock", cfg.Address))
	broker, err := ipservice.NewBroker(net.ParseIP(cfg.SelfIP), peerAddr, mc, macpkg.PayloadSize(m.BytesPerPacket()), ipcPath)
	if err != nil {
		return err
	}
	defer broker.Close()
	broker.OnCorruptPacket = registry.CorruptPackets.Inc

	if metricsAddr != "" {
		server := &http.Server{Addr: metricsAddr, Handler: registry.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "err", err)
			}
		}()
		defer server.Close()
	}

	log.Info("athernet-node started", "addr", cfg.Address, "peer", cfg.Peer, "ipc", ipcPath)

	sampleMacStats(mc, registry)
	return nil
}

// sampleMacStats periodically mirrors the MAC layer's running counters
// into the metrics registry for as long as the process runs.
func sampleMacStats(mc *macpkg.Mac, registry *metrics.Registry) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		registry.SampleMac(mc.Stats.Snapshot())
	}
}

func buildModem(cfg *config.Node) (modem.Modem, phy.Profile, error) {
	var modemProfile modem.Profile
	var phyProfile phy.Profile
	switch cfg.Channel {
	case config.ChannelAcoustic:
		modemProfile, phyProfile = modem.ProfileAcoustic, phy.ProfileAcoustic
	case config.ChannelWired:
		modemProfile, phyProfile = modem.ProfileWired, phy.ProfileWired
	default:
		return nil, 0, fmt.Errorf("unknown channel %q", cfg.Channel)
	}

	switch cfg.Modem {
	case config.ModemPSK:
		return modem.NewPSK(modemProfile), phyProfile, nil
	case config.ModemQPSK:
		return modem.NewQPSK(modemProfile), phyProfile, nil
	case config.ModemLineCode:
		return modem.NewLineCode(), phyProfile, nil
	case config.ModemOFDM:
		return modem.NewOFDM(), phyProfile, nil
	default:
		return nil, 0, fmt.Errorf("unknown modem %q", cfg.Modem)
	}
}
