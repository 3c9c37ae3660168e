// Command athernet-ping issues MAC-layer pings against the peer named in a
// node's config file, the CLI surface for spec.md section 6's ping
// exchange, printing round-trip times the way ping(8) does.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/doismellburning/athernet/internal/config"
	macpkg "github.com/doismellburning/athernet/internal/mac"
	"github.com/doismellburning/athernet/internal/modem"
	"github.com/doismellburning/athernet/internal/phy"
	"github.com/doismellburning/athernet/internal/sample"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to node YAML config file (required).")
	count := pflag.IntP("count", "n", 4, "Number of pings to send (0 for unlimited).")
	interval := pflag.Duration("interval", time.Second, "Delay between pings.")
	timeout := pflag.Duration("timeout", 2*time.Second, "Per-ping reply timeout.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -c <config.yaml> [-n count] [--interval 1s] [--timeout 2s]\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *configPath == "" {
		pflag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, *count, *interval, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "athernet-ping: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, count int, interval, timeout time.Duration) error {
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

	fmt.Printf("PING athernet node %d from %d\n", cfg.Peer, cfg.Address)

	var sent, received int
	var totalRTT time.Duration

	for i := 0; count == 0 || i < count; i++ {
		sent++
		rtt, err := mc.Ping(peerAddr, timeout)
		if err != nil {
			fmt.Printf("request timed out\n")
		} else {
			received++
			totalRTT += rtt
			fmt.Printf("pong from node %d: time=%s\n", cfg.Peer, rtt)
		}

		if count == 0 || i < count-1 {
			time.Sleep(interval)
		}
	}

	fmt.Printf("\n--- node %d ping statistics ---\n", cfg.Peer)
	loss := 0.0
	if sent > 0 {
		loss = 100 * float64(sent-received) / float64(sent)
	}
	fmt.Printf("%d packets transmitted, %d received, %.0f%% packet loss\n", sent, received, loss)
	if received > 0 {
		fmt.Printf("average round-trip time = %s\n", totalRTT/time.Duration(received))
	}

	return nil
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
