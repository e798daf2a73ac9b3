package main

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/teapotnet/teapotnet/pkg/address"
	"github.com/teapotnet/teapotnet/pkg/config"
	"github.com/teapotnet/teapotnet/pkg/corenet"
	"github.com/teapotnet/teapotnet/pkg/peering"
	"github.com/teapotnet/teapotnet/pkg/tracker"
)

// Node is the single explicitly-constructed value main owns, tying the
// peering registry, session core, and tracker client together: the
// replacement for what used to be process-wide singletons (§9).
type Node struct {
	Config   config.Config
	Peerings *peering.Registry
	Core     *corenet.Core
	Tracker  *tracker.Client
}

// NewNode builds every component but does not yet start accepting
// connections or publishing to trackers; call Start for that.
func NewNode(cfg config.Config, registry *peering.Registry) (*Node, error) {
	publicAddrs, err := publicAddresses(cfg.Port)
	if err != nil {
		log.WithError(err).Warn("could not determine public addresses, continuing with none")
	}

	coreCfg := corenet.DefaultConfig()
	coreCfg.ListenAddress = fmt.Sprintf(":%d", cfg.Port)
	coreCfg.MeetingTimeout = cfg.MeetingTimeout
	coreCfg.RequestTimeout = cfg.RequestTimeout
	coreCfg.Session.HandshakeTimeout = cfg.TpotTimeout
	coreCfg.Session.ReadTimeout = cfg.TpotReadTimeout

	core := corenet.New(coreCfg, registry, publicAddrs)
	trackerClient := tracker.New([]string{fmt.Sprintf("%s:%d", cfg.Tracker, cfg.TrackerPort)}, cfg.TpotTimeout)

	return &Node{Config: cfg, Peerings: registry, Core: core, Tracker: trackerClient}, nil
}

// Start opens the session listener and launches the periodic tracker
// publish loop. It returns once the listener is up; publishing continues
// in the background until stopCh is closed.
func (n *Node) Start(stopCh <-chan struct{}) error {
	if err := n.Core.Listen(); err != nil {
		return err
	}
	go n.publishLoop(stopCh)
	return nil
}

// publishLoop re-publishes every registered peering's address hints to the
// configured tracker roughly every quarter of the tracker's documented
// entry lifetime, keeping this node's entries from aging out.
func (n *Node) publishLoop(stopCh <-chan struct{}) {
	const entryLifetime = 3600 * time.Second
	ticker := time.NewTicker(entryLifetime / 4)
	defer ticker.Stop()

	n.publishOnce()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			n.publishOnce()
		}
	}
}

func (n *Node) publishOnce() {
	for _, reg := range n.Peerings.All() {
		info := tracker.PublishInfo{Port: uint16(n.Config.Port)}
		if err := n.Tracker.Publish(reg.LocalPeering, info); err != nil {
			log.WithError(err).WithField("peering", reg.LocalPeering.String()).Warn("tracker publish failed")
		}
	}
}

// publicAddresses enumerates this host's non-loopback addresses on port,
// a best-effort stand-in for the NAT port-mapping helper (out of scope
// here): it only reports locally visible interface addresses.
func publicAddresses(port int) ([]address.Address, error) {
	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	var out []address.Address
	for _, a := range ifaceAddrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		out = append(out, address.FromTCPAddr(&net.TCPAddr{IP: ipNet.IP, Port: port}))
	}
	return out, nil
}
