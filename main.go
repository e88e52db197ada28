package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"remotectl/config"
	"remotectl/crypto"
	"remotectl/discovery"
	"remotectl/logging"
	"remotectl/session"
	"remotectl/storage"
	"remotectl/transport"
	"remotectl/ui"
)

func main() {
	headless := flag.Bool("headless", false, "run the console loop instead of the window")
	forget := flag.String("forget", "", "remove a stored peer by ID and exit")
	flag.Parse()

	cfg, cfgPath, dataDir, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	_, closeLogs, err := logging.Setup(cfg.LogConfig())
	if err != nil {
		log.Fatalf("startup failed while configuring logging: %v", err)
	}
	defer closeLogs()

	identity, err := crypto.LoadOrCreateIdentity(cfg.Ed25519PrivateKeyPath, cfg.Ed25519PublicKeyPath)
	if err != nil {
		log.Fatalf("startup failed while preparing Ed25519 identity: %v", err)
	}

	fmt.Printf("Controller ID:   %s\n", cfg.ControllerID)
	fmt.Printf("Controller Name: %s\n", cfg.ControllerName)
	fmt.Printf("Fingerprint:     %s\n", crypto.FormatFingerprint(identity.Fingerprint))
	fmt.Printf("Config File:     %s\n", cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		log.Fatalf("startup failed while opening database: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}()
	store.SetHistoryRetention(cfg.HistoryRetention())
	fmt.Printf("Database File:   %s\n", dbPath)

	if *forget != "" {
		if err := store.RemovePeer(*forget); err != nil {
			log.Printf("forget peer failed peer=%s err=%v", *forget, err)
			return
		}
		fmt.Printf("Forgot peer:     %s\n", *forget)
		return
	}

	bluez := transport.NewBluezProvider(cfg.ServiceUUID, cfg.BluezAdapter, cfg.WriteTimeout())
	defer func() {
		if err := bluez.Close(); err != nil {
			log.Printf("bluez provider close error: %v", err)
		}
	}()
	mux, err := newTransportMux(cfg, identity, bluez)
	if err != nil {
		log.Fatalf("startup failed while preparing transports: %v", err)
	}
	fmt.Printf("Transports:      %v\n", mux.Schemes())

	bridge := ui.NewBridge()
	options := cfg.SessionOptions(mux, store)
	if *headless {
		options.OnStatusChange = func(status string) { fmt.Printf("status: %s\n", status) }
	} else {
		options.OnStatusChange = bridge.StatusChanged
		options.OnPeersChange = bridge.PeersChanged
	}
	sess, err := session.New(options)
	if err != nil {
		log.Fatalf("startup failed while creating session: %v", err)
	}
	defer sess.Close()

	seedPeers(sess, store, cfg)

	manager := startDiscovery(cfg, sess)
	if manager != nil {
		defer manager.Stop()
		fmt.Printf("Discovery:       %v\n", manager.Sources())
	}

	if *headless {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var discover func(context.Context) error
		if manager != nil {
			discover = manager.Refresh
		}
		if err := runConsole(ctx, os.Stdin, os.Stdout, sess, discover); err != nil {
			log.Printf("console error: %v", err)
		}
	} else {
		err := ui.Run(ui.RunOptions{
			Title:           cfg.ControllerName,
			Session:         sess,
			Bridge:          bridge,
			Discovery:       manager,
			DiscoverOnStart: len(sess.Peers()) == 0,
		})
		if err != nil {
			log.Printf("ui exited with error: %v", err)
		}
	}

	rememberSelection(cfg, cfgPath, sess)
}

func newTransportMux(cfg *config.Config, identity *crypto.Identity, bluez *transport.BluezProvider) (*transport.Mux, error) {
	clientCert, err := identity.SelfSignedCertificate(cfg.ControllerName)
	if err != nil {
		return nil, err
	}

	mux := transport.NewMux()
	mux.Register(transport.SchemeRFCOMM, transport.RFCOMMProvider{
		Channel:      uint8(cfg.RFCOMMChannel),
		WriteTimeout: cfg.WriteTimeout(),
	})
	mux.Register(transport.SchemeBluez, bluez)
	mux.Register(transport.SchemeTCP, transport.TCPProvider{WriteTimeout: cfg.WriteTimeout()})
	mux.Register(transport.SchemeQUIC, transport.QUICProvider{
		WriteTimeout:  cfg.WriteTimeout(),
		AllowUnpinned: cfg.AllowUnpinnedQUIC,
		Certificate:   &clientCert,
	})
	return mux, nil
}

// seedPeers loads stored and configured peers, then restores the last
// selection.
func seedPeers(sess *session.Controller, store *storage.Store, cfg *config.Config) {
	stored, err := store.ListPeers()
	if err != nil {
		log.Printf("load stored peers failed: %v", err)
	}
	for _, peer := range stored {
		sess.OnPeerDiscovered(peer.Model())
	}
	for _, peer := range cfg.ManualPeers() {
		sess.OnPeerDiscovered(peer)
	}

	if cfg.SelectedPeerID == "" {
		return
	}
	if err := sess.SelectPeer(cfg.SelectedPeerID); err != nil {
		log.Printf("restore selection failed peer=%s err=%v", cfg.SelectedPeerID, err)
	}
}

func startDiscovery(cfg *config.Config, sess *session.Controller) *discovery.Manager {
	var sources []discovery.Source
	if cfg.HasSource(config.SourceMDNS) {
		scanner, err := discovery.NewPeerScanner(discovery.MDNSConfig{SelfID: cfg.ControllerID})
		if err != nil {
			log.Printf("discovery: mdns scanner unavailable err=%v", err)
		} else {
			sources = append(sources, scanner)
		}
	}
	if cfg.HasSource(config.SourceBluez) {
		sources = append(sources, discovery.NewBluezScanner(discovery.BluezConfig{
			Adapter:       cfg.BluezAdapter,
			AddressScheme: cfg.BluezAddressScheme,
		}))
	}
	if cfg.HasSource(config.SourceBLE) {
		sources = append(sources, discovery.NewBLEScanner(discovery.BLEConfig{
			NamePrefixes:  cfg.BLENamePrefixes,
			AddressScheme: cfg.BluezAddressScheme,
			Adapter:       cfg.BluezAdapter,
		}))
	}

	manager := discovery.NewManager(func(event discovery.Event) {
		switch event.Type {
		case discovery.EventPeerFound:
			sess.OnPeerDiscovered(event.Peer)
		case discovery.EventPeerLost:
			log.Printf("discovery: peer lost id=%s source=%s", event.Peer.ID, event.Peer.Source)
		}
	}, sources...)
	if err := manager.Start(); err != nil {
		log.Printf("discovery startup failed: %v", err)
		return nil
	}
	return manager
}

func rememberSelection(cfg *config.Config, cfgPath string, sess *session.Controller) {
	selected, ok := sess.SelectedPeer()
	if !ok || selected.ID == cfg.SelectedPeerID {
		return
	}
	cfg.SelectedPeerID = selected.ID
	if err := config.Save(cfgPath, cfg); err != nil {
		log.Printf("persist selected peer failed: %v", err)
	}
}
