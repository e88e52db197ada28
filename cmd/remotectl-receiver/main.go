// Command remotectl-receiver accepts controller connections over TCP and QUIC,
// advertises itself over mDNS and logs every command it decodes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os/signal"
	"syscall"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"remotectl/crypto"
	"remotectl/discovery"
	"remotectl/link"
	"remotectl/logging"
	"remotectl/transport"
)

func main() {
	configPath := flag.String("config", "", "path to receiver.yaml")
	flag.Parse()

	cfg, err := loadReceiverConfig(*configPath)
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	logger, closeLogs, err := logging.Setup(cfg.logConfig())
	if err != nil {
		log.Fatalf("startup failed while configuring logging: %v", err)
	}
	defer closeLogs()

	privatePath, publicPath := cfg.keyPaths()
	identity, err := crypto.LoadOrCreateIdentity(privatePath, publicPath)
	if err != nil {
		logger.Fatal("prepare identity", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recv := newReceiver(logger, func(source string, cmd link.Command) {
		logger.Info("command", zap.String("source", source), zap.Stringer("command", cmd), zap.Uint32("code", uint32(cmd)))
	})

	tcpListener, err := net.Listen("tcp", cfg.TCPListen)
	if err != nil {
		logger.Fatal("listen tcp", zap.String("addr", cfg.TCPListen), zap.Error(err))
	}
	go recv.serveTCP(ctx, tcpListener)
	tcpPort := tcpListener.Addr().(*net.TCPAddr).Port

	quicPort := 0
	var quicListener *quic.Listener
	if cfg.QUICListen != "" {
		tlsConfig, err := identity.ServerTLSConfig(cfg.Name, transport.QUICALPN)
		if err != nil {
			logger.Fatal("prepare tls", zap.Error(err))
		}
		quicListener, err = quic.ListenAddr(cfg.QUICListen, tlsConfig, nil)
		if err != nil {
			logger.Fatal("listen quic", zap.String("addr", cfg.QUICListen), zap.Error(err))
		}
		go recv.serveQUIC(ctx, quicListener)
		quicPort = quicListener.Addr().(*net.UDPAddr).Port
	}

	fmt.Printf("Receiver ID:     %s\n", cfg.ID)
	fmt.Printf("Receiver Name:   %s\n", cfg.Name)
	fmt.Printf("Fingerprint:     %s\n", crypto.FormatFingerprint(identity.Fingerprint))
	fmt.Printf("TCP:             %s\n", tcpListener.Addr())
	if quicListener != nil {
		fmt.Printf("QUIC:            %s\n", transport.QUICAddress(quicListener.Addr().String(), identity.Fingerprint))
	}

	if cfg.Advertise {
		broadcaster, err := discovery.StartBroadcaster(discovery.MDNSConfig{
			SelfID:       cfg.ID,
			InstanceName: cfg.Name,
			TCPPort:      tcpPort,
			QUICPort:     quicPort,
			Fingerprint:  identity.Fingerprint,
		})
		if err != nil {
			logger.Warn("mdns broadcast unavailable", zap.Error(err))
		} else {
			defer broadcaster.Stop()
			fmt.Println("Discovery:       advertising")
		}
	}

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")

	_ = tcpListener.Close()
	if quicListener != nil {
		_ = quicListener.Close()
	}
	recv.wait()
}
