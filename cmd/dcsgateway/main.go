package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	canopen "github.com/cerndcs/dcsopc-gateway"
	"github.com/cerndcs/dcsopc-gateway/supervisor"

	log "github.com/sirupsen/logrus"
)

var DEFAULT_TRANSPORT = "direct"
var DEFAULT_CAN_INTERFACE = "can0"
var DEFAULT_NETWORK_ADDR = "127.0.0.1:11898"
var DEFAULT_BITRATE = 125000
var DEFAULT_SCAN_TIMEOUT = 50 * time.Millisecond
var DEFAULT_SWEEP_INTERVAL = time.Second
var DEFAULT_WRITE_TIMEOUT = time.Second

func main() {
	log.SetLevel(log.InfoLevel)

	transportKind := flag.String("transport", DEFAULT_TRANSPORT, "bus transport: direct|networked")
	iface := flag.String("iface", DEFAULT_CAN_INTERFACE, "socketcan interface (direct transport only)")
	addr := flag.String("addr", DEFAULT_NETWORK_ADDR, "TCP address of the networked bus bridge (networked transport only)")
	bitrate := flag.Int("bitrate", DEFAULT_BITRATE, "bus bitrate in bit/s")
	edsPath := flag.String("eds", "", "EDS file describing each controller's object dictionary (if unset, falls back to the built-in schema)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	transport, err := newTransport(*transportKind, *iface, *addr, *bitrate)
	if err != nil {
		fmt.Printf("invalid transport configuration: %v\n", err)
		os.Exit(1)
	}
	if err := transport.Open(); err != nil {
		fmt.Printf("failed to open transport: %v\n", err)
		os.Exit(1)
	}
	defer transport.Close()

	sdo := canopen.NewSdoClient(transport)
	scanner := canopen.NewScanner(sdo, DEFAULT_SCAN_TIMEOUT)
	sup := supervisor.NewSupervisor(sdo, scanner, DEFAULT_SWEEP_INTERVAL)
	// bridge is the boundary a supervisory-protocol frontend (out of
	// scope here) drives via ListControllers/Subscribe/SubmitExternalWrite.
	bridge := supervisor.NewExternalBridge(sup, sdo, DEFAULT_WRITE_TIMEOUT)
	if *edsPath != "" {
		bridge.UseEDS(*edsPath)
	}

	done := make(chan error, 1)
	go func() { done <- sup.Run() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-done:
		if err != nil {
			fmt.Printf("supervisor stopped: %v\n", err)
			os.Exit(1)
		}
	case <-sig:
		log.Info("[GATEWAY] shutting down")
		sup.Shutdown()
		<-done
	}
}

func newTransport(kind, iface, addr string, bitrate int) (canopen.Transport, error) {
	switch kind {
	case "direct":
		return canopen.NewDirectTransport(iface, bitrate), nil
	case "networked":
		return canopen.NewNetworkedTransport(addr, bitrate), nil
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", canopen.ErrIllegalArgument, kind)
	}
}
