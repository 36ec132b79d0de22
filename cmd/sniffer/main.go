// The sniffer command prints live gamemode bridge traffic from a network
// device. It reassembles each direction of the TCP stream and decodes
// whole frames as they complete, which makes it a lighter-weight
// alternative to enabling frame logging on the host.
//
// Capture must begin before the client attaches: a capture that joins an
// established stream mid frame has no way to find the next frame boundary.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

var (
	device = flag.String("d", "lo", "Device on which to listen for packets")
	port   = flag.Int("p", 7777, "TCP port the bridge host is listening on")
)

func main() {
	flag.Parse()

	if !deviceExists() {
		exit("invalid device: %s", *device)
	}

	handle, err := pcap.OpenLive(*device, math.MaxInt32, false, pcap.BlockForever)
	if err != nil {
		exit("error opening handle: %v", err)
	}
	if err := handle.SetBPFFilter(fmt.Sprintf("tcp and port %d", *port)); err != nil {
		exit("error setting filter: %v", err)
	}

	fmt.Printf("sniffing bridge traffic on %s port %d\n", *device, *port)

	s := &sniffer{hostPort: uint16(*port)}
	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	s.startReading(packetSource.Packets())
}

func exit(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}

func deviceExists() bool {
	devs, _ := pcap.FindAllDevs()
	for _, dev := range devs {
		if dev.Name == *device {
			return true
		}
	}
	return false
}
