//go:build pcap

package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"lanwarden/config"
	"lanwarden/models"
	"lanwarden/netinfo"
)

// ARPProbe sends raw ARP requests for every address in the range and
// collects the replies.
type ARPProbe struct {
	iface  *net.Interface
	srcIP  net.IP
	srcMAC net.HardwareAddr
}

// NewARPProbe opens the capture device once to decide availability.
func NewARPProbe(ifaceName string, _ *ARPTable) Backend {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return Unavailable(config.BackendARPProbe, fmt.Sprintf("interface %s: %v", ifaceName, err))
	}
	srcIP := interfaceIPv4(iface)
	if srcIP == nil {
		return Unavailable(config.BackendARPProbe, fmt.Sprintf("interface %s has no IPv4 address", ifaceName))
	}
	if len(iface.HardwareAddr) != 6 {
		return Unavailable(config.BackendARPProbe, fmt.Sprintf("interface %s has no ethernet address", ifaceName))
	}

	handle, err := pcap.OpenLive(iface.Name, 128, false, 100*time.Millisecond)
	if err != nil {
		return Unavailable(config.BackendARPProbe, fmt.Sprintf("open capture: %v", err))
	}
	handle.Close()

	return &ARPProbe{iface: iface, srcIP: srcIP, srcMAC: iface.HardwareAddr}
}

func (p *ARPProbe) Name() string    { return config.BackendARPProbe }
func (p *ARPProbe) Available() bool { return true }

// Scan sends one ARP request per host and collects replies until ctx is
// close to its deadline.
func (p *ARPProbe) Scan(ctx context.Context, scanRange netip.Prefix) ([]models.Observation, error) {
	handle, err := pcap.OpenLive(p.iface.Name, 128, false, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer handle.Close()
	if err := handle.SetBPFFilter("arp"); err != nil {
		return nil, fmt.Errorf("set capture filter: %w", err)
	}

	listenCtx, cancel := sweepBudget(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		found = make(map[string]models.Observation)
		wg    sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for listenCtx.Err() == nil {
			data, _, err := handle.ReadPacketData()
			if err != nil {
				if errors.Is(err, pcap.NextErrorTimeoutExpired) {
					continue
				}
				return
			}
			packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
			arpLayer := packet.Layer(layers.LayerTypeARP)
			if arpLayer == nil {
				continue
			}
			arp := arpLayer.(*layers.ARP)
			if arp.Operation != layers.ARPReply {
				continue
			}
			ip, ok := netip.AddrFromSlice(arp.SourceProtAddress)
			if !ok || !scanRange.Contains(ip.Unmap()) {
				continue
			}
			mu.Lock()
			found[ip.String()] = models.Observation{
				IP:     ip.Unmap().String(),
				MAC:    net.HardwareAddr(arp.SourceHwAddress).String(),
				Source: config.BackendARPProbe,
			}
			mu.Unlock()
		}
	}()

	for _, addr := range netinfo.Hosts(scanRange, maxProbeHosts) {
		if listenCtx.Err() != nil {
			break
		}
		if err := p.sendRequest(handle, addr); err != nil {
			cancel()
			wg.Wait()
			return nil, err
		}
		time.Sleep(2 * time.Millisecond)
	}

	<-listenCtx.Done()
	wg.Wait()

	out := make([]models.Observation, 0, len(found))
	for _, obs := range found {
		out = append(out, obs)
	}
	return out, nil
}

func (p *ARPProbe) sendRequest(handle *pcap.Handle, dst netip.Addr) error {
	dst4 := dst.As4()
	eth := &layers.Ethernet{
		SrcMAC:       p.srcMAC,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte(p.srcMAC),
		SourceProtAddress: []byte(p.srcIP.To4()),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    dst4[:],
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		return fmt.Errorf("serialize arp request: %w", err)
	}
	if err := handle.WritePacketData(buf.Bytes()); err != nil {
		return fmt.Errorf("send arp request to %s: %w", dst, err)
	}
	return nil
}

func interfaceIPv4(iface *net.Interface) net.IP {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok {
			if ip := ipNet.IP.To4(); ip != nil {
				return ip
			}
		}
	}
	return nil
}
