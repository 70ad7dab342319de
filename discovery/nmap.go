package discovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/netip"
	"os/exec"
	"strings"

	"lanwarden/config"
	"lanwarden/models"
)

type nmapRun struct {
	XMLName xml.Name   `xml:"nmaprun"`
	Hosts   []nmapHost `xml:"host"`
}

type nmapHost struct {
	Status    nmapStatus    `xml:"status"`
	Addresses []nmapAddress `xml:"address"`
	Hostnames []nmapName    `xml:"hostnames>hostname"`
}

type nmapStatus struct {
	State string `xml:"state,attr"`
}

type nmapAddress struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

type nmapName struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

// Nmap runs an nmap host discovery scan and reads its XML report.
type Nmap struct {
	path string
	args []string
	run  CommandRunner
}

// NewNmap resolves the nmap binary once. When it cannot be found the
// returned backend is unavailable.
func NewNmap(path string, args []string) Backend {
	if path == "" {
		path = "nmap"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Unavailable(config.BackendNmap, fmt.Sprintf("%s not found: %v", path, err))
	}
	return &Nmap{path: resolved, args: append([]string(nil), args...), run: execRunner}
}

func (n *Nmap) Name() string    { return config.BackendNmap }
func (n *Nmap) Available() bool { return true }

// Scan runs nmap against scanRange.
func (n *Nmap) Scan(ctx context.Context, scanRange netip.Prefix) ([]models.Observation, error) {
	args := append(append([]string(nil), n.args...), "-oX", "-", scanRange.String())
	out, err := n.run(ctx, n.path, args...)
	if err != nil {
		return nil, fmt.Errorf("nmap %s: %w", scanRange, err)
	}
	return parseNmapXML(out)
}

func parseNmapXML(raw []byte) ([]models.Observation, error) {
	var run nmapRun
	if err := xml.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("parse nmap xml: %w", err)
	}

	out := make([]models.Observation, 0, len(run.Hosts))
	for _, host := range run.Hosts {
		if host.Status.State != "" && host.Status.State != "up" {
			continue
		}
		obs := models.Observation{Source: config.BackendNmap}
		for _, addr := range host.Addresses {
			switch strings.ToLower(addr.AddrType) {
			case "ipv4":
				obs.IP = addr.Addr
			case "mac":
				obs.MAC = addr.Addr
			}
		}
		// The scanning host itself is reported without a MAC.
		if obs.IP == "" || obs.MAC == "" {
			continue
		}
		for _, name := range host.Hostnames {
			if name.Name != "" {
				obs.Hostname = name.Name
				if name.Type == "PTR" {
					break
				}
			}
		}
		out = append(out, obs)
	}
	return out, nil
}
