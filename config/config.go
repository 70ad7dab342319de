package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "lanwarden"
	// DataDirEnv overrides the resolved data directory.
	DataDirEnv = "LANWARDEN_DATA_DIR"

	// DefaultScanInterval is the pause between enforcement cycles.
	DefaultScanInterval = 30 * time.Second
	// DefaultScanTimeout bounds each backend call.
	DefaultScanTimeout = 10 * time.Second
	// DefaultHostnameTimeout bounds each hostname lookup step.
	DefaultHostnameTimeout = time.Second
	// DefaultActiveWindow is how recently a device must be seen to be ACTIVE.
	DefaultActiveWindow = 300 * time.Second
	// DefaultGraceDelay is the pause between notifying and disconnecting.
	DefaultGraceDelay = 5 * time.Second
	// DefaultTimeLimitMinutes is the informational connection time limit.
	DefaultTimeLimitMinutes = 120
	// DefaultNotifyPort is the UDP port notifications are sent to.
	DefaultNotifyPort = 9999
	// DefaultNotifyTimeout bounds each notification send.
	DefaultNotifyTimeout = 2 * time.Second
	// DefaultNotifyMessage is sent to a device when it gets blocked.
	DefaultNotifyMessage = "Your device has been blocked by the network administrator."
	// DefaultAPIListen is the operator HTTP listen address.
	DefaultAPIListen = "127.0.0.1:8077"

	// StoreJSON keeps the blacklist in a JSON file.
	StoreJSON = "json"
	// StoreSQLite keeps the blacklist and enforcement events in SQLite.
	StoreSQLite = "sqlite"

	// FirewallAuto picks the first available firewall tool.
	FirewallAuto = "auto"
	// FirewallNFT uses nftables.
	FirewallNFT = "nft"
	// FirewallIPTables uses iptables.
	FirewallIPTables = "iptables"
	// FirewallNetsh uses the Windows advanced firewall.
	FirewallNetsh = "netsh"
	// FirewallNone only logs block requests.
	FirewallNone = "none"

	configFileName        = "lanwarden.ini"
	defaultBlacklistFile  = "blacklist.json"
	defaultDatabaseFile   = "lanwarden.db"
	defaultNmapPath       = "nmap"
	defaultFallbackRanges = "192.168.0.0/24,192.168.1.0/24,192.168.2.0/24,192.168.3.0/24,10.0.0.0/24,172.16.0.0/24"
)

// Backend names accepted in the scan backends list.
const (
	BackendARPTable = "arp-table"
	BackendARPProbe = "arp-probe"
	BackendNmap     = "nmap"
)

// Config is the immutable runtime configuration. It is built once by Load
// and passed by value.
type Config struct {
	DataDir string

	Interface string
	Range     string

	ScanInterval    time.Duration
	ScanTimeout     time.Duration
	HostnameTimeout time.Duration
	Backends        []string
	NmapPath        string
	NmapArgs        []string
	MDNS            bool
	MDNSServices    []string
	FallbackRanges  []string

	ActiveWindow     time.Duration
	GraceDelay       time.Duration
	TimeLimitMinutes int
	Firewall         string

	NotifyMessage string
	NotifyPort    int
	NotifyTimeout time.Duration

	Store         string
	BlacklistPath string
	DBPath        string

	APIListen string
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If LANWARDEN_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to lanwarden.ini for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory if needed.
func EnsureDataDirectories(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", dataDir, err)
	}
	return nil
}

// Default returns the built-in configuration rooted at dataDir.
func Default(dataDir string) Config {
	return Config{
		DataDir:          dataDir,
		ScanInterval:     DefaultScanInterval,
		ScanTimeout:      DefaultScanTimeout,
		HostnameTimeout:  DefaultHostnameTimeout,
		Backends:         []string{BackendARPTable, BackendARPProbe, BackendNmap},
		NmapPath:         defaultNmapPath,
		NmapArgs:         []string{"-sn"},
		MDNS:             true,
		MDNSServices:     []string{"_workstation._tcp", "_device-info._tcp", "_googlecast._tcp", "_airplay._tcp", "_companion-link._tcp", "_smb._tcp"},
		FallbackRanges:   splitList(defaultFallbackRanges),
		ActiveWindow:     DefaultActiveWindow,
		GraceDelay:       DefaultGraceDelay,
		TimeLimitMinutes: DefaultTimeLimitMinutes,
		Firewall:         FirewallAuto,
		NotifyMessage:    DefaultNotifyMessage,
		NotifyPort:       DefaultNotifyPort,
		NotifyTimeout:    DefaultNotifyTimeout,
		Store:            StoreJSON,
		BlacklistPath:    filepath.Join(dataDir, defaultBlacklistFile),
		DBPath:           filepath.Join(dataDir, defaultDatabaseFile),
		APIListen:        DefaultAPIListen,
	}
}

// Load builds a Config from defaults, the ini file at path (optional) and
// LANWARDEN_* environment overrides, in that order.
func Load(path, dataDir string) (Config, error) {
	cfg := Default(dataDir)

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return Config{}, err
	}

	cfg.BlacklistPath = resolvePath(dataDir, cfg.BlacklistPath)
	cfg.DBPath = resolvePath(dataDir, cfg.DBPath)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config: %w", err)
	}

	file, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, path)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	var kp keyParser
	network := file.Section("network")
	c.Interface = network.Key("interface").MustString(c.Interface)
	c.Range = network.Key("range").MustString(c.Range)
	if network.HasKey("fallback_ranges") {
		c.FallbackRanges = splitList(network.Key("fallback_ranges").String())
	}

	scan := file.Section("scan")
	kp.duration(scan, "interval", &c.ScanInterval)
	kp.duration(scan, "timeout", &c.ScanTimeout)
	kp.duration(scan, "hostname_timeout", &c.HostnameTimeout)
	if scan.HasKey("backends") {
		c.Backends = splitList(scan.Key("backends").String())
	}
	c.NmapPath = scan.Key("nmap").MustString(c.NmapPath)
	if scan.HasKey("nmap_args") {
		c.NmapArgs = strings.Fields(scan.Key("nmap_args").String())
	}
	kp.bool(scan, "mdns", &c.MDNS)
	if scan.HasKey("mdns_services") {
		c.MDNSServices = splitList(scan.Key("mdns_services").String())
	}

	enforce := file.Section("enforce")
	kp.duration(enforce, "active_window", &c.ActiveWindow)
	kp.duration(enforce, "grace_delay", &c.GraceDelay)
	kp.int(enforce, "time_limit_minutes", &c.TimeLimitMinutes)
	c.Firewall = enforce.Key("firewall").MustString(c.Firewall)

	notify := file.Section("notify")
	c.NotifyMessage = notify.Key("message").MustString(c.NotifyMessage)
	kp.int(notify, "port", &c.NotifyPort)
	kp.duration(notify, "timeout", &c.NotifyTimeout)

	store := file.Section("store")
	c.Store = store.Key("backend").MustString(c.Store)
	c.BlacklistPath = store.Key("blacklist").MustString(c.BlacklistPath)
	c.DBPath = store.Key("database").MustString(c.DBPath)

	api := file.Section("api")
	if api.HasKey("listen") {
		c.APIListen = strings.TrimSpace(api.Key("listen").String())
	}

	return kp.err
}

// keyParser reads typed ini values, keeping the first malformed one as an
// error instead of silently falling back to the default.
type keyParser struct {
	err error
}

func (p *keyParser) fail(sec *ini.Section, name string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("parse config [%s] %s: %w", sec.Name(), name, err)
	}
}

func (p *keyParser) duration(sec *ini.Section, name string, dst *time.Duration) {
	if !sec.HasKey(name) {
		return
	}
	v, err := time.ParseDuration(strings.TrimSpace(sec.Key(name).String()))
	if err != nil {
		p.fail(sec, name, err)
		return
	}
	*dst = v
}

func (p *keyParser) int(sec *ini.Section, name string, dst *int) {
	if !sec.HasKey(name) {
		return
	}
	v, err := strconv.Atoi(strings.TrimSpace(sec.Key(name).String()))
	if err != nil {
		p.fail(sec, name, err)
		return
	}
	*dst = v
}

func (p *keyParser) bool(sec *ini.Section, name string, dst *bool) {
	if !sec.HasKey(name) {
		return
	}
	v, err := strconv.ParseBool(strings.TrimSpace(sec.Key(name).String()))
	if err != nil {
		p.fail(sec, name, err)
		return
	}
	*dst = v
}

func (c *Config) loadEnv() error {
	if v := os.Getenv("LANWARDEN_INTERFACE"); v != "" {
		c.Interface = v
	}
	if v := os.Getenv("LANWARDEN_RANGE"); v != "" {
		c.Range = v
	}
	if v := os.Getenv("LANWARDEN_BACKENDS"); v != "" {
		c.Backends = splitList(v)
	}
	if v := os.Getenv("LANWARDEN_NMAP"); v != "" {
		c.NmapPath = v
	}
	if v := os.Getenv("LANWARDEN_FIREWALL"); v != "" {
		c.Firewall = v
	}
	if v := os.Getenv("LANWARDEN_STORE"); v != "" {
		c.Store = v
	}
	if v, ok := os.LookupEnv("LANWARDEN_API_LISTEN"); ok {
		c.APIListen = strings.TrimSpace(v)
	}
	if v := os.Getenv("LANWARDEN_MDNS"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse LANWARDEN_MDNS: %w", err)
		}
		c.MDNS = enabled
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"LANWARDEN_SCAN_INTERVAL", &c.ScanInterval},
		{"LANWARDEN_SCAN_TIMEOUT", &c.ScanTimeout},
		{"LANWARDEN_GRACE_DELAY", &c.GraceDelay},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.env, err)
		}
		*d.dst = parsed
	}

	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.ScanInterval <= 0 {
		return errors.New("scan interval must be > 0")
	}
	if c.ScanTimeout <= 0 {
		return errors.New("scan timeout must be > 0")
	}
	if c.ActiveWindow <= 0 {
		return errors.New("active window must be > 0")
	}
	if c.GraceDelay < 0 {
		return errors.New("grace delay must be >= 0")
	}
	if c.TimeLimitMinutes <= 0 {
		return errors.New("time limit must be > 0")
	}
	if c.NotifyPort <= 0 || c.NotifyPort > 65535 {
		return fmt.Errorf("notify port %d out of range", c.NotifyPort)
	}

	for _, name := range c.Backends {
		switch name {
		case BackendARPTable, BackendARPProbe, BackendNmap:
		default:
			return fmt.Errorf("unknown scan backend %q", name)
		}
	}

	switch c.Firewall {
	case FirewallAuto, FirewallNFT, FirewallIPTables, FirewallNetsh, FirewallNone:
	default:
		return fmt.Errorf("unknown firewall %q", c.Firewall)
	}

	switch c.Store {
	case StoreJSON:
		if strings.TrimSpace(c.BlacklistPath) == "" {
			return errors.New("blacklist path is required")
		}
	case StoreSQLite:
		if strings.TrimSpace(c.DBPath) == "" {
			return errors.New("database path is required")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	if c.Range != "" {
		if _, err := netip.ParsePrefix(c.Range); err != nil {
			return fmt.Errorf("parse range: %w", err)
		}
	}
	for _, r := range c.FallbackRanges {
		if _, err := netip.ParsePrefix(r); err != nil {
			return fmt.Errorf("parse fallback range: %w", err)
		}
	}

	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func resolvePath(dataDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dataDir, path)
}
