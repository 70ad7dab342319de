package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/netip"
	"os/signal"
	"runtime"
	"slices"
	"syscall"
	"time"

	"lanwarden/actions"
	"lanwarden/api"
	"lanwarden/blacklist"
	"lanwarden/config"
	"lanwarden/directory"
	"lanwarden/discovery"
	"lanwarden/enforce"
	"lanwarden/netinfo"
	"lanwarden/storage"
)

func main() {
	dataDir, err := config.ResolveDataDir()
	if err != nil {
		log.Fatalf("startup failed while resolving data directory: %v", err)
	}
	if err := config.EnsureDataDirectories(dataDir); err != nil {
		log.Fatalf("startup failed while preparing data directory: %v", err)
	}
	cfgPath := config.ConfigPath(dataDir)
	cfg, err := config.Load(cfgPath, dataDir)
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	network := netinfo.Detect(netinfo.Overrides{Interface: cfg.Interface, Range: cfg.Range})
	fmt.Printf("Config File:     %s\n", cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)
	fmt.Printf("Interface:       %s\n", network.Interface)
	fmt.Printf("Range:           %s\n", network.Range)
	fmt.Printf("Local Address:   %s\n", network.LocalIP)

	blocker, err := actions.NewBlocker(cfg.Firewall, actions.ExecRunner)
	if err != nil {
		log.Fatalf("startup failed while selecting firewall: %v", err)
	}
	fmt.Printf("Firewall:        %s\n", blocker.Name())
	privileged := actions.IsPrivileged()
	if !privileged {
		log.Printf("not running with administrator privileges: disconnects are disabled and blocks may fail")
	}

	var (
		store    blacklist.Store
		recorder enforce.EventRecorder
		events   api.EventSource
		watchFor string
	)
	switch cfg.Store {
	case config.StoreSQLite:
		db, err := storage.OpenPath(cfg.DBPath)
		if err != nil {
			log.Fatalf("startup failed while opening database: %v", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("database close error: %v", err)
			}
		}()
		store, recorder, events = db, db, db
		fmt.Printf("Database File:   %s\n", cfg.DBPath)
	default:
		store = blacklist.NewFileStore(cfg.BlacklistPath)
		watchFor = cfg.BlacklistPath
		fmt.Printf("Blacklist File:  %s\n", cfg.BlacklistPath)
	}

	dir := directory.New(directory.Config{
		ActiveWindow: cfg.ActiveWindow,
		TimeLimit:    time.Duration(cfg.TimeLimitMinutes) * time.Minute,
	})
	manager, err := blacklist.NewManager(blacklist.Config{
		Store:    store,
		Locator:  dir,
		Firewall: blocker,
	})
	if err != nil {
		log.Fatalf("startup failed while loading blacklist: %v", err)
	}
	dir.SetMembership(manager)
	fmt.Printf("Blacklisted:     %d\n", len(manager.List()))

	if watchFor != "" {
		watcher := blacklist.NewWatcher(watchFor, manager)
		if err := watcher.Start(); err != nil {
			log.Printf("blacklist watcher startup failed: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	sources := make([]discovery.HostnameSource, 0, 3)
	if cfg.MDNS {
		index := discovery.NewMDNSIndex(discovery.MDNSConfig{Services: cfg.MDNSServices})
		index.Start()
		defer index.Stop()
		sources = append(sources, index)
	}
	sources = append(sources, discovery.NewPTRResolver(""), discovery.SystemResolver{})

	backends := buildBackends(cfg, network)
	for _, b := range backends {
		if b.Available() {
			fmt.Printf("Backend:         %s\n", b.Name())
		} else {
			fmt.Printf("Backend:         %s (unavailable: %s)\n", b.Name(), discovery.Reason(b))
		}
	}

	scanner, err := discovery.NewScanner(discovery.ScannerConfig{
		Backends:       backends,
		Network:        network,
		FallbackRanges: parseRanges(cfg.FallbackRanges),
		ScanTimeout:    cfg.ScanTimeout,
		Resolver:       discovery.NewHostnameResolver(cfg.HostnameTimeout, sources...),
	}, dir)
	if err != nil {
		log.Fatalf("startup failed while creating scanner: %v", err)
	}

	notifier := actions.NewNotifier(runtime.GOOS, cfg.NotifyPort, cfg.NotifyTimeout, actions.ExecRunner)
	disconnector := actions.NewNeighborDisconnector(runtime.GOOS, blocker, actions.ExecRunner)

	loop, err := enforce.NewLoop(enforce.Config{
		Scanner:      scanner,
		Blocker:      blocker,
		Notifier:     notifier,
		Disconnector: disconnector,
		Recorder:     recorder,
		Interval:     cfg.ScanInterval,
		GraceDelay:   cfg.GraceDelay,
		Message:      cfg.NotifyMessage,
		Privileged:   func() bool { return privileged },
	})
	if err != nil {
		log.Fatalf("startup failed while creating enforcement loop: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.APIListen != "" {
		server, err := api.NewServer(api.Config{
			Devices:       dir,
			Scanner:       scanner,
			Blacklist:     manager,
			Loop:          loop,
			Events:        events,
			Notifier:      notifier,
			Disconnector:  disconnector,
			Network:       network,
			Firewall:      blocker.Name(),
			NotifyMessage: cfg.NotifyMessage,
			Privileged:    func() bool { return privileged },
		})
		if err != nil {
			log.Fatalf("startup failed while creating api server: %v", err)
		}
		go func() {
			if err := server.ListenAndServe(ctx, cfg.APIListen); err != nil {
				log.Printf("api server stopped: %v", err)
			}
		}()
		fmt.Printf("API:             http://%s/api\n", cfg.APIListen)
	}

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("enforcement loop stopped: %v", err)
	}
	fmt.Println("Status:          shutting down")
}

// buildBackends returns the enabled backends in merge order, coarsest first.
func buildBackends(cfg config.Config, network netinfo.Info) []discovery.Backend {
	table := discovery.NewARPTable()
	var backends []discovery.Backend
	if slices.Contains(cfg.Backends, config.BackendARPTable) {
		backends = append(backends, table)
	}
	if slices.Contains(cfg.Backends, config.BackendARPProbe) {
		backends = append(backends, discovery.NewARPProbe(network.Interface, table))
	}
	if slices.Contains(cfg.Backends, config.BackendNmap) {
		backends = append(backends, discovery.NewNmap(cfg.NmapPath, cfg.NmapArgs))
	}
	return backends
}

func parseRanges(values []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		prefix, err := netip.ParsePrefix(v)
		if err != nil {
			log.Printf("ignoring fallback range %q: %v", v, err)
			continue
		}
		out = append(out, prefix.Masked())
	}
	return out
}
