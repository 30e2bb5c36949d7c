package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dnsscience/dnsresolve/internal/config"
	"github.com/dnsscience/dnsresolve/internal/hosts"
	"github.com/dnsscience/dnsresolve/internal/listener"
	"github.com/dnsscience/dnsresolve/internal/obs"
	"github.com/dnsscience/dnsresolve/internal/qpool"
	"github.com/dnsscience/dnsresolve/internal/resolve"
	"github.com/dnsscience/dnsresolve/internal/roothints"
	"github.com/dnsscience/dnsresolve/internal/wire"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config file")
	udpAddr := flag.String("udp", "", "UDP listen address (overrides config)")
	tcpAddr := flag.String("tcp", "", "TCP listen address (overrides config)")
	metricsAddr := flag.String("metrics-listen", "", "Prometheus metrics listen address (overrides config)")
	workers := flag.Int("workers", 0, "query worker pool size (0 = runtime.NumCPU()*4)")
	stats := flag.Bool("stats", true, "log statistics periodically")
	flag.Parse()

	log := obs.New(slog.LevelInfo, nil)

	var fileCfg *config.File
	var err error
	if *cfgPath != "" {
		fileCfg, err = config.Load(*cfgPath)
	} else {
		fileCfg = config.Default()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dnsresolved: load config: %v\n", err)
		os.Exit(1)
	}

	if *udpAddr != "" {
		fileCfg.Listen.UDP = *udpAddr
	}
	if *tcpAddr != "" {
		fileCfg.Listen.TCP = *tcpAddr
	}
	if *metricsAddr != "" {
		fileCfg.MetricsListen = *metricsAddr
	}

	rules, err := fileCfg.BuildProxyRules()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dnsresolved: proxy rules: %v\n", err)
		os.Exit(1)
	}

	res := resolve.New(fileCfg.ResolverConfig())
	res.SetProxies(rules)
	res.SetZoneDomains(fileCfg.ZoneDomains)

	if fileCfg.HostsFile != "" {
		f, err := os.Open(fileCfg.HostsFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dnsresolved: open hosts file: %v\n", err)
			os.Exit(1)
		}
		records, err := hosts.Parse(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "dnsresolved: parse hosts file: %v\n", err)
			os.Exit(1)
		}
		res.SetHosts(records)
		log.Info("loaded hosts file", "path", fileCfg.HostsFile, "records", len(records))
	}

	if fileCfg.RootHintsFile != "" {
		records, err := loadRootHints(fileCfg.RootHintsFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dnsresolved: parse root hints: %v\n", err)
			os.Exit(1)
		}
		res.SetRootHints(records)
		log.Info("loaded root hints", "path", fileCfg.RootHintsFile, "records", len(records))
	}

	pool := qpool.New(qpool.Config{Workers: *workers})
	srv := listener.New(listener.Config{
		UDPAddr:  fileCfg.Listen.UDP,
		TCPAddr:  fileCfg.Listen.TCP,
		Resolver: res,
		Pool:     pool,
		Logger:   log,
	})
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "dnsresolved: start listener: %v\n", err)
		os.Exit(1)
	}
	log.Info("listening", "udp", fileCfg.Listen.UDP, "tcp", fileCfg.Listen.TCP, "recursive", fileCfg.Recursive)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Info("metrics listening", "addr", fileCfg.MetricsListen)
		if err := http.ListenAndServe(fileCfg.MetricsListen, mux); err != nil {
			log.Warn("metrics server error", "error", err)
		}
	}()

	if *stats {
		go logStats(srv, log)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	if err := srv.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "dnsresolved: shutdown: %v\n", err)
		os.Exit(1)
	}
	pool.Close()
}

func loadRootHints(path string) ([]wire.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return roothints.Parse(f)
}

func logStats(srv interface{ GetStats() listener.Stats }, log interface{ Info(string, ...any) }) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		s := srv.GetStats()
		log.Info("stats", "queries", s.Queries, "answers", s.Answers, "errors", s.Errors, "nxdomain", s.NXDOMAIN)
	}
}
