package main

import (
	"fmt"
	"net/url"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/aether-mitm/aether/addon"
	"github.com/aether-mitm/aether/internal/helper"
	"github.com/aether-mitm/aether/proxy"
)

const version = "0.1.0"

func main() {
	config := loadConfig()

	if config.Version {
		fmt.Println("aether-mitm: " + version)
		os.Exit(0)
	}

	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	switch config.Debug {
	case 1:
		log.SetLevel(log.DebugLevel)
	case 2:
		log.SetLevel(log.TraceLevel)
		log.SetReportCaller(true)
	default:
		log.SetLevel(log.InfoLevel)
	}

	opts := &proxy.Options{
		Addr:               config.Addr,
		CertPath:           config.CertPath,
		InsecureSkipVerify: config.SslInsecure,
		ShouldIntercept:    shouldIntercept(config.IgnoreHosts, config.AllowHosts),
	}

	if config.Upstream != "" {
		u, err := url.Parse(config.Upstream)
		if err != nil {
			log.Fatalf("invalid -upstream %q: %v", config.Upstream, err)
		}
		opts.UpstreamProxy = u
	}

	opts.Addons = append(opts.Addons, addon.NewInstanceLogWithFile(config.Addr, config.InstanceName, config.InstanceLogFile))
	opts.Addons = append(opts.Addons, &addon.Decoder{})

	if config.Dump != "" {
		opts.Addons = append(opts.Addons, addon.NewDumperWithFile(config.Dump))
	}

	if config.WebAddr != "" {
		opts.Addons = append(opts.Addons, addon.NewWebAddon(config.WebAddr))
	}

	p, err := proxy.NewProxy(opts)
	if err != nil {
		log.Fatal(err)
	}

	log.Infof("aether-mitm %v listening at %v", version, config.Addr)
	log.Fatal(p.Start())
}

// shouldIntercept builds a proxy.Options.ShouldIntercept predicate from
// the -allow_hosts/-ignore_hosts flags: allow, if set, is checked first
// and anything not matching it is tunneled untouched; ignore then
// excludes matching hosts from an otherwise-intercepted set.
func shouldIntercept(ignore, allow []string) func(string) bool {
	if len(ignore) == 0 && len(allow) == 0 {
		return nil
	}
	return func(target string) bool {
		if len(allow) > 0 && !helper.MatchHost(target, allow) {
			return false
		}
		if len(ignore) > 0 && helper.MatchHost(target, ignore) {
			return false
		}
		return true
	}
}
