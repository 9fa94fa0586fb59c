package main

import (
	"flag"
	"fmt"

	"github.com/aether-mitm/aether/internal/helper"
	log "github.com/sirupsen/logrus"
)

// Config is the merged view of everything the proxy needs to start:
// CLI flags, optionally layered on top of a JSON file loaded with -f.
type Config struct {
	Version bool

	Addr        string
	WebAddr     string
	CertPath    string
	SslInsecure bool

	IgnoreHosts []string
	AllowHosts  []string

	Upstream string

	Debug     int
	Dump      string
	DumpLevel int

	InstanceName    string
	InstanceLogFile string

	filename string
}

func loadConfigFromFile(filename string) (*Config, error) {
	var config Config
	if err := helper.NewStructFromFile(filename, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func loadConfigFromCli() *Config {
	config := new(Config)

	flag.BoolVar(&config.Version, "version", false, "show aether-mitm version")
	flag.StringVar(&config.Addr, "addr", ":8080", "proxy listen addr")
	flag.StringVar(&config.WebAddr, "web_addr", ":9081", "web monitor listen addr, empty disables it")
	flag.BoolVar(&config.SslInsecure, "ssl_insecure", false, "do not verify upstream server TLS certificates")
	flag.Var((*arrayValue)(&config.IgnoreHosts), "ignore_hosts", "a list of hosts to tunnel instead of intercepting (glob, optional :port)")
	flag.Var((*arrayValue)(&config.AllowHosts), "allow_hosts", "a list of hosts to intercept; if set, all other hosts are tunneled")
	flag.StringVar(&config.CertPath, "cert_path", "", "path of the root CA cert/key pair; empty uses an in-memory root")
	flag.IntVar(&config.Debug, "debug", 0, "debug mode: 1 - debug log, 2 - trace log")
	flag.StringVar(&config.Dump, "dump", "", "dump filename")
	flag.IntVar(&config.DumpLevel, "dump_level", 0, "dump level (ignored: every dump holds headers and body)")
	flag.StringVar(&config.Upstream, "upstream", "", "upstream forwarding proxy, e.g. http://127.0.0.1:8081")
	flag.StringVar(&config.InstanceName, "instance_name", "", "instance name tagged on every log line, default derived from -addr")
	flag.StringVar(&config.InstanceLogFile, "instance_log_file", "", "JSON log file for instance-tagged log lines")
	flag.StringVar(&config.filename, "f", "", "read config from the given JSON file")
	flag.Parse()

	return config
}

func mergeConfigs(fileConfig, cliConfig *Config) *Config {
	config := new(Config)
	*config = *fileConfig

	if cliConfig.Addr != "" {
		config.Addr = cliConfig.Addr
	}
	if cliConfig.WebAddr != "" {
		config.WebAddr = cliConfig.WebAddr
	}
	if cliConfig.SslInsecure {
		config.SslInsecure = cliConfig.SslInsecure
	}
	if len(cliConfig.IgnoreHosts) > 0 {
		config.IgnoreHosts = cliConfig.IgnoreHosts
	}
	if len(cliConfig.AllowHosts) > 0 {
		config.AllowHosts = cliConfig.AllowHosts
	}
	if cliConfig.CertPath != "" {
		config.CertPath = cliConfig.CertPath
	}
	if cliConfig.Debug != 0 {
		config.Debug = cliConfig.Debug
	}
	if cliConfig.Dump != "" {
		config.Dump = cliConfig.Dump
	}
	if cliConfig.DumpLevel != 0 {
		config.DumpLevel = cliConfig.DumpLevel
	}
	if cliConfig.Upstream != "" {
		config.Upstream = cliConfig.Upstream
	}
	if cliConfig.InstanceName != "" {
		config.InstanceName = cliConfig.InstanceName
	}
	if cliConfig.InstanceLogFile != "" {
		config.InstanceLogFile = cliConfig.InstanceLogFile
	}
	return config
}

func loadConfig() *Config {
	cliConfig := loadConfigFromCli()
	if cliConfig.Version || cliConfig.filename == "" {
		return cliConfig
	}

	fileConfig, err := loadConfigFromFile(cliConfig.filename)
	if err != nil {
		log.Warnf("read config from %v error %v", cliConfig.filename, err)
		return cliConfig
	}
	return mergeConfigs(fileConfig, cliConfig)
}

// arrayValue implements flag.Value, collecting repeated occurrences of
// the same flag into a slice.
type arrayValue []string

func (a *arrayValue) String() string {
	return fmt.Sprint(*a)
}

func (a *arrayValue) Set(value string) error {
	*a = append(*a, value)
	return nil
}
