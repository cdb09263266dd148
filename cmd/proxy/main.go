// Package main wires together the configuration, secret store, malware
// lists, firewall rules, proxy service, and meta server into a running
// safechain proxy process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/config"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/events"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall/rule/chrome"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall/rule/maven"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall/rule/npm"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall/rule/nuget"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall/rule/openvsx"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall/rule/pypi"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall/rule/skillssh"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall/rule/vscode"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/httpclient"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/malwarelist"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/proxy/cert"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/proxy/meta"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/proxy/proxy"
	"github.com/AikidoSec/safechain-internals-sub000/pkg/secretstore"
)

var configPath = flag.String("config", "", "path to the YAML configuration file")

const userAgent = "safechain-proxy/1.0"

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directory")
	}

	secrets, err := buildSecretStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build secret store")
	}

	ca, err := cert.LoadOrGenerateCA(ctx, secrets)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load or generate root CA")
	}
	proxy.ConfigureGoproxyCA(ca)

	// 5 requests/sec, burst 5: caps the combined rate of the eight
	// malware-list refresh loops and the blocked-event notifier, which all
	// share this client.
	client := httpclient.New(30*time.Second, 30*time.Second, 0, userAgent, rate.Limit(5), 5)

	blobs, err := malwarelist.NewFileBlobStore(filepath.Join(cfg.DataDir, "malware-lists"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open malware list cache directory")
	}

	rules := buildRules(ctx, cfg, client, blobs)
	for _, r := range rules.lists {
		go r.Run(ctx)
	}

	store := events.NewStore(cfg.EventRetention, cfg.MaxEvents)
	var notifier *events.Notifier
	if cfg.ReportingEndpoint != "" {
		notifier = events.NewNotifier(cfg.ReportingEndpoint, client, userAgent)
		defer notifier.Stop()
	}

	fw := firewall.New(rules.rules, func(ctx context.Context, artifact firewall.Artifact) {
		ev := store.Record(artifact, time.Now())
		if notifier != nil {
			notifier.Notify(ctx, ev)
		}
	})

	svc, netLog := proxy.NewService(fw, ca, proxy.ServiceOpts{MitmAll: cfg.MitmAll})

	proxyAddr, err := svc.ListenAndServe(cfg.ProxyAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start proxy listener")
	}
	log.Info().Str("addr", proxyAddr).Msg("proxy listening")
	if err := writeAddrFile(cfg.DataDir, "proxy.addr.txt", proxyAddr); err != nil {
		log.Warn().Err(err).Msg("failed to write proxy address file")
	}

	tlsProxyAddr, err := svc.ServeTransparent(ctx, cfg.ProxyAddr)
	if err != nil {
		log.Warn().Err(err).Msg("failed to start transparent listener")
	} else {
		log.Info().Str("addr", tlsProxyAddr).Msg("transparent dispatch listening")
	}

	metaServer := meta.New(ca, fw, store, netLog, proxyAddr)
	metaAddr, err := metaServer.ListenAndServeTLS(cfg.MetaAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start meta server")
	}
	log.Info().Str("addr", metaAddr).Msg("meta server listening")
	if err := writeAddrFile(cfg.DataDir, "meta.addr.txt", metaAddr); err != nil {
		log.Warn().Err(err).Msg("failed to write meta address file")
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error shutting down proxy")
	}
	if err := metaServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error shutting down meta server")
	}
}

func buildSecretStore(cfg config.Config) (secretstore.Store, error) {
	switch cfg.SecretBackend {
	case config.SecretBackendKeyring:
		return secretstore.NewKeyringStore(cfg.KeyringService), nil
	case config.SecretBackendMemory:
		return secretstore.NewMemoryStore(), nil
	default:
		return secretstore.NewFileStore(filepath.Join(cfg.DataDir, "secrets"))
	}
}

type ruleSet struct {
	rules []firewall.Rule
	lists []*malwarelist.List
}

// buildRules constructs every ecosystem's malware list and firewall rule,
// one of each per ecosystem, each sourced from <base>/malware_<name>.json.
func buildRules(ctx context.Context, cfg config.Config, client httpclient.Doer, blobs malwarelist.BlobStore) ruleSet {
	var rs ruleSet

	newList := func(name string, formatter malwarelist.EntryFormatter) *malwarelist.List {
		uri := cfg.MalwareListBaseURL + "/malware_" + name + ".json"
		l := malwarelist.New(ctx, uri, formatter, client, blobs)
		rs.lists = append(rs.lists, l)
		return l
	}

	npmList := newList("npm", malwarelist.LowercaseTrimFormatter)
	pypiList := newList("pypi", malwarelist.LowercaseTrimFormatter)
	mavenList := newList("maven", malwarelist.LowercaseTrimFormatter)
	openvsxList := newList("open_vsx", malwarelist.LowercaseTrimFormatter)
	vscodeList := newList("vscode_marketplace", malwarelist.LowercaseTrimFormatter)
	chromeList := newList("chrome_web_store", malwarelist.LowercaseTrimFormatter)
	skillsList := newList("skills_sh", skillssh.Formatter)
	nugetList := newList("nuget", malwarelist.LowercaseTrimFormatter)

	rs.rules = []firewall.Rule{
		npm.New(npmList),
		pypi.New(pypiList),
		maven.New(mavenList),
		openvsx.New(openvsxList),
		vscode.New(vscodeList),
		chrome.New(chromeList),
		skillssh.New(skillsList),
		nuget.New(nugetList),
	}
	return rs
}

func writeAddrFile(dataDir, name, addr string) error {
	return os.WriteFile(filepath.Join(dataDir, name), []byte(addr), 0o644)
}
