// Command etherip-gateway connects to a set of ControlLogix/CompactLogix
// targets, scans their configured tags, and fans changed values out to
// the enabled MQTT/Valkey/Kafka publishers, with an optional status web
// server and terminal monitor.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/renej-github/etherip/cip"
	"github.com/renej-github/etherip/client"
	"github.com/renej-github/etherip/config"
	"github.com/renej-github/etherip/kafka"
	"github.com/renej-github/etherip/logging"
	"github.com/renej-github/etherip/mqtt"
	"github.com/renej-github/etherip/scan"
	"github.com/renej-github/etherip/tui"
	"github.com/renej-github/etherip/valkey"
	"github.com/renej-github/etherip/web"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to config.yaml")
	debugLogPath := flag.String("debug-log", "", "write protocol debug logging to this file")
	auditLogPath := flag.String("audit-log", "", "append a record of every write-back command to this file")
	webAddr := flag.String("web-addr", "", "override host:port for the status web server (blank uses config)")
	runTUI := flag.Bool("tui", false, "show the terminal tag monitor instead of blocking on signals")
	flag.Parse()

	if *debugLogPath != "" {
		logger, err := logging.NewDebugLogger(*debugLogPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "opening debug log: %v\n", err)
			os.Exit(1)
		}
		logger.SetFilter("enip,cip,client,scan,mqtt,valkey,kafka,web,tui")
		logging.SetGlobalDebugLogger(logger)
		defer logger.Close()
	}

	var audit *logging.AuditLogger
	if *auditLogPath != "" {
		var err error
		audit, err = logging.NewAuditLogger(*auditLogPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "opening audit log: %v\n", err)
			os.Exit(1)
		}
		defer audit.Close()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	gw, err := newGateway(cfg, audit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "starting gateway: %v\n", err)
		os.Exit(1)
	}
	defer gw.Stop()

	var webServer *web.Server
	if cfg.Web.Enabled {
		webCfg := cfg.Web
		if *webAddr != "" {
			host, portStr, err := net.SplitHostPort(*webAddr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid -web-addr %q: %v\n", *webAddr, err)
				os.Exit(1)
			}
			port, err := strconv.Atoi(portStr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid -web-addr port %q: %v\n", portStr, err)
				os.Exit(1)
			}
			webCfg.Host, webCfg.Port = host, port
		}
		webServer = web.NewServer(&webCfg, gw.webTargets())
		if err := webServer.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "starting web server: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("web status server listening on %s\n", webServer.Address())
		defer webServer.Stop()
	}

	if *runTUI {
		monitor := tui.NewMonitor(gw.tuiTargets())
		gw.addPublisher(monitor)
		if err := monitor.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "terminal monitor: %v\n", err)
			os.Exit(1)
		}
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

// gateway owns one connected Session and Scanner per configured PLC.
type gateway struct {
	sessions   map[string]*client.Session
	scanners   map[string]*scan.Scanner
	plcOrder   []string
	mqttPubs   []*mqtt.Publisher
	valkeyPubs []*valkey.Publisher
	kafkaPubs  []*kafka.Publisher
	audit      *logging.AuditLogger
}

func newGateway(cfg *config.Config, audit *logging.AuditLogger) (*gateway, error) {
	gw := &gateway{
		sessions: make(map[string]*client.Session),
		scanners: make(map[string]*scan.Scanner),
		audit:    audit,
	}

	for _, plcCfg := range cfg.PLCs {
		timeout := plcCfg.Timeout
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		session, err := client.Open(plcCfg.Address, plcCfg.Slot, client.Options{Timeout: timeout})
		if err != nil {
			gw.Stop()
			return nil, fmt.Errorf("connecting to %s (%s): %w", plcCfg.Name, plcCfg.Address, err)
		}
		gw.sessions[plcCfg.Name] = session
		gw.plcOrder = append(gw.plcOrder, plcCfg.Name)

		scanner := scan.New(plcCfg.Name, session)
		for _, tag := range plcCfg.Tags {
			scanner.Add(tag.Period, tag.Name)
		}
		gw.scanners[plcCfg.Name] = scanner
	}

	for i := range cfg.MQTT {
		mcfg := cfg.MQTT[i]
		if !mcfg.Enabled {
			continue
		}
		pub := mqtt.NewPublisher(&mcfg)
		pub.SetPLCNames(gw.plcOrder)
		pub.SetWriteHandler(gw.writeHandler("mqtt:" + mcfg.Name))
		pub.SetTagTypeLookup(gw.tagTypeLookup())
		if err := pub.Start(); err != nil {
			logging.DebugLog("mqtt", "start %s failed: %v", mcfg.Name, err)
			continue
		}
		gw.mqttPubs = append(gw.mqttPubs, pub)
		gw.addPublisher(pub)
	}

	for i := range cfg.Valkey {
		vcfg := cfg.Valkey[i]
		if !vcfg.Enabled {
			continue
		}
		pub := valkey.NewPublisher(cfg.Namespace, &vcfg)
		pub.SetWriteHandler(gw.writeHandler("valkey:" + vcfg.Name))
		pub.SetTagTypeLookup(gw.tagTypeLookup())
		if err := pub.Start(); err != nil {
			logging.DebugLog("valkey", "start %s failed: %v", vcfg.Name, err)
			continue
		}
		gw.valkeyPubs = append(gw.valkeyPubs, pub)
		gw.addPublisher(pub)
	}

	for i := range cfg.Kafka {
		kcfg := cfg.Kafka[i]
		if !kcfg.Enabled {
			continue
		}
		pub := kafka.NewPublisher(&kcfg)
		if err := pub.Start(); err != nil {
			logging.DebugLog("kafka", "start %s failed: %v", kcfg.Name, err)
			continue
		}
		gw.kafkaPubs = append(gw.kafkaPubs, pub)
		gw.addPublisher(pub)
	}

	for _, scanner := range gw.scanners {
		scanner.Start()
	}

	return gw, nil
}

func (gw *gateway) addPublisher(p scan.Publisher) {
	for _, scanner := range gw.scanners {
		scanner.AddPublisher(p)
	}
}

// writeHandler services write-back requests from one publisher: look up
// the target's session by name, issue the write, and record the outcome
// in the audit log (if one is configured) against source, the
// publisher's own label.
func (gw *gateway) writeHandler(source string) func(plcName, tagName string, value *cip.Value) error {
	return func(plcName, tagName string, value *cip.Value) error {
		session, ok := gw.sessions[plcName]
		if !ok {
			err := fmt.Errorf("unknown plc %q", plcName)
			if gw.audit != nil {
				gw.audit.LogWrite(source, plcName, tagName, err)
			}
			return err
		}
		err := session.Write(tagName, value)
		if gw.audit != nil {
			gw.audit.LogWrite(source, plcName, tagName, err)
		}
		return err
	}
}

func (gw *gateway) Stop() {
	for _, scanner := range gw.scanners {
		scanner.Stop()
	}
	for _, pub := range gw.mqttPubs {
		pub.Stop()
	}
	for _, pub := range gw.valkeyPubs {
		pub.Stop()
	}
	for _, pub := range gw.kafkaPubs {
		pub.Stop()
	}
	for _, session := range gw.sessions {
		session.Close()
	}
}

func (gw *gateway) webTargets() []web.Target {
	out := make([]web.Target, 0, len(gw.plcOrder))
	for _, name := range gw.plcOrder {
		out = append(out, web.Target{Name: name, Session: gw.sessions[name], Scanner: gw.scanners[name]})
	}
	return out
}

func (gw *gateway) tuiTargets() []tui.Target {
	out := make([]tui.Target, 0, len(gw.plcOrder))
	for _, name := range gw.plcOrder {
		out = append(out, tui.Target{Name: name, Session: gw.sessions[name]})
	}
	return out
}

func (gw *gateway) tagTypeLookup() func(plcName, tagName string) uint16 {
	return func(plcName, tagName string) uint16 {
		scanner, ok := gw.scanners[plcName]
		if !ok {
			return 0
		}
		v, ok := scanner.Snapshot()[tagName]
		if !ok {
			return 0
		}
		return v.Type
	}
}
