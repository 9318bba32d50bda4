package micwatch

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"atelier/internal/logging"
)

const defaultDeviceDir = "/dev/snd"

// Monitor tracks ALSA capture nodes.
type Monitor struct {
	logger    *slog.Logger
	deviceDir string

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
	nodes   map[string]struct{}
}

// NewMonitor creates a monitor rooted at /dev/snd.
func NewMonitor(logger *slog.Logger) *Monitor {
	return &Monitor{
		logger:    logging.NewComponentLogger(logger, "micwatch"),
		deviceDir: defaultDeviceDir,
		nodes:     map[string]struct{}{},
	}
}

// Start crawls the current device set and begins listening for udev events.
// A netlink connect failure is non-fatal; presence then reflects the crawl
// only.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	m.crawlLocked()

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; capture hotplug tracking disabled",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, quit)

	m.logger.Info("capture device monitor started",
		logging.String(logging.FieldEventType, "micwatch_started"),
		logging.Int("capture_nodes", len(m.nodes)))
	return nil
}

// Stop shuts the monitor down.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false
}

// Present reports whether at least one capture node exists.
func (m *Monitor) Present() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.nodes) > 0 {
		return true
	}
	// Without a netlink subscription the crawl result can go stale, so
	// re-check the device directory on a negative answer.
	if !m.running {
		m.crawlLocked()
	}
	return len(m.nodes) > 0
}

func (m *Monitor) crawlLocked() {
	m.nodes = map[string]struct{}{}
	entries, err := os.ReadDir(m.deviceDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if isCaptureNode(entry.Name()) {
			m.nodes[entry.Name()] = struct{}{}
		}
	}
}

// isCaptureNode matches ALSA pcmC*D*c entries.
func isCaptureNode(name string) bool {
	return strings.HasPrefix(name, "pcm") && strings.HasSuffix(name, "c")
}

func (m *Monitor) monitorLoop(ctx context.Context, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(queue, errs, soundMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(uevent)
		case err := <-errs:
			m.logger.Warn("netlink monitor error", logging.Error(err),
				logging.String(logging.FieldEventType, "micwatch_error"))
		}
	}
}

func soundMatcher() netlink.Matcher {
	action := "add|remove|change"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "sound",
		},
	})
	return rules
}

func (m *Monitor) handleEvent(uevent netlink.UEvent) {
	devname := uevent.Env["DEVNAME"]
	if devname == "" {
		return
	}
	name := devname[strings.LastIndex(devname, "/")+1:]
	if !isCaptureNode(name) {
		return
	}

	m.mu.Lock()
	switch uevent.Action {
	case netlink.REMOVE:
		delete(m.nodes, name)
	default:
		m.nodes[name] = struct{}{}
	}
	count := len(m.nodes)
	m.mu.Unlock()

	m.logger.Info("capture device set changed",
		logging.String(logging.FieldEventType, "micwatch_changed"),
		logging.String("device", name),
		logging.String("action", string(uevent.Action)),
		logging.Int("capture_nodes", count))
}
