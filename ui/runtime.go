// Package ui is the Qt control window: a peer selector, the connect toggle,
// the two command buttons and a status readout.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/therecipe/qt/core"
	"github.com/therecipe/qt/gui"
	"github.com/therecipe/qt/widgets"

	"remotectl/discovery"
	"remotectl/link"
	"remotectl/session"
)

const uiPumpIntervalMS = 33

// RunOptions configures the GUI runtime.
type RunOptions struct {
	Title string
	// Session receives every intent raised by the window.
	Session *session.Controller
	// Bridge must be the one whose callbacks were passed to the session.
	Bridge *Bridge
	// Discovery backs the Discover button; nil hides it.
	Discovery       *discovery.Manager
	DiscoverOnStart bool
}

func (o RunOptions) validate() error {
	if o.Session == nil {
		return errors.New("session is required")
	}
	if o.Bridge == nil {
		return errors.New("bridge is required")
	}
	return nil
}

type controller struct {
	app       *widgets.QApplication
	window    *widgets.QMainWindow
	session   *session.Controller
	discovery *discovery.Manager
	bridge    *Bridge

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	uiEvents     chan func()
	shutdownOnce sync.Once

	keepAliveMu sync.Mutex
	keepAlive   []any

	peerSelect  *widgets.QComboBox
	peerIDs     []string
	discoverBtn *widgets.QPushButton
	toggleBtn   *widgets.QPushButton
	leftBtn     *widgets.QPushButton
	rightBtn    *widgets.QPushButton
	statusLabel *widgets.QLabel
	noticeLabel *widgets.QLabel
}

// Run shows the control window and blocks until it is closed.
func Run(options RunOptions) error {
	if err := options.validate(); err != nil {
		return err
	}
	configureQtEnvironment()

	app, err := newQApplication()
	if err != nil {
		return err
	}
	ctrl := newController(app, options)
	if options.DiscoverOnStart {
		ctrl.startDiscovery()
	}
	return ctrl.run()
}

func newQApplication() (app *widgets.QApplication, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("initialize Qt application: %v", recovered)
		}
	}()

	app = widgets.NewQApplication(len(os.Args), os.Args)
	if app == nil {
		return nil, errors.New("initialize Qt application: QApplication is nil")
	}
	return app, nil
}

func newController(app *widgets.QApplication, options RunOptions) *controller {
	ctx, cancel := context.WithCancel(context.Background())
	ctrl := &controller{
		app:       app,
		window:    widgets.NewQMainWindow(nil, 0),
		session:   options.Session,
		discovery: options.Discovery,
		bridge:    options.Bridge,
		ctx:       ctx,
		cancel:    cancel,
		uiEvents:  make(chan func(), 64),
	}

	title := options.Title
	if title == "" {
		title = "remotectl"
	}
	ctrl.window.SetWindowTitle(title)
	ctrl.window.Resize2(420, 520)
	applyTheme(app)
	ctrl.buildWindow(title)

	pump := core.NewQTimer(ctrl.window)
	pump.ConnectTimeout(ctrl.tick)
	pump.Start(uiPumpIntervalMS)
	ctrl.hold(pump)

	ctrl.renderPeers(ctrl.session.Peers())
	ctrl.renderStatus(ctrl.session.CurrentStatusText())

	ctrl.window.ConnectCloseEvent(func(event *gui.QCloseEvent) {
		ctrl.shutdown()
		event.Accept()
	})
	return ctrl
}

func (c *controller) run() error {
	c.window.Show()
	code := c.app.Exec()
	c.shutdown()
	if code != 0 {
		return fmt.Errorf("qt event loop exited with code %d", code)
	}
	return nil
}

// shutdown stops window-owned goroutines. The session and discovery sources
// belong to the caller.
func (c *controller) shutdown() {
	c.shutdownOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
	})
}

func (c *controller) tick() {
	c.drainUIEvents()

	update := c.bridge.take()
	if update.empty() {
		return
	}
	if update.peersChanged {
		c.renderPeers(update.peers)
	}
	if update.statusChanged {
		c.renderStatus(update.status)
	}
	if n := len(update.notices); n > 0 {
		c.setNotice(update.notices[n-1])
	}
}

func configureQtEnvironment() {
	os.Setenv("QT_STYLE_OVERRIDE", "Fusion")

	pluginsRoot := strings.TrimSpace(os.Getenv("QT_PLUGIN_PATH"))
	if pluginsRoot == "" {
		out, err := exec.Command("qmake", "-query", "QT_INSTALL_PLUGINS").Output()
		if err == nil {
			pluginsRoot = strings.TrimSpace(string(out))
			if pluginsRoot != "" {
				os.Setenv("QT_PLUGIN_PATH", pluginsRoot)
			}
		}
	}
	platformPath := strings.TrimSpace(os.Getenv("QT_QPA_PLATFORM_PLUGIN_PATH"))
	if platformPath == "" && pluginsRoot != "" {
		os.Setenv("QT_QPA_PLATFORM_PLUGIN_PATH", filepath.Join(pluginsRoot, "platforms"))
	}

	if runtime.GOOS == "linux" {
		selected := strings.TrimSpace(os.Getenv("QT_QPA_PLATFORM"))
		if selected == "" || qtPlatformRequestsWayland(selected) {
			// The bundled Qt runtime ships xcb but often no usable Wayland plugin.
			os.Setenv("QT_QPA_PLATFORM", "xcb")
		}
	}
}

func qtPlatformRequestsWayland(value string) bool {
	parts := strings.FieldsFunc(strings.ToLower(strings.TrimSpace(value)), func(r rune) bool {
		return r == ';' || r == ',' || r == ' '
	})
	for _, part := range parts {
		if strings.HasPrefix(strings.TrimSpace(part), "wayland") {
			return true
		}
	}
	return false
}

// hold keeps Go wrappers of Qt objects reachable for the window's lifetime.
func (c *controller) hold(values ...any) {
	if len(values) == 0 {
		return
	}
	c.keepAliveMu.Lock()
	defer c.keepAliveMu.Unlock()
	for _, value := range values {
		if value != nil {
			c.keepAlive = append(c.keepAlive, value)
		}
	}
}

func (c *controller) enqueueUI(fn func()) {
	if fn == nil {
		return
	}
	select {
	case c.uiEvents <- fn:
	default:
		go func() {
			select {
			case c.uiEvents <- fn:
			case <-c.ctx.Done():
			}
		}()
	}
}

func (c *controller) drainUIEvents() {
	for i := 0; i < 64; i++ {
		select {
		case fn := <-c.uiEvents:
			if fn != nil {
				fn()
			}
		default:
			return
		}
	}
}

func (c *controller) startDiscovery() {
	if c.discovery == nil || c.discoverBtn == nil {
		return
	}
	c.discoverBtn.SetEnabled(false)
	c.discoverBtn.SetText("Searching...")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.discovery.Refresh(c.ctx)
		if err != nil && c.ctx.Err() == nil {
			log.Printf("ui: discovery refresh failed err=%v", err)
		}
		c.enqueueUI(func() {
			c.discoverBtn.SetEnabled(true)
			c.discoverBtn.SetText("Discover")
			if err != nil && c.ctx.Err() == nil {
				c.setNotice("Discovery failed")
			}
		})
	}()
}

func (c *controller) currentState() link.State {
	return c.session.Status().State
}
