package ui

import (
	"fmt"
	"log"

	"github.com/therecipe/qt/core"
	"github.com/therecipe/qt/gui"
	"github.com/therecipe/qt/widgets"

	"remotectl/link"
	"remotectl/models"
	"remotectl/session"
)

func (c *controller) buildWindow(title string) {
	central := widgets.NewQWidget(nil, 0)
	central.SetObjectName("central")

	layout := widgets.NewQVBoxLayout()
	layout.SetContentsMargins(20, 16, 20, 16)
	layout.SetSpacing(12)

	titleLabel := widgets.NewQLabel2(title, nil, 0)
	titleLabel.SetObjectName("title")
	hintLabel := widgets.NewQLabel2("Volume keys or arrow keys send left and right", nil, 0)
	hintLabel.SetObjectName("hint")
	layout.AddWidget(titleLabel, 0, 0)
	layout.AddWidget(hintLabel, 0, 0)

	// ── Peer row ────────────────────────────────────────
	peerRow := widgets.NewQHBoxLayout()
	peerRow.SetContentsMargins(0, 0, 0, 0)
	peerRow.SetSpacing(8)
	c.peerSelect = widgets.NewQComboBox(nil)
	c.peerSelect.SetFocusPolicy(core.Qt__NoFocus)
	c.peerSelect.ConnectCurrentIndexChanged(c.onPeerIndexChanged)
	peerRow.AddWidget(c.peerSelect, 1, 0)

	c.discoverBtn = widgets.NewQPushButton2("Discover", nil)
	c.discoverBtn.SetFocusPolicy(core.Qt__NoFocus)
	c.discoverBtn.ConnectClicked(func(bool) { c.startDiscovery() })
	if c.discovery == nil {
		c.discoverBtn.SetVisible(false)
	}
	peerRow.AddWidget(c.discoverBtn, 0, 0)
	layout.AddLayout(peerRow, 0)

	c.toggleBtn = widgets.NewQPushButton2("Connect", nil)
	c.toggleBtn.SetObjectName("toggleBtn")
	c.toggleBtn.SetFocusPolicy(core.Qt__NoFocus)
	c.toggleBtn.ConnectClicked(func(bool) { c.onToggle() })
	layout.AddWidget(c.toggleBtn, 0, 0)

	// ── Command row ─────────────────────────────────────
	commandRow := widgets.NewQHBoxLayout()
	commandRow.SetContentsMargins(0, 0, 0, 0)
	commandRow.SetSpacing(12)
	c.leftBtn = widgets.NewQPushButton2("◀", nil)
	c.leftBtn.SetObjectName("commandBtn")
	c.leftBtn.SetFocusPolicy(core.Qt__NoFocus)
	c.leftBtn.ConnectClicked(func(bool) { c.onCommand(link.MoveLeft) })
	c.rightBtn = widgets.NewQPushButton2("▶", nil)
	c.rightBtn.SetObjectName("commandBtn")
	c.rightBtn.SetFocusPolicy(core.Qt__NoFocus)
	c.rightBtn.ConnectClicked(func(bool) { c.onCommand(link.MoveRight) })
	commandRow.AddWidget(c.leftBtn, 1, 0)
	commandRow.AddWidget(c.rightBtn, 1, 0)
	layout.AddLayout(commandRow, 1)

	c.statusLabel = widgets.NewQLabel2("", nil, 0)
	c.statusLabel.SetAlignment(core.Qt__AlignCenter)
	c.noticeLabel = widgets.NewQLabel2("", nil, 0)
	c.noticeLabel.SetObjectName("hint")
	c.noticeLabel.SetAlignment(core.Qt__AlignCenter)
	c.noticeLabel.SetWordWrap(true)
	layout.AddWidget(c.statusLabel, 0, 0)
	layout.AddWidget(c.noticeLabel, 0, 0)

	central.SetLayout(layout)
	c.window.SetCentralWidget(central)
	c.window.SetFocusPolicy(core.Qt__StrongFocus)
	c.window.ConnectKeyPressEvent(c.onKeyPress)

	c.hold(central, layout, titleLabel, hintLabel, peerRow, commandRow,
		c.peerSelect, c.discoverBtn, c.toggleBtn, c.leftBtn, c.rightBtn,
		c.statusLabel, c.noticeLabel)
}

func (c *controller) onKeyPress(event *gui.QKeyEvent) {
	cmd, ok := keyCommand(core.Qt__Key(event.Key()))
	if !ok {
		c.window.KeyPressEventDefault(event)
		return
	}
	event.Accept()
	if event.IsAutoRepeat() {
		return
	}
	c.onCommand(cmd)
}

func (c *controller) onToggle() {
	if err := c.session.OnTogglePressed(); err != nil {
		log.Printf("ui: toggle failed err=%v", err)
		c.setNotice(toggleErrorNotice(err))
		return
	}
	c.setNotice("")
}

func (c *controller) onCommand(cmd link.Command) {
	if c.session.OnCommandTriggered(cmd) {
		return
	}
	if !commandsEnabled(c.currentState()) {
		c.setNotice(session.StatusFailed)
	}
}

func (c *controller) onPeerIndexChanged(index int) {
	if index < 0 || index >= len(c.peerIDs) {
		return
	}
	if err := c.session.SelectPeer(c.peerIDs[index]); err != nil {
		log.Printf("ui: select peer failed peer=%s err=%v", c.peerIDs[index], err)
		c.setNotice(toggleErrorNotice(err))
	}
}

func (c *controller) renderPeers(peers []models.Peer) {
	c.peerSelect.BlockSignals(true)
	defer c.peerSelect.BlockSignals(false)

	c.peerSelect.Clear()
	c.peerIDs = c.peerIDs[:0]
	for _, peer := range peers {
		c.peerSelect.AddItem(peerLabel(peer), core.NewQVariant())
		c.peerIDs = append(c.peerIDs, peer.ID)
	}

	index := -1
	if selected, ok := c.session.SelectedPeer(); ok {
		index = selectedIndex(c.peerIDs, selected.ID)
	}
	c.peerSelect.SetCurrentIndex(index)
	c.peerSelect.SetEnabled(len(peers) > 0)
}

func (c *controller) renderStatus(text string) {
	status := c.session.Status()
	state := status.State

	c.statusLabel.SetText(text)
	c.statusLabel.SetStyleSheet(fmt.Sprintf("color: %s; font-size: 13px; font-weight: bold;", statusColor(state)))
	c.toggleBtn.SetText(toggleLabel(state))
	c.toggleBtn.SetEnabled(toggleEnabled(state))
	c.leftBtn.SetEnabled(commandsEnabled(state))
	c.rightBtn.SetEnabled(commandsEnabled(state))

	if state == link.StateFailed && status.Err != nil {
		c.setNotice(fmt.Sprintf("%s: %v", session.StatusFailed, status.Err))
	}
}

func (c *controller) setNotice(text string) {
	c.noticeLabel.SetText(text)
}
