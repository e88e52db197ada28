// Package session turns user intents (toggle, command triggers, discovered
// peers) into command link calls.
package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"remotectl/link"
	"remotectl/models"
	"remotectl/storage"
)

const (
	// DefaultToggleDebounce ignores a second toggle press inside this window.
	DefaultToggleDebounce = 300 * time.Millisecond
)

var (
	// ErrNoPeerSelected indicates a connect toggle with nothing selected.
	ErrNoPeerSelected = errors.New("session: no peer selected")
	// ErrUnknownPeer indicates a selection that is not in KnownPeers.
	ErrUnknownPeer = errors.New("session: unknown peer")
)

// Options configures a Controller.
type Options struct {
	// Link configures the owned command link. Its OnStateChange is chained
	// after the controller's own handling.
	Link link.Options
	// Store persists peers, link transitions and command outcomes when set.
	Store *storage.Store

	// ToggleDebounce defaults to DefaultToggleDebounce; negative disables it.
	ToggleDebounce time.Duration
	// CommandDebounce drops a repeat of the same command inside the window.
	// Zero keeps every trigger.
	CommandDebounce time.Duration

	// OnStatusChange receives the new status line after every transition.
	OnStatusChange func(status string)
	// OnPeersChange receives the full peer list after a new peer is added.
	OnPeersChange func(peers []models.Peer)
}

// Controller is the single intake for user intents.
type Controller struct {
	link  *link.Link
	peers *KnownPeers
	store *storage.Store

	toggleDebounce  time.Duration
	commandDebounce time.Duration
	onStatusChange  func(string)
	onPeersChange   func([]models.Peer)
	chained         func(link.Transition)
	now             func() time.Time

	mu          sync.Mutex
	selectedID  string
	lastToggle  time.Time
	lastCommand map[link.Command]time.Time
	closed      bool

	wg sync.WaitGroup
}

// New builds a controller and the link it owns.
func New(options Options) (*Controller, error) {
	toggle := options.ToggleDebounce
	if toggle == 0 {
		toggle = DefaultToggleDebounce
	}
	if toggle < 0 {
		toggle = 0
	}

	c := &Controller{
		peers:           NewKnownPeers(),
		store:           options.Store,
		toggleDebounce:  toggle,
		commandDebounce: options.CommandDebounce,
		onStatusChange:  options.OnStatusChange,
		onPeersChange:   options.OnPeersChange,
		chained:         options.Link.OnStateChange,
		now:             time.Now,
		lastCommand:     make(map[link.Command]time.Time),
	}

	linkOptions := options.Link
	linkOptions.OnStateChange = c.handleTransition
	l, err := link.New(linkOptions)
	if err != nil {
		return nil, fmt.Errorf("create command link: %w", err)
	}
	c.link = l

	return c, nil
}

// OnTogglePressed disconnects a connected link or connects the selected peer.
// Presses while the link is mid-transition, or inside the debounce window,
// are ignored.
func (c *Controller) OnTogglePressed() error {
	c.mu.Lock()
	now := c.now()
	if c.toggleDebounce > 0 && !c.lastToggle.IsZero() && now.Sub(c.lastToggle) < c.toggleDebounce {
		c.mu.Unlock()
		log.Printf("session: toggle ignored reason=debounce")
		return nil
	}
	selectedID := c.selectedID
	c.mu.Unlock()

	state := c.link.State()
	switch state {
	case link.StateConnecting, link.StateDisconnecting:
		log.Printf("session: toggle ignored state=%s", state)
		return nil
	case link.StateConnected:
		c.markToggle(now)
		c.link.Disconnect()
		return nil
	}

	if selectedID == "" {
		return ErrNoPeerSelected
	}
	peer, ok := c.peers.Get(selectedID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, selectedID)
	}

	c.markToggle(now)
	if err := c.link.Connect(peer); err != nil {
		if errors.Is(err, link.ErrBusy) {
			log.Printf("session: toggle ignored state=%s", c.link.State())
			return nil
		}
		return fmt.Errorf("connect %s: %w", peer.ID, err)
	}
	return nil
}

// OnCommandTriggered submits cmd when the link is connected and reports
// whether it was accepted. Every input source funnels through here.
func (c *Controller) OnCommandTriggered(cmd link.Command) bool {
	status := c.link.Status()
	if status.State != link.StateConnected {
		return false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.commandDebounce > 0 {
		now := c.now()
		last, seen := c.lastCommand[cmd]
		if seen && now.Sub(last) < c.commandDebounce {
			c.mu.Unlock()
			c.recordCommand(status, cmd, storage.CommandStatusDropped, nil)
			return false
		}
		c.lastCommand[cmd] = now
	}
	// Added under mu so it cannot race Close's Wait.
	c.wg.Add(1)
	c.mu.Unlock()

	result, err := c.link.Submit(cmd)
	if err != nil {
		c.wg.Done()
		log.Printf("session: command rejected command=%s err=%v", cmd, err)
		c.recordCommand(status, cmd, storage.CommandStatusDropped, err)
		return false
	}

	go func() {
		defer c.wg.Done()
		if err := <-result; err != nil {
			log.Printf("session: command failed command=%s peer=%s err=%v", cmd, status.Peer.ID, err)
			c.recordCommand(status, cmd, storage.CommandStatusFailed, err)
			return
		}
		c.recordCommand(status, cmd, storage.CommandStatusSent, nil)
	}()
	return true
}

// OnPeerDiscovered adds peer to KnownPeers when its ID is new and reports
// whether it was added. The first known peer becomes the selection.
func (c *Controller) OnPeerDiscovered(peer models.Peer) bool {
	if peer.ID == "" || peer.Address == "" {
		return false
	}
	if peer.DiscoveredAt == 0 {
		peer.DiscoveredAt = c.now().UnixMilli()
	}
	if !c.peers.Add(peer) {
		return false
	}

	log.Printf("session: peer added peer=%s source=%s address=%s", peer.ID, peer.Source, peer.Address)
	if c.store != nil {
		if err := c.store.UpsertPeer(storage.PeerFromModel(peer)); err != nil {
			log.Printf("session: persist peer failed peer=%s err=%v", peer.ID, err)
		}
	}

	c.mu.Lock()
	if c.selectedID == "" {
		c.selectedID = peer.ID
	}
	c.mu.Unlock()

	if c.onPeersChange != nil {
		c.onPeersChange(c.peers.List())
	}
	return true
}

// CurrentStatusText returns the status line for the current link state.
// A failed link also names the error kind.
func (c *Controller) CurrentStatusText() string {
	status := c.link.Status()
	return StatusText(status.State, status.Kind)
}

// SelectPeer chooses the peer the next connect toggle will use.
func (c *Controller) SelectPeer(id string) error {
	if _, ok := c.peers.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectedID = id
	return nil
}

// SelectedPeer returns the current selection.
func (c *Controller) SelectedPeer() (models.Peer, bool) {
	c.mu.Lock()
	id := c.selectedID
	c.mu.Unlock()

	if id == "" {
		return models.Peer{}, false
	}
	return c.peers.Get(id)
}

// Peers returns known peers in insertion order.
func (c *Controller) Peers() []models.Peer {
	return c.peers.List()
}

// Status returns the link snapshot.
func (c *Controller) Status() link.Status {
	return c.link.Status()
}

// Close shuts the link down whatever its state and waits for pending
// command results.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.link.Close()
	c.wg.Wait()
}

func (c *Controller) markToggle(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastToggle = now
}

func (c *Controller) handleTransition(tr link.Transition) {
	log.Printf("session: link %s -> %s peer=%s attempt=%s", tr.From, tr.To, tr.PeerID, tr.AttemptID)

	if c.store != nil {
		event := storage.LinkEvent{
			AttemptID: tr.AttemptID,
			FromState: string(tr.From),
			ToState:   string(tr.To),
			Timestamp: tr.At.UnixMilli(),
		}
		if tr.PeerID != "" {
			peerID := tr.PeerID
			event.PeerID = &peerID
		}
		if tr.Err != nil {
			event.ErrorKind = string(link.KindOf(tr.Err))
			event.Detail = tr.Err.Error()
		}
		if err := c.store.RecordLinkEvent(event); err != nil {
			log.Printf("session: persist link event failed err=%v", err)
		}
		if tr.To == link.StateConnected && tr.PeerID != "" {
			if err := c.store.TouchPeer(tr.PeerID, tr.At.UnixMilli()); err != nil && !errors.Is(err, storage.ErrNotFound) {
				log.Printf("session: touch peer failed peer=%s err=%v", tr.PeerID, err)
			}
		}
	}

	if c.onStatusChange != nil {
		c.onStatusChange(StatusText(tr.To, link.KindOf(tr.Err)))
	}
	if c.chained != nil {
		c.chained(tr)
	}
}

func (c *Controller) recordCommand(status link.Status, cmd link.Command, outcome string, cause error) {
	if c.store == nil {
		return
	}

	record := storage.CommandRecord{
		AttemptID: status.AttemptID,
		Command:   cmd.String(),
		Code:      int(cmd),
		Status:    outcome,
	}
	if status.Peer.ID != "" {
		peerID := status.Peer.ID
		record.PeerID = &peerID
	}
	if cause != nil {
		record.Error = cause.Error()
	}
	if err := c.store.RecordCommand(record); err != nil {
		log.Printf("session: persist command failed command=%s err=%v", cmd, err)
	}
}
