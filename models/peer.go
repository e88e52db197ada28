package models

// Discovery sources recorded on a Peer.
const (
	SourceBonded = "bonded"
	SourceBluez  = "bluez"
	SourceBLE    = "ble"
	SourceMDNS   = "mdns"
	SourceManual = "manual"
)

// Peer represents a remote device a command link can be opened to.
type Peer struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Address      string `json:"address"`
	Source       string `json:"source"`
	DiscoveredAt int64  `json:"discovered_at"`
}

// DisplayName returns the name shown in peer selectors.
func (p Peer) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}
