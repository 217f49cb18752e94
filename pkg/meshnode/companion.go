package meshnode

import (
	"fmt"
	"strings"

	"github.com/atomozero/meshcore-go/pkg/clock"
	"github.com/atomozero/meshcore-go/pkg/wire"
)

// Companion is a client/chat-node role: it participates in time sync and
// directed ping/pong/trace, but never forwards flood or direct traffic for
// other nodes, matching sim/node.py's SimCompanion.
type Companion struct {
	*Node
}

// NewCompanion constructs a companion-role node with a fresh identity.
func NewCompanion(name string, src clock.Source) (*Companion, error) {
	n, err := NewNode(name, TypeChatNode, src)
	if err != nil {
		return nil, err
	}
	return &Companion{Node: n}, nil
}

// OnRxPacket performs only the base node's reception handling; companions
// never forward.
func (c *Companion) OnRxPacket(pkt *wire.Packet, rssi, snr int32) {
	c.Node.OnRxPacket(pkt, rssi, snr)
}

// ProcessCommand runs the companion's reduced CLI surface, matching
// sim/node.py's SimCompanion.process_command verbatim.
func (c *Companion) ProcessCommand(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return ""
	}
	command := strings.ToLower(parts[0])

	switch command {
	case "ping":
		if len(parts) > 1 {
			h, err := parseHexHash(parts[1])
			if err != nil {
				return TagError + " Invalid hash"
			}
			c.SendDirectedPing(h)
			return fmt.Sprintf("%s -> %02X", TagPing, h)
		}
	case "trace":
		if len(parts) > 1 {
			h, err := parseHexHash(parts[1])
			if err != nil {
				return TagError + " Invalid hash"
			}
			c.SendDirectedTrace(h)
			return fmt.Sprintf("%s ~> %02X", TagPing, h)
		}
	case "advert":
		c.SendAdvert(true)
		return TagAdvert + " sent"
	case "status":
		return fmt.Sprintf("%s %02X (companion)", c.Identity.Name, c.Identity.Hash())
	case "help":
		return "status ping <hash> trace <hash> advert help"
	}
	return "Unknown: " + cmd
}
