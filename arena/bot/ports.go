package bot

import (
	"fmt"

	"snake-arena/arena/config"
)

// Ports hands out each port of a range at most once. It is not safe for
// concurrent use; bots are brought up one at a time.
type Ports struct {
	next, to int
}

func NewPorts(r config.PortRange) *Ports {
	return &Ports{next: r.From, to: r.To}
}

func (p *Ports) Next() (int, error) {
	if p.next >= p.to {
		return 0, fmt.Errorf("%w: no port left below %d", ErrPortsExhausted, p.to)
	}
	port := p.next
	p.next++
	return port, nil
}

// Remaining reports how many ports are still available.
func (p *Ports) Remaining() int { return p.to - p.next }
