package bot

import (
	"fmt"
	"strings"
)

// APIVersion is the bot protocol version the arena speaks.
const APIVersion = "1"

// Info is the document a bot serves on GET / of its base address.
type Info struct {
	APIVersion string `json:"apiversion"`
	Author     string `json:"author,omitempty"`
	Color      string `json:"color,omitempty"`
	Head       string `json:"head,omitempty"`
	Tail       string `json:"tail,omitempty"`
	Version    string `json:"version,omitempty"`
}

// Validate checks the handshake fields the arena relies on.
func (i Info) Validate() error {
	if got := strings.TrimSpace(i.APIVersion); got != APIVersion {
		return fmt.Errorf("invalid apiversion %q (want %q)", got, APIVersion)
	}
	return nil
}
