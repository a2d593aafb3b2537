package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"snake-arena/arena/config"
)

// FixedEndpoint is a bot the arena does not own. Up only verifies that
// every address speaks the expected protocol version.
type FixedEndpoint struct {
	lifecycle

	name   string
	addrs  []string
	client *http.Client
	log    *slog.Logger
}

func NewFixedEndpoint(name string, spec config.FixedEndpoint, opts Options) *FixedEndpoint {
	opts = opts.withDefaults()
	return &FixedEndpoint{
		name:   name,
		addrs:  append([]string{}, spec.Addresses...),
		client: opts.HTTPClient,
		log:    opts.Logger.With("bot", name),
	}
}

func (b *FixedEndpoint) Name() string      { return b.name }
func (b *FixedEndpoint) Kind() config.Kind { return config.KindFixedEndpoint }

func (b *FixedEndpoint) Addresses() []string {
	if b.state != Running {
		return nil
	}
	return append([]string{}, b.addrs...)
}

func (b *FixedEndpoint) Prepare(ctx context.Context) error {
	b.prepared()
	return nil
}

func (b *FixedEndpoint) Up(ctx context.Context, _ *Ports, _ int) error {
	if err := b.canUp(); err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}
	b.log.Info("up", "addresses", b.addrs)
	for _, addr := range b.addrs {
		if err := b.probe(ctx, addr); err != nil {
			return &LivenessError{Bot: b.name, Address: addr, Err: err}
		}
	}
	b.state = Running
	return nil
}

// Down is a no-op apart from the state change; the addresses are not ours.
func (b *FixedEndpoint) Down() { b.down() }

func (b *FixedEndpoint) probe(ctx context.Context, addr string) error {
	info, err := FetchInfo(ctx, b.client, addr)
	if err != nil {
		return err
	}
	return info.Validate()
}

// FetchInfo performs the status request against a bot base address.
func FetchInfo(ctx context.Context, client *http.Client, addr string) (Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return Info{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Info{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Info{}, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Info{}, fmt.Errorf("decode info: %w", err)
	}
	return info, nil
}
