package hue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"
)

const nupnpEndpoint = "https://discovery.meethue.com"

// DiscoveredBridge is a Hue bridge found on the network
type DiscoveredBridge struct {
	Host     string
	BridgeID string
}

// Discover locates Hue bridges, trying mDNS first and falling back to the
// Hue cloud discovery endpoint. Returns the first bridge found.
func Discover(ctx context.Context, timeout time.Duration) (DiscoveredBridge, error) {
	bridges, err := discoverMDNS(timeout)
	if err != nil {
		log.Debug().Err(err).Msg("mDNS discovery failed, falling back to cloud discovery")
	}
	if len(bridges) == 0 {
		bridges, err = discoverCloud(ctx, timeout)
		if err != nil {
			return DiscoveredBridge{}, fmt.Errorf("bridge discovery failed: %w", err)
		}
	}
	if len(bridges) == 0 {
		return DiscoveredBridge{}, fmt.Errorf("no Hue bridge found on the network")
	}

	log.Info().
		Str("host", bridges[0].Host).
		Str("bridge_id", bridges[0].BridgeID).
		Int("found", len(bridges)).
		Msg("Discovered Hue bridge")
	return bridges[0], nil
}

// discoverMDNS queries for the _hue._tcp service on the local network
func discoverMDNS(timeout time.Duration) ([]DiscoveredBridge, error) {
	var bridges []DiscoveredBridge
	var mu sync.Mutex

	entriesCh := make(chan *mdns.ServiceEntry, 10)
	go func() {
		for entry := range entriesCh {
			if entry.AddrV4 == nil {
				continue
			}
			bridge := DiscoveredBridge{Host: entry.AddrV4.String()}
			for _, txt := range entry.InfoFields {
				if strings.HasPrefix(txt, "bridgeid=") {
					bridge.BridgeID = strings.TrimPrefix(txt, "bridgeid=")
				}
			}
			mu.Lock()
			bridges = append(bridges, bridge)
			mu.Unlock()
		}
	}()

	params := mdns.DefaultParams("_hue._tcp")
	params.Entries = entriesCh
	params.Timeout = timeout
	params.DisableIPv6 = true

	err := mdns.Query(params)
	close(entriesCh)
	if err != nil {
		return nil, fmt.Errorf("mDNS query failed: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return bridges, nil
}

type nupnpResponse struct {
	ID                string `json:"id"`
	InternalIPAddress string `json:"internalipaddress"`
}

// discoverCloud asks the Hue NUPNP service which bridges share our public IP
func discoverCloud(ctx context.Context, timeout time.Duration) ([]DiscoveredBridge, error) {
	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nupnpEndpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloud discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cloud discovery returned status %d", resp.StatusCode)
	}

	var results []nupnpResponse
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode cloud discovery response: %w", err)
	}

	bridges := make([]DiscoveredBridge, 0, len(results))
	for _, r := range results {
		bridges = append(bridges, DiscoveredBridge{Host: r.InternalIPAddress, BridgeID: r.ID})
	}
	return bridges, nil
}
