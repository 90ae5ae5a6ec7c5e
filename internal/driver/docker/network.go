package docker

import (
	"github.com/docker/docker/api/types/network"
)

// containerNetworkConfig wraps the optional network attachment so Create can
// pass a nil *network.NetworkingConfig when no network is configured.
type containerNetworkConfig struct {
	name string
}

func newNetworkConfig(name string) *containerNetworkConfig {
	if name == "" {
		return nil
	}
	return &containerNetworkConfig{name: name}
}

func (c *containerNetworkConfig) networkingConfig() *network.NetworkingConfig {
	if c == nil {
		return nil
	}
	return &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			c.name: {},
		},
	}
}
