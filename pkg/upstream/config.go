package upstream

import "fmt"

type Config struct {
	// Endpoints are the execution-layer JSON-RPC endpoints state is forked
	// from.
	Endpoints []*EndpointConfig `yaml:"endpoints"`
}

type EndpointConfig struct {
	// Name identifies the endpoint in logs and metrics.
	Name string `yaml:"name"`
	// Address is the JSON-RPC HTTP address.
	Address string `yaml:"address"`
	// Headers are added to every request, e.g. for authenticated endpoints.
	Headers map[string]string `yaml:"headers"`
}

func (c *Config) Validate() error {
	for i, endpoint := range c.Endpoints {
		if err := endpoint.Validate(); err != nil {
			return fmt.Errorf("invalid endpoint configuration at index %d: %w", i, err)
		}
	}

	return nil
}

func (e *EndpointConfig) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("endpoint name is required")
	}

	if e.Address == "" {
		return fmt.Errorf("endpoint address is required")
	}

	return nil
}
