package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/snowline/renewal-checkout/internal/gateway"
)

// GatewayEnvironment is one entry of the environments file.
type GatewayEnvironment struct {
	BaseURL  string `yaml:"base_url"`
	Currency string `yaml:"currency,omitempty"`
}

type GatewayFile struct {
	DefaultCurrency string                        `yaml:"default_currency"`
	Environments    map[string]GatewayEnvironment `yaml:"environments"`
}

func LoadGatewayFile(path string) (*GatewayFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadGatewayFile: %w", err)
	}

	var f GatewayFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("LoadGatewayFile: parse %s: %w", path, err)
	}
	if len(f.Environments) == 0 {
		return nil, fmt.Errorf("LoadGatewayFile: %s defines no environments", path)
	}
	if f.DefaultCurrency == "" {
		f.DefaultCurrency = "CAD"
	}
	return &f, nil
}

// Names lists the environments in the file, sorted.
func (f *GatewayFile) Names() []string {
	names := make([]string, 0, len(f.Environments))
	for name := range f.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve reads the environments file and returns the gateway config for
// the selected environment. The result is validated.
func (g Gateway) Resolve() (gateway.Config, error) {
	f, err := LoadGatewayFile(g.ConfigPath)
	if err != nil {
		return gateway.Config{}, err
	}
	return g.resolveFrom(f)
}

func (g Gateway) resolveFrom(f *GatewayFile) (gateway.Config, error) {
	name := strings.ToLower(strings.TrimSpace(g.Env))
	envCfg, ok := f.Environments[name]
	if !ok {
		return gateway.Config{}, fmt.Errorf("Gateway.Resolve: unknown environment %q (have %s)", g.Env, strings.Join(f.Names(), ", "))
	}

	currency := envCfg.Currency
	if currency == "" {
		currency = f.DefaultCurrency
	}

	cfg := gateway.Config{
		Environment:      name,
		BaseURL:          strings.TrimRight(envCfg.BaseURL, "/"),
		MerchantID:       g.MerchantID,
		PaymentsPasscode: g.PaymentsPasscode,
		ProfilesPasscode: g.ProfilesPasscode,
		Currency:         currency,
		Timeout:          g.Timeout,
	}
	if err := cfg.Validate(); err != nil {
		return gateway.Config{}, err
	}
	return cfg, nil
}
