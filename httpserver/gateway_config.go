/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"fmt"
	"net/url"

	"github.com/tollgate/tollgate/config"
	"github.com/tollgate/tollgate/httpserver/middleware"
)

const cfgDefaultGatewayKeyPrefix = "gateway"

const (
	cfgKeyGatewayUpstream                   = "upstream"
	cfgKeyGatewayErrorDomain                = "errorDomain"
	cfgKeyGatewayDebugRoutes                = "debugRoutes"
	cfgKeyGatewayAdmissionIdentityHeader    = "admission.identityHeader"
	cfgKeyGatewayAdmissionClassHeader       = "admission.classHeader"
	cfgKeyGatewayAdmissionTrustForwardedFor = "admission.trustForwardedFor"
	cfgKeyGatewayAdmissionDryRun            = "admission.dryRun"
	cfgKeyGatewayAdmissionExcludedEndpoints = "admission.excludedEndpoints"
)

// DefaultErrorDomain is the domain of errors the gateway responds with by default.
const DefaultErrorDomain = "Gateway"

// GatewayConfig represents a set of configuration parameters of the admission gateway:
// the upstream requests are proxied to and the way they are admitted.
type GatewayConfig struct {
	Upstream    string          `mapstructure:"upstream" yaml:"upstream" json:"upstream"`
	ErrorDomain string          `mapstructure:"errorDomain" yaml:"errorDomain" json:"errorDomain"`
	DebugRoutes bool            `mapstructure:"debugRoutes" yaml:"debugRoutes" json:"debugRoutes"`
	Admission   AdmissionConfig `mapstructure:"admission" yaml:"admission" json:"admission"`

	keyPrefix string
}

// AdmissionConfig configures the admission middleware.
type AdmissionConfig struct {
	IdentityHeader    string   `mapstructure:"identityHeader" yaml:"identityHeader" json:"identityHeader"`
	ClassHeader       string   `mapstructure:"classHeader" yaml:"classHeader" json:"classHeader"`
	TrustForwardedFor bool     `mapstructure:"trustForwardedFor" yaml:"trustForwardedFor" json:"trustForwardedFor"`
	DryRun            bool     `mapstructure:"dryRun" yaml:"dryRun" json:"dryRun"`
	ExcludedEndpoints []string `mapstructure:"excludedEndpoints" yaml:"excludedEndpoints" json:"excludedEndpoints"`
}

var _ config.Config = (*GatewayConfig)(nil)
var _ config.KeyPrefixProvider = (*GatewayConfig)(nil)

// NewGatewayConfig creates a new instance of the GatewayConfig.
func NewGatewayConfig(options ...ConfigOption) *GatewayConfig {
	return &GatewayConfig{keyPrefix: applyConfigOptions(cfgDefaultGatewayKeyPrefix, options).keyPrefix}
}

// NewDefaultGatewayConfig creates a new instance of the GatewayConfig with default values.
func NewDefaultGatewayConfig(options ...ConfigOption) *GatewayConfig {
	c := NewGatewayConfig(options...)
	c.ErrorDomain = DefaultErrorDomain
	c.Admission = AdmissionConfig{
		IdentityHeader:    middleware.DefaultIdentityHeader,
		ClassHeader:       middleware.DefaultClassHeader,
		ExcludedEndpoints: middleware.DefaultAdmissionExcludedEndpoints,
	}
	return c
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *GatewayConfig) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultGatewayKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the gateway in config.DataProvider.
// Implements config.Config interface.
func (c *GatewayConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyGatewayErrorDomain, DefaultErrorDomain)
	dp.SetDefault(cfgKeyGatewayDebugRoutes, false)
	dp.SetDefault(cfgKeyGatewayAdmissionIdentityHeader, middleware.DefaultIdentityHeader)
	dp.SetDefault(cfgKeyGatewayAdmissionClassHeader, middleware.DefaultClassHeader)
	dp.SetDefault(cfgKeyGatewayAdmissionTrustForwardedFor, false)
	dp.SetDefault(cfgKeyGatewayAdmissionDryRun, false)
	dp.SetDefault(cfgKeyGatewayAdmissionExcludedEndpoints, middleware.DefaultAdmissionExcludedEndpoints)
}

// Set sets gateway configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *GatewayConfig) Set(dp config.DataProvider) error {
	var err error

	if c.Upstream, err = dp.GetString(cfgKeyGatewayUpstream); err != nil {
		return err
	}
	if c.Upstream != "" {
		if _, err = ParseUpstreamURL(c.Upstream); err != nil {
			return dp.WrapKeyErr(cfgKeyGatewayUpstream, err)
		}
	}
	if c.ErrorDomain, err = dp.GetString(cfgKeyGatewayErrorDomain); err != nil {
		return err
	}
	if c.DebugRoutes, err = dp.GetBool(cfgKeyGatewayDebugRoutes); err != nil {
		return err
	}
	return c.Admission.Set(dp)
}

// Set sets admission configuration values from config.DataProvider.
func (a *AdmissionConfig) Set(dp config.DataProvider) error {
	var err error

	if a.IdentityHeader, err = dp.GetString(cfgKeyGatewayAdmissionIdentityHeader); err != nil {
		return err
	}
	if a.IdentityHeader == "" {
		return dp.WrapKeyErr(cfgKeyGatewayAdmissionIdentityHeader, fmt.Errorf("cannot be empty"))
	}
	if a.ClassHeader, err = dp.GetString(cfgKeyGatewayAdmissionClassHeader); err != nil {
		return err
	}
	if a.TrustForwardedFor, err = dp.GetBool(cfgKeyGatewayAdmissionTrustForwardedFor); err != nil {
		return err
	}
	if a.DryRun, err = dp.GetBool(cfgKeyGatewayAdmissionDryRun); err != nil {
		return err
	}
	if a.ExcludedEndpoints, err = dp.GetStringSlice(cfgKeyGatewayAdmissionExcludedEndpoints); err != nil {
		return err
	}
	return nil
}

// AdmissionOpts converts the configuration into options of the admission middleware.
func (a *AdmissionConfig) AdmissionOpts() middleware.AdmissionOpts {
	return middleware.AdmissionOpts{
		IdentityHeader:    a.IdentityHeader,
		ClassHeader:       a.ClassHeader,
		TrustForwardedFor: a.TrustForwardedFor,
		DryRun:            a.DryRun,
		ExcludedEndpoints: a.ExcludedEndpoints,
	}
}

// ParseUpstreamURL parses and validates the URL of the upstream service.
func ParseUpstreamURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scheme should be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("host is missing")
	}
	return u, nil
}
