/*
Copyright 2026 the ipv6pool authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package prefix

import "fmt"

// DHCPv6PDConfig configures a DHCPv6PDReceiver.
type DHCPv6PDConfig struct {
	Interface             string
	RequestedPrefixLength int // 0 means use the receiver's default
}

// RouterAdvertisementConfig configures an RAReceiver.
type RouterAdvertisementConfig struct {
	Interface string
	Enabled   bool
}

// DetectorConfig selects which optional fast-path Receiver, if any, the
// route-monitor loop should run alongside the mandatory polling Prober.
// Both fields may be set, in which case DHCPv6-PD is primary and RA is
// fallback; neither set means no fast-path detector runs and the server
// relies solely on ROUTE_CHECK_INTERVAL polling.
type DetectorConfig struct {
	DHCPv6PD            *DHCPv6PDConfig
	RouterAdvertisement *RouterAdvertisementConfig
}

// DetectorFactory creates Receiver instances from a DetectorConfig.
type DetectorFactory interface {
	CreateDetector(cfg DetectorConfig) (Receiver, error)
}

// DefaultDetectorFactory is the default implementation of DetectorFactory.
type DefaultDetectorFactory struct{}

// NewDetectorFactory creates a new DefaultDetectorFactory.
func NewDetectorFactory() *DefaultDetectorFactory {
	return &DefaultDetectorFactory{}
}

// CreateDetector creates a Receiver based on the DetectorConfig.
// Decision logic:
//  1. If only DHCPv6PD configured → DHCPv6PDReceiver
//  2. If only RouterAdvertisement configured → RAReceiver
//  3. If both configured → CompositeReceiver (DHCPv6-PD primary, RA fallback)
func (f *DefaultDetectorFactory) CreateDetector(cfg DetectorConfig) (Receiver, error) {
	hasDHCPv6 := cfg.DHCPv6PD != nil
	hasRA := cfg.RouterAdvertisement != nil && cfg.RouterAdvertisement.Enabled

	switch {
	case hasDHCPv6 && hasRA:
		return f.createCompositeReceiver(cfg)
	case hasDHCPv6:
		return f.createDHCPv6PDReceiver(cfg.DHCPv6PD)
	case hasRA:
		return f.createRAReceiver(cfg.RouterAdvertisement)
	default:
		return nil, fmt.Errorf("no detector configured")
	}
}

// createDHCPv6PDReceiver creates a DHCPv6-PD receiver from the config.
func (f *DefaultDetectorFactory) createDHCPv6PDReceiver(cfg *DHCPv6PDConfig) (*DHCPv6PDReceiver, error) {
	if cfg.Interface == "" {
		return nil, fmt.Errorf("DHCPv6-PD interface is required")
	}
	return NewDHCPv6PDReceiver(cfg.Interface, cfg.RequestedPrefixLength), nil
}

// createRAReceiver creates a Router Advertisement receiver from the config.
func (f *DefaultDetectorFactory) createRAReceiver(cfg *RouterAdvertisementConfig) (*RAReceiver, error) {
	if cfg.Interface == "" {
		return nil, fmt.Errorf("router advertisement interface is required")
	}
	return NewRAReceiver(cfg.Interface), nil
}

// createCompositeReceiver creates a composite receiver with DHCPv6-PD as primary and RA as fallback.
func (f *DefaultDetectorFactory) createCompositeReceiver(cfg DetectorConfig) (*CompositeReceiver, error) {
	primary, err := f.createDHCPv6PDReceiver(cfg.DHCPv6PD)
	if err != nil {
		return nil, fmt.Errorf("failed to create primary DHCPv6-PD receiver: %w", err)
	}

	fallback, err := f.createRAReceiver(cfg.RouterAdvertisement)
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback RA receiver: %w", err)
	}

	return NewCompositeReceiver(primary, fallback), nil
}
