// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rtmp

import (
	"fmt"
	"net/netip"
	"strings"
)

// IPRestrictionMode controls how an IP restriction list is applied.
type IPRestrictionMode string

const (
	// IPRestrictionNone applies no restriction.
	IPRestrictionNone IPRestrictionMode = "none"
	// IPRestrictionAllow admits only listed addresses.
	IPRestrictionAllow IPRestrictionMode = "allow"
	// IPRestrictionDeny rejects listed addresses.
	IPRestrictionDeny IPRestrictionMode = "deny"
)

// IPRestriction limits which client addresses a registration accepts.
type IPRestriction struct {
	Mode      IPRestrictionMode
	Addresses []netip.Prefix
}

// NoIPRestriction returns an unrestricted IPRestriction.
func NoIPRestriction() IPRestriction {
	return IPRestriction{Mode: IPRestrictionNone}
}

// Allows reports whether the restriction admits the given address.
func (r IPRestriction) Allows(addr netip.Addr) bool {
	switch r.Mode {
	case IPRestrictionAllow:
		for _, prefix := range r.Addresses {
			if prefix.Contains(addr) {
				return true
			}
		}
		return false

	case IPRestrictionDeny:
		for _, prefix := range r.Addresses {
			if prefix.Contains(addr) {
				return false
			}
		}
		return true

	default:
		return true
	}
}

// ParseIPList parses a comma-delimited list of IP addresses or CIDR prefixes.
// A bare address is treated as a single-address prefix.
func ParseIPList(list string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid ip prefix '%s': %w", entry, err)
			}
			prefixes = append(prefixes, prefix)
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid ip address '%s': %w", entry, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return prefixes, nil
}
