// Copyright 2026 The OpenTrusty Authors
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

// Package registry loads the unit configurations that permission checks
// run against. A registry file lists every unit once:
//
//	units:
//	  - id: home
//	    type: LOCATION
//	    root: true
//	    permission:
//	      owner_id: admin
//	      owner: {read: true, write: true, access: true}
//	      other: {read: true, write: false, access: false}
//	  - id: family
//	    type: AUTHORIZATION_GROUP
//	    members: [alice, bob]
//	    permission:
//	      other: {read: true, write: false, access: false}
//	  - id: lamp
//	    type: DEVICE
//	    location_id: home
package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opentrusty/ticketd/internal/permission"
)

type file struct {
	Units []*permission.Unit `yaml:"units"`
}

// Registry is an immutable set of units.
type Registry struct {
	units    map[string]*permission.Unit
	snapshot permission.Snapshot
}

// Empty returns a registry without units.
func Empty() *Registry {
	return New(nil)
}

// New indexes units. Later units with a duplicate id are ignored; use Parse
// to have duplicates rejected.
func New(units []*permission.Unit) *Registry {
	r := &Registry{
		units: make(map[string]*permission.Unit, len(units)),
		snapshot: permission.Snapshot{
			Groups:    make(map[string]*permission.Unit),
			Locations: make(map[string]*permission.Unit),
		},
	}
	for _, u := range units {
		if u == nil || u.ID == "" {
			continue
		}
		if _, ok := r.units[u.ID]; ok {
			continue
		}
		r.units[u.ID] = u
		switch u.Type {
		case permission.UnitLocation:
			r.snapshot.Locations[u.ID] = u
		case permission.UnitAuthorizationGroup:
			r.snapshot.Groups[u.ID] = u
		}
	}
	return r
}

// Parse decodes a registry document.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}

	seen := make(map[string]bool, len(f.Units))
	for i, u := range f.Units {
		if u == nil || u.ID == "" {
			return nil, fmt.Errorf("unit %d has no id", i)
		}
		if u.Type == "" {
			return nil, fmt.Errorf("unit %s has no type", u.ID)
		}
		if seen[u.ID] {
			return nil, fmt.Errorf("unit %s is defined twice", u.ID)
		}
		seen[u.ID] = true
	}
	return New(f.Units), nil
}

// Load reads a registry file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	return Parse(data)
}

// Unit returns the unit with the given id.
func (r *Registry) Unit(id string) (*permission.Unit, bool) {
	u, ok := r.units[id]
	return u, ok
}

// Snapshot returns the groups and locations for permission resolution.
func (r *Registry) Snapshot() permission.Snapshot {
	return r.snapshot
}

func (r *Registry) Len() int { return len(r.units) }
