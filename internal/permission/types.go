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

package permission

import "errors"

// Type is one of the three rights a unit grants.
type Type int

const (
	Read Type = iota
	Write
	Access
)

func (t Type) String() string {
	switch t {
	case Read:
		return "read"
	case Write:
		return "write"
	case Access:
		return "access"
	default:
		return "unknown"
	}
}

// Domain errors
var (
	ErrInvalidState   = errors.New("invalid permission state")
	ErrNoRootLocation = errors.New("no root location")
	ErrNotAvailable   = errors.New("not available")
)

// Permission is a read/write/access triple. A nil field is unset, which
// matters when a unit's config is merged over its parent's.
type Permission struct {
	Read   *bool `yaml:"read,omitempty" json:"read,omitempty"`
	Write  *bool `yaml:"write,omitempty" json:"write,omitempty"`
	Access *bool `yaml:"access,omitempty" json:"access,omitempty"`
}

// Allow returns a complete triple.
func Allow(read, write, access bool) Permission {
	return Permission{Read: &read, Write: &write, Access: &access}
}

// Complete reports whether all three rights are set.
func (p Permission) Complete() bool {
	return p.Read != nil && p.Write != nil && p.Access != nil
}

// Grants reports whether t is set and true.
func (p Permission) Grants(t Type) bool {
	var v *bool
	switch t {
	case Read:
		v = p.Read
	case Write:
		v = p.Write
	case Access:
		v = p.Access
	}
	return v != nil && *v
}

// GroupPermission grants a permission to the members of a group. GroupID may
// also name a single identity.
type GroupPermission struct {
	GroupID    string     `yaml:"group_id" json:"group_id"`
	Permission Permission `yaml:"permission" json:"permission"`
}

// Config is the permission configuration attached to a unit.
type Config struct {
	OwnerID string            `yaml:"owner_id,omitempty" json:"owner_id,omitempty"`
	Owner   Permission        `yaml:"owner,omitempty" json:"owner"`
	Other   Permission        `yaml:"other,omitempty" json:"other"`
	Groups  []GroupPermission `yaml:"groups,omitempty" json:"groups,omitempty"`
}

// UnitType classifies a unit.
type UnitType string

const (
	UnitLocation           UnitType = "LOCATION"
	UnitUser               UnitType = "USER"
	UnitAuthorizationGroup UnitType = "AUTHORIZATION_GROUP"
	UnitDevice             UnitType = "DEVICE"
	UnitAgent              UnitType = "AGENT"
	UnitApp                UnitType = "APP"
	UnitScene              UnitType = "SCENE"
	UnitConnection         UnitType = "CONNECTION"
)

// Unit is the read-only view of a unit configuration the resolver needs.
type Unit struct {
	ID         string   `yaml:"id" json:"id"`
	Type       UnitType `yaml:"type" json:"type"`
	LocationID string   `yaml:"location_id,omitempty" json:"location_id,omitempty"`
	Root       bool     `yaml:"root,omitempty" json:"root,omitempty"`
	Permission *Config  `yaml:"permission,omitempty" json:"permission,omitempty"`
	// Members lists the identities of an authorization group.
	Members []string `yaml:"members,omitempty" json:"members,omitempty"`
}

// isAuthentication reports whether u is a user or group. Their permissions
// never inherit from a location.
func (u *Unit) isAuthentication() bool {
	return u.Type == UnitUser || u.Type == UnitAuthorizationGroup
}

// Snapshot is an immutable view of the registry for one resolution. Groups
// and Locations are indexed by unit id.
type Snapshot struct {
	Groups    map[string]*Unit
	Locations map[string]*Unit
}

// Rights is the outcome of resolving all three permission types.
type Rights struct {
	Read   bool `json:"read"`
	Write  bool `json:"write"`
	Access bool `json:"access"`
}
