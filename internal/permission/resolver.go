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

// Package permission decides what an identity may do with a unit. Units
// inherit their permissions from the location they are placed in, and a
// caller must be able to read a location before anything inside it is
// considered.
package permission

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/opentrusty/ticketd/internal/identity"
	"github.com/opentrusty/ticketd/internal/observability/logger"
)

// maxDepth bounds location nesting so that a cycle in the registry ends in
// a deny instead of a stack overflow.
const maxDepth = 64

// Resolver evaluates permissions against a Snapshot. It holds no state of
// its own and is safe for concurrent use.
type Resolver struct {
	logger *slog.Logger
}

func NewResolver(l *slog.Logger) *Resolver {
	if l == nil {
		l = slog.Default()
	}
	return &Resolver{logger: l.With(logger.Component("permission"))}
}

func (r *Resolver) CanRead(unit *Unit, id identity.Identity, snap Snapshot) bool {
	return r.CanDo(unit, id, snap, Read)
}

func (r *Resolver) CanWrite(unit *Unit, id identity.Identity, snap Snapshot) bool {
	return r.CanDo(unit, id, snap, Write)
}

func (r *Resolver) CanAccess(unit *Unit, id identity.Identity, snap Snapshot) bool {
	return r.CanDo(unit, id, snap, Access)
}

// Resolve returns all three rights of id on unit.
func (r *Resolver) Resolve(unit *Unit, id identity.Identity, snap Snapshot) Rights {
	return Rights{
		Read:   r.CanRead(unit, id, snap),
		Write:  r.CanWrite(unit, id, snap),
		Access: r.CanAccess(unit, id, snap),
	}
}

// CanDo reports whether id holds right t on unit. Missing or inconsistent
// registry data denies.
func (r *Resolver) CanDo(unit *Unit, id identity.Identity, snap Snapshot, t Type) bool {
	ok, err := r.canDo(unit, id, snap, t, 0)
	if err != nil {
		attrs := []any{logger.Identity(id.String()), logger.String("right", t.String()), logger.Error(err)}
		if unit != nil {
			attrs = append(attrs, logger.UnitID(unit.ID))
		}
		r.logger.Warn("permission denied on unresolvable configuration", attrs...)
		return false
	}
	return ok
}

func (r *Resolver) canDo(unit *Unit, id identity.Identity, snap Snapshot, t Type, depth int) (bool, error) {
	if unit == nil {
		return false, fmt.Errorf("%w: unit", ErrNotAvailable)
	}
	if depth > maxDepth {
		return false, fmt.Errorf("%w: location nesting deeper than %d at %s", ErrInvalidState, maxDepth, unit.ID)
	}

	// The read gate: nothing inside a location is reachable without read
	// access to the location itself.
	if !unit.isAuthentication() && !isRoot(unit, snap) {
		parent, err := r.parentLocation(unit, snap)
		if err != nil {
			return false, err
		}
		ok, err := r.canDo(parent, id, snap, Read, depth+1)
		if err != nil || !ok {
			return false, err
		}
	}

	cfg, err := r.effectiveConfig(unit, snap, depth)
	if err != nil {
		return false, err
	}
	return evaluate(cfg, id, snap, t), nil
}

// evaluate checks the other, owner and group tiers of one config. A
// composite identity is allowed when either half is.
func evaluate(cfg Config, id identity.Identity, snap Snapshot, t Type) bool {
	if cfg.Other.Grants(t) {
		return true
	}
	if id.IsZero() {
		return false
	}
	if id.Kind() == identity.KindComposite {
		user, client := id.Split()
		return evaluate(cfg, user, snap, t) || evaluate(cfg, client, snap, t)
	}

	name := id.Principal()
	if cfg.OwnerID == name && cfg.Owner.Grants(t) {
		return true
	}
	for _, g := range cfg.Groups {
		if !g.Permission.Grants(t) {
			continue
		}
		// Every identity is also a group of one.
		if g.GroupID == name {
			return true
		}
		if group, ok := snap.Groups[g.GroupID]; ok && group != nil && slices.Contains(group.Members, name) {
			return true
		}
	}
	return false
}

// EffectiveConfig returns the permission config of unit after inheritance.
func (r *Resolver) EffectiveConfig(unit *Unit, snap Snapshot) (Config, error) {
	if unit == nil {
		return Config{}, fmt.Errorf("%w: unit", ErrNotAvailable)
	}
	return r.effectiveConfig(unit, snap, 0)
}

func (r *Resolver) effectiveConfig(unit *Unit, snap Snapshot, depth int) (Config, error) {
	if depth > maxDepth {
		return Config{}, fmt.Errorf("%w: location nesting deeper than %d at %s", ErrInvalidState, maxDepth, unit.ID)
	}

	// Root locations, users and groups end the inheritance chain.
	if isRoot(unit, snap) || unit.isAuthentication() {
		if unit.Permission == nil {
			return Config{}, fmt.Errorf("%w: %s %s has no permission config", ErrInvalidState, unit.Type, unit.ID)
		}
		return *unit.Permission, nil
	}

	if len(snap.Locations) == 0 {
		return Config{}, fmt.Errorf("%w: no locations to inherit from", ErrInvalidState)
	}
	parent, err := r.parentLocation(unit, snap)
	if err != nil {
		return Config{}, err
	}
	inherited, err := r.effectiveConfig(parent, snap, depth+1)
	if err != nil {
		return Config{}, fmt.Errorf("parent of %s: %w", unit.ID, err)
	}
	if unit.Permission == nil {
		return inherited, nil
	}
	return Merge(*unit.Permission, inherited), nil
}

// parentLocation returns the location unit is placed in. An unknown
// location falls back to the root location.
func (r *Resolver) parentLocation(unit *Unit, snap Snapshot) (*Unit, error) {
	if unit.LocationID == "" {
		return nil, fmt.Errorf("%w: location of %s", ErrNotAvailable, unit.ID)
	}
	if loc, ok := snap.Locations[unit.LocationID]; ok && loc != nil {
		return loc, nil
	}
	r.logger.Warn("unknown location, using root location instead",
		logger.UnitID(unit.ID), logger.String("location_id", unit.LocationID))
	root, err := RootLocation(snap)
	if err != nil {
		return nil, fmt.Errorf("location %s of %s: %w", unit.LocationID, unit.ID, err)
	}
	return root, nil
}

func isRoot(unit *Unit, snap Snapshot) bool {
	if unit.Type != UnitLocation {
		return false
	}
	if len(snap.Locations) == 0 || unit.Root {
		return true
	}
	root, err := RootLocation(snap)
	return err == nil && root.ID == unit.ID
}

// RootLocation returns the location flagged as root. Without a flag, a
// registry holding exactly one location uses that one.
func RootLocation(snap Snapshot) (*Unit, error) {
	ids := make([]string, 0, len(snap.Locations))
	for id := range snap.Locations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var root *Unit
	for _, id := range ids {
		loc := snap.Locations[id]
		if loc == nil || !loc.Root {
			continue
		}
		if root != nil {
			return nil, fmt.Errorf("%w: locations %s and %s are both flagged root", ErrInvalidState, root.ID, loc.ID)
		}
		root = loc
	}
	if root != nil {
		return root, nil
	}
	if len(ids) == 1 && snap.Locations[ids[0]] != nil {
		return snap.Locations[ids[0]], nil
	}
	return nil, ErrNoRootLocation
}

// Merge lays child over parent. An incomplete other or owner triple is
// replaced by the parent's as a whole, the owner id always stays the
// child's, and parent group entries are appended unless the child already
// has an entry for that group.
func Merge(child, parent Config) Config {
	out := Config{
		OwnerID: child.OwnerID,
		Owner:   child.Owner,
		Other:   child.Other,
		Groups:  slices.Clone(child.Groups),
	}
	if !child.Other.Complete() {
		out.Other = parent.Other
	}
	if !child.Owner.Complete() {
		out.Owner = parent.Owner
	}
	for _, pg := range parent.Groups {
		if !slices.ContainsFunc(child.Groups, func(g GroupPermission) bool { return g.GroupID == pg.GroupID }) {
			out.Groups = append(out.Groups, pg)
		}
	}
	return out
}

// IsSubPermission reports whether sub grants nothing that super does not.
func IsSubPermission(super, sub Permission) bool {
	for _, t := range []Type{Read, Write, Access} {
		if sub.Grants(t) && !super.Grants(t) {
			return false
		}
	}
	return true
}
