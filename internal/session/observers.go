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

package session

import (
	"slices"
	"sync"
)

// LoginObserver is called after every login state transition with the new
// identity, or "" once logged out.
type LoginObserver func(identity string)

// ObserverID identifies a registered observer.
type ObserverID uint64

type observers struct {
	mu   sync.Mutex
	next ObserverID
	fns  map[ObserverID]LoginObserver
}

func (o *observers) add(fn LoginObserver) ObserverID {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[ObserverID]LoginObserver)
	}
	o.next++
	o.fns[o.next] = fn
	return o.next
}

func (o *observers) remove(id ObserverID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.fns, id)
}

// notify calls every observer in registration order. It must not be called
// with the coordinator lock held, so observers may query the coordinator.
func (o *observers) notify(identity string) {
	o.mu.Lock()
	ids := make([]ObserverID, 0, len(o.fns))
	for id := range o.fns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]LoginObserver, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, o.fns[id])
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(identity)
	}
}
