/*
Copyright 2026 The Voyager Authors.

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

// Package command is the document-in/document-out surface over the plan
// cache and admin-hint stores. Each command validates its payload, checks
// authorization, and runs against one collection's containers.
package command

import (
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/voyagerdb/voyager/go/vy/log"
	"github.com/voyagerdb/voyager/go/vy/query"
	"github.com/voyagerdb/voyager/go/vy/verrors"
)

// Action is an authorization action a command requires.
type Action int

// All the actions.
const (
	ActionPlanCacheHint Action = iota
	ActionPlanCacheRead
	ActionPlanCacheWrite
)

func (a Action) String() string {
	switch a {
	case ActionPlanCacheHint:
		return "planCacheHint"
	case ActionPlanCacheRead:
		return "planCacheRead"
	case ActionPlanCacheWrite:
		return "planCacheWrite"
	}
	return "unknown"
}

// AuthSession answers authorization checks for the calling client.
type AuthSession interface {
	IsAuthorized(ns string, action Action) bool
}

// CollectionInfo holds the per-collection query-layer containers.
type CollectionInfo struct {
	PlanCache     *query.PlanCache
	QuerySettings *query.QuerySettings
}

// Catalog maps namespaces to their collection info. Safe for concurrent
// use.
type Catalog struct {
	mu          sync.Mutex
	collections map[string]*CollectionInfo
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{collections: make(map[string]*CollectionInfo)}
}

// GetOrCreate returns the collection's info, creating the containers on
// first use.
func (c *Catalog) GetOrCreate(ns string) *CollectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.collections[ns]
	if !ok {
		info = &CollectionInfo{
			PlanCache:     query.NewPlanCache(),
			QuerySettings: query.NewQuerySettings(),
		}
		c.collections[ns] = info
	}
	return info
}

// Lookup returns the collection's info, or a BadValue error when the
// collection does not exist.
func (c *Catalog) Lookup(ns string) (*CollectionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.collections[ns]
	if !ok {
		return nil, verrors.New(verrors.BadValue, "no such collection")
	}
	return info, nil
}

// Command is one named query-layer command.
type Command interface {
	// Name is the command's wire name.
	Name() string
	// Help describes the command for operators.
	Help() string
	// RequiredAction is the authorization the command needs.
	RequiredAction() Action
	// Run executes against the named collection and fills the result.
	Run(info *CollectionInfo, ns string, cmd bson.D) (bson.D, error)
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]Command)
)

// Register makes a command dispatchable by name. Called from init.
func Register(cmd Command) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[cmd.Name()]; ok {
		panic("command registered twice: " + cmd.Name())
	}
	registry[cmd.Name()] = cmd
}

// Dispatch authorizes and runs a command by name, formatting the outcome
// as a response document: {ok: 1, ...} on success, {ok: 0, code, errmsg}
// on failure.
func Dispatch(sess AuthSession, catalog *Catalog, ns, name string, cmd bson.D) bson.D {
	registryMu.Lock()
	impl, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return statusDoc(nil, verrors.Errorf(verrors.BadValue, "no such command: %s", name))
	}

	if !sess.IsAuthorized(ns, impl.RequiredAction()) {
		return statusDoc(nil, verrors.New(verrors.Unauthorized, "unauthorized"))
	}

	info, err := catalog.Lookup(ns)
	if err != nil {
		return statusDoc(nil, err)
	}

	result, err := impl.Run(info, ns, cmd)
	if err != nil {
		log.V(1).Infof("command %s on %s failed: %v", name, ns, err)
	}
	return statusDoc(result, err)
}

// statusDoc appends the ok/code/errmsg fields to a command result.
func statusDoc(result bson.D, err error) bson.D {
	if err == nil {
		return append(bson.D{{Key: "ok", Value: float64(1)}}, result...)
	}
	return bson.D{
		{Key: "ok", Value: float64(0)},
		{Key: "code", Value: int32(verrors.ErrCode(err))},
		{Key: "errmsg", Value: err.Error()},
	}
}

// getField returns the named top-level field of a document.
func getField(doc bson.D, key string) (any, bool) {
	for _, elt := range doc {
		if elt.Key == key {
			return elt.Value, true
		}
	}
	return nil, false
}

// getDocField returns a field that must be a document when present.
func getDocField(doc bson.D, key, kind string) (bson.D, error) {
	v, ok := getField(doc, key)
	if !ok {
		return nil, nil
	}
	sub, ok := v.(bson.D)
	if !ok {
		return nil, verrors.Errorf(verrors.BadValue, "%s field %s must be an object", kind, key)
	}
	return sub, nil
}
