package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/cpopescu/streamgraph/internal/elements/authorizer"
	"github.com/cpopescu/streamgraph/internal/statekeeper"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

// AuthorizerRegistry builds and indexes authorizer.Authorizer instances by
// name; unlike streaming elements, authorizers are never wired into the
// mapper since they never see tags.
type AuthorizerRegistry struct {
	keeper statekeeper.Keeper
	logger logging.Logger

	byName map[string]*authorizer.Authorizer
}

func NewAuthorizerRegistry(keeper statekeeper.Keeper, logger logging.Logger) *AuthorizerRegistry {
	return &AuthorizerRegistry{keeper: keeper, logger: logger, byName: make(map[string]*authorizer.Authorizer)}
}

// Build constructs a named authorizer from its params, initializes it (load
// any persisted users from the state keeper), and indexes it.
func (r *AuthorizerRegistry) Build(name string, raw json.RawMessage) (*authorizer.Authorizer, error) {
	var p AuthorizerParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	a := authorizer.New(name, p.TimeLimitMs, r.keeper, r.logger)
	if !a.Initialize() {
		return nil, fmt.Errorf("rpc: authorizer %q failed to initialize", name)
	}
	r.byName[name] = a
	return a, nil
}

// Lookup returns a previously built authorizer by name.
func (r *AuthorizerRegistry) Lookup(name string) (*authorizer.Authorizer, bool) {
	a, ok := r.byName[name]
	return a, ok
}
