// Package policy implements access-control checks for tool dispatch and for
// cross-user semantic-cache reuse. Both checks reduce to the same question:
// may this user act against this resource? Dispatch asks it of a
// (serverId, toolName) pair; semantic-cache reuse asks it of a resource
// scope string embedded in a cached result (e.g. a cloud subscription or
// account id).
package policy

import (
	"context"
	"strings"
)

type (
	// Input describes the caller and the target being checked.
	Input struct {
		// UserID identifies the requesting user.
		UserID string
		// Groups are the user's group memberships.
		Groups []string
		// IsAdmin bypasses all checks when true.
		IsAdmin bool
		// ServerID is the tool-proxy server owning the tool, when checking
		// tool dispatch. Empty when checking a resource scope.
		ServerID string
		// ToolName is the sanitized or original tool name, when checking
		// tool dispatch. Empty when checking a resource scope.
		ToolName string
	}

	// Decision is the outcome of an access check.
	Decision struct {
		// Allowed reports whether the action may proceed.
		Allowed bool
		// Reason explains a denial; empty when Allowed is true.
		Reason string
	}

	// Evaluator decides tool-dispatch and resource-scope access.
	//
	// Admins bypass both checks. A denied EvaluateTool produces a ToolResult
	// with error "access denied: <reason>" and no execution event pair,
	// per the access-control contract. A denied EvaluateResourceScope
	// downgrades a semantic-cache lookup to a miss rather than an error.
	Evaluator interface {
		// EvaluateTool decides whether in.UserID may dispatch
		// in.ToolName on in.ServerID.
		EvaluateTool(ctx context.Context, in Input) (Decision, error)

		// EvaluateResourceScope decides whether in.UserID may reuse a
		// semantic-cache entry whose arguments embedded resourceScope
		// (e.g. a subscription or account id). An empty resourceScope is
		// always allowed: not every tool result carries one.
		EvaluateResourceScope(ctx context.Context, in Input, resourceScope string) (Decision, error)
	}

	// ScopeOwners maps a resource scope to the groups allowed to reuse
	// cached results scoped to it. A scope absent from the map is treated
	// as unrestricted (allowed) since most tool results carry no
	// tenant-sensitive scope at all.
	ScopeOwners map[string][]string

	// Options configures Engine.
	Options struct {
		// AllowServers restricts dispatch to these server ids. Empty means
		// no server-level restriction.
		AllowServers []string
		// BlockServers excludes these server ids outright.
		BlockServers []string
		// AllowTools explicitly allowlists "serverId.toolName" pairs. Takes
		// precedence over AllowServers when non-empty.
		AllowTools []string
		// BlockTools explicitly blocks "serverId.toolName" pairs.
		BlockTools []string
		// Scopes resolves which groups may reuse a cached resourceScope.
		Scopes ScopeOwners
		// Label annotates decisions for audit/debug purposes; defaults to "default".
		Label string
	}

	// Engine is the default Evaluator: allow/block lists gate dispatch,
	// and group membership against Scopes gates resource-scope reuse.
	Engine struct {
		allowServers map[string]struct{}
		blockServers map[string]struct{}
		allowTools   map[string]struct{}
		blockTools   map[string]struct{}
		scopes       ScopeOwners
		label        string
	}
)

// New builds an Engine from opts.
func New(opts Options) *Engine {
	label := strings.TrimSpace(opts.Label)
	if label == "" {
		label = "default"
	}
	return &Engine{
		allowServers: toSet(opts.AllowServers),
		blockServers: toSet(opts.BlockServers),
		allowTools:   toSet(opts.AllowTools),
		blockTools:   toSet(opts.BlockTools),
		scopes:       opts.Scopes,
		label:        label,
	}
}

// EvaluateTool implements Evaluator.
func (e *Engine) EvaluateTool(_ context.Context, in Input) (Decision, error) {
	if in.IsAdmin {
		return Decision{Allowed: true}, nil
	}
	pair := toolKey(in.ServerID, in.ToolName)
	if len(e.blockTools) > 0 {
		if _, blocked := e.blockTools[pair]; blocked {
			return Decision{Reason: "tool " + pair + " is blocked"}, nil
		}
	}
	if len(e.blockServers) > 0 {
		if _, blocked := e.blockServers[in.ServerID]; blocked {
			return Decision{Reason: "server " + in.ServerID + " is blocked"}, nil
		}
	}
	if len(e.allowTools) > 0 {
		if _, ok := e.allowTools[pair]; !ok {
			return Decision{Reason: "tool " + pair + " is not allowlisted"}, nil
		}
		return Decision{Allowed: true}, nil
	}
	if len(e.allowServers) > 0 {
		if _, ok := e.allowServers[in.ServerID]; !ok {
			return Decision{Reason: "server " + in.ServerID + " is not allowlisted"}, nil
		}
	}
	return Decision{Allowed: true}, nil
}

// EvaluateResourceScope implements Evaluator.
func (e *Engine) EvaluateResourceScope(_ context.Context, in Input, resourceScope string) (Decision, error) {
	if in.IsAdmin || resourceScope == "" {
		return Decision{Allowed: true}, nil
	}
	owners, restricted := e.scopes[resourceScope]
	if !restricted {
		return Decision{Allowed: true}, nil
	}
	for _, g := range in.Groups {
		for _, owner := range owners {
			if g == owner {
				return Decision{Allowed: true}, nil
			}
		}
	}
	return Decision{Reason: "resource scope " + resourceScope + " is not owned by any of the caller's groups"}, nil
}

func toolKey(serverID, toolName string) string {
	return serverID + "." + toolName
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
