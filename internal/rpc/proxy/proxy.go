// Package proxy implements a typed builder for routing RPC calls:
// Service(name).Node(id)/.Role(role).Call(ctx, method, args) resolves
// to a local registry lookup or a remote JSON-RPC POST depending on
// whether a target was bound.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/fabric/internal/cluster"
	"github.com/relaymesh/fabric/internal/cluster/directory"
	"github.com/relaymesh/fabric/internal/rpc/pool"
	"github.com/relaymesh/fabric/internal/rpc/registry"
	"github.com/relaymesh/fabric/internal/rpcerr"
)

// TrustRootFunc supplies the ConnectionPool with the current CA/leaf
// material needed to dial a peer under mTLS.
type TrustRootFunc func() (pool.TrustRoot, error)

// Proxy is the process-wide construct handed to callers wanting to
// invoke a local or remote method. It holds no per-call state; Service
// returns a fresh Target for each call chain.
type Proxy struct {
	selfID    string
	directory *directory.Directory
	registry  *registry.Registry
	pool      *pool.Pool
	trustRoot TrustRootFunc
	// outboundDeadline bounds a remote call whose caller-supplied
	// context carries no deadline of its own. Zero means no default is
	// applied and callRemote relies entirely on ctx.
	outboundDeadline time.Duration
}

// New constructs a Proxy bound to the given collaborators. outboundDeadline
// is applied to callRemote whenever the caller's context has no deadline
// of its own; pass 0 to disable the default.
func New(selfID string, dir *directory.Directory, reg *registry.Registry, connPool *pool.Pool, trustRoot TrustRootFunc, outboundDeadline time.Duration) *Proxy {
	return &Proxy{selfID: selfID, directory: dir, registry: reg, pool: connPool, trustRoot: trustRoot, outboundDeadline: outboundDeadline}
}

// Service begins a call chain for the named service.
func (p *Proxy) Service(name string) *Target {
	return &Target{proxy: p, service: name}
}

// Target accumulates the service name and an optional bound node/role
// before Call dispatches.
type Target struct {
	proxy   *Proxy
	service string

	boundNodeID string
	boundRole   *cluster.Role
}

// Node binds the call to an exact node_id.
func (t *Target) Node(nodeID string) *Target {
	t.boundNodeID = nodeID
	return t
}

// Role binds the call to the deterministic (lowest node_id) alive node
// of the given role.
func (t *Target) Role(role cluster.Role) *Target {
	t.boundRole = &role
	return t
}

// Call executes method with the given args, either locally (no target
// bound) or remotely (target bound). args is marshaled as JSON-RPC
// params; the raw JSON result is returned for the caller to unmarshal.
func (t *Target) Call(ctx context.Context, method string, args any) (json.RawMessage, error) {
	params, err := json.Marshal(args)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.TransportError, "marshal params", err)
	}

	target, bound, err := t.resolveTarget()
	if err != nil {
		return nil, err
	}

	if !bound {
		return t.proxy.callLocal(ctx, t.service, method, params)
	}
	return t.proxy.callRemote(ctx, target, t.service, method, params)
}

// resolveTarget classifies the call target: role bind, else explicit
// node_id bind, else unbound (local).
func (t *Target) resolveTarget() (nodeID string, bound bool, err error) {
	if t.boundRole != nil {
		ids := t.proxy.directory.LookupByRole(*t.boundRole)
		if len(ids) == 0 {
			return "", false, rpcerr.New(rpcerr.UnknownTarget, fmt.Sprintf("no alive node with role %q", t.boundRole.String()))
		}
		return ids[0], true, nil
	}
	if t.boundNodeID != "" {
		return t.boundNodeID, true, nil
	}
	return "", false, nil
}

func (p *Proxy) callLocal(ctx context.Context, service, method string, params json.RawMessage) (json.RawMessage, error) {
	key := service + "/" + method
	entry, ok := p.registry.Lookup(key)
	if !ok {
		return nil, rpcerr.New(rpcerr.MethodNotFound, key)
	}

	result, err := entry.Handler(ctx, params)
	if err != nil {
		return nil, err
	}
	out, merr := json.Marshal(result)
	if merr != nil {
		return nil, rpcerr.Wrap(rpcerr.TransportError, "marshal result", merr)
	}
	return out, nil
}

// jsonrpcRequest/jsonrpcResponse mirror the JSON-RPC wire envelope.
type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
	ID      string          `json:"id"`
}

func (p *Proxy) callRemote(ctx context.Context, nodeID, service, method string, params json.RawMessage) (json.RawMessage, error) {
	info, ok := p.directory.Lookup(nodeID)
	if !ok || info.Status == cluster.StatusDead {
		return nil, rpcerr.New(rpcerr.UnknownTarget, nodeID)
	}

	trust, err := p.trustRoot()
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.TransportError, "trust root unavailable", err)
	}
	client, err := p.pool.Get(nodeID, trust)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.TransportError, "connection pool", err)
	}

	reqBody := jsonrpcRequest{
		JSONRPC: "2.0",
		Method:  service + "/" + method,
		Params:  params,
		ID:      uuid.NewString(),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.TransportError, "marshal request", err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && p.outboundDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.outboundDeadline)
		defer cancel()
	}

	url := fmt.Sprintf("https://%s:%d/rpc", info.Address, info.Port)
	httpReq, err := newJSONPostRequest(ctx, url, payload)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.TransportError, "build request", err)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, rpcerr.Wrap(rpcerr.Timeout, "remote call", err)
		}
		return nil, rpcerr.Wrap(rpcerr.TransportError, "remote call", err)
	}
	defer resp.Body.Close()

	var rpcResp jsonrpcResponse
	if err := decodeJSON(resp.Body, &rpcResp); err != nil {
		return nil, rpcerr.Wrap(rpcerr.TransportError, "decode response", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcerr.New(rpcerr.RemoteError, rpcResp.Error.Message).
			WithDetail("code", rpcResp.Error.Code).
			WithDetail("data", rpcResp.Error.Data)
	}
	return rpcResp.Result, nil
}
