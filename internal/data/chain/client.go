package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"supravault/internal/core/errors"
	"supravault/internal/core/ports"
	"supravault/internal/engine/model"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

type Options struct {
	V1URL     string
	V2URL     string
	Preferred ports.Generation
	Transport TransportOptions
}

// Client talks to the chain RPC. It serves resources, module artifacts and
// account transactions; Lister adapts it to per-generation module listing.
type Client struct {
	bases     map[ports.Generation]string
	preferred ports.Generation
	t         *transport
}

func NewClient(opts Options) (*Client, error) {
	bases := make(map[ports.Generation]string)
	for gen, raw := range map[ports.Generation]string{ports.GenerationV1: opts.V1URL, ports.GenerationV2: opts.V2URL} {
		raw = strings.TrimRight(strings.TrimSpace(raw), "/")
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return nil, errors.Newf(errors.CodeValidationError, "invalid %s rpc url %q", gen, raw)
		}
		bases[gen] = raw
	}
	if len(bases) == 0 {
		return nil, errors.New(errors.CodeValidationError, "at least one rpc url is required")
	}
	preferred := opts.Preferred
	if preferred != ports.GenerationV1 {
		preferred = ports.GenerationV2
	}
	if _, ok := bases[preferred]; !ok {
		preferred = preferred.Other()
	}
	return &Client{bases: bases, preferred: preferred, t: newTransport(opts.Transport)}, nil
}

// Generations lists configured generations, preferred first.
func (c *Client) Generations() []ports.Generation {
	out := []ports.Generation{c.preferred}
	if _, ok := c.bases[c.preferred.Other()]; ok {
		out = append(out, c.preferred.Other())
	}
	return out
}

func (c *Client) accountURL(gen ports.Generation, address string, parts ...string) (string, error) {
	base, ok := c.bases[gen]
	if !ok {
		return "", errors.Newf(errors.CodeNotFound, "rpc %s not configured", gen)
	}
	segs := []string{base, "accounts", url.PathEscape(model.PadAddress(address))}
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return strings.Join(segs, "/"), nil
}

func endpointLabel(gen ports.Generation, op string) string {
	return "rpc_" + string(gen) + "_" + op
}

// AccountTransactions returns the raw body; a zero limit omits count.
func (c *Client) AccountTransactions(ctx context.Context, gen ports.Generation, address string, limit int) ([]byte, error) {
	u, err := c.accountURL(gen, address, "transactions")
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		u += "?count=" + strconv.Itoa(limit)
	}
	body, err := c.t.do(ctx, endpointLabel(gen, "transactions"), http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.AddContext(err, errors.CtxAddress, address)
	}
	return body, nil
}

// ListResources reads from the preferred generation and falls back to the
// other one on any failure.
func (c *Client) ListResources(ctx context.Context, address string) ([]model.Resource, error) {
	var lastErr error
	for _, gen := range c.Generations() {
		u, err := c.accountURL(gen, address, "resources")
		if err != nil {
			lastErr = err
			continue
		}
		body, err := c.t.do(ctx, endpointLabel(gen, "resources"), http.MethodGet, u, nil)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		res, err := decodeResources(body)
		if err != nil {
			lastErr = err
			continue
		}
		return res, nil
	}
	return nil, errors.AddContext(lastErr, errors.CtxAddress, address)
}

func decodeResources(body []byte) ([]model.Resource, error) {
	var list []model.Resource
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Resources []model.Resource `json:"resources"`
		Data      []model.Resource `json:"data"`
		Result    []model.Resource `json:"result"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, errors.Wrap(err, errors.CodeDecode, "decode resources")
	}
	switch {
	case wrapped.Resources != nil:
		return wrapped.Resources, nil
	case wrapped.Data != nil:
		return wrapped.Data, nil
	case wrapped.Result != nil:
		return wrapped.Result, nil
	}
	return nil, errors.New(errors.CodeDecode, "resources payload has no known list")
}

type abiFunctionJSON struct {
	Name       string `json:"name"`
	Visibility string `json:"visibility"`
	IsEntry    bool   `json:"is_entry"`
	IsView     bool   `json:"is_view"`
}

type abiJSON struct {
	Address          string            `json:"address"`
	Name             string            `json:"name"`
	ExposedFunctions []abiFunctionJSON `json:"exposed_functions"`
}

type moduleJSON struct {
	Bytecode string          `json:"bytecode"`
	ABI      json.RawMessage `json:"abi"`
}

// FetchModule tries the preferred generation, then the other one on
// not-found. The returned Name is the one the ABI declares, empty for a
// bytecode-only response.
func (c *Client) FetchModule(ctx context.Context, address, name string) (model.ModuleArtifact, error) {
	var lastErr error
	for _, gen := range c.Generations() {
		u, err := c.accountURL(gen, address, "modules", name)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := c.t.do(ctx, endpointLabel(gen, "module"), http.MethodGet, u, nil)
		if err != nil {
			lastErr = err
			if errors.IsCode(err, errors.CodeNotFound) {
				continue
			}
			break
		}
		art, err := decodeModule(body, address)
		if err != nil {
			lastErr = err
			break
		}
		art.FetchedFrom = "rpc_" + string(gen)
		return art, nil
	}
	err := errors.AddContext(lastErr, errors.CtxAddress, address)
	return model.ModuleArtifact{}, errors.AddContext(err, errors.CtxModule, name)
}

func decodeModule(body []byte, address string) (model.ModuleArtifact, error) {
	var raw moduleJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return model.ModuleArtifact{}, errors.Wrap(err, errors.CodeDecode, "decode module")
	}
	art := model.ModuleArtifact{Address: model.CanonicalAddress(address)}
	if raw.Bytecode != "" {
		code, err := hexutil.Decode(raw.Bytecode)
		if err != nil {
			return model.ModuleArtifact{}, errors.Wrap(err, errors.CodeDecode, "decode bytecode")
		}
		art.Bytecode = code
	}
	if len(raw.ABI) > 0 && string(raw.ABI) != "null" {
		var abi abiJSON
		if err := json.Unmarshal(raw.ABI, &abi); err != nil {
			return model.ModuleArtifact{}, errors.Wrap(err, errors.CodeDecode, "decode abi")
		}
		art.ABI = append([]byte(nil), raw.ABI...)
		art.Name = abi.Name
		for _, fn := range abi.ExposedFunctions {
			art.Functions = append(art.Functions, model.ABIFunction{
				Name:       fn.Name,
				Visibility: fn.Visibility,
				IsEntry:    fn.IsEntry,
				IsView:     fn.IsView,
			})
		}
	}
	return art, nil
}

// Lister lists modules through one RPC generation.
type Lister struct {
	c   *Client
	gen ports.Generation
}

func (c *Client) Lister(gen ports.Generation) *Lister {
	return &Lister{c: c, gen: gen}
}

func (l *Lister) Tag() string { return "rpc_" + string(l.gen) }

func (l *Lister) ListModules(ctx context.Context, address string) (model.ModuleListing, error) {
	u, err := l.c.accountURL(l.gen, address, "modules")
	if err != nil {
		return model.ModuleListing{}, err
	}
	body, err := l.c.t.do(ctx, endpointLabel(l.gen, "modules"), http.MethodGet, u, nil)
	if err != nil {
		return model.ModuleListing{}, errors.AddContext(err, errors.CtxAddress, address)
	}
	names, err := moduleNames(body)
	if err != nil {
		return model.ModuleListing{}, errors.AddContext(err, errors.CtxAddress, address)
	}
	return model.ModuleListing{Address: model.CanonicalAddress(address), Names: names, Source: l.Tag()}, nil
}

// moduleNames accepts a bare list of names, a list of module objects, or
// either wrapped under "modules".
func moduleNames(body []byte) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		var wrapped struct {
			Modules []json.RawMessage `json:"modules"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, errors.Wrap(err, errors.CodeDecode, "decode module listing")
		}
		items = wrapped.Modules
	}
	var names []string
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			if name != "" {
				names = append(names, name)
			}
			continue
		}
		var obj struct {
			Name string   `json:"name"`
			ABI  *abiJSON `json:"abi"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return nil, errors.Wrap(err, errors.CodeDecode, fmt.Sprintf("decode module entry %s", snippet(item)))
		}
		switch {
		case obj.ABI != nil && obj.ABI.Name != "":
			names = append(names, obj.ABI.Name)
		case obj.Name != "":
			names = append(names, obj.Name)
		}
	}
	return names, nil
}
