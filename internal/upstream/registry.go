package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitalin/notedeck/internal/errs"
)

// GetServerMeta fetches the server's public /api/meta document.
func (c *Client) GetServerMeta(ctx context.Context, host, token string) (json.RawMessage, error) {
	return c.request(ctx, host, token, "meta", nil)
}

// GetRegistryAll fetches every key in a registry scope. An upstream API
// fault (unknown scope, feature disabled) is swallowed into (nil, nil);
// any transport or decode failure still propagates, matching the
// best-effort nature of this lookup.
func (c *Client) GetRegistryAll(ctx context.Context, host, token string, scope []string) (json.RawMessage, error) {
	raw, err := c.request(ctx, host, token, "i/registry/get-all", map[string]interface{}{"scope": scope})
	if err != nil {
		var apiErr *errs.Error
		if asAPIError(err, &apiErr) {
			return nil, nil
		}
		return nil, err
	}

	var obj map[string]interface{}
	if json.Unmarshal(raw, &obj) == nil && len(obj) == 0 {
		return nil, nil
	}
	return raw, nil
}

func asAPIError(err error, out **errs.Error) bool {
	e, ok := err.(*errs.Error)
	if ok && e.Kind == errs.KindAPI {
		*out = e
		return true
	}
	return false
}

// ThemeLayers holds the result of the three-scope registry fallback used
// to resolve the UI theme: client preferences (Sync*), client base config
// (Base*), and server meta (Meta*). Each layer fills only its own pair of
// fields; a field stays nil when its layer does not provide the key.
type ThemeLayers struct {
	SyncDark  json.RawMessage
	SyncLight json.RawMessage
	BaseDark  json.RawMessage
	BaseLight json.RawMessage
	MetaDark  json.RawMessage
	MetaLight json.RawMessage
}

// GetThemeLayers performs the three independent best-effort registry/meta
// lookups in turn: client/preferences/sync, client/base, then server meta,
// each filling its own pair of ThemeLayers fields. A registry scope that
// answers with an API fault, and any failure of the meta lookup, leave
// that layer's fields nil; a transport or decode failure of either
// registry lookup is returned.
func (c *Client) GetThemeLayers(ctx context.Context, host, token string) (ThemeLayers, error) {
	var out ThemeLayers

	fillFromScope := func(scope []string, dark, light *json.RawMessage) error {
		raw, err := c.GetRegistryAll(ctx, host, token, scope)
		if err != nil {
			return err
		}
		if raw == nil {
			return nil
		}
		var obj map[string]json.RawMessage
		if json.Unmarshal(raw, &obj) != nil {
			return nil
		}
		if *dark == nil {
			if v, ok := obj["darkTheme"]; ok {
				*dark = v
			}
		}
		if *light == nil {
			if v, ok := obj["lightTheme"]; ok {
				*light = v
			}
		}
		return nil
	}

	if err := fillFromScope([]string{"client", "preferences", "sync"}, &out.SyncDark, &out.SyncLight); err != nil {
		return out, err
	}
	if err := fillFromScope([]string{"client", "base"}, &out.BaseDark, &out.BaseLight); err != nil {
		return out, err
	}

	meta, err := c.GetServerMeta(ctx, host, token)
	if err == nil && meta != nil {
		var obj map[string]json.RawMessage
		if json.Unmarshal(meta, &obj) == nil {
			if v, ok := obj["defaultDarkTheme"]; ok {
				out.MetaDark = v
			}
			if v, ok := obj["defaultLightTheme"]; ok {
				out.MetaLight = v
			}
		}
	}

	return out, nil
}

// GetUserPolicies flattens policies.* and any top-level isIn*Mode flag
// from /api/i into one boolean map.
func (c *Client) GetUserPolicies(ctx context.Context, host, token string) (map[string]bool, error) {
	raw, err := c.request(ctx, host, token, "i", nil)
	if err != nil {
		return nil, err
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errs.JSON(err)
	}

	result := make(map[string]bool)
	if policiesRaw, ok := obj["policies"]; ok {
		var policies map[string]json.RawMessage
		if json.Unmarshal(policiesRaw, &policies) == nil {
			for key, v := range policies {
				var b bool
				if json.Unmarshal(v, &b) == nil {
					result[key] = b
				}
			}
		}
	}
	for key, v := range obj {
		if strings.HasPrefix(key, "isIn") && strings.HasSuffix(key, "Mode") {
			var b bool
			if json.Unmarshal(v, &b) == nil {
				result[key] = b
			}
		}
	}
	return result, nil
}

// UpdateUserSetting flips a single boolean field via /api/i/update.
func (c *Client) UpdateUserSetting(ctx context.Context, host, token, key string, value bool) error {
	_, err := c.request(ctx, host, token, "i/update", map[string]interface{}{key: value})
	return err
}

// endpointParamsResponse decodes Misskey 2024+'s object-keyed-by-name
// params.properties shape. GetEndpointParams falls back to older Misskey's
// flat params array of {name, ...} when this shape yields no names.
type endpointParamsResponse struct {
	Params struct {
		Properties map[string]json.RawMessage `json:"properties"`
	} `json:"params"`
}

// GetEndpointParams fetches the declared parameter names for a public API
// endpoint. No auth token is required.
func (c *Client) GetEndpointParams(ctx context.Context, host, endpoint string) ([]string, error) {
	url := fmt.Sprintf("https://%s/api/endpoint", host)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, jsonBody(map[string]interface{}{"endpoint": endpoint}))
	if err != nil {
		return nil, errs.Network(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Network(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.API("endpoint", resp.StatusCode, "failed to fetch endpoint info")
	}

	data, err := readBodyLimited(resp, "endpoint")
	if err != nil {
		return nil, err
	}

	var obj endpointParamsResponse
	objErr := json.Unmarshal(data, &obj)

	var params []string
	if objErr == nil {
		for name := range obj.Params.Properties {
			params = append(params, name)
		}
	}
	if len(params) == 0 {
		var arrShape struct {
			Params []struct {
				Name string `json:"name"`
			} `json:"params"`
		}
		if err := json.Unmarshal(data, &arrShape); err == nil {
			for _, p := range arrShape.Params {
				if p.Name != "" {
					params = append(params, p.Name)
				}
			}
		} else if objErr != nil {
			return nil, errs.JSON(objErr)
		}
	}
	return params, nil
}

// GetEndpoints fetches the server's full list of public API endpoint
// names.
func (c *Client) GetEndpoints(ctx context.Context, host string) ([]string, error) {
	url := fmt.Sprintf("https://%s/api/endpoints", host)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, jsonBody(map[string]interface{}{}))
	if err != nil {
		return nil, errs.Network(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Network(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.API("endpoints", resp.StatusCode, "failed to fetch endpoints")
	}

	data, err := readBodyLimited(resp, "endpoints")
	if err != nil {
		return nil, err
	}

	var endpoints []string
	if err := json.Unmarshal(data, &endpoints); err != nil {
		return nil, errs.JSON(err)
	}
	return endpoints, nil
}
