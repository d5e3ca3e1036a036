package gios

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/air-quality-mirror/internal/airquality"
)

// totalPagesField is the page envelope field declaring the page count.
const totalPagesField = "totalPages"

// Shape is the JSON type of a page fragment.
type Shape int

const (
	ShapeList Shape = iota + 1
	ShapeMap
)

func (s Shape) String() string {
	switch s {
	case ShapeList:
		return "list"
	case ShapeMap:
		return "map"
	default:
		return "unknown"
	}
}

// Collection is the merge of every page fragment of one call.
type Collection struct {
	Shape Shape
	List  []json.RawMessage
	Map   map[string]json.RawMessage
}

// Len returns the number of merged items.
func (c Collection) Len() int {
	if c.Shape == ShapeMap {
		return len(c.Map)
	}
	return len(c.List)
}

type page struct {
	totalPages int
	fragment   json.RawMessage
}

func (c *Client) getPage(ctx context.Context, endpoint, target string, params url.Values, n int) (page, error) {
	start := time.Now()
	p, err := c.fetchPage(ctx, endpoint, target, params, n)
	if c.observe != nil {
		c.observe(endpointLabel(endpoint), outcomeOf(err), time.Since(start))
	}
	return p, err
}

func (c *Client) fetchPage(ctx context.Context, endpoint, target string, params url.Values, n int) (page, error) {
	body, err := c.get(ctx, endpoint, n, params)
	if err != nil {
		return page{}, err
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return page{}, fmt.Errorf("%w: %s page %d: %v", airquality.ErrMalformedResponse, endpoint, n, err)
	}

	total := 1
	if raw, ok := envelope[totalPagesField]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &total); err != nil {
			return page{}, fmt.Errorf("%w: %s page %d: totalPages: %v", airquality.ErrMalformedResponse, endpoint, n, err)
		}
	}

	fragment, ok := envelope[target]
	if !ok {
		return page{}, fmt.Errorf("%w: %s page %d: missing field %q", airquality.ErrMalformedResponse, endpoint, n, target)
	}
	return page{totalPages: total, fragment: fragment}, nil
}

// ForEachPage calls fn with the target fragment of every page, in page order,
// without merging. It stops at the first error.
func (c *Client) ForEachPage(
	ctx context.Context,
	endpoint, target string,
	params url.Values,
	fn func(n int, fragment json.RawMessage) error,
) error {
	total := 1
	for n := 0; n < total; n++ {
		p, err := c.getPage(ctx, endpoint, target, params, n)
		if err != nil {
			return err
		}
		if n == 0 {
			total = p.totalPages
		}
		if err := fn(n, p.fragment); err != nil {
			return err
		}
	}
	return nil
}

// FetchAll merges every page of endpoint. List fragments are concatenated in
// order; map fragments are merged with later pages winning. Nothing is
// returned if any page fails.
func (c *Client) FetchAll(ctx context.Context, endpoint, target string, params url.Values) (Collection, error) {
	var out Collection
	err := c.ForEachPage(ctx, endpoint, target, params, func(n int, fragment json.RawMessage) error {
		shape, err := shapeOf(fragment)
		if err != nil {
			return fmt.Errorf("%s page %d: %w", endpoint, n, err)
		}
		if n == 0 {
			out.Shape = shape
			if shape == ShapeMap {
				out.Map = make(map[string]json.RawMessage)
			}
		} else if shape != out.Shape {
			return fmt.Errorf("%w: %s page %d: got %s after %s", airquality.ErrMalformedResponse, endpoint, n, shape, out.Shape)
		}

		switch shape {
		case ShapeList:
			var items []json.RawMessage
			if err := json.Unmarshal(fragment, &items); err != nil {
				return fmt.Errorf("%w: %s page %d: %v", airquality.ErrMalformedResponse, endpoint, n, err)
			}
			out.List = append(out.List, items...)
		case ShapeMap:
			var items map[string]json.RawMessage
			if err := json.Unmarshal(fragment, &items); err != nil {
				return fmt.Errorf("%w: %s page %d: %v", airquality.ErrMalformedResponse, endpoint, n, err)
			}
			for k, v := range items {
				out.Map[k] = v
			}
		}
		return nil
	})
	if err != nil {
		return Collection{}, err
	}
	return out, nil
}

func shapeOf(fragment json.RawMessage) (Shape, error) {
	trimmed := bytes.TrimSpace(fragment)
	if len(trimmed) > 0 {
		switch trimmed[0] {
		case '[':
			return ShapeList, nil
		case '{':
			return ShapeMap, nil
		}
	}
	return 0, fmt.Errorf("%w: fragment is neither a list nor a map", airquality.ErrMalformedResponse)
}

// endpointLabel replaces numeric path segments with ":id".
func endpointLabel(endpoint string) string {
	parts := strings.Split(endpoint, "/")
	for i, p := range parts {
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func outcomeOf(err error) string {
	var remoteErr *airquality.RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &remoteErr):
		return "remote_error"
	case airquality.IsConnectivity(err):
		return "connectivity"
	case errors.Is(err, airquality.ErrMalformedResponse):
		return "malformed"
	default:
		return "error"
	}
}
