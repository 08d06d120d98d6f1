package cache

import "strings"

// Key identifies a cached remote resource. Params is an already encoded,
// stable parameter string (for example a sorted query string).
type Key struct {
	Resource string
	Params   string
}

// NewKey builds a key from a resource name and optional encoded params.
func NewKey(resource string, params ...string) Key {
	return Key{Resource: resource, Params: strings.Join(params, "&")}
}

func (k Key) String() string {
	if k.Params == "" {
		return k.Resource
	}
	return k.Resource + "?" + k.Params
}

// matches reports whether an invalidation for k covers other. A key without
// params covers every entry of its resource.
func (k Key) matches(other Key) bool {
	if k.Resource != other.Resource {
		return false
	}
	return k.Params == "" || k.Params == other.Params
}
