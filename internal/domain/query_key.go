package domain

import "strings"

// QueryKey addresses a cached read-model, e.g. ["allAuctions"] or ["auction", "A1"].
type QueryKey []string

const keySeparator = ":"

func NewQueryKey(parts ...string) QueryKey {
	return QueryKey(parts)
}

func ParseQueryKey(s string) QueryKey {
	if s == "" {
		return nil
	}
	return QueryKey(strings.Split(s, keySeparator))
}

func (k QueryKey) String() string {
	return strings.Join(k, keySeparator)
}

func (k QueryKey) Root() string {
	if len(k) == 0 {
		return ""
	}
	return k[0]
}

// HasPrefix reports whether prefix matches the leading segments of k.
func (k QueryKey) HasPrefix(prefix QueryKey) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func AllAuctionsKey() QueryKey { return QueryKey{"allAuctions"} }

func KoiDataKey() QueryKey { return QueryKey{"koiData"} }

func AuctionKey(id string) QueryKey { return QueryKey{"auction", id} }

func KoiKey(id string) QueryKey { return QueryKey{"koi", id} }

// JoinQueryKeys encodes keys for storage in saga metadata.
func JoinQueryKeys(keys []QueryKey) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k.String())
	}
	return strings.Join(parts, ",")
}

func SplitQueryKeys(s string) []QueryKey {
	if s == "" {
		return nil
	}
	var keys []QueryKey
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, ParseQueryKey(part))
		}
	}
	return keys
}
