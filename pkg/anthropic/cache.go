package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. The drafter sends the same system prompt for every lead of a
// run, so later calls read it from the cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: ttl,
			},
		},
	}
}
