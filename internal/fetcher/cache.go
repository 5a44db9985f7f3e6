package fetcher

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 4096

// Cache holds probe results keyed by lower-cased owner/repo. It is bounded
// because a registry sweep can touch tens of thousands of repositories.
type Cache struct {
	data *lru.Cache[string, RepoInfo]
}

func NewCache(size int) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	c, err := lru.New[string, RepoInfo](size)
	if err != nil {
		// Only returned for a non-positive size, which is excluded above.
		panic(err)
	}
	return &Cache{data: c}
}

func (c *Cache) Get(key string) (RepoInfo, bool) {
	return c.data.Get(key)
}

func (c *Cache) Set(key string, value RepoInfo) {
	c.data.Add(key, value)
}

func (c *Cache) Len() int {
	return c.data.Len()
}
