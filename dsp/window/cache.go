package window

// Cache holds one coefficient table and regenerates it only when the
// requested length changes.
//
// A Cache is owned by a single consumer and is not safe for concurrent use.
type Cache struct {
	typ      Type
	coeffs   []float64
	rebuilds int
}

// NewCache returns an empty cache for the given window type.
func NewCache(t Type) *Cache {
	return &Cache{typ: t}
}

// Type returns the cached window type.
func (c *Cache) Type() Type {
	return c.typ
}

// Coefficients returns the table for length n, rebuilding it if n differs
// from the cached length. The returned slice must not be modified.
func (c *Cache) Coefficients(n int) []float64 {
	if n <= 0 {
		return nil
	}

	if len(c.coeffs) == n {
		return c.coeffs
	}

	if cap(c.coeffs) >= n {
		c.coeffs = c.coeffs[:n]
	} else {
		c.coeffs = make([]float64, n)
	}

	fill(c.coeffs, c.typ, false)
	c.rebuilds++

	return c.coeffs
}

// Rebuilds reports how many times the table has been generated.
func (c *Cache) Rebuilds() int {
	return c.rebuilds
}
