package collision

// Pool recycles the collider proxies of one foliage type.
type Pool struct {
	spawn     func() (Proxy, bool)
	expansion int

	active   []Proxy
	inactive []Proxy
}

// NewPool creates a pool that spawns expansion proxies at a time when it
// runs dry. Failed spawns are skipped.
func NewPool(spawn func() (Proxy, bool), expansion int) *Pool {
	if expansion < 1 {
		expansion = 1
	}
	return &Pool{spawn: spawn, expansion: expansion}
}

// Retrieve activates and returns an idle proxy, growing the pool if needed.
// Returns false when the pool is dry and nothing could be spawned.
func (p *Pool) Retrieve() (Proxy, bool) {
	if len(p.inactive) == 0 {
		for range p.expansion {
			proxy, ok := p.spawn()
			if !ok || proxy == nil {
				continue
			}
			proxy.SetActive(false)
			p.inactive = append(p.inactive, proxy)
		}
		if len(p.inactive) == 0 {
			return nil, false
		}
	}

	proxy := p.inactive[0]
	p.inactive = p.inactive[1:]
	p.active = append(p.active, proxy)

	proxy.SetActive(true)
	return proxy, true
}

// Recycle deactivates proxy if it was handed out by this pool.
func (p *Pool) Recycle(proxy Proxy) bool {
	for i, a := range p.active {
		if a != proxy {
			continue
		}
		p.active = append(p.active[:i], p.active[i+1:]...)
		proxy.SetActive(false)
		p.inactive = append(p.inactive, proxy)
		return true
	}
	return false
}

// Reset deactivates every proxy.
func (p *Pool) Reset() {
	for _, proxy := range p.active {
		proxy.SetActive(false)
		p.inactive = append(p.inactive, proxy)
	}
	clear(p.active)
	p.active = p.active[:0]
}

func (p *Pool) Active() int { return len(p.active) }
func (p *Pool) Idle() int   { return len(p.inactive) }

// Size returns every proxy the pool ever spawned.
func (p *Pool) Size() int { return len(p.active) + len(p.inactive) }
