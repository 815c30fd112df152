package geo

import (
	"net"
	"sync"

	"go-auditrisk/pkg/config"
	"go-auditrisk/pkg/logger"
)

// NetSet a set of CIDR ranges. Plain addresses are treated as /32 (or /128).
type NetSet struct {
	nets []*net.IPNet
	mu   sync.RWMutex
}

func NewNetSet(cidrs []string) *NetSet {
	s := &NetSet{
		nets: make([]*net.IPNet, 0),
	}
	s.Update(cidrs)
	return s
}

func (s *NetSet) Update(cidrs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nets = make([]*net.IPNet, 0, len(cidrs))

	for _, entry := range cidrs {
		cidr := config.NormalizeCIDR(entry)
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Log.Errorf("invalid CIDR %s: %v", cidr, err)
			continue
		}
		s.nets = append(s.nets, ipnet)
	}

	logger.Log.Debugf("network set updated, %d ranges", len(s.nets))
}

func (s *NetSet) Contains(ip net.IP) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ipnet := range s.nets {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

func (s *NetSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nets)
}
