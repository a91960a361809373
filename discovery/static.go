package discovery

import (
	"context"
	"sync"
)

// Static is an in-process Registry, for fixed endpoint lists and tests.
type Static struct {
	mu        sync.Mutex
	instances map[string][]Instance
	watchers  map[string][]chan []Instance
}

// NewStatic returns a registry holding instances under name.
func NewStatic(name string, instances ...Instance) *Static {
	s := &Static{
		instances: make(map[string][]Instance),
		watchers:  make(map[string][]chan []Instance),
	}
	if len(instances) > 0 {
		s.instances[name] = append([]Instance(nil), instances...)
	}
	return s
}

func (s *Static) Register(_ context.Context, name string, instance Instance, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.instances[name][:0:0]
	for _, in := range s.instances[name] {
		if in.Endpoint != instance.Endpoint {
			list = append(list, in)
		}
	}
	s.instances[name] = append(list, instance)
	s.notify(name)
	return nil
}

func (s *Static) Deregister(_ context.Context, name string, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.instances[name][:0:0]
	for _, in := range s.instances[name] {
		if in.Endpoint != endpoint {
			list = append(list, in)
		}
	}
	s.instances[name] = list
	s.notify(name)
	return nil
}

func (s *Static) Discover(_ context.Context, name string) ([]Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Instance(nil), s.instances[name]...), nil
}

func (s *Static) Watch(ctx context.Context, name string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	s.mu.Lock()
	ch <- append([]Instance(nil), s.instances[name]...)
	s.watchers[name] = append(s.watchers[name], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		ws := s.watchers[name]
		for i, w := range ws {
			if w == ch {
				s.watchers[name] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// notify must hold s.mu. A watcher that has not consumed the previous list gets the newest one.
func (s *Static) notify(name string) {
	list := append([]Instance(nil), s.instances[name]...)
	for _, ch := range s.watchers[name] {
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}
