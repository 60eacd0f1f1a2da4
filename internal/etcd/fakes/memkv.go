package fakes

import (
	"context"
	"strings"
	"sync"

	"go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// MemKV is an in-memory etcd stand-in supporting point and prefix Get, Put,
// Delete and prefix Watch. Watch delivers events that happen after the
// watcher is registered; revision replay is not simulated.
type MemKV struct {
	mu       sync.Mutex
	data     map[string]string
	rev      int64
	watchers []*memWatcher
}

type memWatcher struct {
	prefix string
	ch     chan clientv3.WatchResponse
	done   <-chan struct{}
}

func NewMemKV() *MemKV {
	return &MemKV{
		data: make(map[string]string),
	}
}

func (m *MemKV) Get(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	op := clientv3.OpGet(key, opts...)

	m.mu.Lock()
	defer m.mu.Unlock()

	resp := &clientv3.GetResponse{
		Header: &etcdserverpb.ResponseHeader{Revision: m.rev},
	}

	if len(op.RangeBytes()) == 0 {
		if v, ok := m.data[key]; ok {
			resp.Kvs = append(resp.Kvs, m.kv(key, v))
		}
		return resp, nil
	}

	for k, v := range m.data {
		if strings.HasPrefix(k, key) {
			resp.Kvs = append(resp.Kvs, m.kv(k, v))
		}
	}
	return resp, nil
}

func (m *MemKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	m.mu.Lock()
	m.rev++
	m.data[key] = val
	ev := &clientv3.Event{
		Type: clientv3.EventTypePut,
		Kv:   m.kv(key, val),
	}
	m.mu.Unlock()

	m.notify(ev)
	return &clientv3.PutResponse{}, nil
}

func (m *MemKV) Delete(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	op := clientv3.OpDelete(key, opts...)

	m.mu.Lock()
	var deleted []string
	if len(op.RangeBytes()) == 0 {
		if _, ok := m.data[key]; ok {
			deleted = append(deleted, key)
		}
	} else {
		for k := range m.data {
			if strings.HasPrefix(k, key) {
				deleted = append(deleted, k)
			}
		}
	}

	var events []*clientv3.Event
	for _, k := range deleted {
		m.rev++
		delete(m.data, k)
		events = append(events, &clientv3.Event{
			Type: clientv3.EventTypeDelete,
			Kv:   m.kv(k, ""),
		})
	}
	m.mu.Unlock()

	for _, ev := range events {
		m.notify(ev)
	}
	return &clientv3.DeleteResponse{Deleted: int64(len(deleted))}, nil
}

func (m *MemKV) Watch(ctx context.Context, key string, _ ...clientv3.OpOption) clientv3.WatchChan {
	w := &memWatcher{
		prefix: key,
		ch:     make(chan clientv3.WatchResponse, 64),
		done:   ctx.Done(),
	}

	m.mu.Lock()
	m.watchers = append(m.watchers, w)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for i, cur := range m.watchers {
			if cur == w {
				m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(w.ch)
	}()

	return w.ch
}

func (m *MemKV) Grant(_ context.Context, _ int64) (*clientv3.LeaseGrantResponse, error) {
	return &clientv3.LeaseGrantResponse{}, nil
}

// WatcherCount reports registered watchers. Tests that write watch-driven
// fixtures poll this first, since MemKV does not replay missed revisions.
func (m *MemKV) WatcherCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

func (m *MemKV) notify(ev *clientv3.Event) {
	m.mu.Lock()
	watchers := make([]*memWatcher, len(m.watchers))
	copy(watchers, m.watchers)
	m.mu.Unlock()

	for _, w := range watchers {
		if !strings.HasPrefix(string(ev.Kv.Key), w.prefix) {
			continue
		}
		select {
		case w.ch <- clientv3.WatchResponse{Events: []*clientv3.Event{ev}}:
		case <-w.done:
		}
	}
}

func (m *MemKV) kv(key, val string) *mvccpb.KeyValue {
	return &mvccpb.KeyValue{
		Key:         []byte(key),
		Value:       []byte(val),
		ModRevision: m.rev,
	}
}
