package consensus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tribune/internal/types"
)

// Source 是一个策略信号源；对同一标的可返回零到多条信号。
type Source interface {
	Name() string
	GenerateSignals(ctx context.Context, symbol string) ([]types.Signal, error)
}

// SourceFunc 把函数包装成 Source，便于内置源和测试。
type SourceFunc struct {
	ID string
	Fn func(ctx context.Context, symbol string) ([]types.Signal, error)
}

func (s SourceFunc) Name() string { return s.ID }

func (s SourceFunc) GenerateSignals(ctx context.Context, symbol string) ([]types.Signal, error) {
	if s.Fn == nil {
		return nil, nil
	}
	return s.Fn(ctx, symbol)
}

// Registry 保存已注册的信号源，运行期可增删。顺序即注册顺序。
type Registry struct {
	mu      sync.RWMutex
	sources []Source
}

func NewRegistry(sources ...Source) (*Registry, error) {
	r := &Registry{}
	for _, src := range sources {
		if err := r.Register(src); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 追加信号源，名称重复时报错。
func (r *Registry) Register(src Source) error {
	if src == nil {
		return fmt.Errorf("nil source")
	}
	name := strings.TrimSpace(src.Name())
	if name == "" {
		return fmt.Errorf("source name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sources {
		if existing.Name() == name {
			return fmt.Errorf("source %s already registered", name)
		}
	}
	r.sources = append(r.sources, src)
	return nil
}

// Remove 按名称移除，返回是否存在。
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, src := range r.sources {
		if src.Name() == name {
			r.sources = append(r.sources[:i:i], r.sources[i+1:]...)
			return true
		}
	}
	return false
}

// Sources 返回快照，调用方可在无锁状态下遍历。
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Source(nil), r.sources...)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, src.Name())
	}
	return out
}
