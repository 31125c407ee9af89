package tools

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

type entry struct {
	tool         Tool
	handler      Handler
	schema       *gojsonschema.Schema
	explicitOnly bool
}

// RegisterOption 调整工具注册行为。
type RegisterOption func(*entry)

// ExplicitOnly 标记工具只能在调用方明确要求时执行。
func ExplicitOnly() RegisterOption {
	return func(e *entry) { e.explicitOnly = true }
}

// Registry 保存按注册顺序排列的工具目录。
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register 添加工具，名称重复或 schema 无法编译时返回错误。
func (r *Registry) Register(tool Tool, handler Handler, opts ...RegisterOption) error {
	name := strings.TrimSpace(tool.Name)
	if name == "" {
		return fmt.Errorf("工具名称不能为空")
	}
	if handler == nil {
		return fmt.Errorf("工具 %s 缺少处理函数", name)
	}
	if tool.InputSchema == nil {
		tool.InputSchema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.InputSchema))
	if err != nil {
		return fmt.Errorf("工具 %s 的参数 schema 无效: %w", name, err)
	}

	tool.Name = name
	e := &entry{tool: clone(tool), handler: handler, schema: schema}
	for _, opt := range opts {
		opt(e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("工具 %s 已注册", name)
	}
	r.entries[name] = e
	r.order = append(r.order, name)
	return nil
}

// List 按注册顺序返回工具目录的副本。
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, clone(r.entries[name].tool))
	}
	return out
}

// Lookup 返回指定名称的工具。
func (r *Registry) Lookup(name string) (Tool, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return Tool{}, false
	}
	return clone(e.tool), true
}

// ExplicitOnly 报告工具是否需要调用方明确授权。
func (r *Registry) ExplicitOnly(name string) bool {
	e, ok := r.lookup(name)
	return ok && e.explicitOnly
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}
