// Package roles 分析师角色目录
package roles

import (
	"fmt"
	"os"

	"github.com/run-bigpig/jcp-selector/internal/embed"
	"github.com/run-bigpig/jcp-selector/internal/logger"

	"gopkg.in/yaml.v3"
)

var log = logger.New("Roles")

// 内置角色名称
const (
	CriteriaGenerator     = "criteria_generator"
	NewsCriteriaGenerator = "news_criteria_generator"
	StockSelector         = "stock_selector"
	ContextSummarizer     = "context_summarizer"
	ChatAnalyst           = "chat_analyst"
	FundamentalAnalyst    = "fundamental_analyst"
	TechnicalAnalyst      = "technical_analyst"
	RiskAnalyst           = "risk_analyst"
)

// Catalog 角色目录，创建后只读，可被多个流水线并发使用
type Catalog struct {
	roles map[string]Role
	order []string
}

type rolesFile struct {
	Roles []roleDef `yaml:"roles"`
}

// Parse 解析 YAML 角色定义
func Parse(data []byte) ([]Role, error) {
	var f rolesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roles: %w", err)
	}
	list := make([]Role, 0, len(f.Roles))
	for _, d := range f.Roles {
		r, err := d.toRole()
		if err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, nil
}

// NewCatalog 由角色列表创建目录，名称重复时报错
func NewCatalog(list []Role) (*Catalog, error) {
	c := &Catalog{roles: make(map[string]Role, len(list))}
	for _, r := range list {
		if _, dup := c.roles[r.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate role %s", ErrInvalidRole, r.Name)
		}
		c.roles[r.Name] = r
		c.order = append(c.order, r.Name)
	}
	return c, nil
}

// LoadDefault 加载内置角色
func LoadDefault() (*Catalog, error) {
	list, err := Parse(embed.AnalystRolesYAML)
	if err != nil {
		return nil, err
	}
	return NewCatalog(list)
}

// LoadFile 在内置角色基础上加载覆盖文件：同名角色被替换，新角色追加在末尾
func LoadFile(path string) (*Catalog, error) {
	base, err := Parse(embed.AnalystRolesYAML)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file: %w", err)
	}
	overrides, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	merged, err := merge(base, overrides)
	if err != nil {
		return nil, err
	}
	log.Info("loaded %d role overrides from %s", len(overrides), path)
	return NewCatalog(merged)
}

func merge(base, overrides []Role) ([]Role, error) {
	index := make(map[string]int, len(base))
	for i, r := range base {
		index[r.Name] = i
	}
	seen := make(map[string]bool, len(overrides))
	for _, r := range overrides {
		if seen[r.Name] {
			return nil, fmt.Errorf("%w: duplicate role %s", ErrInvalidRole, r.Name)
		}
		seen[r.Name] = true
		if i, ok := index[r.Name]; ok {
			base[i] = r
			continue
		}
		base = append(base, r)
	}
	return base, nil
}

// Get 获取角色
func (c *Catalog) Get(name string) (Role, error) {
	r, ok := c.roles[name]
	if !ok {
		return Role{}, &UnknownRoleError{Name: name}
	}
	return r, nil
}

// MustGet 获取角色，不存在时 panic
func (c *Catalog) MustGet(name string) Role {
	r, err := c.Get(name)
	if err != nil {
		panic(err)
	}
	return r
}

// All 按定义顺序返回全部角色
func (c *Catalog) All() []Role {
	list := make([]Role, 0, len(c.order))
	for _, name := range c.order {
		list = append(list, c.roles[name])
	}
	return list
}

// Len 角色数量
func (c *Catalog) Len() int {
	return len(c.order)
}
