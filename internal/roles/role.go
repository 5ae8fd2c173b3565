package roles

import (
	"errors"
	"fmt"
	"strings"
)

// Sampling 采样参数
type Sampling struct {
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	TopK        *int    `yaml:"top_k,omitempty"`
}

// Validate 检查参数范围
func (s Sampling) Validate() error {
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("temperature %.2f out of range [0, 2]", s.Temperature)
	}
	if s.TopP < 0 || s.TopP > 1 {
		return fmt.Errorf("top_p %.2f out of range [0, 1]", s.TopP)
	}
	if s.TopK != nil && *s.TopK <= 0 {
		return fmt.Errorf("top_k %d must be positive", *s.TopK)
	}
	return nil
}

// Role 分析师角色，加载后不可变
type Role struct {
	Name         string
	Description  string
	Instructions string
	Sampling     Sampling
	Schema       *Schema // 可为 nil，表示自由文本输出
}

// HasSchema 是否要求结构化输出
func (r Role) HasSchema() bool {
	return r.Schema != nil
}

// UnknownRoleError 角色不存在
type UnknownRoleError struct {
	Name string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown analyst role %q", e.Name)
}

// ErrInvalidRole 角色定义不合法
var ErrInvalidRole = errors.New("invalid analyst role")

// roleDef 角色定义文件中的一项
type roleDef struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Instructions string   `yaml:"instructions"`
	Sampling     Sampling `yaml:"sampling"`
	Schema       string   `yaml:"schema"`
}

func (d roleDef) toRole() (Role, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: empty name", ErrInvalidRole)
	}
	if strings.TrimSpace(d.Instructions) == "" {
		return Role{}, fmt.Errorf("%w: %s has no instructions", ErrInvalidRole, name)
	}
	if err := d.Sampling.Validate(); err != nil {
		return Role{}, fmt.Errorf("%w: %s: %v", ErrInvalidRole, name, err)
	}

	role := Role{
		Name:         name,
		Description:  d.Description,
		Instructions: strings.TrimSpace(d.Instructions),
		Sampling:     d.Sampling,
	}
	if d.Schema != "" {
		s, ok := LookupSchema(d.Schema)
		if !ok {
			return Role{}, fmt.Errorf("%w: %s references unknown schema %q", ErrInvalidRole, name, d.Schema)
		}
		role.Schema = s
	}
	return role, nil
}
