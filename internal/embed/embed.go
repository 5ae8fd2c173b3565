package embed

import (
	_ "embed"
)

// AnalystRolesYAML 内置分析师角色定义
// 编译时从 analyst_roles.yaml 嵌入到二进制文件中
//
//go:embed analyst_roles.yaml
var AnalystRolesYAML []byte
