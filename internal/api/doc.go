// Package api 暴露注册表的 REST 接口。提交接口通过 X-API-Key
// 鉴权并映射到证明者地址，查询接口开放只读访问。
package api
