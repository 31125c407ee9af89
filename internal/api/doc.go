// Package api 暴露 HTTP 接口：协议网关、聊天、操作确认、令牌签发以及健康检查与指标。
package api
