// Package api 对外暴露转账任务的 REST 接口、健康检查与 Prometheus 指标。
package api
