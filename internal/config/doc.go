// Package config 负责加载 SDK 守护进程与命令行工具的 YAML 配置，支持
// ${ENV} 变量展开与 .env 文件。
package config
