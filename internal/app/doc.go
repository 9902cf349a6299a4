// Package app 根据配置装配 SDK 的运行时组件：链客户端、nonce 分配器、交易日志、
// 提交器以及异步转账任务的队列与处理器。lestnet 命令行与 lestnetd 守护进程共用它。
package app
