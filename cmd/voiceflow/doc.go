// Copyright (c) VoiceFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 VoiceFlow 服务端程序入口。

# 概述

cmd/voiceflow 是实时语音对话编排服务的可执行入口，提供 HTTP API、
WebSocket 打断通道、健康检查和版本查询等子命令。程序支持 YAML 配置
文件加载、结构化日志（zap）与 Prometheus 指标采集。

# 核心类型

  - Server          — 主服务器，装配流水线全部组件并管理优雅关闭
  - Middleware      — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter  — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - HTTP API：/v1/conversation/process（完整轮次）、
    /v1/conversation/interrupt（打断）、/v1/sessions/{id}/cost、
    /v1/sessions/{id}/metrics、/v1/optimization/levels
  - WebSocket：/v1/ws 接收低延迟抢话信号帧
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭数据库与 Redis
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
