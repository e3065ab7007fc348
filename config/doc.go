// 版权所有 2026 VoiceFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 config 提供 VoiceFlow 的统一配置加载与优化级别档位定义。

# 概述

本包通过 Loader 按「默认值 → YAML 文件 → 环境变量」的优先级加载配置，
并提供五档延迟/质量优化级别（quality ~ speed）的参数档位。
每个档位决定知识召回条数、模型温度、回复长度上限与语义缓存开关。

# 核心类型

  - Config：完整服务配置（服务器、Redis、数据库、供应商、缓存、TTS）
  - Loader：配置加载器，支持 WithConfigPath / WithEnvPrefix
  - OptimizationProfile：单个优化档位的参数集合
  - CacheConfig：按档位分层的缓存 TTL（TTLForLevel）

# 主要能力

  - YAML 加载：gopkg.in/yaml.v3 解析，未知字段宽容
  - 环境变量覆盖：VOICEFLOW_ 前缀（SERVER_PORT、SARVAM_API_KEY 等）
  - 配置校验：端口范围、供应商 API Base、TTS 默认供应商
  - 档位查询：ProfileFor 对未知级别回退到 balanced
*/
package config
