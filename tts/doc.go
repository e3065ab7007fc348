// 版权所有 2026 VoiceFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 tts 提供多供应商语音合成编排：声音解析、回退、缓存与成本记账。

# 概述

Orchestrator 按「请求声音 → 回退供应商同语言首个声音 → 回退语言
默认声音」三级链解析最终使用的声音；供应商调用失败时在回退供应商上
重试一次。合成结果进入音频缓存，TTL 按优化档位分层；缓存命中不产生
成本账目。每个边界都做打断检查，检测到打断立即丢弃结果。

# 核心类型

  - Orchestrator：Synthesize 入口，组合缓存/账本/打断/指标
  - Registry：声音注册表，保持插入顺序以保证回退确定性
  - Voice：声音元数据（供应商、语言列表、性别、风格）
  - SynthesisRequest / SynthesisResponse：合成请求与结果
*/
package tts
