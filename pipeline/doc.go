// 版权所有 2026 VoiceFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 pipeline 提供一次语音轮次的端到端编排。

# 概述

ProcessAudio 串联完整的阶段序列：轮次登记 → 语音识别 → 知识召回 →
护栏输入检查 → 回复生成（带精确/语义缓存）→ 护栏输出检查 → 翻译 →
语音合成 → 持久化。每个阶段边界轮询打断标志，被打断的轮次丢弃全部
部分结果并以 interrupted 结束；阶段失败重试耗尽后以 failed 结束。
缓存命中的轮次不调用模型也不产生模型成本。

# 核心类型

  - Orchestrator：流水线编排器，依赖通过 Deps 注入
  - ProcessRequest / TurnResult：轮次请求与最终产物
  - Store：持久化协作方接口（internal/store 实现）
*/
package pipeline
