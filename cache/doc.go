// 版权所有 2026 VoiceFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的两层自适应缓存：回复文本缓存与合成音频缓存。

# 概述

文本缓存支持两种命中方式：查询归一化后的精确键命中，以及基于词集合
Jaccard 相似度（阈值 0.7）的语义命中。语义命中只在 quality 档位开启，
避免低质量档位出现答非所问。音频缓存以 文本+语言+声音+编码+采样率
的组合键存储 Base64 音频。两者都把 Redis 故障降级为缓存未命中，
缓存不可用绝不让请求失败。

# 核心类型

  - TextCache：GetExact / GetSemantic / Set / Invalidate
  - AudioCache：Get / Set，键由 AudioKey 生成
  - TextEntry / AudioEntry：缓存条目（含护栏安全标记与 Token 计数）

# 主要能力

  - 精确命中：SHA-256 截断键，大小写与空白归一化
  - 语义命中：按 zset 查询索引取最近 100 条候选，词集合 Jaccard ≥ 阈值取最高分
  - TTL 分层：质量档位 30 分钟，均衡 15 分钟，速度 5 分钟
  - 故障降级：rdb 为 nil 或操作出错时静默返回未命中
*/
package cache
