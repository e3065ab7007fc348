// Copyright 2025-2026 VoiceFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package rag 提供对话流水线的知识召回接口。

Retriever 是唯一的契约：按查询取回最多 topK 条文本片段。召回条数由
优化档位决定（quality 10 条、speed 0 条即完全跳过），召回失败只降级
为无知识上下文，绝不让轮次失败。包内提供 NoopRetriever 与
StaticRetriever 两个实现，生产部署可替换为任意向量检索后端。
*/
package rag
