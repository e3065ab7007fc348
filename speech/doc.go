// 版权所有 2026 VoiceFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 speech 提供语音识别与语音合成的供应商客户端。

# 概述

本包定义 STTClient 与 TTSProvider 两个最小接口，并提供 Sarvam
（识别 + 合成，面向印度语言）与 ElevenLabs（高级合成）的 HTTP 实现。
所有客户端把供应商状态码映射为统一的结构化错误：5xx 与 429 标记为
可重试的 PROVIDER_FAILURE，4xx 标记为不可重试的 INVALID_REQUEST。

# 核心类型

  - STTClient / TTSProvider：供应商最小接口
  - SarvamSTT：POST /speech-to-text，带分段时间戳与语言检测
  - SarvamTTS：bulbul:v2 模型，支持音调/语速/响度参数
  - ElevenLabsTTS：eleven_multilingual_v2 模型，带 voice_settings
*/
package speech
