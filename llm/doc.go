// 版权所有 2026 VoiceFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供对话回复生成的模型客户端。

ChatClient 是最小生成接口；SarvamClient 走 OpenAI 兼容的
/v1/chat/completions 端点，默认模型 sarvam-m。供应商未返回用量时
用 tiktoken（cl100k_base）本地估算 Token 数，tiktoken 初始化失败
则退化为字符数近似，保证成本账目永远有值。
*/
package llm
