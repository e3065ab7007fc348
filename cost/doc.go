// 版权所有 2026 VoiceFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cost 提供逐次调用的成本账本，覆盖 ASR、LLM、翻译与 TTS 四类服务。

所有金额使用 shopspring/decimal 精确十进制计算，绝不使用浮点数累加。
ASR 按音频毫秒计费，LLM 按输入/输出 Token 分别计价，翻译与 TTS 按
字符数计费；缓存命中的重放不产生任何账目。账本在进程内保留有界环，
配置 Redis 后同时做持久镜像，SessionSummary 优先读取镜像。
*/
package cost
