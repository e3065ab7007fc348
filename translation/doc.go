// 版权所有 2026 VoiceFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 translation 提供回复文本到用户目标语言的翻译客户端。

Translator 是最小翻译接口；SarvamTranslator 走 /text/translate 端点，
支持口语化模式、正式程度与英语混说比例（code-mixing）配置，贴合
印度多语言口语场景。源语言与目标语言一致或文本为空时直接恒等返回，
不发起请求；供应商返回空结果时回退原文，保证下游合成始终有文本。
*/
package translation
