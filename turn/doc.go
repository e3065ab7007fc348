// 版权所有 2026 VoiceFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 turn 提供对话轮次的生命周期管理与打断引擎。

# 概述

实时语音对话中用户随时可能抢话（barge-in），在途轮次必须立即停止并
丢弃所有部分结果。本包的 Manager 以 (session_id, turn_id) 为键登记
在途轮次，打断标志使用 atomic.Bool，流水线在每个阶段边界以无锁方式
轮询；打断时依次触发已注册的 context 取消函数与清理函数。

# 核心类型

  - Manager：轮次登记表，StartTurn / FinishTurn / Interrupt / InterruptAll
  - Reason：打断原因（user_barge_in、timeout、error、manual、replaced）
  - Event：一次打断的完整描述（会话、轮次、原因、阶段、时间戳）

# 不变式

  - 同一轮次重复打断是幂等的，只有第一次生效
  - 某个清理函数失败不阻止其余清理函数执行
  - FinishTurn 之后该轮次的打断调用是空操作
*/
package turn
