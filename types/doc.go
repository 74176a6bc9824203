// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 agentloop 各包共享的最底层类型。

# 概述

types 不依赖任何内部包，为 agent、orchestrator、api 等上层模块提供统一的
错误契约，避免循环依赖。

# 核心类型

  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码与 Cause 链
  - IsCode / GetErrorCode: 通过 errors.As 提取错误码
*/
package types
